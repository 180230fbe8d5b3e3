package research

import "strings"

// sessionShape is one accepted layout of a streamAssist reply that can carry
// the new session's resource name.
type sessionShape struct {
	name  string
	match func(v any) (string, bool)
}

// sessionShapes are tried in order. The streamed list comes first because the
// backend emits several partial results and any one of them may carry the
// session.
var sessionShapes = []sessionShape{
	{name: "structured-list", match: matchStructuredList},
	{name: "session-info", match: matchSessionInfo},
	{name: "session-field", match: matchSessionField},
}

// itemShapes are the object layouts accepted for a single list item.
var itemShapes = []sessionShape{
	{name: "session-info", match: matchSessionInfo},
	{name: "session-field", match: matchSessionField},
}

// extractSessionID returns the session id and the name of the shape that
// produced it.
func extractSessionID(v any) (id, shape string, ok bool) {
	for _, s := range sessionShapes {
		if id, ok := s.match(v); ok {
			return id, s.name, true
		}
	}
	return "", "", false
}

func matchStructuredList(v any) (string, bool) {
	items, ok := v.([]any)
	if !ok {
		return "", false
	}
	for _, item := range items {
		for _, s := range itemShapes {
			if id, ok := s.match(item); ok {
				return id, true
			}
		}
	}
	return "", false
}

func matchSessionInfo(v any) (string, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	info, ok := obj["sessionInfo"].(map[string]any)
	if !ok {
		return "", false
	}
	name, _ := info["session"].(string)
	return idFromName(name)
}

// matchSessionField reads a direct session field. An object whose sessionInfo
// carries a session key, even an empty one, is settled by that key and never
// falls back to this field.
func matchSessionField(v any) (string, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	if info, ok := obj["sessionInfo"].(map[string]any); ok {
		if _, claimed := info["session"]; claimed {
			return "", false
		}
	}
	name, _ := obj["session"].(string)
	return idFromName(name)
}

// idFromName returns the trailing path segment of a resource name.
func idFromName(name string) (string, bool) {
	id := trailingSegment(name)
	return id, id != ""
}

func trailingSegment(name string) string {
	return name[strings.LastIndex(name, "/")+1:]
}
