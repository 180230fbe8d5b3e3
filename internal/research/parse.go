package research

import (
	"log/slog"
	"maps"
	"time"
)

// RecordKind classifies a backend idea record.
type RecordKind int

const (
	RecordUnknown RecordKind = iota
	// RecordReference names an idea resource to be fetched later.
	RecordReference
	// RecordInline carries the idea's fields directly.
	RecordInline
)

func (k RecordKind) String() string {
	switch k {
	case RecordReference:
		return "reference"
	case RecordInline:
		return "inline"
	}
	return "unknown"
}

type ideaShape struct {
	kind  RecordKind
	match func(rec map[string]any) (Idea, bool)
}

var ideaShapes = []ideaShape{
	{kind: RecordReference, match: matchReferenceIdea},
	{kind: RecordInline, match: matchInlineIdea},
}

// ParseIdea converts one backend record into an Idea.
func ParseIdea(v any) (Idea, RecordKind) {
	rec, ok := v.(map[string]any)
	if !ok {
		return Idea{}, RecordUnknown
	}
	for _, s := range ideaShapes {
		if idea, ok := s.match(rec); ok {
			return idea, s.kind
		}
	}
	return Idea{}, RecordUnknown
}

// ParseIdeas converts backend records into ideas, keeping input order.
// Records matching no accepted shape are skipped.
func ParseIdeas(records []any) []Idea {
	return parseIdeas(records, slog.Default())
}

func parseIdeas(records []any, logger *slog.Logger) []Idea {
	ideas := make([]Idea, 0, len(records))
	for i, rec := range records {
		idea, kind := ParseIdea(rec)
		if kind == RecordUnknown {
			logger.Debug("skipping unrecognised idea record", "index", i)
			continue
		}
		ideas = append(ideas, idea)
	}
	return ideas
}

func matchReferenceIdea(rec map[string]any) (Idea, bool) {
	name, _ := rec["ideaForgeIdea"].(string)
	id, ok := idFromName(name)
	if !ok {
		return Idea{}, false
	}
	return Idea{ID: id, Name: name}, true
}

func matchInlineIdea(rec map[string]any) (Idea, bool) {
	name, _ := rec["name"].(string)
	id, ok := idFromName(name)
	if !ok {
		return Idea{}, false
	}
	idea := Idea{
		ID:          id,
		Name:        name,
		Title:       stringField(rec, "title"),
		Description: stringField(rec, "description"),
		Content:     mapField(rec, "content"),
		Attributes:  mapField(rec, "attributes"),
	}
	if ts := stringField(rec, "createTime"); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			idea.CreatedAt = &t
		}
	}
	return idea, true
}

func stringField(rec map[string]any, key string) string {
	s, _ := rec[key].(string)
	return s
}

func mapField(rec map[string]any, key string) map[string]any {
	m, _ := rec[key].(map[string]any)
	return maps.Clone(m)
}

func listField(rec map[string]any, keys ...string) []any {
	for _, k := range keys {
		if l, ok := rec[k].([]any); ok && len(l) > 0 {
			return l
		}
	}
	return nil
}
