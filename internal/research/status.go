package research

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"
)

const maxSessionPages = 100

// GetSessionInfo returns the raw session resource.
func (m *Manager) GetSessionInfo(ctx context.Context, sessionID string) (map[string]any, error) {
	return m.getObject(ctx, sessionPath(sessionID))
}

// GetInstanceInfo returns the raw instance resource.
func (m *Manager) GetInstanceInfo(ctx context.Context, sessionID, instanceID string) (map[string]any, error) {
	return m.getObject(ctx, instancePath(sessionID, instanceID))
}

// GetIdeaDetails fetches one idea resource and parses it.
func (m *Manager) GetIdeaDetails(ctx context.Context, sessionID, instanceID, ideaID string) (Idea, error) {
	obj, err := m.getObject(ctx, ideaPath(sessionID, instanceID, ideaID))
	if err != nil {
		return Idea{}, err
	}
	idea, kind := ParseIdea(obj)
	if kind == RecordUnknown {
		return Idea{}, fmt.Errorf("idea %s: unrecognised record", ideaID)
	}
	return idea, nil
}

// FetchIdeaDetails replaces reference-only ideas with their fetched detail.
// An idea whose fetch fails is kept as the reference.
func (m *Manager) FetchIdeaDetails(ctx context.Context, inst *Instance, ideas []Idea) []Idea {
	out := make([]Idea, len(ideas))
	for i, idea := range ideas {
		out[i] = idea
		if !idea.IsReference() {
			continue
		}
		full, err := m.GetIdeaDetails(ctx, inst.SessionID, inst.ID, idea.ID)
		if err != nil {
			m.logger.Warn("fetching idea details", "idea_id", idea.ID, "error", err)
			continue
		}
		out[i] = full
	}
	return out
}

// GetSessionStatus merges the session resource with its instance, if any.
// The reported state is the instance state once an instance exists.
func (m *Manager) GetSessionStatus(ctx context.Context, sessionID string) (SessionStatus, error) {
	sess, err := m.GetSessionInfo(ctx, sessionID)
	if err != nil {
		return SessionStatus{}, fmt.Errorf("reading session %s: %w", sessionID, err)
	}
	status := SessionStatus{SessionID: sessionID, State: stringField(sess, "state")}

	instanceID := trailingSegment(stringField(sess, "ideaForgeInstance"))
	if instanceID == "" {
		if status.State == "" {
			status.State = NoInstanceState
		}
		return status, nil
	}
	status.HasInstance = true
	status.InstanceID = instanceID

	inst, err := m.GetInstanceInfo(ctx, sessionID, instanceID)
	if err != nil {
		return SessionStatus{}, fmt.Errorf("reading instance %s: %w", instanceID, err)
	}
	if st := stringField(inst, "state"); st != "" {
		status.State = st
	}
	status.IdeasCount = len(listField(inst, "ideas", "ideaPreviews", "idea_previews"))
	if cfg, ok := inst["config"].(map[string]any); ok {
		status.Goal = stringField(cfg, "goal")
	}
	return status, nil
}

// GetIdeasFromSession returns the ideas of the session's instance without
// waiting. A session with no instance yields no ideas.
func (m *Manager) GetIdeasFromSession(ctx context.Context, sessionID string, fetchDetails bool) ([]Idea, error) {
	sess, err := m.GetSessionInfo(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("reading session %s: %w", sessionID, err)
	}
	instanceID := trailingSegment(stringField(sess, "ideaForgeInstance"))
	if instanceID == "" {
		return []Idea{}, nil
	}
	inst := &Instance{ID: instanceID, SessionID: sessionID}

	obj, err := m.GetInstanceInfo(ctx, sessionID, instanceID)
	if err != nil {
		return nil, fmt.Errorf("reading instance %s: %w", instanceID, err)
	}
	ideas := parseIdeas(listField(obj, "ideas", "ideaPreviews", "idea_previews"), m.logger)
	if fetchDetails {
		ideas = m.FetchIdeaDetails(ctx, inst, ideas)
	}
	return ideas, nil
}

// ListSessions returns every session of the engine, following page tokens.
func (m *Manager) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	var out []SessionSummary
	token := ""
	for range maxSessionPages {
		path := "sessions"
		if token != "" {
			path += "?pageToken=" + url.QueryEscape(token)
		}
		page, err := m.getObject(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("listing sessions: %w", err)
		}
		items, _ := page["sessions"].([]any)
		for _, item := range items {
			if s, ok := parseSessionSummary(item); ok {
				out = append(out, s)
			}
		}
		token = stringField(page, "nextPageToken")
		if token == "" {
			return out, nil
		}
	}
	m.logger.Warn("session listing truncated", "pages", maxSessionPages)
	return out, nil
}

func parseSessionSummary(v any) (SessionSummary, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return SessionSummary{}, false
	}
	name := stringField(obj, "name")
	id, ok := idFromName(name)
	if !ok {
		return SessionSummary{}, false
	}
	s := SessionSummary{
		ID:           id,
		Name:         name,
		State:        SessionState(stringField(obj, "state")),
		InstancePath: stringField(obj, "ideaForgeInstance"),
	}
	if ts := stringField(obj, "startTime"); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			s.StartTime = &t
		}
	}
	return s, true
}

// ListSessionStatuses resolves the status of each session concurrently.
// Per-session failures are reported in SessionStatus.Err and do not abort
// the others. Output order matches sessions.
func (m *Manager) ListSessionStatuses(ctx context.Context, sessions []SessionSummary) ([]SessionStatus, error) {
	out := make([]SessionStatus, len(sessions))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, s := range sessions {
		if !s.HasInstance() {
			out[i] = SessionStatus{SessionID: s.ID, State: NoInstanceState}
			continue
		}
		g.Go(func() error {
			status, err := m.GetSessionStatus(gCtx, s.ID)
			if err != nil {
				m.logger.Debug("session status failed", "session_id", s.ID, "error", err)
				out[i] = SessionStatus{SessionID: s.ID, State: NoInstanceState, HasInstance: true, Err: err}
				return nil
			}
			out[i] = status
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
