// Package research models Co-Scientist sessions, instances and ideas, and
// drives their lifecycle by polling the Discovery Engine API.
package research

import (
	"time"
)

// SessionState is the backend's coarse session status. Values other than the
// constants below are kept verbatim.
type SessionState string

const (
	SessionStateCreated SessionState = "CREATED"
)

// InstanceState is the processing status of an idea-forge instance.
type InstanceState string

const (
	InstanceCreating   InstanceState = "CREATING"
	InstanceActive     InstanceState = "ACTIVE"
	InstanceProcessing InstanceState = "PROCESSING"
	InstanceSucceeded  InstanceState = "SUCCEEDED"
	InstanceFailed     InstanceState = "FAILED"
)

// ParseInstanceState maps a backend string onto a known state.
func ParseInstanceState(s string) (InstanceState, bool) {
	switch st := InstanceState(s); st {
	case InstanceCreating, InstanceActive, InstanceProcessing, InstanceSucceeded, InstanceFailed:
		return st, true
	}
	return "", false
}

// IsTerminal reports whether no further progress is expected.
func (s InstanceState) IsTerminal() bool {
	return s == InstanceSucceeded || s == InstanceFailed
}

// Session is the remote workflow root for one research goal.
type Session struct {
	ID           string       `json:"session_id"`
	ResearchGoal string       `json:"research_goal"`
	State        SessionState `json:"state"`
	Instance     *Instance    `json:"instance,omitempty"`
}

// Instance is the backend unit of work turning a session's goal into ideas.
type Instance struct {
	ID        string        `json:"instance_id"`
	SessionID string        `json:"session_id"`
	State     InstanceState `json:"state"`
	Ideas     []Idea        `json:"ideas,omitempty"`
}

// Path returns the instance resource path relative to the engine root.
func (i *Instance) Path() string {
	return instancePath(i.SessionID, i.ID)
}

// Idea is one generated research idea. Ideas are produced only by ParseIdeas
// and ParseIdea and are not modified afterwards.
type Idea struct {
	ID          string         `json:"idea_id"`
	Name        string         `json:"name,omitempty"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Content     map[string]any `json:"content,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	CreatedAt   *time.Time     `json:"created_at,omitempty"`
}

// IsReference reports whether the idea only names a resource and carries no
// inline detail yet.
func (i Idea) IsReference() bool {
	return i.Title == "" && i.Description == "" && len(i.Content) == 0 && len(i.Attributes) == 0
}

// EloRating returns the tournament rating attribute, if present.
func (i Idea) EloRating() (float64, bool) {
	switch v := i.Attributes["eloRating"].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Category returns the category attribute, if present.
func (i Idea) Category() string {
	s, _ := i.Attributes["category"].(string)
	return s
}

// Tags returns the string tags attribute.
func (i Idea) Tags() []string {
	raw, _ := i.Attributes["tags"].([]any)
	tags := make([]string, 0, len(raw))
	for _, t := range raw {
		if s, ok := t.(string); ok {
			tags = append(tags, s)
		}
	}
	return tags
}

// SessionSummary is one entry of the session listing.
type SessionSummary struct {
	ID           string       `json:"session_id"`
	Name         string       `json:"name"`
	State        SessionState `json:"state"`
	StartTime    *time.Time   `json:"start_time,omitempty"`
	InstancePath string       `json:"instance,omitempty"`
}

// HasInstance reports whether the backend has provisioned an instance.
func (s SessionSummary) HasInstance() bool { return s.InstancePath != "" }

// SessionStatus is a merged view of a session and its instance.
type SessionStatus struct {
	SessionID   string `json:"session_id"`
	State       string `json:"state"`
	HasInstance bool   `json:"has_instance"`
	InstanceID  string `json:"instance_id,omitempty"`
	IdeasCount  int    `json:"ideas_count"`
	Goal        string `json:"goal,omitempty"`
	Err         error  `json:"-"`
}

// NoInstanceState labels sessions whose instance has not been provisioned.
const NoInstanceState = "NO_INSTANCE"

func sessionPath(sessionID string) string {
	return "sessions/" + sessionID
}

func instancePath(sessionID, instanceID string) string {
	return sessionPath(sessionID) + "/ideaForgeInstances/" + instanceID
}

func ideaPath(sessionID, instanceID, ideaID string) string {
	return instancePath(sessionID, instanceID) + "/ideaForgeIdeas/" + ideaID
}
