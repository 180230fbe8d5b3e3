package research

import (
	"errors"
	"fmt"
	"time"
)

// ErrEmptyGoal is returned when a session is requested for a blank goal.
var ErrEmptyGoal = errors.New("research goal must not be empty")

// SessionCreationError reports a streamAssist reply carrying no session id in
// any accepted shape.
type SessionCreationError struct {
	Err error
}

func (e *SessionCreationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session creation failed: %v", e.Err)
	}
	return "session creation failed: no session id in response"
}

func (e *SessionCreationError) Unwrap() error { return e.Err }

// TimeoutError reports a polling phase that exceeded its deadline.
type TimeoutError struct {
	Phase   Phase
	Elapsed time.Duration
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %.1fs (limit %s)", e.Phase, e.Elapsed.Seconds(), e.Timeout)
}

// InstanceFailedError reports an instance that reached the FAILED state
// without producing enough ideas.
type InstanceFailedError struct {
	SessionID  string
	InstanceID string
}

func (e *InstanceFailedError) Error() string {
	return fmt.Sprintf("instance %s of session %s failed", e.InstanceID, e.SessionID)
}

// haltError stops a poll loop and surfaces err instead of retrying.
type haltError struct{ err error }

func (h haltError) Error() string { return h.err.Error() }
func (h haltError) Unwrap() error { return h.err }

func halt(err error) error { return haltError{err: err} }
