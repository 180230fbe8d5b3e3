package cosci

import (
	"fmt"

	"github.com/cosci/cosci/internal/auth"
	"github.com/cosci/cosci/internal/discovery"
	"github.com/cosci/cosci/internal/research"
)

type (
	AuthenticationError  = auth.AuthenticationError
	APIError             = discovery.APIError
	NetworkError         = discovery.NetworkError
	SessionCreationError = research.SessionCreationError
	TimeoutError         = research.TimeoutError
	InstanceFailedError  = research.InstanceFailedError
)

var (
	ErrClientClosed = discovery.ErrClientClosed
	ErrEmptyGoal    = research.ErrEmptyGoal
)

// WorkflowError reports a GenerateIdeas run that did not reach its ideas.
// Phase is where the run stopped; SessionID is empty when no session was
// created.
type WorkflowError struct {
	Goal      string
	SessionID string
	Phase     Phase
	Err       error
}

func (e *WorkflowError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("generating ideas for %q (phase %s): %v", truncateGoal(e.Goal), e.Phase, e.Err)
	}
	return fmt.Sprintf("generating ideas for %q (phase %s, session %s): %v", truncateGoal(e.Goal), e.Phase, e.SessionID, e.Err)
}

func (e *WorkflowError) Unwrap() error { return e.Err }

const maxGoalInError = 100

func truncateGoal(goal string) string {
	r := []rune(goal)
	if len(r) <= maxGoalInError {
		return goal
	}
	return string(r[:maxGoalInError]) + "..."
}
