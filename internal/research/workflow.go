package research

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Phase is the client-side lifecycle position of one research run.
type Phase int

const (
	PhaseNoSession Phase = iota
	PhaseSessionCreated
	PhaseInstancePending
	PhaseInstanceActive
	PhaseIdeasReady
	PhaseFailed
	PhaseTimedOut
)

var phaseNames = [...]string{
	PhaseNoSession:       "NO_SESSION",
	PhaseSessionCreated:  "SESSION_CREATED",
	PhaseInstancePending: "INSTANCE_PENDING",
	PhaseInstanceActive:  "INSTANCE_ACTIVE",
	PhaseIdeasReady:      "IDEAS_READY",
	PhaseFailed:          "FAILED",
	PhaseTimedOut:        "TIMED_OUT",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// IsTerminal reports whether the run has finished.
func (p Phase) IsTerminal() bool {
	return p == PhaseIdeasReady || p == PhaseFailed || p == PhaseTimedOut
}

// transitions lists the legal successors of each phase.
var transitions = map[Phase][]Phase{
	PhaseNoSession:       {PhaseSessionCreated},
	PhaseSessionCreated:  {PhaseInstancePending},
	PhaseInstancePending: {PhaseInstanceActive, PhaseTimedOut},
	PhaseInstanceActive:  {PhaseIdeasReady, PhaseFailed, PhaseTimedOut},
}

// CanTransition reports whether to may follow from.
func CanTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// RunParams bounds the two polling phases of a Workflow.
type RunParams struct {
	InstanceTimeout  time.Duration
	InstanceInterval time.Duration
	IdeasTimeout     time.Duration
	IdeasInterval    time.Duration
	MinIdeas         int
}

// Workflow runs one goal through session creation, instance wait and idea
// wait, tracking its Phase. A Workflow is single-use.
type Workflow struct {
	m            *Manager
	phase        Phase
	onTransition func(from, to Phase)

	Session  *Session
	Instance *Instance
}

// NewWorkflow returns a Workflow in PhaseNoSession. onTransition, if non-nil,
// is called after every phase change.
func (m *Manager) NewWorkflow(onTransition func(from, to Phase)) *Workflow {
	return &Workflow{m: m, phase: PhaseNoSession, onTransition: onTransition}
}

// Phase returns the current phase.
func (w *Workflow) Phase() Phase { return w.phase }

func (w *Workflow) advance(to Phase) {
	from := w.phase
	if !CanTransition(from, to) {
		w.m.logger.Error("illegal phase transition", "from", from.String(), "to", to.String())
		return
	}
	w.phase = to
	w.m.logger.Debug("phase transition", "from", from.String(), "to", to.String())
	if w.onTransition != nil {
		w.onTransition(from, to)
	}
}

// Run executes the full lifecycle for goal. Session creation failures leave
// the workflow in PhaseNoSession.
func (w *Workflow) Run(ctx context.Context, goal string, p RunParams) ([]Idea, error) {
	if w.phase != PhaseNoSession {
		return nil, fmt.Errorf("workflow already started (phase %s)", w.phase)
	}

	session, err := w.m.CreateSession(ctx, goal)
	if err != nil {
		return nil, err
	}
	w.Session = session
	w.advance(PhaseSessionCreated)

	w.advance(PhaseInstancePending)
	inst, err := w.m.AwaitInstance(ctx, session, p.InstanceTimeout, p.InstanceInterval)
	if err != nil {
		w.fail(err)
		return nil, err
	}
	w.Instance = inst
	w.advance(PhaseInstanceActive)

	ideas, err := w.m.AwaitIdeas(ctx, inst, p.IdeasTimeout, p.IdeasInterval, p.MinIdeas)
	if err != nil {
		w.fail(err)
		return nil, err
	}
	w.advance(PhaseIdeasReady)
	return ideas, nil
}

func (w *Workflow) fail(err error) {
	var timeout *TimeoutError
	var failed *InstanceFailedError
	switch {
	case errors.As(err, &timeout):
		w.advance(PhaseTimedOut)
	case errors.As(err, &failed):
		w.advance(PhaseFailed)
	}
}
