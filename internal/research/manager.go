package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	DefaultAssistant        = "default_assistant"
	DefaultInstanceTimeout  = 60 * time.Second
	DefaultInstanceInterval = 2 * time.Second
	DefaultIdeasTimeout     = 300 * time.Second
	DefaultIdeasInterval    = 5 * time.Second
)

// API is the subset of the access layer the manager needs.
type API interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
	Post(ctx context.Context, path string, body any) (json.RawMessage, error)
}

// Manager creates research sessions and waits for their results. Each call
// polls synchronously on the calling goroutine.
type Manager struct {
	api       API
	assistant string
	poll      poller
	logger    *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithAssistant sets the assistant that receives research goals.
func WithAssistant(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.assistant = name
		}
	}
}

// WithClock replaces the wall clock used for poll deadlines.
func WithClock(c Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.poll.clock = c
		}
	}
}

// WithSleep replaces the wait between poll attempts.
func WithSleep(fn SleepFunc) Option {
	return func(m *Manager) {
		if fn != nil {
			m.poll.sleep = fn
		}
	}
}

// WithLogger sets the logger for lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a Manager on top of api.
func NewManager(api API, opts ...Option) *Manager {
	m := &Manager{
		api:       api,
		assistant: DefaultAssistant,
		poll:      poller{clock: systemClock{}, sleep: sleepContext},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "research")
	m.poll.logger = m.logger
	return m
}

type assistQuery struct {
	Query struct {
		Text string `json:"text"`
	} `json:"query"`
	AnswerGenerationMode string `json:"answer_generation_mode"`
}

// CreateSession submits goal to the assistant and returns the session the
// backend opened for it.
func (m *Manager) CreateSession(ctx context.Context, goal string) (*Session, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, ErrEmptyGoal
	}
	m.logger.Info("creating session", "goal", truncate(goal, 100))

	var q assistQuery
	q.Query.Text = goal
	q.AnswerGenerationMode = "IDEA_FORGE"

	data, err := m.api.Post(ctx, "assistants/"+m.assistant+":streamAssist", q)
	if err != nil {
		return nil, fmt.Errorf("submitting goal: %w", err)
	}

	var reply any
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, &SessionCreationError{Err: fmt.Errorf("decoding reply: %w", err)}
	}
	id, shape, ok := extractSessionID(reply)
	if !ok {
		return nil, &SessionCreationError{}
	}

	m.logger.Info("session created", "session_id", id, "shape", shape)
	return &Session{ID: id, ResearchGoal: goal, State: SessionStateCreated}, nil
}

// AwaitInstance polls the session until the backend attaches an instance,
// then records it on session. Individual poll failures are logged, not
// returned.
func (m *Manager) AwaitInstance(ctx context.Context, session *Session, timeout, interval time.Duration) (*Instance, error) {
	timeout = orDefault(timeout, DefaultInstanceTimeout)
	interval = orDefault(interval, DefaultInstanceInterval)
	m.logger.Info("waiting for instance", "session_id", session.ID, "timeout", timeout)

	var inst *Instance
	err := m.poll.run(ctx, PhaseInstancePending, timeout, interval, func(ctx context.Context, attempt int) (bool, error) {
		obj, err := m.getObject(ctx, sessionPath(session.ID))
		if err != nil {
			return false, err
		}
		if st := stringField(obj, "state"); st != "" {
			session.State = SessionState(st)
		}
		id := trailingSegment(stringField(obj, "ideaForgeInstance"))
		if id == "" {
			m.logger.Debug("no instance yet", "session_id", session.ID, "attempt", attempt)
			return false, nil
		}
		inst = &Instance{ID: id, SessionID: session.ID, State: InstanceCreating}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	session.Instance = inst
	m.logger.Info("instance created", "session_id", session.ID, "instance_id", inst.ID)
	return inst, nil
}

// AwaitIdeas polls the instance until at least minIdeas ideas are available.
// A full idea list is accepted in any state; a preview list only once the
// instance has SUCCEEDED. Fewer than minIdeas never counts as success.
// minIdeas below 1 is treated as 1, so a list whose records all fail to
// parse never yields an empty result.
func (m *Manager) AwaitIdeas(ctx context.Context, inst *Instance, timeout, interval time.Duration, minIdeas int) ([]Idea, error) {
	timeout = orDefault(timeout, DefaultIdeasTimeout)
	interval = orDefault(interval, DefaultIdeasInterval)
	minIdeas = max(minIdeas, 1)
	m.logger.Info("polling for ideas", "instance_id", inst.ID, "timeout", timeout, "min_ideas", minIdeas)

	var ideas []Idea
	err := m.poll.run(ctx, PhaseInstanceActive, timeout, interval, func(ctx context.Context, attempt int) (bool, error) {
		obj, err := m.getObject(ctx, inst.Path())
		if err != nil {
			return false, err
		}
		m.applyInstanceState(inst, stringField(obj, "state"))

		raw := listField(obj, "ideas")
		if raw == nil && inst.State == InstanceSucceeded {
			raw = listField(obj, "ideaPreviews", "idea_previews")
		}
		if raw != nil {
			parsed := parseIdeas(raw, m.logger)
			if len(parsed) >= minIdeas {
				ideas = parsed
				return true, nil
			}
			m.logger.Debug("not enough ideas yet", "have", len(parsed), "want", minIdeas)
		}
		if inst.State == InstanceFailed {
			return false, halt(&InstanceFailedError{SessionID: inst.SessionID, InstanceID: inst.ID})
		}
		m.logger.Debug("waiting for ideas", "attempt", attempt, "state", string(inst.State))
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	inst.Ideas = ideas
	m.logger.Info("ideas ready", "instance_id", inst.ID, "count", len(ideas))
	return ideas, nil
}

// applyInstanceState records st on inst when it is a known state. Unknown
// values leave the previous state in place.
func (m *Manager) applyInstanceState(inst *Instance, st string) {
	if st == "" {
		return
	}
	if known, ok := ParseInstanceState(st); ok {
		inst.State = known
		return
	}
	m.logger.Debug("ignoring unrecognised instance state", "state", st)
}

func (m *Manager) getObject(ctx context.Context, path string) (map[string]any, error) {
	data, err := m.api.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return obj, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
