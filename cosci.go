// Package cosci drives the Co-Scientist idea-generation workflow on a
// Discovery Engine backend.
//
// A Client submits a research goal, waits for the backend to provision an
// idea-forge instance and polls that instance until it has produced ideas:
//
//	cfg, _ := cosci.LoadConfig()
//	client, err := cosci.New(ctx, cfg)
//	if err != nil { ... }
//	defer client.Close()
//	session, err := client.GenerateIdeas(ctx, "Top 5 largest countries by land mass")
//
// Every read and write goes through one retrying, authenticated access layer
// whose request statistics are available from Client.Stats.
package cosci

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/cosci/cosci/internal/auth"
	"github.com/cosci/cosci/internal/config"
	"github.com/cosci/cosci/internal/discovery"
	"github.com/cosci/cosci/internal/research"
)

type (
	Config     = config.Config
	APIConfig  = config.APIConfig
	PollConfig = config.PollConfig
	LogConfig  = config.LogConfig

	Session        = research.Session
	Instance       = research.Instance
	Idea           = research.Idea
	SessionStatus  = research.SessionStatus
	SessionSummary = research.SessionSummary
	Phase          = research.Phase
	Clock          = research.Clock
	SleepFunc      = research.SleepFunc

	StatsSnapshot = discovery.StatsSnapshot
	TokenProvider = discovery.TokenProvider
)

// LoadConfig reads the user's config file and COSCI_* environment overrides.
func LoadConfig() (Config, error) {
	return config.Load()
}

// Client is safe for concurrent use. Each GenerateIdeas call polls on the
// calling goroutine.
type Client struct {
	cfg      Config
	api      *discovery.Client
	research *research.Manager
	logger   *slog.Logger
}

type clientOptions struct {
	tokens     TokenProvider
	httpClient *http.Client
	tracer     trace.Tracer
	logger     *slog.Logger
	clock      Clock
	sleep      SleepFunc
}

// Option configures a Client.
type Option func(*clientOptions)

// WithTokenProvider replaces credential loading from the config.
func WithTokenProvider(tp TokenProvider) Option {
	return func(o *clientOptions) { o.tokens = tp }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = hc }
}

// WithTracer records one span per API call on t.
func WithTracer(t trace.Tracer) Option {
	return func(o *clientOptions) { o.tracer = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// WithClock replaces the clock used for poll deadlines.
func WithClock(c Clock) Option {
	return func(o *clientOptions) { o.clock = c }
}

// WithSleep replaces every wait: poll intervals and retry backoff.
func WithSleep(fn SleepFunc) Option {
	return func(o *clientOptions) { o.sleep = fn }
}

// New validates cfg and builds the credential, access and lifecycle layers.
// Credentials come from, in order: WithTokenProvider, cfg.AccessToken, the
// service-account key at cfg.CredentialsPath.
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	tokens := o.tokens
	switch {
	case tokens != nil:
	case cfg.AccessToken != "":
		tokens = auth.StaticToken(cfg.AccessToken)
	case cfg.CredentialsPath != "":
		a, err := auth.FromServiceAccountFile(ctx, cfg.CredentialsPath)
		if err != nil {
			return nil, err
		}
		tokens = a
	default:
		return nil, &auth.AuthenticationError{Err: errors.New("no credentials: set credentials_path or GOOGLE_APPLICATION_CREDENTIALS")}
	}

	api, err := discovery.New(tokens, discovery.Options{
		ProjectID:      cfg.ProjectID,
		Location:       cfg.Location,
		Collection:     cfg.Collection,
		EngineID:       cfg.EngineID,
		BaseURL:        cfg.API.BaseURL,
		MaxAttempts:    cfg.API.MaxAttempts,
		RequestTimeout: cfg.API.RequestTimeout,
		HTTPClient:     o.httpClient,
		Tracer:         o.tracer,
		Logger:         o.logger,
		Sleep:          o.sleep,
	})
	if err != nil {
		return nil, err
	}

	mgr := research.NewManager(api,
		research.WithAssistant(cfg.Assistant),
		research.WithClock(o.clock),
		research.WithSleep(o.sleep),
		research.WithLogger(o.logger),
	)

	return &Client{
		cfg:      cfg,
		api:      api,
		research: mgr,
		logger:   o.logger.With("component", "cosci"),
	}, nil
}

// Config returns the configuration the client was built from.
func (c *Client) Config() Config { return c.cfg }

type generateOptions struct {
	minIdeas         int
	timeout          time.Duration
	interval         time.Duration
	instanceInterval time.Duration
	onPhase          func(from, to Phase)
}

// GenerateOption tunes one GenerateIdeas call.
type GenerateOption func(*generateOptions)

// WithMinIdeas sets the number of ideas that counts as success.
func WithMinIdeas(n int) GenerateOption {
	return func(o *generateOptions) { o.minIdeas = n }
}

// WithTimeout bounds the wait for ideas. The wait for an instance is bounded
// by the smaller of this and the configured instance timeout.
func WithTimeout(d time.Duration) GenerateOption {
	return func(o *generateOptions) { o.timeout = d }
}

// WithPollInterval sets the wait between idea polls.
func WithPollInterval(d time.Duration) GenerateOption {
	return func(o *generateOptions) { o.interval = d }
}

// OnPhase is called after every lifecycle phase change.
func OnPhase(fn func(from, to Phase)) GenerateOption {
	return func(o *generateOptions) { o.onPhase = fn }
}

// GenerateIdeas runs goal through the full lifecycle and returns the session
// with its instance and ideas attached. Failures are reported as
// *WorkflowError.
func (c *Client) GenerateIdeas(ctx context.Context, goal string, opts ...GenerateOption) (*Session, error) {
	o := generateOptions{
		minIdeas:         c.cfg.Poll.MinIdeas,
		timeout:          c.cfg.Poll.Timeout,
		interval:         c.cfg.Poll.Interval,
		instanceInterval: c.cfg.Poll.InstanceInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}

	w := c.research.NewWorkflow(o.onPhase)
	_, err := w.Run(ctx, goal, research.RunParams{
		InstanceTimeout:  min(c.cfg.Poll.InstanceTimeout, o.timeout),
		InstanceInterval: o.instanceInterval,
		IdeasTimeout:     o.timeout,
		IdeasInterval:    o.interval,
		MinIdeas:         o.minIdeas,
	})
	if err != nil {
		werr := &WorkflowError{Goal: goal, Phase: w.Phase(), Err: err}
		if w.Session != nil {
			werr.SessionID = w.Session.ID
		}
		c.logger.Error("idea generation failed",
			"goal", truncateGoal(goal), "phase", werr.Phase.String(), "session_id", werr.SessionID, "error", err)
		return nil, werr
	}
	return w.Session, nil
}

// GetSession returns the raw session resource.
func (c *Client) GetSession(ctx context.Context, sessionID string) (map[string]any, error) {
	return c.research.GetSessionInfo(ctx, sessionID)
}

// GetInstance returns the raw instance resource.
func (c *Client) GetInstance(ctx context.Context, sessionID, instanceID string) (map[string]any, error) {
	return c.research.GetInstanceInfo(ctx, sessionID, instanceID)
}

func (c *Client) GetSessionStatus(ctx context.Context, sessionID string) (SessionStatus, error) {
	return c.research.GetSessionStatus(ctx, sessionID)
}

// GetIdeas returns the current ideas of a session without waiting. With
// fetchDetails, reference-only ideas are resolved to their full records.
func (c *Client) GetIdeas(ctx context.Context, sessionID string, fetchDetails bool) ([]Idea, error) {
	return c.research.GetIdeasFromSession(ctx, sessionID, fetchDetails)
}

func (c *Client) GetIdea(ctx context.Context, sessionID, instanceID, ideaID string) (Idea, error) {
	return c.research.GetIdeaDetails(ctx, sessionID, instanceID, ideaID)
}

func (c *Client) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	return c.research.ListSessions(ctx)
}

// ListSessionStatuses resolves the status of every listed session.
func (c *Client) ListSessionStatuses(ctx context.Context, sessions []SessionSummary) ([]SessionStatus, error) {
	return c.research.ListSessionStatuses(ctx, sessions)
}

// Stats returns a snapshot of the access layer's request counters.
func (c *Client) Stats() StatsSnapshot {
	return c.api.Stats().Snapshot()
}

// ResetStats clears the request counters.
func (c *Client) ResetStats() {
	c.api.Stats().Reset()
}

// Collector exports the request counters as prometheus metrics.
func (c *Client) Collector(namespace string) prometheus.Collector {
	return discovery.NewCollector(namespace, c.api.Stats())
}

// Close releases idle connections. Later calls fail with ErrClientClosed.
func (c *Client) Close() error {
	return c.api.Close()
}
