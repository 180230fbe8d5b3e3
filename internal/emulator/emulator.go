// Package emulator serves an in-memory Discovery Engine backend with the
// session, instance and idea resources the research client uses. It backs
// offline demos and end-to-end tests.
package emulator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Reply shapes for streamAssist.
const (
	ShapeStructuredList = "structured-list"
	ShapeSessionInfo    = "session-info"
	ShapeSessionField   = "session-field"
	ShapeNone           = "none"
)

const engineName = "projects/emulator/locations/global/collections/default_collection/engines/emulator"

// Options controls how the emulated backend progresses.
type Options struct {
	// InstanceAfterPolls is the number of session reads that return no
	// instance before one is attached.
	InstanceAfterPolls int
	// SucceedAfterPolls is the number of instance reads before the instance
	// reaches its terminal state.
	SucceedAfterPolls int
	// IdeaCount is the number of ideas a finished instance exposes.
	IdeaCount int
	// UsePreviews exposes ideas as reference-only previews instead of a full
	// inline list.
	UsePreviews  bool
	FailInstance bool
	// TransientFailures answers the first N requests with 503.
	TransientFailures int
	ReplyShape        string
	// PageSize limits the session listing; zero returns every session.
	PageSize int
	// Token, when set, is required as the bearer token.
	Token  string
	Logger *slog.Logger
}

type session struct {
	id        string
	goal      string
	started   time.Time
	reads     int
	instance  string
	instReads int
}

// Server is the emulated backend. It is safe for concurrent use.
type Server struct {
	opts   Options
	logger *slog.Logger
	router chi.Router

	mu       sync.Mutex
	nextID   int
	sessions map[string]*session
	order    []string
	failures int
	requests int
}

// New returns a Server configured by opts.
func New(opts Options) *Server {
	if opts.IdeaCount <= 0 {
		opts.IdeaCount = 3
	}
	if opts.ReplyShape == "" {
		opts.ReplyShape = ShapeStructuredList
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		opts:     opts,
		logger:   logger.With("component", "emulator"),
		nextID:   10000,
		sessions: make(map[string]*session),
		failures: opts.TransientFailures,
	}

	r := chi.NewRouter()
	r.Use(s.countRequests, s.bearerAuth, s.transientFailures)
	r.Post("/assistants/{target}", s.handleStreamAssist)
	r.Get("/sessions", s.handleListSessions)
	r.Get("/sessions/{session}", s.handleGetSession)
	r.Get("/sessions/{session}/ideaForgeInstances/{instance}", s.handleGetInstance)
	r.Get("/sessions/{session}/ideaForgeInstances/{instance}/ideaForgeIdeas/{idea}", s.handleGetIdea)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apiError(w, http.StatusNotFound, "NOT_FOUND", "no resource at %s", r.URL.Path)
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Requests returns the number of requests received, including rejected ones.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// SessionCount returns the number of sessions created so far.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests++
		s.mu.Unlock()
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "request_id", r.Header.Get("X-Request-Id"))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.opts.Token {
			apiError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "request had invalid authentication credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) transientFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		fail := s.failures > 0
		if fail {
			s.failures--
		}
		s.mu.Unlock()
		if fail {
			apiError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "the service is currently unavailable")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type assistRequest struct {
	Query struct {
		Text string `json:"text"`
	} `json:"query"`
	AnswerGenerationMode string `json:"answer_generation_mode"`
}

func (s *Server) handleStreamAssist(w http.ResponseWriter, r *http.Request) {
	if _, action, _ := strings.Cut(chi.URLParam(r, "target"), ":"); action != "streamAssist" {
		apiError(w, http.StatusNotFound, "NOT_FOUND", "unknown assistant action %q", action)
		return
	}
	var req assistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request body: %v", err)
		return
	}
	if strings.TrimSpace(req.Query.Text) == "" {
		apiError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "query.text is required")
		return
	}

	s.mu.Lock()
	s.nextID++
	sess := &session{id: strconv.Itoa(s.nextID), goal: req.Query.Text, started: time.Now().UTC()}
	s.sessions[sess.id] = sess
	s.order = append(s.order, sess.id)
	s.mu.Unlock()

	name := sessionName(sess.id)
	s.logger.Info("session created", "session_id", sess.id, "mode", req.AnswerGenerationMode)

	switch s.opts.ReplyShape {
	case ShapeSessionInfo:
		writeJSON(w, map[string]any{"sessionInfo": map[string]any{"session": name}})
	case ShapeSessionField:
		writeJSON(w, map[string]any{"session": name})
	case ShapeNone:
		writeJSON(w, []any{map[string]any{"answer": map[string]any{"state": "IN_PROGRESS"}}})
	default:
		writeJSON(w, []any{
			map[string]any{"answer": map[string]any{"state": "IN_PROGRESS"}},
			map[string]any{"sessionInfo": map[string]any{"session": name}},
		})
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if tok := r.URL.Query().Get("pageToken"); tok != "" {
		n, err := strconv.Atoi(tok)
		if err != nil || n < 0 || n > len(s.order) {
			apiError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid page token %q", tok)
			return
		}
		start = n
	}
	end := len(s.order)
	if s.opts.PageSize > 0 {
		end = min(start+s.opts.PageSize, end)
	}

	items := make([]any, 0, end-start)
	for _, id := range s.order[start:end] {
		items = append(items, s.sessionResource(s.sessions[id]))
	}
	resp := map[string]any{"sessions": items}
	if end < len(s.order) {
		resp["nextPageToken"] = strconv.Itoa(end)
	}
	writeJSON(w, resp)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[chi.URLParam(r, "session")]
	if !ok {
		apiError(w, http.StatusNotFound, "NOT_FOUND", "session %s not found", chi.URLParam(r, "session"))
		return
	}
	sess.reads++
	if sess.instance == "" && sess.reads > s.opts.InstanceAfterPolls {
		s.nextID++
		sess.instance = strconv.Itoa(s.nextID)
		s.logger.Info("instance attached", "session_id", sess.id, "instance_id", sess.instance)
	}
	writeJSON(w, s.sessionResource(sess))
}

func (s *Server) sessionResource(sess *session) map[string]any {
	res := map[string]any{
		"name":      sessionName(sess.id),
		"state":     "IN_PROGRESS",
		"startTime": sess.started.Format(time.RFC3339Nano),
	}
	if sess.instance != "" {
		res["ideaForgeInstance"] = instanceName(sess.id, sess.instance)
	}
	return res
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.lookupInstance(w, r)
	if !ok {
		return
	}
	sess.instReads++

	state := "ACTIVE"
	switch {
	case sess.instReads > s.opts.SucceedAfterPolls && s.opts.FailInstance:
		state = "FAILED"
	case sess.instReads > s.opts.SucceedAfterPolls:
		state = "SUCCEEDED"
	case sess.instReads == 1:
		state = "CREATING"
	}

	res := map[string]any{
		"name":   instanceName(sess.id, sess.instance),
		"state":  state,
		"config": map[string]any{"goal": sess.goal},
	}
	if state == "SUCCEEDED" {
		ideas := make([]any, s.opts.IdeaCount)
		for i := range ideas {
			id := strconv.Itoa(i + 1)
			if s.opts.UsePreviews {
				ideas[i] = map[string]any{"ideaForgeIdea": ideaName(sess.id, sess.instance, id)}
			} else {
				ideas[i] = ideaResource(sess, id)
			}
		}
		key := "ideas"
		if s.opts.UsePreviews {
			key = "ideaPreviews"
		}
		res[key] = ideas
	}
	writeJSON(w, res)
}

func (s *Server) handleGetIdea(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.lookupInstance(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "idea")
	n, err := strconv.Atoi(id)
	if err != nil || n < 1 || n > s.opts.IdeaCount {
		apiError(w, http.StatusNotFound, "NOT_FOUND", "idea %s not found", id)
		return
	}
	writeJSON(w, ideaResource(sess, id))
}

// lookupInstance resolves the session and instance named in the route. The
// caller must hold s.mu.
func (s *Server) lookupInstance(w http.ResponseWriter, r *http.Request) (*session, bool) {
	sess, ok := s.sessions[chi.URLParam(r, "session")]
	if !ok || sess.instance == "" || sess.instance != chi.URLParam(r, "instance") {
		apiError(w, http.StatusNotFound, "NOT_FOUND", "instance %s not found", chi.URLParam(r, "instance"))
		return nil, false
	}
	return sess, true
}

func ideaResource(sess *session, id string) map[string]any {
	n, _ := strconv.Atoi(id)
	return map[string]any{
		"name":        ideaName(sess.id, sess.instance, id),
		"title":       fmt.Sprintf("Idea %s", id),
		"description": fmt.Sprintf("Hypothesis %s for: %s", id, sess.goal),
		"content":     map[string]any{"rationale": "generated by the emulator"},
		"attributes": map[string]any{
			"eloRating": 1200.0 - float64(n*10),
			"category":  "hypothesis",
			"tags":      []any{"emulated"},
		},
		"createTime": sess.started.Format(time.RFC3339Nano),
	}
}

func sessionName(id string) string { return engineName + "/sessions/" + id }

func instanceName(sessionID, instanceID string) string {
	return sessionName(sessionID) + "/ideaForgeInstances/" + instanceID
}

func ideaName(sessionID, instanceID, ideaID string) string {
	return instanceName(sessionID, instanceID) + "/ideaForgeIdeas/" + ideaID
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// apiError writes the Google API error envelope.
func apiError(w http.ResponseWriter, code int, status string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": fmt.Sprintf(format, args...),
			"status":  status,
		},
	})
}
