package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/cosci/cosci/internal/auth"
)

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

type countingTokens struct {
	calls atomic.Int32
	err   error
}

func (c *countingTokens) AccessToken(context.Context) (string, error) {
	c.calls.Add(1)
	if c.err != nil {
		return "", c.err
	}
	return "test-token", nil
}

func newTestClient(t *testing.T, baseURL string, sleeps *recordedSleeps) *Client {
	t.Helper()
	if sleeps == nil {
		sleeps = &recordedSleeps{}
	}
	c, err := New(auth.StaticToken("test-token"), Options{
		ProjectID: "proj-1",
		BaseURL:   baseURL,
		Sleep:     sleeps.sleep,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestGet_SendsHeadersAndDecodes(t *testing.T) {
	var gotAuth, gotProject, gotReqID, gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotProject = r.Header.Get("X-Goog-User-Project")
		gotReqID = r.Header.Get("X-Request-Id")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"name":"sessions/12345"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/v1alpha/engines/e1", nil)
	data, err := c.Get(context.Background(), "sessions/12345")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	var body map[string]string
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if body["name"] != "sessions/12345" {
		t.Errorf("name = %q", body["name"])
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotProject != "proj-1" {
		t.Errorf("X-Goog-User-Project = %q", gotProject)
	}
	if gotReqID == "" {
		t.Error("X-Request-Id should be set")
	}
	if gotPath != "/v1alpha/engines/e1/sessions/12345" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestPost_SendsJSONBody(t *testing.T) {
	var gotMethod string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	if _, err := c.Post(context.Background(), "assistants/a:streamAssist", map[string]any{"query": map[string]string{"text": "hi"}}); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %s", gotMethod)
	}
	q, _ := gotBody["query"].(map[string]any)
	if q["text"] != "hi" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestGet_EmptyBodyIsEmptyObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	data, err := c.Get(context.Background(), "sessions")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "{}" {
		t.Errorf("data = %q, want {}", data)
	}
}

func TestRetry_ServerErrorsThenSuccess(t *testing.T) {
	const failures = 2
	var attempt atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempt.Add(1) <= failures {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	sleeps := &recordedSleeps{}
	c := newTestClient(t, srv.URL, sleeps)

	if _, err := c.Get(context.Background(), "sessions"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	snap := c.Stats().Snapshot()
	if snap.TotalRequests != failures+1 {
		t.Errorf("TotalRequests = %d, want %d", snap.TotalRequests, failures+1)
	}
	if snap.SuccessfulRequests != 1 {
		t.Errorf("SuccessfulRequests = %d, want 1", snap.SuccessfulRequests)
	}
	if snap.FailedRequests != failures {
		t.Errorf("FailedRequests = %d, want %d", snap.FailedRequests, failures)
	}
	if snap.StatusCodes[503] != failures || snap.StatusCodes[200] != 1 {
		t.Errorf("StatusCodes = %v", snap.StatusCodes)
	}

	want := []time.Duration{time.Second, 2 * time.Second}
	if len(sleeps.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", sleeps.delays, want)
	}
	for i := range want {
		if sleeps.delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, sleeps.delays[i], want[i])
		}
	}
}

func TestRetry_RateLimited(t *testing.T) {
	var attempt atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempt.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	if _, err := c.Get(context.Background(), "sessions"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := attempt.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestNoRetry_ClientError(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var attempt atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempt.Add(1)
				w.WriteHeader(status)
				fmt.Fprint(w, `{"error":{"code":404,"message":"Session not found.","status":"NOT_FOUND"}}`)
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL, nil)
			_, err := c.Get(context.Background(), "sessions/missing")

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if apiErr.StatusCode != status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, status)
			}
			if apiErr.Message != "Session not found." {
				t.Errorf("Message = %q", apiErr.Message)
			}
			var netErr *NetworkError
			if errors.As(err, &netErr) {
				t.Error("client errors must not be reported as NetworkError")
			}
			if got := attempt.Load(); got != 1 {
				t.Errorf("attempts = %d, want 1", got)
			}
			if snap := c.Stats().Snapshot(); snap.TotalRequests != 1 || snap.FailedRequests != 1 {
				t.Errorf("stats = %+v", snap)
			}
		})
	}
}

func TestRetry_ExhaustedServerErrors(t *testing.T) {
	var attempt atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "internal")
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	_, err := c.Get(context.Background(), "sessions")

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if netErr.Attempts != defaultMaxAttempts {
		t.Errorf("Attempts = %d, want %d", netErr.Attempts, defaultMaxAttempts)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 500 {
		t.Errorf("last error should be the 500 APIError, got %v", err)
	}
	if got := attempt.Load(); got != defaultMaxAttempts {
		t.Errorf("attempts = %d, want %d", got, defaultMaxAttempts)
	}
}

func TestRetry_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url, nil)
	_, err := c.Get(context.Background(), "sessions")

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	snap := c.Stats().Snapshot()
	if snap.FailedRequests != defaultMaxAttempts {
		t.Errorf("FailedRequests = %d, want %d", snap.FailedRequests, defaultMaxAttempts)
	}
	if len(snap.StatusCodes) != 0 {
		t.Errorf("StatusCodes = %v, want empty", snap.StatusCodes)
	}
}

func TestAuthFailure_NotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	tokens := &countingTokens{err: &auth.AuthenticationError{Err: errors.New("expired key")}}
	c, err := New(tokens, Options{BaseURL: srv.URL, Sleep: (&recordedSleeps{}).sleep})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	_, err = c.Get(context.Background(), "sessions")
	var authErr *auth.AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthenticationError, got %v", err)
	}
	if hits.Load() != 0 {
		t.Errorf("server hits = %d, want 0", hits.Load())
	}
	if tokens.calls.Load() != 1 {
		t.Errorf("token calls = %d, want 1", tokens.calls.Load())
	}
}

func TestToken_FetchedPerAttempt(t *testing.T) {
	var attempt atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempt.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	tokens := &countingTokens{}
	c, err := New(tokens, Options{BaseURL: srv.URL, Sleep: (&recordedSleeps{}).sleep})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, err := c.Get(context.Background(), "sessions"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if tokens.calls.Load() != 2 {
		t.Errorf("token calls = %d, want 2", tokens.calls.Load())
	}
}

func TestClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := c.Get(context.Background(), "sessions"); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Get after Close = %v, want ErrClientClosed", err)
	}
	if _, err := c.Post(context.Background(), "sessions", nil); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Post after Close = %v, want ErrClientClosed", err)
	}
}

func TestEmptyPath(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1", nil)
	if _, err := c.Get(context.Background(), ""); !errors.Is(err, ErrEmptyPath) {
		t.Errorf("err = %v, want ErrEmptyPath", err)
	}
	if c.Stats().Snapshot().TotalRequests != 0 {
		t.Error("no attempt should be recorded for an empty path")
	}
}

func TestContextCanceled_StopsRetrying(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c, err := New(auth.StaticToken("t"), Options{
		BaseURL: srv.URL,
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, err := c.Get(ctx, "sessions"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestBackoff_Capped(t *testing.T) {
	c, err := New(auth.StaticToken("t"), Options{BaseURL: "http://x", BaseDelay: time.Second, MaxDelay: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := c.backoff(i); got != w {
			t.Errorf("backoff(%d) = %v, want %v", i, got, w)
		}
	}
}

func TestStats_ConcurrentCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Get(context.Background(), "sessions")
		}()
	}
	wg.Wait()

	snap := c.Stats().Snapshot()
	if snap.TotalRequests != n || snap.SuccessfulRequests != n || snap.StatusCodes[200] != n {
		t.Errorf("stats = %+v", snap)
	}
	if snap.SuccessRate() != 1 {
		t.Errorf("SuccessRate = %v, want 1", snap.SuccessRate())
	}
}

func TestTracing_RecordsSpanPerCall(t *testing.T) {
	var attempt atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempt.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	c, err := New(auth.StaticToken("t"), Options{
		BaseURL: srv.URL,
		Tracer:  tp.Tracer("test"),
		Sleep:   (&recordedSleeps{}).sleep,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, err := c.Get(context.Background(), "sessions"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name() != "discovery.GET" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	var attempts int64
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "cosci.attempts" {
			attempts = kv.Value.AsInt64()
		}
	}
	if attempts != 2 {
		t.Errorf("cosci.attempts = %d, want 2", attempts)
	}
}

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		location string
		want     string
	}{
		{"global", "https://discoveryengine.googleapis.com/v1alpha/projects/p/locations/global/collections/default_collection/engines/e"},
		{"us", "https://us-discoveryengine.googleapis.com/v1alpha/projects/p/locations/us/collections/default_collection/engines/e"},
	}
	for _, tt := range tests {
		if got := EndpointURL("p", tt.location, "default_collection", "e"); got != tt.want {
			t.Errorf("EndpointURL(%s) = %q, want %q", tt.location, got, tt.want)
		}
	}
}

func TestNew_RequiresCoordinates(t *testing.T) {
	if _, err := New(auth.StaticToken("t"), Options{}); err == nil {
		t.Fatal("expected error without base URL or engine coordinates")
	}
	c, err := New(auth.StaticToken("t"), Options{ProjectID: "p", EngineID: "e"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	want := EndpointURL("p", "global", "default_collection", "e")
	if c.BaseURL() != want {
		t.Errorf("BaseURL = %q, want %q", c.BaseURL(), want)
	}
}
