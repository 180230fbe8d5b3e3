package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock advances only when the poller sleeps.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps int
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps++
	c.mu.Unlock()
	return ctx.Err()
}

type fakeResponse struct {
	body string
	err  error
}

// fakeAPI replays scripted responses per path. The last response for a path
// repeats once the script is exhausted.
type fakeAPI struct {
	mu       sync.Mutex
	gets     map[string][]fakeResponse
	post     fakeResponse
	calls    map[string]int
	postPath string
	postBody any

	// beforeGet runs before every Get, outside the lock.
	beforeGet func(ctx context.Context)
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{gets: map[string][]fakeResponse{}, calls: map[string]int{}}
}

func (f *fakeAPI) onGet(path string, responses ...fakeResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets[path] = append(f.gets[path], responses...)
}

func (f *fakeAPI) Get(ctx context.Context, path string) (json.RawMessage, error) {
	if f.beforeGet != nil {
		f.beforeGet(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.calls[path]
	f.calls[path]++
	script := f.gets[path]
	if len(script) == 0 {
		return nil, fmt.Errorf("no script for %s", path)
	}
	r := script[min(n, len(script)-1)]
	if r.err != nil {
		return nil, r.err
	}
	return json.RawMessage(r.body), nil
}

func (f *fakeAPI) Post(_ context.Context, path string, body any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["POST "+path]++
	f.postPath = path
	f.postBody = body
	if f.post.err != nil {
		return nil, f.post.err
	}
	return json.RawMessage(f.post.body), nil
}

func (f *fakeAPI) callCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func respond(body string) fakeResponse { return fakeResponse{body: body} }

func respondErr(msg string) fakeResponse { return fakeResponse{err: errors.New(msg)} }

func newTestManager(t *testing.T, api API) (*Manager, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	return NewManager(api, WithClock(clock), WithSleep(clock.Sleep)), clock
}

func inlineIdeas(n int) string {
	out := "["
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf(`{"name":"sessions/1/ideaForgeInstances/9/ideaForgeIdeas/i%d","title":"Idea %d"}`, i, i)
	}
	return out + "]"
}
