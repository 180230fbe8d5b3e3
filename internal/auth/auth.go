// Package auth acquires and refreshes bearer credentials for the Discovery
// Engine API from a service-account key.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// CloudPlatformScope is the OAuth scope required by the Discovery Engine API.
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// expiryDelta is how early a token is treated as expired.
const expiryDelta = 60 * time.Second

// AuthenticationError reports a failure to acquire or refresh a credential.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// Authenticator hands out valid bearer tokens, refreshing them from the
// underlying token source when they expire.
type Authenticator struct {
	src    oauth2.TokenSource
	now    func() time.Time
	logger *slog.Logger

	mu  sync.Mutex
	tok *oauth2.Token
}

// New creates an Authenticator backed by src.
func New(src oauth2.TokenSource) *Authenticator {
	return &Authenticator{
		src:    src,
		now:    time.Now,
		logger: slog.Default().With("component", "auth"),
	}
}

// FromServiceAccountFile reads a service-account JSON key and returns an
// Authenticator scoped for the cloud platform. Key parsing and signing are
// delegated to golang.org/x/oauth2/google.
func FromServiceAccountFile(ctx context.Context, path string) (*Authenticator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &AuthenticationError{Err: fmt.Errorf("reading credentials %s: %w", path, err)}
	}
	creds, err := google.CredentialsFromJSON(ctx, data, CloudPlatformScope)
	if err != nil {
		return nil, &AuthenticationError{Err: fmt.Errorf("parsing credentials: %w", err)}
	}
	return New(creds.TokenSource), nil
}

// Authenticate fetches a fresh token from the source, replacing any cached one.
func (a *Authenticator) Authenticate(ctx context.Context) (*oauth2.Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshLocked(ctx)
}

// IsValid reports whether the cached token exists and is not about to expire.
func (a *Authenticator) IsValid() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.validLocked()
}

// AccessToken returns a valid access token, refreshing it first if needed.
func (a *Authenticator) AccessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.validLocked() {
		return a.tok.AccessToken, nil
	}
	tok, err := a.refreshLocked(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (a *Authenticator) validLocked() bool {
	if a.tok == nil || a.tok.AccessToken == "" {
		return false
	}
	if a.tok.Expiry.IsZero() {
		return true
	}
	return a.now().Add(expiryDelta).Before(a.tok.Expiry)
}

func (a *Authenticator) refreshLocked(ctx context.Context) (*oauth2.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, &AuthenticationError{Err: err}
	}
	tok, err := a.src.Token()
	if err != nil {
		return nil, &AuthenticationError{Err: err}
	}
	if tok.AccessToken == "" {
		return nil, &AuthenticationError{Err: fmt.Errorf("token source returned an empty access token")}
	}
	a.tok = tok
	a.logger.Debug("credential refreshed", "expiry", tok.Expiry)
	return tok, nil
}

// StaticToken is a TokenProvider that always returns the same token. It is
// meant for emulators and tests.
type StaticToken string

// AccessToken implements the discovery TokenProvider contract.
func (s StaticToken) AccessToken(context.Context) (string, error) {
	if s == "" {
		return "", &AuthenticationError{Err: fmt.Errorf("empty static token")}
	}
	return string(s), nil
}
