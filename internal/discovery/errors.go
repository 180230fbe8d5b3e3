package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrClientClosed is returned by every call made after Close.
var ErrClientClosed = errors.New("discovery: client closed")

// ErrEmptyPath is returned when a request is issued without a resource path.
var ErrEmptyPath = errors.New("discovery: empty resource path")

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Status     string // backend status name, e.g. NOT_FOUND
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("api error %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether the status is worth retrying.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// NetworkError is returned once every attempt of a call has failed with a
// transient fault. Err is the last failure.
type NetworkError struct {
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("request failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// googleError mirrors the error envelope returned by Google APIs.
type googleError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status}
	var ge googleError
	if err := json.Unmarshal(body, &ge); err == nil && ge.Error.Message != "" {
		e.Message = ge.Error.Message
		e.Status = ge.Error.Status
		return e
	}
	e.Message = string(body)
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}
