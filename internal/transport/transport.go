package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Transport defines the interface that performs a single network call.
// Implementations must honor ctx cancellation and stop reading as soon as it
// is done.
type Transport interface {
	// Do issues the call and returns the full response. progress, if non-nil,
	// is invoked as body bytes arrive.
	Do(ctx context.Context, call *Call, progress ProgressFunc) (*Result, error)
}

// Func adapts a plain function to Transport.
type Func func(ctx context.Context, call *Call, progress ProgressFunc) (*Result, error)

func (f Func) Do(ctx context.Context, call *Call, progress ProgressFunc) (*Result, error) {
	return f(ctx, call, progress)
}

// ProgressFunc receives the number of body bytes read so far and the expected
// total (-1 when the server did not announce a length).
type ProgressFunc func(received, expected int64)

// Call describes one outgoing request.
type Call struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// Result is a completed response.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Error is a transport-level failure (connectivity, timeout, protocol).
type Error struct {
	Method string
	URL    string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusError reports an HTTP status treated as failure.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("unexpected status: %s", e.Status)
	}
	return fmt.Sprintf("unexpected status: %d", e.StatusCode)
}

func wrap(call *Call, err error) error {
	u := ""
	if call.URL != nil {
		u = call.URL.String()
	}
	return &Error{Method: call.Method, URL: u, Err: err}
}
