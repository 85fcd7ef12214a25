package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parsing %q: %v", raw, err)
	}
	return u
}

func TestHTTP_SuccessWithProgress(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdefgh"), 1024) // 8KiB

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("expected content-type header, got %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"a":1}` {
			t.Errorf("unexpected request body %q", body)
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		w.Header().Set("X-Test", "yes")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	tr := NewHTTPWithClient(srv.Client(), HTTPConfig{ChunkSize: 1024})

	var mu sync.Mutex
	var fractions []float64
	res, err := tr.Do(context.Background(), &Call{
		Method: http.MethodPost,
		URL:    mustParse(t, srv.URL+"/upload"),
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   []byte(`{"a":1}`),
	}, func(received, expected int64) {
		mu.Lock()
		defer mu.Unlock()
		fractions = append(fractions, float64(received)/float64(expected))
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", res.StatusCode)
	}
	if !bytes.Equal(res.Body, payload) {
		t.Errorf("body mismatch: got %d bytes, want %d", len(res.Body), len(payload))
	}
	if res.Header.Get("X-Test") != "yes" {
		t.Errorf("expected response header to be preserved")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(fractions) == 0 {
		t.Fatal("expected progress callbacks")
	}
	for i := 1; i < len(fractions); i++ {
		if fractions[i] < fractions[i-1] {
			t.Errorf("progress went backwards: %v", fractions)
		}
	}
	if last := fractions[len(fractions)-1]; last != 1 {
		t.Errorf("expected final progress 1.0, got %v", last)
	}
}

func TestHTTP_StatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"down"}`))
	}))
	defer srv.Close()

	call := &Call{Method: http.MethodGet, URL: mustParse(t, srv.URL)}

	// Without StatusErrors the response is a plain result.
	res, err := NewHTTPWithClient(srv.Client(), HTTPConfig{}).Do(context.Background(), call, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", res.StatusCode)
	}

	// With StatusErrors the body is still returned alongside the error.
	res, err = NewHTTPWithClient(srv.Client(), HTTPConfig{StatusErrors: true}).Do(context.Background(), call, nil)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected status 503 in error, got %d", statusErr.StatusCode)
	}
	if res == nil || string(res.Body) != `{"error":"down"}` {
		t.Errorf("expected partial result with body, got %+v", res)
	}
}

func TestHTTP_Cancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := NewHTTPWithClient(srv.Client(), HTTPConfig{}).Do(ctx, &Call{Method: http.MethodGet, URL: mustParse(t, srv.URL)}, nil)
	if err == nil {
		t.Fatal("expected error from cancelled call")
	}
	var transportErr *Error
	if !errors.As(err, &transportErr) {
		t.Errorf("expected transport Error, got %T", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
}

func TestHTTP_OversizedContentLength(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		_, _ = conn.Read(buf)
		_, _ = io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Length: 1099511627776\r\n\r\nabc")
	}()

	res, err := NewHTTP(HTTPConfig{Timeout: 5 * time.Second}).Do(context.Background(), &Call{
		Method: http.MethodGet,
		URL:    mustParse(t, "http://"+ln.Addr().String()+"/huge"),
	}, nil)
	if err == nil {
		t.Fatal("expected error for truncated body")
	}
	var transportErr *Error
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected transport Error, got %T: %v", err, err)
	}
	if res == nil || string(res.Body) != "abc" {
		t.Errorf("expected partial body %q, got %+v", "abc", res)
	}
}

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	failing := Func(func(ctx context.Context, call *Call, progress ProgressFunc) (*Result, error) {
		calls.Add(1)
		return nil, fmt.Errorf("connection refused")
	})

	b := NewBreaker(failing, BreakerConfig{ConsecutiveFailures: 3, Timeout: time.Minute}, nil)
	call := &Call{Method: http.MethodGet, URL: mustParse(t, "http://flaky.example/resource")}

	for i := 0; i < 3; i++ {
		if _, err := b.Do(context.Background(), call, nil); err == nil {
			t.Fatalf("call %d: expected error", i+1)
		}
	}

	_, err := b.Do(context.Background(), call, nil)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open breaker error, got %v", err)
	}
	var transportErr *Error
	if !errors.As(err, &transportErr) {
		t.Errorf("expected open breaker to surface as transport Error, got %T", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 calls through to transport, got %d", got)
	}

	// Other hosts keep their own breaker.
	other := &Call{Method: http.MethodGet, URL: mustParse(t, "http://healthy.example/")}
	if _, err := b.Do(context.Background(), other, nil); errors.Is(err, gobreaker.ErrOpenState) {
		t.Error("breaker for a different host should be closed")
	}
}

func TestBreaker_CancellationDoesNotTrip(t *testing.T) {
	cancelled := Func(func(ctx context.Context, call *Call, progress ProgressFunc) (*Result, error) {
		return nil, wrap(call, context.Canceled)
	})

	b := NewBreaker(cancelled, BreakerConfig{ConsecutiveFailures: 1}, nil)
	call := &Call{Method: http.MethodGet, URL: mustParse(t, "http://example.test/")}

	for i := 0; i < 3; i++ {
		_, err := b.Do(context.Background(), call, nil)
		if errors.Is(err, gobreaker.ErrOpenState) {
			t.Fatalf("call %d: breaker opened on cancellation", i+1)
		}
	}
	if state := b.Get("example.test").State(); state != gobreaker.StateClosed {
		t.Errorf("expected closed breaker, got %s", state)
	}
}
