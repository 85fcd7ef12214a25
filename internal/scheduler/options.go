package scheduler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aristath/netqueue/internal/events"
	"github.com/aristath/netqueue/internal/mapper"
	"github.com/aristath/netqueue/internal/request"
)

// PrepareFunc runs before every attempt and may adjust the request, for
// example to refresh an authorization header. An error fails the attempt.
type PrepareFunc func(ctx context.Context, req *request.Request) error

// Option configures a Scheduler.
type Option func(*Scheduler)

// DefaultHeader is applied to requests that carry no headers of their own.
func DefaultHeader() http.Header {
	return http.Header{"Content-Type": []string{"application/json"}}
}

// WithContentMapper sets the mapper used when a request has none.
func WithContentMapper(m mapper.ContentMapper) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.mapper = m
		}
	}
}

// WithDefaultHeader replaces the default header set.
func WithDefaultHeader(h http.Header) Option {
	return func(s *Scheduler) { s.header = h.Clone() }
}

// WithConcurrencyLimit bounds the number of running tasks. 0 is unbounded.
func WithConcurrencyLimit(n int) Option {
	return func(s *Scheduler) { s.limit = max(n, 0) }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l.With("component", "scheduler")
		}
	}
}

// WithEventBus publishes lifecycle events to bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(s *Scheduler) { s.bus = bus }
}

// WithBackoffUnit sets the duration of one backoff unit (default 1s).
func WithBackoffUnit(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.unit = d
		}
	}
}

// WithPrepare installs a hook run before every attempt.
func WithPrepare(fn PrepareFunc) Option {
	return func(s *Scheduler) { s.prepare = fn }
}

// WithSuspended starts the scheduler suspended.
func WithSuspended(suspended bool) Option {
	return func(s *Scheduler) { s.suspended = suspended }
}
