package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig configures per-host circuit breakers.
type BreakerConfig struct {
	MaxRequests         uint32        // Test requests allowed while half-open (default 3)
	Timeout             time.Duration // Time spent open before probing recovery (default 30s)
	ConsecutiveFailures uint32        // Failures in a row that trip the breaker (default 5)
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         3,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Breaker wraps a Transport with one circuit breaker per URL host.
// While a host's breaker is open, calls fail fast with a transport error.
type Breaker struct {
	next   Transport
	config BreakerConfig
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreaker creates a breaker-protected transport.
func NewBreaker(next Transport, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = def.ConsecutiveFailures
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Breaker{
		next:     next,
		config:   cfg,
		logger:   logger.With("component", "breaker"),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the circuit breaker for the given host, creating it on first use.
func (b *Breaker) Get(host string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[host]; ok {
		return cb
	}

	threshold := b.config.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: b.config.MaxRequests,
		Interval:    0, // Don't clear counts automatically
		Timeout:     b.config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			b.logger.Warn("circuit breaker state changed", "host", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation says nothing about the host's health.
			if err == nil {
				return true
			}
			return errors.Is(err, context.Canceled)
		},
	})

	b.breakers[host] = cb
	return cb
}

// Do executes the call through the host's circuit breaker.
func (b *Breaker) Do(ctx context.Context, call *Call, progress ProgressFunc) (*Result, error) {
	host := ""
	if call.URL != nil {
		host = call.URL.Host
	}
	cb := b.Get(host)

	var result *Result
	_, err := cb.Execute(func() (interface{}, error) {
		r, err := b.next.Do(ctx, call, progress)
		result = r
		return r, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, wrap(call, err)
	}
	return result, err
}
