package strategy

import (
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ExponentialBackOff retries failed attempts with a logarithmically growing
// delay of ln(n+1) units, where n counts retries so far (first retry: ln 2).
// Once n reaches limit it stops. The counter lives as long as the strategy,
// so one instance must serve one logical request.
type ExponentialBackOff struct {
	limit int

	mu    sync.Mutex
	count int
}

// NewExponentialBackOff creates the strategy. With limit L a request that
// always fails is attempted L times.
func NewExponentialBackOff(limit int) *ExponentialBackOff {
	return &ExponentialBackOff{limit: limit}
}

// NextBackoff implements request.RetryStrategy.
func (s *ExponentialBackOff) NextBackoff(_ map[string]any, err error) float64 {
	if err == nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	if s.count >= s.limit {
		return 0
	}
	return math.Log(float64(s.count + 1))
}

// Count returns the number of failures seen.
func (s *ExponentialBackOff) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// ShouldRetryFunc decides from the last outcome whether to retry.
type ShouldRetryFunc func(resp map[string]any, err error) bool

// PredicateRetry retries while fn says so, up to limit attempts, with the
// same ln(n+1) delay curve as ExponentialBackOff.
type PredicateRetry struct {
	limit int
	fn    ShouldRetryFunc

	mu    sync.Mutex
	count int
}

// NewPredicateRetry creates the strategy.
func NewPredicateRetry(limit int, fn ShouldRetryFunc) *PredicateRetry {
	return &PredicateRetry{limit: limit, fn: fn}
}

// NextBackoff implements request.RetryStrategy.
func (s *PredicateRetry) NextBackoff(resp map[string]any, err error) float64 {
	if !s.fn(resp, err) {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	if s.count >= s.limit {
		return 0
	}
	return math.Log(float64(s.count + 1))
}

// Count returns the number of retry-worthy outcomes seen.
func (s *PredicateRetry) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// RetryConfig configures exponential backoff with jitter.
type RetryConfig struct {
	InitialInterval     time.Duration // Initial retry interval (default 500ms)
	MaxInterval         time.Duration // Maximum retry interval (default 30s)
	MaxElapsedTime      time.Duration // Give up after this long (0 = never)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
	Limit               int           // Maximum attempts (0 = unlimited)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         30 * time.Second,
		MaxElapsedTime:      0,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
		Limit:               5,
	}
}

// BackOffRetry retries failed attempts on a cenkalti/backoff schedule.
// Intervals are converted to backoff units of size unit.
type BackOffRetry struct {
	limit int
	unit  time.Duration

	mu     sync.Mutex
	policy backoff.BackOff
	count  int
}

// NewBackOffRetry builds an exponential policy from cfg. unit must match the
// scheduler's backoff unit.
func NewBackOffRetry(cfg RetryConfig, unit time.Duration) *BackOffRetry {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.InitialInterval
	policy.MaxInterval = cfg.MaxInterval
	policy.MaxElapsedTime = cfg.MaxElapsedTime
	policy.Multiplier = cfg.Multiplier
	policy.RandomizationFactor = cfg.RandomizationFactor
	policy.Reset()

	return NewBackOffRetryWithPolicy(policy, cfg.Limit, unit)
}

// NewBackOffRetryWithPolicy wraps any backoff.BackOff.
func NewBackOffRetryWithPolicy(policy backoff.BackOff, limit int, unit time.Duration) *BackOffRetry {
	if unit <= 0 {
		unit = time.Second
	}
	return &BackOffRetry{policy: policy, limit: limit, unit: unit}
}

// NextBackoff implements request.RetryStrategy. Success resets the policy.
func (s *BackOffRetry) NextBackoff(_ map[string]any, err error) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		s.policy.Reset()
		return 0
	}

	s.count++
	if s.limit > 0 && s.count >= s.limit {
		return 0
	}

	next := s.policy.NextBackOff()
	if next == backoff.Stop {
		return 0
	}
	units := float64(next) / float64(s.unit)
	if units <= 0 {
		// A zero interval still has to read as "retry".
		units = math.SmallestNonzeroFloat64
	}
	return units
}

// Count returns the number of failures seen.
func (s *BackOffRetry) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
