package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration encoded as a string such as "1.5s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// SchedulerConfig configures the request scheduler.
type SchedulerConfig struct {
	ConcurrencyLimit int               `json:"concurrency_limit"`         // 0 = unbounded
	BackoffUnit      Duration          `json:"backoff_unit"`              // Length of one retry backoff unit
	DefaultHeaders   map[string]string `json:"default_headers,omitempty"` // Applied to requests without headers
	SuspendedStart   bool              `json:"suspended_start"`           // Start suspended until everything is enqueued
}

// BreakerConfig configures the per-host circuit breaker.
type BreakerConfig struct {
	Enabled             bool     `json:"enabled"`
	MaxRequests         uint32   `json:"max_requests"`         // Probes allowed while half-open
	Timeout             Duration `json:"timeout"`              // Open -> half-open delay
	ConsecutiveFailures uint32   `json:"consecutive_failures"` // Failures that trip the breaker
}

// TransportConfig configures the HTTP transport.
type TransportConfig struct {
	Timeout      Duration      `json:"timeout"`
	StatusErrors bool          `json:"status_errors"` // Treat HTTP status >= 400 as failure
	Breaker      BreakerConfig `json:"breaker"`
}

// RetryConfig selects and tunes the retry strategy applied to manifest
// requests that do not choose one.
type RetryConfig struct {
	Kind                string   `json:"kind"` // "exponential", "backoff" or "none"
	Limit               int      `json:"limit"`
	InitialInterval     Duration `json:"initial_interval"`
	MaxInterval         Duration `json:"max_interval"`
	MaxElapsedTime      Duration `json:"max_elapsed_time"`
	Multiplier          float64  `json:"multiplier"`
	RandomizationFactor float64  `json:"randomization_factor"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `json:"level"`          // debug, info, warn, error
	Format string `json:"format"`         // text or json
	File   string `json:"file,omitempty"` // Log file used while the dashboard is shown
}

// JournalConfig configures the outcome journal.
type JournalConfig struct {
	Driver    string `json:"driver"` // "sqlite", "redis" or "none"
	Path      string `json:"path,omitempty"`
	RedisAddr string `json:"redis_addr,omitempty"`
	RedisKey  string `json:"redis_key,omitempty"`
	RedisDB   int    `json:"redis_db,omitempty"`
	MaxLength int64  `json:"max_length,omitempty"` // Redis list cap, 0 = unbounded
}

// Config is the top-level configuration.
type Config struct {
	Scheduler SchedulerConfig `json:"scheduler"`
	Transport TransportConfig `json:"transport"`
	Retry     RetryConfig     `json:"retry"`
	Log       LogConfig       `json:"log"`
	Journal   JournalConfig   `json:"journal"`
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Scheduler.ConcurrencyLimit < 0 {
		return fmt.Errorf("scheduler.concurrency_limit must not be negative")
	}
	if c.Scheduler.BackoffUnit.Duration <= 0 {
		return fmt.Errorf("scheduler.backoff_unit must be positive")
	}
	if c.Transport.Timeout.Duration < 0 {
		return fmt.Errorf("transport.timeout must not be negative")
	}
	switch c.Retry.Kind {
	case "exponential", "backoff", "none":
	default:
		return fmt.Errorf("retry.kind %q is not one of exponential, backoff, none", c.Retry.Kind)
	}
	if c.Retry.Kind != "none" && c.Retry.Limit < 1 {
		return fmt.Errorf("retry.limit must be at least 1")
	}
	switch c.Journal.Driver {
	case "sqlite":
		if c.Journal.Path == "" {
			return fmt.Errorf("journal.path is required for the sqlite driver")
		}
	case "redis":
		if c.Journal.RedisAddr == "" {
			return fmt.Errorf("journal.redis_addr is required for the redis driver")
		}
	case "none", "":
	default:
		return fmt.Errorf("journal.driver %q is not one of sqlite, redis, none", c.Journal.Driver)
	}
	return nil
}
