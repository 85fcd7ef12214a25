package config

import "time"

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			ConcurrencyLimit: 0,
			BackoffUnit:      Duration{time.Second},
			DefaultHeaders: map[string]string{
				"Content-Type": "application/json",
			},
			SuspendedStart: true,
		},
		Transport: TransportConfig{
			Timeout:      Duration{60 * time.Second},
			StatusErrors: true,
			Breaker: BreakerConfig{
				Enabled:             true,
				MaxRequests:         3,
				Timeout:             Duration{30 * time.Second},
				ConsecutiveFailures: 5,
			},
		},
		Retry: RetryConfig{
			Kind:                "exponential",
			Limit:               5,
			InitialInterval:     Duration{500 * time.Millisecond},
			MaxInterval:         Duration{30 * time.Second},
			Multiplier:          2.0,
			RandomizationFactor: 0.5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Journal: JournalConfig{
			Driver:   "sqlite",
			Path:     ".netqueue/journal.db",
			RedisKey: "netqueue:journal",
		},
	}
}
