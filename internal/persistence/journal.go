package persistence

import (
	"context"
	"errors"
	"time"
)

// Outcome is the final state recorded for a request.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// ErrUnknownDriver is returned by Open for unsupported journal drivers.
var ErrUnknownDriver = errors.New("unknown journal driver")

// Entry is one recorded request outcome.
type Entry struct {
	ID         int64         `json:"id,omitempty"` // Assigned by the SQLite journal
	RequestID  string        `json:"request_id"`
	TaskID     string        `json:"task_id"`
	Name       string        `json:"name"`
	Method     string        `json:"method"`
	URL        string        `json:"url"`
	Attempts   int           `json:"attempts"`
	StatusCode int           `json:"status_code,omitempty"`
	Outcome    Outcome       `json:"outcome"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Journal stores request outcomes. It does not hold queued work.
type Journal interface {
	// Record appends an entry.
	Record(ctx context.Context, e Entry) error
	// List returns up to limit entries, newest first. limit <= 0 returns all.
	List(ctx context.Context, limit int) ([]Entry, error)
	// Close releases the underlying connection.
	Close() error
}
