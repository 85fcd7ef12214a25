package persistence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aristath/netqueue/internal/config"
	"github.com/aristath/netqueue/internal/events"
)

// Open creates the journal selected by cfg. The "none" driver returns nil.
func Open(ctx context.Context, cfg config.JournalConfig) (Journal, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "sqlite":
		j, err := NewSQLiteJournal(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return j, nil
	case "redis":
		j, err := NewRedisJournal(ctx, RedisOptions{
			Addr:      cfg.RedisAddr,
			DB:        cfg.RedisDB,
			Key:       cfg.RedisKey,
			MaxLength: cfg.MaxLength,
		})
		if err != nil {
			return nil, err
		}
		return j, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// EntryFromEvent converts a final-outcome event into a journal entry.
// Other events return false.
func EntryFromEvent(ev events.Event) (Entry, bool) {
	switch e := ev.(type) {
	case events.TaskCompletedEvent:
		return Entry{
			RequestID:  e.RequestID,
			TaskID:     e.ID,
			Name:       e.Name,
			Method:     e.Method,
			URL:        e.URL,
			Attempts:   e.Attempts,
			StatusCode: e.StatusCode,
			Outcome:    OutcomeCompleted,
			Duration:   e.Duration,
			Timestamp:  e.Timestamp,
		}, true
	case events.TaskFailedEvent:
		entry := Entry{
			RequestID:  e.RequestID,
			TaskID:     e.ID,
			Name:       e.Name,
			Method:     e.Method,
			URL:        e.URL,
			Attempts:   e.Attempts,
			StatusCode: e.StatusCode,
			Outcome:    OutcomeFailed,
			Duration:   e.Duration,
			Timestamp:  e.Timestamp,
		}
		if e.Err != nil {
			entry.Error = e.Err.Error()
		}
		return entry, true
	case events.TaskCancelledEvent:
		return Entry{
			RequestID: e.RequestID,
			TaskID:    e.ID,
			Name:      e.Name,
			Method:    e.Method,
			URL:       e.URL,
			Attempts:  e.Attempts,
			Outcome:   OutcomeCancelled,
			Timestamp: e.Timestamp,
		}, true
	}
	return Entry{}, false
}

// Recorder writes final outcomes from an event stream to a journal.
type Recorder struct {
	journal Journal
	logger  *slog.Logger
}

// NewRecorder creates a recorder. A nil logger discards.
func NewRecorder(j Journal, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recorder{journal: j, logger: logger.With("component", "journal")}
}

// Run consumes events until the channel closes or ctx is done. Write
// failures are logged and do not stop the recorder.
func (r *Recorder) Run(ctx context.Context, ch <-chan events.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			entry, final := EntryFromEvent(ev)
			if !final {
				continue
			}
			if err := r.journal.Record(ctx, entry); err != nil {
				r.logger.Warn("failed to record outcome", "request_id", entry.RequestID, "error", err)
			}
		}
	}
}
