package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteJournal implements Journal using SQLite.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens (or creates) a journal database at dbPath.
// Creates parent directories if needed. Enables WAL mode and a busy timeout.
func NewSQLiteJournal(ctx context.Context, dbPath string) (*SQLiteJournal, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)
	return openSQLite(ctx, connStr)
}

// NewMemoryJournal creates a private in-memory journal for testing.
func NewMemoryJournal(ctx context.Context) (*SQLiteJournal, error) {
	// Named so connections in the pool share one database, distinct per journal.
	connStr := fmt.Sprintf("file:journal-%s?mode=memory&cache=shared", uuid.NewString())
	return openSQLite(ctx, connStr)
}

func openSQLite(ctx context.Context, connStr string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(2)

	j := &SQLiteJournal{db: db}
	if err := j.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return j, nil
}

// initSchema creates the journal table if it doesn't exist.
func (j *SQLiteJournal) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS journal (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		name TEXT NOT NULL,
		method TEXT NOT NULL,
		url TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		status_code INTEGER NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL,
		error TEXT,
		duration_ns INTEGER NOT NULL,
		recorded_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_journal_request_id ON journal(request_id);
	`

	_, err := j.db.ExecContext(ctx, schema)
	return err
}

// Record appends an entry.
func (j *SQLiteJournal) Record(ctx context.Context, e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO journal (request_id, task_id, name, method, url, attempts, status_code, outcome, error, duration_ns, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.RequestID, e.TaskID, e.Name, e.Method, e.URL, e.Attempts, e.StatusCode, string(e.Outcome), e.Error,
		int64(e.Duration), e.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", e.RequestID, err)
	}
	return nil
}

// List returns entries newest first.
func (j *SQLiteJournal) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, request_id, task_id, name, method, url, attempts, status_code, outcome, error, duration_ns, recorded_at
		FROM journal
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			outcome  string
			errText  sql.NullString
			duration int64
			recorded int64
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &e.TaskID, &e.Name, &e.Method, &e.URL, &e.Attempts,
			&e.StatusCode, &outcome, &errText, &duration, &recorded); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		e.Outcome = Outcome(outcome)
		e.Error = errText.String
		e.Duration = time.Duration(duration)
		e.Timestamp = time.Unix(0, recorded)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Counts returns the number of entries per outcome.
func (j *SQLiteJournal) Counts(ctx context.Context) (map[Outcome]int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM journal GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("failed to count journal: %w", err)
	}
	defer rows.Close()

	counts := make(map[Outcome]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[Outcome(outcome)] = n
	}
	return counts, rows.Err()
}

// Close closes the database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
