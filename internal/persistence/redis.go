package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a RedisJournal.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	Key       string // List key (default "netqueue:journal")
	MaxLength int64  // Keep at most this many entries, 0 = unbounded
}

// RedisJournal stores entries as JSON in a Redis list, newest at the head.
type RedisJournal struct {
	client *redis.Client
	key    string
	maxLen int64
}

// NewRedisJournal connects to Redis and verifies the connection.
func NewRedisJournal(ctx context.Context, opts RedisOptions) (*RedisJournal, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}

	return NewRedisJournalWithClient(client, opts.Key, opts.MaxLength), nil
}

// NewRedisJournalWithClient wraps an existing client.
func NewRedisJournalWithClient(client *redis.Client, key string, maxLen int64) *RedisJournal {
	if key == "" {
		key = "netqueue:journal"
	}
	return &RedisJournal{client: client, key: key, maxLen: maxLen}
}

// Record pushes the entry to the head of the list.
func (j *RedisJournal) Record(ctx context.Context, e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding entry: %w", err)
	}

	pipe := j.client.TxPipeline()
	pipe.LPush(ctx, j.key, data)
	if j.maxLen > 0 {
		pipe.LTrim(ctx, j.key, 0, j.maxLen-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record %s: %w", e.RequestID, err)
	}
	return nil
}

// List returns entries newest first.
func (j *RedisJournal) List(ctx context.Context, limit int) ([]Entry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	raw, err := j.client.LRange(ctx, j.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("decoding entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Clear deletes the journal list.
func (j *RedisJournal) Clear(ctx context.Context) error {
	return j.client.Del(ctx, j.key).Err()
}

// Close closes the client.
func (j *RedisJournal) Close() error {
	return j.client.Close()
}
