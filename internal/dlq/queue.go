// Package dlq keeps transactions whose graph write failed so they can be
// replayed once the store recovers.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rohankatakam/fraudgraph/internal/errors"
	"github.com/rohankatakam/fraudgraph/internal/storage"
)

// DefaultMaxRetries is the retry budget before an entry counts as exhausted
const DefaultMaxRetries = 5

// Entry is one dead-lettered transaction. RetryCount counts re-enqueues of
// the same transaction id.
type Entry struct {
	ID            int64      `db:"id" json:"id"`
	TransactionID string     `db:"transaction_id" json:"transaction_id"`
	Payload       string     `db:"payload" json:"payload"`
	ErrorMessage  string     `db:"error_message" json:"error_message"`
	ErrorType     string     `db:"error_type" json:"error_type"`
	RetryCount    int        `db:"retry_count" json:"retry_count"`
	LastRetryAt   *time.Time `db:"last_retry_at" json:"last_retry_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// Decode unmarshals the stored payload
func (e Entry) Decode(target any) error {
	if err := json.Unmarshal([]byte(e.Payload), target); err != nil {
		return fmt.Errorf("decode dead letter %s: %w", e.TransactionID, err)
	}
	return nil
}

// Stats counts entries against a retry budget
type Stats struct {
	Total     int `db:"total" json:"total"`
	Retryable int `db:"retryable" json:"retryable"`
	Exhausted int `db:"exhausted" json:"exhausted"`
}

const (
	selectEntries = `SELECT id, transaction_id, payload, error_message,
		COALESCE(error_type, '') AS error_type, retry_count, last_retry_at, created_at, updated_at
		FROM dead_letter_queue`

	// A second failure for the same transaction replaces the payload and error
	upsertEntry = `INSERT INTO dead_letter_queue (transaction_id, payload, error_message, error_type,
			retry_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (transaction_id) DO UPDATE
		SET retry_count = dead_letter_queue.retry_count + 1,
		    payload = excluded.payload,
		    error_message = excluded.error_message,
		    error_type = excluded.error_type,
		    updated_at = excluded.updated_at,
		    last_retry_at = excluded.updated_at`

	countEntries = `SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN retry_count < ? THEN 1 ELSE 0 END), 0) AS retryable,
			COALESCE(SUM(CASE WHEN retry_count >= ? THEN 1 ELSE 0 END), 0) AS exhausted
		FROM dead_letter_queue`
)

// Queue is the dead-letter table on the shared audit database
type Queue struct {
	db     *storage.DB
	logger *slog.Logger
}

func NewQueue(db *storage.DB) *Queue {
	return &Queue{
		db:     db,
		logger: slog.Default().With("component", "dlq"),
	}
}

// Enqueue records a failed write; the error type comes from the cause's taxonomy
func (q *Queue) Enqueue(ctx context.Context, transactionID string, payload any, cause error) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode dead letter %s: %w", transactionID, err)
	}

	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	errType := errors.TypeName(cause)
	now := time.Now().UTC()

	if _, err := q.db.ExecContext(ctx, q.db.Rebind(upsertEntry),
		transactionID, string(data), msg, errType, now, now); err != nil {
		return fmt.Errorf("enqueue dead letter %s: %w", transactionID, err)
	}

	q.logger.Warn("transaction dead-lettered",
		"transaction_id", transactionID,
		"error_type", errType,
		"error", msg)
	return nil
}

// Pending lists entries still within the retry budget, oldest first
func (q *Queue) Pending(ctx context.Context, maxRetries int) ([]Entry, error) {
	return q.query(ctx, selectEntries+` WHERE retry_count < ? ORDER BY created_at ASC, id ASC`, maxRetries)
}

// List returns the most recently updated entries, newest first
func (q *Queue) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return q.query(ctx, selectEntries+` ORDER BY updated_at DESC, id DESC LIMIT ?`, limit)
}

func (q *Queue) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	var entries []Entry
	if err := q.db.SelectContext(ctx, &entries, q.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	return entries, nil
}

// MarkResolved deletes the entry; resolving an absent id is not an error
func (q *Queue) MarkResolved(ctx context.Context, transactionID string) error {
	n, err := q.exec(ctx, `DELETE FROM dead_letter_queue WHERE transaction_id = ?`, transactionID)
	if err != nil {
		return fmt.Errorf("resolve dead letter %s: %w", transactionID, err)
	}
	if n > 0 {
		q.logger.Info("dead letter resolved", "transaction_id", transactionID)
	}
	return nil
}

// Purge deletes entries first dead-lettered more than olderThan ago
func (q *Queue) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := q.exec(ctx, `DELETE FROM dead_letter_queue WHERE created_at < ?`, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("purge dead letters: %w", err)
	}
	if n > 0 {
		q.logger.Info("dead letters purged", "count", n, "older_than", olderThan)
	}
	return int(n), nil
}

func (q *Queue) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := q.db.ExecContext(ctx, q.db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Stats counts entries against the retry budget
func (q *Queue) Stats(ctx context.Context, maxRetries int) (Stats, error) {
	var stats Stats
	if err := q.db.GetContext(ctx, &stats, q.db.Rebind(countEntries), maxRetries, maxRetries); err != nil {
		return Stats{}, fmt.Errorf("count dead letters: %w", err)
	}
	return stats, nil
}
