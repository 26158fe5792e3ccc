package explain

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/rohankatakam/fraudgraph/internal/cache"
	"github.com/rohankatakam/fraudgraph/internal/models"
)

// ErrResultNotFound is returned when no stored explanation exists for an id
var ErrResultNotFound = stderrors.New("explanation result not found")

// ResultStore persists finished explanations keyed by transaction id
type ResultStore interface {
	Put(ctx context.Context, exp models.Explanation) error
	Get(ctx context.Context, txID string) (models.Explanation, error)
	Close() error
}

type storedResult struct {
	Explanation models.Explanation `json:"explanation"`
	StoredAt    time.Time          `json:"stored_at"`
}

func (r storedResult) expired(ttl time.Duration, now time.Time) bool {
	return ttl > 0 && now.Sub(r.StoredAt) > ttl
}

// MemoryResults keeps results in process memory
type MemoryResults struct {
	mu      sync.RWMutex
	ttl     time.Duration
	results map[string]storedResult
	now     func() time.Time
}

func NewMemoryResults(ttl time.Duration) *MemoryResults {
	return &MemoryResults{
		ttl:     ttl,
		results: make(map[string]storedResult),
		now:     time.Now,
	}
}

func (m *MemoryResults) Put(_ context.Context, exp models.Explanation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[exp.TransactionID] = storedResult{Explanation: exp, StoredAt: m.now()}
	return nil
}

func (m *MemoryResults) Get(_ context.Context, txID string) (models.Explanation, error) {
	m.mu.RLock()
	r, ok := m.results[txID]
	m.mu.RUnlock()

	if !ok || r.expired(m.ttl, m.now()) {
		return models.Explanation{}, ErrResultNotFound
	}
	return r.Explanation, nil
}

func (m *MemoryResults) Close() error { return nil }

const resultsBucket = "explanations"

// BoltResults persists results in a local bbolt file so they survive restarts
type BoltResults struct {
	db  *bolt.DB
	ttl time.Duration
	now func() time.Time
}

// OpenBoltResults opens (creating if needed) the bbolt file at path
func OpenBoltResults(path string, ttl time.Duration) (*BoltResults, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create result store directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open result store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(resultsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create results bucket: %w", err)
	}

	return &BoltResults{db: db, ttl: ttl, now: time.Now}, nil
}

func (b *BoltResults) Put(_ context.Context, exp models.Explanation) error {
	data, err := json.Marshal(storedResult{Explanation: exp, StoredAt: b.now()})
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(resultsBucket)).Put([]byte(exp.TransactionID), data)
	})
}

func (b *BoltResults) Get(_ context.Context, txID string) (models.Explanation, error) {
	var r storedResult
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(resultsBucket)).Get([]byte(txID))
		if data == nil {
			return ErrResultNotFound
		}
		return json.Unmarshal(data, &r)
	})
	if err != nil {
		return models.Explanation{}, err
	}
	if r.expired(b.ttl, b.now()) {
		return models.Explanation{}, ErrResultNotFound
	}
	return r.Explanation, nil
}

func (b *BoltResults) Close() error {
	return b.db.Close()
}

// RedisResults shares results between processes through redis
type RedisResults struct {
	client *cache.Client
	ttl    time.Duration
}

func NewRedisResults(client *cache.Client, ttl time.Duration) *RedisResults {
	return &RedisResults{client: client, ttl: ttl}
}

func (r *RedisResults) Put(ctx context.Context, exp models.Explanation) error {
	return r.client.Save(ctx, cache.Explanations, exp.TransactionID, exp, r.ttl)
}

func (r *RedisResults) Get(ctx context.Context, txID string) (models.Explanation, error) {
	var exp models.Explanation
	found, err := r.client.Load(ctx, cache.Explanations, txID, &exp)
	if err != nil {
		return models.Explanation{}, err
	}
	if !found {
		return models.Explanation{}, ErrResultNotFound
	}
	return exp, nil
}

// Close leaves the shared client open; its owner closes it
func (r *RedisResults) Close() error { return nil }
