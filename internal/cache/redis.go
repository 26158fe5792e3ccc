// Package cache stores JSON documents in Redis so several fraudgraph
// processes can share explanation results.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rohankatakam/fraudgraph/internal/config"
)

// KeyPrefix namespaces every key written by this process
const KeyPrefix = "fraudgraph"

// Namespace groups documents of one kind under KeyPrefix
type Namespace string

const Explanations Namespace = "explanation"

// Key is "fraudgraph:<namespace>:<id>"
func Key(ns Namespace, id string) string {
	return fmt.Sprintf("%s:%s:%s", KeyPrefix, ns, id)
}

func pattern(ns Namespace) string {
	return Key(ns, "*")
}

// Client is a namespaced JSON document store over one Redis database
type Client struct {
	rdb    *redis.Client
	addr   string
	logger *slog.Logger
}

// Dial connects and pings. Credentials come from config or the keychain.
func Dial(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr missing")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	c := &Client{
		rdb:    rdb,
		addr:   cfg.Addr,
		logger: slog.Default().With("component", "redis"),
	}
	c.logger.Info("redis connected", "addr", cfg.Addr, "db", cfg.DB)
	return c, nil
}

func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", c.addr, err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Load decodes the document into dst. A missing key is (false, nil).
func (c *Client) Load(ctx context.Context, ns Namespace, id string, dst any) (bool, error) {
	key := Key(ns, id)
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Save writes v as JSON; ttl 0 keeps it until purged
func (c *Client) Save(ctx context.Context, ns Namespace, id string, v any, ttl time.Duration) error {
	key := Key(ns, id)
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	c.logger.Debug("document saved", "key", key, "ttl", ttl)
	return nil
}

// Purge deletes every document in the namespace and reports how many went
func (c *Client) Purge(ctx context.Context, ns Namespace) (int64, error) {
	var deleted int64
	iter := c.rdb.Scan(ctx, 0, pattern(ns), 100).Iterator()
	for iter.Next(ctx) {
		n, err := c.rdb.Del(ctx, iter.Val()).Result()
		if err != nil {
			return deleted, fmt.Errorf("redis del %s: %w", iter.Val(), err)
		}
		deleted += n
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("redis scan %s: %w", pattern(ns), err)
	}

	c.logger.Info("namespace purged", "namespace", string(ns), "deleted", deleted)
	return deleted, nil
}
