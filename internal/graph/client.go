package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/rohankatakam/fraudgraph/internal/config"
	"github.com/rohankatakam/fraudgraph/internal/errors"
)

// Client owns the pooled Neo4j driver. One Client per process; every store
// operation borrows a pooled session from it.
type Client struct {
	driver      neo4j.DriverWithContext
	logger      *slog.Logger
	database    string
	maxPoolSize int
	tracker     *QueryTracker
}

// NewClient creates the driver and verifies connectivity.
// Connection and auth failures are reported as StoreUnavailable.
func NewClient(ctx context.Context, cfg config.GraphConfig) (*Client, error) {
	if cfg.URI == "" {
		return nil, errors.StoreUnavailable(fmt.Errorf("uri is empty"), "neo4j not configured")
	}

	poolSize := cfg.MaxPoolSize
	if poolSize <= 0 {
		poolSize = 50
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI,
		neo4j.BasicAuth(cfg.User, cfg.Password, ""),
		func(c *neo4j.Config) {
			c.MaxConnectionPoolSize = poolSize
			if cfg.AcquireTimeout > 0 {
				c.ConnectionAcquisitionTimeout = cfg.AcquireTimeout
			}
			c.MaxConnectionLifetime = time.Hour
			c.ConnectionLivenessCheckTimeout = 5 * time.Second

			if cfg.ConnectTimeout > 0 {
				c.SocketConnectTimeout = cfg.ConnectTimeout
			}
			c.SocketKeepalive = true
		})
	if err != nil {
		return nil, errors.StoreUnavailable(err, "failed to create neo4j driver")
	}

	// Fail fast on startup
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, errors.StoreUnavailable(err, fmt.Sprintf("failed to connect to neo4j at %s", cfg.URI))
	}

	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}

	logger := slog.Default().With("component", "neo4j")
	logger.Info("neo4j client connected",
		"uri", cfg.URI,
		"user", cfg.User,
		"database", database,
		"max_pool_size", poolSize)

	return &Client{
		driver:      driver,
		logger:      logger,
		database:    database,
		maxPoolSize: poolSize,
		tracker:     NewQueryTracker(cfg.QueryTimeout),
	}, nil
}

// Close closes the driver and its pool
func (c *Client) Close(ctx context.Context) error {
	if err := c.driver.Close(ctx); err != nil {
		return fmt.Errorf("failed to close neo4j driver: %w", err)
	}
	c.tracker.LogSummary()
	c.logger.Info("neo4j client closed")
	return nil
}

// HealthCheck verifies Neo4j connectivity
func (c *Client) HealthCheck(ctx context.Context) error {
	err := c.tracker.Run(ctx, OpHealthCheck, func(ctx context.Context) error {
		return c.driver.VerifyConnectivity(ctx)
	})
	if err != nil {
		return errors.StoreUnavailable(err, "neo4j health check failed")
	}
	return nil
}

// PoolHealthStatus represents the health of the connection pool
type PoolHealthStatus struct {
	Healthy       bool          `json:"healthy"`
	Message       string        `json:"message"`
	MaxPoolSize   int           `json:"max_pool_size"`
	CheckDuration time.Duration `json:"check_duration"`
	LastCheckTime time.Time     `json:"last_check_time"`
}

// CheckPoolHealth performs a connectivity check and reports its latency
func (c *Client) CheckPoolHealth(ctx context.Context) PoolHealthStatus {
	start := time.Now()
	err := c.HealthCheck(ctx)

	status := PoolHealthStatus{
		MaxPoolSize:   c.maxPoolSize,
		CheckDuration: time.Since(start),
		LastCheckTime: time.Now(),
	}

	switch {
	case err != nil:
		status.Message = fmt.Sprintf("health check failed: %v", err)
	case status.CheckDuration > 2*time.Second:
		// Slow checks usually mean an exhausted pool
		status.Message = fmt.Sprintf("health check slow: %v", status.CheckDuration)
	default:
		status.Healthy = true
		status.Message = fmt.Sprintf("pool healthy (check took %v)", status.CheckDuration)
	}
	return status
}

// WatchHealth runs periodic health checks until ctx is cancelled
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	go client.WatchHealth(ctx, 30*time.Second)
func (c *Client) WatchHealth(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info("starting pool health monitor", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("pool health monitor stopped")
			return
		case <-ticker.C:
			status := c.CheckPoolHealth(ctx)
			if !status.Healthy {
				c.logger.Warn("pool health check failed", "message", status.Message)
			} else {
				c.logger.Debug("pool health check passed", "duration", status.CheckDuration)
			}
		}
	}
}

// Tracker returns per-operation latency statistics
func (c *Client) Tracker() *QueryTracker {
	return c.tracker
}

// read runs a read query routed to readers, bounded by the operation timeout
func (c *Client) read(ctx context.Context, operation Operation, query string, params map[string]any) (*neo4j.EagerResult, error) {
	var result *neo4j.EagerResult
	err := c.tracker.Run(ctx, operation, func(ctx context.Context) error {
		var err error
		result, err = neo4j.ExecuteQuery(ctx, c.driver, query, params,
			neo4j.EagerResultTransformer,
			neo4j.ExecuteQueryWithDatabase(c.database),
			neo4j.ExecuteQueryWithReadersRouting())
		return err
	})
	return result, err
}

// exec runs a single auto-commit statement, used for schema changes
func (c *Client) exec(ctx context.Context, operation Operation, query string) error {
	return c.tracker.Run(ctx, operation, func(ctx context.Context) error {
		_, err := neo4j.ExecuteQuery(ctx, c.driver, query, nil,
			neo4j.EagerResultTransformer,
			neo4j.ExecuteQueryWithDatabase(c.database))
		return err
	})
}

// write runs work inside one managed write transaction; meta is attached to
// the transaction for query.log
func (c *Client) write(ctx context.Context, operation Operation, meta map[string]any, work neo4j.ManagedTransactionWork) error {
	return c.tracker.Run(ctx, operation, func(ctx context.Context) error {
		session := c.driver.NewSession(ctx, neo4j.SessionConfig{
			DatabaseName: c.database,
			AccessMode:   neo4j.AccessModeWrite,
		})
		defer session.Close(ctx)

		_, err := session.ExecuteWrite(ctx, work, c.tracker.profile(operation).txOptions(meta)...)
		return err
	})
}
