package graph

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// QueryStats tracks latency and timeout statistics for one operation
type QueryStats struct {
	Operation         Operation     `json:"operation"`
	TotalExecutions   int           `json:"total_executions"`
	FailureCount      int           `json:"failure_count"`
	TimeoutCount      int           `json:"timeout_count"`
	AverageDuration   time.Duration `json:"average_duration"`
	MaxDuration       time.Duration `json:"max_duration"`
	TimeoutPercentage float64       `json:"timeout_percentage"`
}

// QueryTracker bounds each operation by its configured timeout and collects
// statistics. Safe for concurrent use.
type QueryTracker struct {
	mu           sync.Mutex
	stats        map[Operation]*QueryStats
	warningRatio float64
	readTimeout  time.Duration
	logger       *slog.Logger
}

// NewQueryTracker creates a tracker that warns at 80% of an operation's
// timeout. A positive readTimeout replaces the extraction query defaults.
func NewQueryTracker(readTimeout time.Duration) *QueryTracker {
	return &QueryTracker{
		stats:        make(map[Operation]*QueryStats),
		warningRatio: 0.8,
		readTimeout:  readTimeout,
		logger:       slog.Default().With("component", "query_tracker"),
	}
}

func (qt *QueryTracker) profile(op Operation) opProfile {
	return profileFor(op, qt.readTimeout)
}

// Run executes fn with a context bounded by the operation's timeout
func (qt *QueryTracker) Run(ctx context.Context, operation Operation, fn func(context.Context) error) error {
	p := qt.profile(operation)
	opCtx, cancel := p.bound(ctx)
	defer cancel()

	start := time.Now()
	err := fn(opCtx)
	duration := time.Since(start)

	timedOut := err != nil && stderrors.Is(opCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	qt.record(operation, duration, err != nil, timedOut)

	switch {
	case timedOut:
		qt.logger.Warn("query timed out",
			"operation", operation,
			"duration_seconds", duration.Seconds(),
			"timeout_seconds", p.timeout.Seconds())
	case err != nil:
		qt.logger.Debug("query failed",
			"operation", operation,
			"duration_seconds", duration.Seconds(),
			"error", err)
	case p.timeout > 0 && duration >= time.Duration(float64(p.timeout)*qt.warningRatio):
		qt.logger.Warn("query approaching timeout",
			"operation", operation,
			"duration_seconds", duration.Seconds(),
			"timeout_seconds", p.timeout.Seconds())
	}

	return err
}

func (qt *QueryTracker) record(operation Operation, duration time.Duration, failed, timedOut bool) {
	qt.mu.Lock()
	defer qt.mu.Unlock()

	stats := qt.stats[operation]
	if stats == nil {
		stats = &QueryStats{Operation: operation}
		qt.stats[operation] = stats
	}

	stats.TotalExecutions++
	if failed {
		stats.FailureCount++
	}
	if timedOut {
		stats.TimeoutCount++
	}

	// Running average
	total := stats.AverageDuration.Nanoseconds() * int64(stats.TotalExecutions-1)
	stats.AverageDuration = time.Duration((total + duration.Nanoseconds()) / int64(stats.TotalExecutions))

	if duration > stats.MaxDuration {
		stats.MaxDuration = duration
	}
	stats.TimeoutPercentage = float64(stats.TimeoutCount) / float64(stats.TotalExecutions) * 100
}

// Snapshot returns a copy of all statistics, sorted by operation
func (qt *QueryTracker) Snapshot() []QueryStats {
	qt.mu.Lock()
	defer qt.mu.Unlock()

	out := make([]QueryStats, 0, len(qt.stats))
	for _, s := range qt.stats {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}

// LogSummary logs one line per operation
func (qt *QueryTracker) LogSummary() {
	for _, stats := range qt.Snapshot() {
		qt.logger.Info("operation stats",
			"operation", stats.Operation,
			"total_executions", stats.TotalExecutions,
			"failure_count", stats.FailureCount,
			"timeout_count", stats.TimeoutCount,
			"avg_duration_seconds", stats.AverageDuration.Seconds(),
			"max_duration_seconds", stats.MaxDuration.Seconds())
	}
}
