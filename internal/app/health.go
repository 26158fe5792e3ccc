package app

import (
	"context"

	"github.com/rohankatakam/fraudgraph/internal/dlq"
	"github.com/rohankatakam/fraudgraph/internal/graph"
	"github.com/rohankatakam/fraudgraph/internal/model"
)

// GraphHealth describes the store handle and, for Neo4j, the pool
type GraphHealth struct {
	State  string                  `json:"state"`
	Reason string                  `json:"reason,omitempty"`
	Pool   *graph.PoolHealthStatus `json:"pool,omitempty"`
	Stats  []graph.QueryStats      `json:"query_stats,omitempty"`
}

// ModelHealth describes the model handle
type ModelHealth struct {
	State  string `json:"state"`
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Health is a snapshot of every component
type Health struct {
	Graph         GraphHealth `json:"graph"`
	Model         ModelHealth `json:"model"`
	WeightPolicy  string      `json:"weight_policy"`
	ResultStore   string      `json:"result_store"`
	Audit         bool        `json:"audit"`
	Redis         string      `json:"redis,omitempty"`
	DeadLetters   *dlq.Stats  `json:"dead_letters,omitempty"`
	FullyDegraded bool        `json:"fully_degraded"`
}

// Health never fails; unreachable components are reported, not returned
func (a *App) Health(ctx context.Context) Health {
	h := Health{
		Graph: GraphHealth{
			State:  a.graph.State().String(),
			Reason: a.graph.Reason(),
		},
		WeightPolicy: a.annotator.Policy().Name(),
		ResultStore:  a.resultStore,
		Audit:        a.audit != nil,
	}

	if client, ok := a.graph.Client(); ok {
		pool := client.CheckPoolHealth(ctx)
		h.Graph.Pool = &pool
		h.Graph.Stats = client.Tracker().Snapshot()
	}

	state := a.model.State()
	h.Model = ModelHealth{State: state.Kind.String(), Name: state.Name, Reason: state.Reason}

	if a.redis != nil {
		h.Redis = "ok"
		if err := a.redis.Ping(ctx); err != nil {
			h.Redis = err.Error()
		}
	}

	if a.dlq != nil {
		if stats, err := a.dlq.Stats(ctx, dlq.DefaultMaxRetries); err == nil {
			h.DeadLetters = &stats
		} else {
			a.logger.WithError(err).Warn("failed to read dead-letter stats")
		}
	}

	h.FullyDegraded = a.graph.State() != graph.StateConnected && state.Kind != model.Loaded
	return h
}
