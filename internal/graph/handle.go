package graph

import (
	"context"
	"log/slog"

	"github.com/rohankatakam/fraudgraph/internal/config"
)

// HandleState tags whether a store is usable
type HandleState int

const (
	StateConnected HandleState = iota
	StateUnavailable
)

func (s HandleState) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "unavailable"
}

// Handle is the process-wide graph store reference: either Connected with a
// store, or Unavailable with the reason it could not be opened
type Handle struct {
	state  HandleState
	store  GraphStore
	reason string
}

// Connected wraps an open store
func Connected(store GraphStore) *Handle {
	return &Handle{state: StateConnected, store: store}
}

// Unavailable records why no store could be opened
func Unavailable(reason string) *Handle {
	return &Handle{state: StateUnavailable, reason: reason}
}

// Open connects according to cfg. It never fails: connection errors yield an
// Unavailable handle and are logged once.
func Open(ctx context.Context, cfg config.GraphConfig) *Handle {
	logger := slog.Default().With("component", "graph_store")

	if cfg.InMemory {
		var opts []MemoryOption
		if !cfg.RichTraversal {
			opts = append(opts, WithoutRichTraversal())
		}
		logger.Info("using in-memory graph store")
		return Connected(NewMemoryStore(opts...))
	}

	client, err := NewClient(ctx, cfg)
	if err != nil {
		logger.Warn("graph store unavailable, running degraded", "uri", cfg.URI, "error", err)
		return Unavailable(err.Error())
	}
	return Connected(NewNeo4jStore(client))
}

// State returns the tag
func (h *Handle) State() HandleState {
	if h == nil {
		return StateUnavailable
	}
	return h.state
}

// Store returns the store when connected
func (h *Handle) Store() (GraphStore, bool) {
	if h == nil || h.state != StateConnected {
		return nil, false
	}
	return h.store, true
}

// Reason is empty for connected handles
func (h *Handle) Reason() string {
	if h == nil {
		return "no graph store configured"
	}
	return h.reason
}

// Client returns the pooled Neo4j client, if the store is Neo4j-backed
func (h *Handle) Client() (*Client, bool) {
	store, ok := h.Store()
	if !ok {
		return nil, false
	}
	ns, ok := store.(*Neo4jStore)
	if !ok {
		return nil, false
	}
	return ns.Client(), true
}

// Close releases the store
func (h *Handle) Close(ctx context.Context) error {
	if store, ok := h.Store(); ok {
		return store.Close(ctx)
	}
	return nil
}
