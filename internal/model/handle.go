package model

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rohankatakam/fraudgraph/internal/errors"
	"github.com/rohankatakam/fraudgraph/internal/models"
)

// StateKind tags the model lifecycle
type StateKind int

const (
	Uninitialized StateKind = iota
	Loaded
	Unavailable
)

func (k StateKind) String() string {
	switch k {
	case Loaded:
		return "loaded"
	case Unavailable:
		return "unavailable"
	default:
		return "uninitialized"
	}
}

// State is the tagged model state; Reason is set when Unavailable
type State struct {
	Kind   StateKind `json:"-"`
	Name   string    `json:"name,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

// Scorer is the fast path
type Scorer interface {
	Score(ctx context.Context, tx models.TransactionInput) (models.Score, error)
}

// Explainer attributes an importance in [0,1] to each edge of a subgraph
type Explainer interface {
	Attribute(ctx context.Context, txID string, sg models.Subgraph) ([]float64, error)
}

// Handle owns the process's model. The artifact is loaded at most once; every
// entry point checks the state and reports ErrModelUnavailable unless Loaded.
type Handle struct {
	path   string
	once   sync.Once
	mu     sync.RWMutex
	state  State
	model  *LinearModel
	logger *slog.Logger
}

// NewHandle creates an uninitialised handle for the artifact at path
func NewHandle(path string) *Handle {
	return &Handle{
		path:   path,
		logger: slog.Default().With("component", "model"),
	}
}

// LoadedHandle wraps an already constructed model
func LoadedHandle(m *LinearModel) *Handle {
	h := NewHandle("")
	h.once.Do(func() {})
	h.model = m
	h.state = State{Kind: Loaded, Name: m.Name()}
	return h
}

// Init loads the artifact on first call; later calls return the cached state
func (h *Handle) Init() State {
	h.once.Do(func() {
		state, m := h.load()
		h.mu.Lock()
		h.state, h.model = state, m
		h.mu.Unlock()
	})
	return h.State()
}

func (h *Handle) load() (State, *LinearModel) {
	if h.path == "" {
		h.logger.Warn("no model artifact configured, scoring unavailable")
		return State{Kind: Unavailable, Reason: "no model artifact configured"}, nil
	}

	artifact, err := LoadArtifact(h.path)
	if err != nil {
		h.logger.Warn("model artifact failed to load, scoring unavailable", "path", h.path, "error", err)
		return State{Kind: Unavailable, Reason: err.Error()}, nil
	}

	h.logger.Info("model loaded", "path", h.path, "name", artifact.Name)
	return State{Kind: Loaded, Name: artifact.Name}, NewLinearModel(artifact)
}

// State returns the current tagged state
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *Handle) loaded() (*LinearModel, error) {
	state := h.Init()
	if state.Kind != Loaded {
		return nil, errors.ModelUnavailable(state.Reason)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.model, nil
}

// Score implements Scorer
func (h *Handle) Score(ctx context.Context, tx models.TransactionInput) (models.Score, error) {
	m, err := h.loaded()
	if err != nil {
		return models.Score{}, err
	}
	score, err := m.Score(ctx, tx)
	if err != nil {
		return models.Score{}, fmt.Errorf("score %s: %w", tx.TransactionID, err)
	}
	return score, nil
}

// Attribute implements Explainer
func (h *Handle) Attribute(ctx context.Context, txID string, sg models.Subgraph) ([]float64, error) {
	m, err := h.loaded()
	if err != nil {
		return nil, err
	}
	return m.Attribute(ctx, txID, sg)
}
