package extract

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rohankatakam/fraudgraph/internal/config"
	"github.com/rohankatakam/fraudgraph/internal/errors"
	"github.com/rohankatakam/fraudgraph/internal/graph"
	"github.com/rohankatakam/fraudgraph/internal/models"
)

// Tier names the ladder step that produced a subgraph
type Tier string

const (
	TierRich      Tier = "rich"
	TierSimple    Tier = "simple"
	TierSynthetic Tier = "synthetic"
)

// Attempt records why a tier was left
type Attempt struct {
	Tier      Tier   `json:"tier"`
	Reason    string `json:"reason"`
	ErrorType string `json:"error_type,omitempty"`
}

// Result is the extractor output; Subgraph is always usable
type Result struct {
	Subgraph models.Subgraph `json:"subgraph"`
	Tier     Tier            `json:"tier"`
	Depth    int             `json:"depth"`
	Attempts []Attempt       `json:"attempts,omitempty"`
}

// Synthetic reports whether the result is demonstration data
func (r Result) Synthetic() bool {
	return r.Tier == TierSynthetic
}

// Options bound the traversal
type Options struct {
	DefaultDepth  int
	MaxDepth      int
	RichTraversal bool
}

// OptionsFromConfig builds Options from the extract and graph sections
func OptionsFromConfig(extract config.ExtractConfig, g config.GraphConfig) Options {
	return Options{
		DefaultDepth:  extract.DefaultDepth,
		MaxDepth:      extract.MaxDepth,
		RichTraversal: g.RichTraversal,
	}
}

// outcome is a step's result-or-reason value
type outcome struct {
	subgraph models.Subgraph
	err      error
}

type step struct {
	tier Tier
	run  func(ctx context.Context, txID string, depth int) outcome
}

// Extractor walks the ladder rich → simple → synthetic
type Extractor struct {
	handle *graph.Handle
	opts   Options
	steps  []step
	logger *slog.Logger
}

// New creates an extractor over a store handle (which may be Unavailable)
func New(handle *graph.Handle, opts Options) *Extractor {
	if opts.DefaultDepth < 0 {
		opts.DefaultDepth = 2
	}
	if opts.MaxDepth < opts.DefaultDepth {
		opts.MaxDepth = opts.DefaultDepth
	}

	e := &Extractor{
		handle: handle,
		opts:   opts,
		logger: slog.Default().With("component", "extract"),
	}
	e.steps = []step{
		{tier: TierRich, run: e.rich},
		{tier: TierSimple, run: e.simple},
	}
	return e
}

// NormalizeDepth maps negative depths to the default and clamps to MaxDepth
func (e *Extractor) NormalizeDepth(depth int) int {
	if depth < 0 {
		return e.opts.DefaultDepth
	}
	if depth > e.opts.MaxDepth {
		return e.opts.MaxDepth
	}
	return depth
}

// DefaultDepth is the depth used when a caller does not specify one
func (e *Extractor) DefaultDepth() int {
	return e.opts.DefaultDepth
}

// Subgraph never fails: every tier failure is logged and the next tier tried,
// ending with the synthetic subgraph
func (e *Extractor) Subgraph(ctx context.Context, txID string, depth int) Result {
	depth = e.NormalizeDepth(depth)
	result := Result{Depth: depth}

	storeDown := false
	for _, st := range e.steps {
		if storeDown {
			result.Attempts = append(result.Attempts, Attempt{
				Tier:      st.tier,
				Reason:    "skipped: graph store unavailable",
				ErrorType: errors.TypeName(errors.ErrStoreUnavailable),
			})
			continue
		}

		out := e.runStep(ctx, st, txID, depth)
		if out.err == nil {
			result.Subgraph = out.subgraph
			result.Tier = st.tier
			if len(result.Attempts) > 0 {
				e.logger.Info("subgraph served by fallback tier",
					"transaction_id", txID, "tier", st.tier, "depth", depth)
			}
			return result
		}

		attempt := Attempt{Tier: st.tier, Reason: out.err.Error(), ErrorType: errors.TypeName(out.err)}
		result.Attempts = append(result.Attempts, attempt)
		level := slog.LevelWarn
		if !errors.IsDegradable(out.err) {
			level = slog.LevelError
		}
		e.logger.Log(ctx, level, "subgraph tier failed",
			"transaction_id", txID,
			"tier", st.tier,
			"error_type", attempt.ErrorType,
			"reason", attempt.Reason)

		if errors.GetType(out.err) == errors.ErrorTypeStoreUnavailable {
			storeDown = true
		}
	}

	e.logger.Warn("serving synthetic subgraph", "transaction_id", txID, "attempts", len(result.Attempts))
	result.Subgraph = Synthetic(txID)
	result.Tier = TierSynthetic
	return result
}

// runStep turns an empty subgraph or a panic into a reason
func (e *Extractor) runStep(ctx context.Context, st step, txID string, depth int) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome{err: errors.InternalErrorf("%s traversal panicked: %v", st.tier, r)}
		}
	}()

	if err := ctx.Err(); err != nil {
		return outcome{err: errors.Wrap(err, errors.ErrorTypeInternal, errors.SeverityLow, "request cancelled")}
	}

	out = st.run(ctx, txID, depth)
	if out.err == nil && out.subgraph.IsEmpty() {
		out.err = errors.EmptyResult(txID)
	}
	return out
}

func (e *Extractor) traverser() (graph.Traverser, error) {
	store, ok := e.handle.Store()
	if !ok {
		return nil, errors.StoreUnavailable(fmt.Errorf("%s", e.handle.Reason()), "graph store unavailable")
	}
	return store, nil
}

func (e *Extractor) rich(ctx context.Context, txID string, depth int) outcome {
	if !e.opts.RichTraversal {
		return outcome{err: errors.CapabilityUnavailable(nil, "rich traversal disabled by configuration")}
	}
	t, err := e.traverser()
	if err != nil {
		return outcome{err: err}
	}
	sg, err := t.RichSubgraph(ctx, txID, depth)
	return outcome{subgraph: sg, err: err}
}

func (e *Extractor) simple(ctx context.Context, txID string, depth int) outcome {
	t, err := e.traverser()
	if err != nil {
		return outcome{err: err}
	}
	sg, err := t.SimpleSubgraph(ctx, txID, depth)
	return outcome{subgraph: sg, err: err}
}
