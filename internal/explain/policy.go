package explain

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rohankatakam/fraudgraph/internal/model"
	"github.com/rohankatakam/fraudgraph/internal/models"
)

// Edge weight bounds
const (
	MinWeight = 1
	MaxWeight = 10
)

// Policy names reported in Explanation.WeightSource
const (
	PolicyRandom      = "random"
	PolicyAttribution = "attribution"
)

// WeightPolicy assigns one weight in [MinWeight, MaxWeight] per edge
type WeightPolicy interface {
	Name() string
	Weights(ctx context.Context, txID string, sg models.Subgraph) ([]int, error)
}

// RandomPolicy draws uniformly bounded weights. It stands in for a real
// explainer when no model is loaded.
type RandomPolicy struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomPolicy seeds the generator; seed 0 uses the clock
func NewRandomPolicy(seed int64) *RandomPolicy {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomPolicy{rng: rand.New(rand.NewSource(seed))}
}

func (p *RandomPolicy) Name() string { return PolicyRandom }

func (p *RandomPolicy) Weights(_ context.Context, _ string, sg models.Subgraph) ([]int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]int, len(sg.Edges))
	for i := range out {
		out[i] = MinWeight + p.rng.Intn(MaxWeight-MinWeight+1)
	}
	return out, nil
}

// AttributionPolicy maps explainer attributions in [0,1] to 1 + round(9·attr)
type AttributionPolicy struct {
	explainer model.Explainer
}

func NewAttributionPolicy(explainer model.Explainer) *AttributionPolicy {
	return &AttributionPolicy{explainer: explainer}
}

func (p *AttributionPolicy) Name() string { return PolicyAttribution }

func (p *AttributionPolicy) Weights(ctx context.Context, txID string, sg models.Subgraph) ([]int, error) {
	attr, err := p.explainer.Attribute(ctx, txID, sg)
	if err != nil {
		return nil, err
	}

	out := make([]int, len(attr))
	for i, a := range attr {
		a = math.Min(math.Max(a, 0), 1)
		out[i] = MinWeight + int(math.Round(float64(MaxWeight-MinWeight)*a))
	}
	return out, nil
}

func clampWeight(w int) int {
	if w < MinWeight {
		return MinWeight
	}
	if w > MaxWeight {
		return MaxWeight
	}
	return w
}
