package model

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/rohankatakam/fraudgraph/internal/models"
)

// Feature names
const (
	FeatureAmountLog     = "amount_log"
	FeatureNightTime     = "night_time"
	FeatureUnknownDevice = "unknown_device"
	merchantPrefix       = "merchant:"
)

// LinearModel scores with a logistic function and attributes edges by
// relationship type, hop distance and proximity to known fraud
type LinearModel struct {
	artifact *Artifact
}

// NewLinearModel wraps a validated artifact
func NewLinearModel(a *Artifact) *LinearModel {
	return &LinearModel{artifact: a}
}

// Name identifies the loaded artifact
func (m *LinearModel) Name() string {
	return m.artifact.Name
}

// Features extracts the named feature values of a transaction
func Features(tx models.TransactionInput) map[string]float64 {
	f := map[string]float64{
		FeatureAmountLog: math.Log1p(math.Max(tx.Amount, 0)),
	}
	if ts, err := tx.ParsedTimestamp(); err == nil && ts.Hour() < 6 {
		f[FeatureNightTime] = 1
	}
	if tx.DeviceOrSentinel() == models.UnknownDevice {
		f[FeatureUnknownDevice] = 1
	}
	if tx.Merchant != "" {
		f[merchantPrefix+tx.Merchant] = 1
	}
	return f
}

// Score returns the fraud probability and the positive contributors ranked by
// contribution, importances normalised to [0,1]
func (m *LinearModel) Score(ctx context.Context, tx models.TransactionInput) (models.Score, error) {
	if err := ctx.Err(); err != nil {
		return models.Score{}, err
	}

	z := m.artifact.Bias
	contributions := map[string]float64{}
	for name, x := range Features(tx) {
		w := m.weight(name)
		c := w * x
		z += c
		if c > 0 {
			contributions[name] = c
		}
	}

	return models.Score{
		TransactionID:    tx.TransactionID,
		FraudProbability: sigmoid(z),
		RiskFactors:      rankFactors(contributions),
		ModelBacked:      true,
	}, nil
}

func (m *LinearModel) weight(feature string) float64 {
	if name, ok := strings.CutPrefix(feature, merchantPrefix); ok {
		return m.artifact.Merchants[name]
	}
	return m.artifact.Weights[feature]
}

func rankFactors(contributions map[string]float64) []models.RiskFactor {
	factors := make([]models.RiskFactor, 0, len(contributions))
	top := 0.0
	for _, c := range contributions {
		top = math.Max(top, c)
	}
	for name, c := range contributions {
		factors = append(factors, models.RiskFactor{Factor: name, Importance: c / top})
	}
	sort.Slice(factors, func(i, j int) bool {
		if factors[i].Importance != factors[j].Importance {
			return factors[i].Importance > factors[j].Importance
		}
		return factors[i].Factor < factors[j].Factor
	})
	return factors
}

// Attribute returns one attribution in [0,1] per edge of sg, in edge order
func (m *LinearModel) Attribute(ctx context.Context, txID string, sg models.Subgraph) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hops := hopDistances(txID, sg)
	fraud := map[string]bool{}
	for _, n := range sg.Nodes {
		if flagged, _ := n.Properties["is_fraud"].(bool); flagged && n.ID != txID {
			fraud[n.ID] = true
		}
	}

	a := m.artifact
	out := make([]float64, len(sg.Edges))
	for i, e := range sg.Edges {
		base, ok := a.Relations[e.Title]
		if !ok {
			base = a.DefaultRelation
		}

		near := len(sg.Nodes)
		if d, ok := hops[e.From]; ok && d < near {
			near = d
		}
		if d, ok := hops[e.To]; ok && d < near {
			near = d
		}

		v := base * math.Pow(a.HopDecay, float64(near))
		if fraud[e.From] || fraud[e.To] {
			v += a.FraudNeighborBoost
		}
		out[i] = math.Min(math.Max(v, 0), 1)
	}
	return out, nil
}

// hopDistances is an undirected BFS over the projected edges
func hopDistances(txID string, sg models.Subgraph) map[string]int {
	adj := map[string][]string{}
	for _, e := range sg.Edges {
		adj[e.From] = append(adj[e.From], e.To)
		adj[e.To] = append(adj[e.To], e.From)
	}

	dist := map[string]int{txID: 0}
	queue := []string{txID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if _, seen := dist[next]; !seen {
				dist[next] = dist[cur] + 1
				queue = append(queue, next)
			}
		}
	}
	return dist
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
