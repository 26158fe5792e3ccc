package explain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rohankatakam/fraudgraph/internal/config"
	"github.com/rohankatakam/fraudgraph/internal/errors"
	"github.com/rohankatakam/fraudgraph/internal/models"
)

// Display attributes
const (
	FocalShape   = "star"
	FocalSize    = 25
	DefaultColor = "#bdc3c7"
	labelIDChars = 6
)

var palette = map[string]string{
	models.KindTransaction.Group():  "#e74c3c",
	models.KindUser.Group():         "#3498db",
	models.KindPaymentToken.Group(): "#9b59b6",
	models.KindEmail.Group():        "#2ecc71",
	models.KindIP.Group():           "#f39c12",
	models.KindDevice.Group():       "#1abc9c",
}

// ColorFor returns the palette colour of a group, DefaultColor when unknown
func ColorFor(group string) string {
	if c, ok := palette[group]; ok {
		return c
	}
	return DefaultColor
}

// Label renders "Group: abcdef..." from a node's group and the first runes of its id
func Label(group, id string) string {
	runes := []rune(id)
	if len(runes) > labelIDChars {
		runes = runes[:labelIDChars]
	}
	return fmt.Sprintf("%s: %s...", capitalize(group), string(runes))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(strings.ToLower(s))
	return strings.ToUpper(string(r[0])) + string(r[1:])
}

// Verdict is the risk level named in a summary
type Verdict string

const (
	VerdictHigh   Verdict = "High risk"
	VerdictMedium Verdict = "Medium risk"
	VerdictLow    Verdict = "Low risk"
)

// DegradedSummary is the sentence of an explanation that could not be generated
func DegradedSummary(txID string) string {
	return fmt.Sprintf("Could not generate explanation for %s. Showing mock data.", txID)
}

// Annotator turns an extracted subgraph into an explained one
type Annotator struct {
	policy   WeightPolicy
	fallback WeightPolicy
	risk     config.RiskConfig
	logger   *slog.Logger
}

// NewAnnotator builds an annotator. A nil policy means RandomPolicy.
func NewAnnotator(policy WeightPolicy, risk config.RiskConfig) *Annotator {
	fallback := NewRandomPolicy(0)
	if policy == nil {
		policy = fallback
	}
	return &Annotator{
		policy:   policy,
		fallback: fallback,
		risk:     risk,
		logger:   slog.Default().With("component", "annotator"),
	}
}

// Policy returns the configured weight policy
func (a *Annotator) Policy() WeightPolicy {
	return a.policy
}

// Annotate never fails: internal errors yield a degraded but structurally
// valid explanation
func (a *Annotator) Annotate(ctx context.Context, txID string, sg models.Subgraph, score *models.Score) models.Explanation {
	exp, err := a.annotate(ctx, txID, sg, score)
	if err == nil {
		return exp
	}

	a.logger.Warn("annotation failed, returning degraded explanation",
		"transaction_id", txID,
		"error", err,
	)
	return a.degraded(txID, sg)
}

func (a *Annotator) annotate(ctx context.Context, txID string, sg models.Subgraph, score *models.Score) (exp models.Explanation, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.AnnotationFailure(fmt.Errorf("panic: %v", r), txID)
		}
	}()

	weights, err := a.policy.Weights(ctx, txID, sg)
	if err != nil {
		return exp, errors.AnnotationFailure(err, txID)
	}
	if len(weights) != len(sg.Edges) {
		return exp, errors.AnnotationFailure(
			fmt.Errorf("policy returned %d weights for %d edges", len(weights), len(sg.Edges)), txID)
	}

	return models.Explanation{
		TransactionID: txID,
		Nodes:         annotateNodes(txID, sg.Nodes),
		Edges:         annotateEdges(sg.Edges, weights),
		Summary:       a.summary(txID, sg, score),
		WeightSource:  a.policy.Name(),
	}, nil
}

func (a *Annotator) degraded(txID string, sg models.Subgraph) models.Explanation {
	weights, _ := a.fallback.Weights(context.Background(), txID, sg)
	return models.Explanation{
		TransactionID: txID,
		Nodes:         annotateNodes(txID, sg.Nodes),
		Edges:         annotateEdges(sg.Edges, weights),
		Summary:       DegradedSummary(txID),
		Degraded:      true,
		WeightSource:  a.fallback.Name(),
	}
}

func annotateNodes(txID string, nodes []models.Node) []models.ExplainedNode {
	out := make([]models.ExplainedNode, 0, len(nodes))
	for _, n := range nodes {
		group := n.Group
		if group == "" {
			group = models.GroupUnknown
		}
		en := models.ExplainedNode{
			ID:         n.ID,
			Group:      group,
			Properties: n.Properties,
			Label:      Label(group, n.ID),
			Color:      ColorFor(group),
		}
		if n.ID == txID {
			en.Shape = FocalShape
			en.Size = FocalSize
		}
		out = append(out, en)
	}
	return out
}

func annotateEdges(edges []models.Edge, weights []int) []models.ExplainedEdge {
	out := make([]models.ExplainedEdge, 0, len(edges))
	for i, e := range edges {
		w := clampWeight(weights[i])
		out = append(out, models.ExplainedEdge{
			From:         e.From,
			To:           e.To,
			Relationship: e.Title,
			Width:        w,
			Title:        fmt.Sprintf("Importance: %.1f", float64(w)/10),
		})
	}
	return out
}

// Verdict derives the risk level from the score when present, otherwise from
// the number of fraud-flagged transactions in the subgraph
func (a *Annotator) Verdict(txID string, sg models.Subgraph, score *models.Score) Verdict {
	if score != nil {
		switch p := score.FraudProbability; {
		case p >= a.risk.HighThreshold:
			return VerdictHigh
		case p >= a.risk.MediumThreshold:
			return VerdictMedium
		default:
			return VerdictLow
		}
	}

	switch flagged := flaggedNeighbours(txID, sg); {
	case flagged >= 2:
		return VerdictHigh
	case flagged == 1:
		return VerdictMedium
	default:
		return VerdictLow
	}
}

func (a *Annotator) summary(txID string, sg models.Subgraph, score *models.Score) string {
	verdict := a.Verdict(txID, sg, score)
	switch verdict {
	case VerdictHigh:
		return fmt.Sprintf("Analysis for %s: %s. Transaction is linked via shared entities to other high-risk nodes.", txID, verdict)
	case VerdictMedium:
		return fmt.Sprintf("Analysis for %s: %s. Transaction shares entities with %d flagged transaction(s).", txID, verdict, flaggedNeighbours(txID, sg))
	default:
		return fmt.Sprintf("Analysis for %s: %s. No links to flagged transactions were found.", txID, verdict)
	}
}

func flaggedNeighbours(txID string, sg models.Subgraph) int {
	count := 0
	for _, n := range sg.Nodes {
		if n.ID == txID || models.KindFromGroup(n.Group) != models.KindTransaction {
			continue
		}
		if flagged, _ := n.Properties["is_fraud"].(bool); flagged {
			count++
		}
	}
	return count
}
