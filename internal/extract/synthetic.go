package extract

import "github.com/rohankatakam/fraudgraph/internal/models"

// Synthetic returns the fixed demonstration subgraph for txID. The topology
// depends on nothing but the transaction id.
func Synthetic(txID string) models.Subgraph {
	fraud := func() map[string]any { return map[string]any{"is_fraud": true} }

	return models.Subgraph{
		Nodes: []models.Node{
			{ID: txID, Group: models.KindTransaction.Group()},
			{ID: "user_1", Group: models.KindUser.Group()},
			{ID: "pmt_A", Group: models.KindPaymentToken.Group()},
			{ID: "email_X", Group: models.KindEmail.Group()},
			{ID: "fraud_1", Group: models.KindTransaction.Group(), Properties: fraud()},
			{ID: "fraud_2", Group: models.KindTransaction.Group(), Properties: fraud()},
			{ID: "pmt_B", Group: models.KindPaymentToken.Group()},
		},
		Edges: []models.Edge{
			{From: txID, To: "user_1", Title: string(models.RelPerformedBy)},
			{From: "user_1", To: "pmt_A", Title: string(models.RelUsedToken)},
			{From: "pmt_A", To: "pmt_B", Title: string(models.RelSharedTokenLink)},
			{From: "pmt_B", To: "fraud_1", Title: string(models.RelUsedIn)},
			{From: "pmt_B", To: "fraud_2", Title: string(models.RelUsedIn)},
		},
	}
}
