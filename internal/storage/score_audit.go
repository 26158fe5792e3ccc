package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/fraudgraph/internal/models"
)

// Audit outcomes
const (
	OutcomeScored           = "scored"
	OutcomeModelUnavailable = "model_unavailable"
	OutcomeError            = "error"
)

// AuditRecord is one stored score request
type AuditRecord struct {
	ID               string              `db:"id" json:"id"`
	TransactionID    string              `db:"transaction_id" json:"transaction_id"`
	FraudProbability float64             `db:"fraud_probability" json:"fraud_probability"`
	ModelBacked      bool                `db:"model_backed" json:"model_backed"`
	Outcome          string              `db:"outcome" json:"outcome"`
	RiskFactorsJSON  string              `db:"risk_factors" json:"-"`
	RiskFactors      []models.RiskFactor `db:"-" json:"risk_factors"`
	LatencyMS        int64               `db:"latency_ms" json:"latency_ms"`
	CreatedAt        time.Time           `db:"created_at" json:"created_at"`
}

// AuditStore is the score request log the app writes through
type AuditStore interface {
	Record(ctx context.Context, score models.Score, outcome string, latency time.Duration) (string, error)
	Recent(ctx context.Context, transactionID string, limit int) ([]AuditRecord, error)
}

// ScoreAudit implements AuditStore on the shared DB
type ScoreAudit struct {
	db *DB
}

// NewScoreAudit creates the audit log
func NewScoreAudit(db *DB) *ScoreAudit {
	return &ScoreAudit{db: db}
}

// Record stores one score request and returns its id
func (a *ScoreAudit) Record(ctx context.Context, score models.Score, outcome string, latency time.Duration) (string, error) {
	factors, err := json.Marshal(score.RiskFactors)
	if err != nil {
		return "", fmt.Errorf("marshal risk factors: %w", err)
	}

	rec := AuditRecord{
		ID:               uuid.NewString(),
		TransactionID:    score.TransactionID,
		FraudProbability: score.FraudProbability,
		ModelBacked:      score.ModelBacked,
		Outcome:          outcome,
		RiskFactorsJSON:  string(factors),
		LatencyMS:        latency.Milliseconds(),
		CreatedAt:        time.Now().UTC(),
	}

	_, err = a.db.NamedExecContext(ctx, `
		INSERT INTO score_audit (id, transaction_id, fraud_probability, model_backed, outcome,
			risk_factors, latency_ms, created_at)
		VALUES (:id, :transaction_id, :fraud_probability, :model_backed, :outcome,
			:risk_factors, :latency_ms, :created_at)
	`, rec)
	if err != nil {
		return "", fmt.Errorf("insert score audit: %w", err)
	}

	a.db.logger.WithFields(logrus.Fields{
		"audit_id":       rec.ID,
		"transaction_id": rec.TransactionID,
		"outcome":        outcome,
		"latency_ms":     rec.LatencyMS,
	}).Debug("score audited")
	return rec.ID, nil
}

// Recent returns the newest records for a transaction, newest first
func (a *ScoreAudit) Recent(ctx context.Context, transactionID string, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := a.db.Rebind(`
		SELECT id, transaction_id, fraud_probability, model_backed, outcome,
			risk_factors, latency_ms, created_at
		FROM score_audit
		WHERE transaction_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`)

	var records []AuditRecord
	if err := a.db.SelectContext(ctx, &records, query, transactionID, limit); err != nil {
		return nil, fmt.Errorf("query score audit: %w", err)
	}

	for i := range records {
		if records[i].RiskFactorsJSON == "" {
			continue
		}
		if err := json.Unmarshal([]byte(records[i].RiskFactorsJSON), &records[i].RiskFactors); err != nil {
			a.db.logger.WithError(err).WithField("audit_id", records[i].ID).Warn("failed to decode risk factors")
		}
	}
	return records, nil
}
