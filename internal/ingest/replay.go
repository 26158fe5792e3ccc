package ingest

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/fraudgraph/internal/dlq"
	"github.com/rohankatakam/fraudgraph/internal/errors"
	"github.com/rohankatakam/fraudgraph/internal/models"
)

// ReplayQueue is the part of the dead-letter queue Replay needs
type ReplayQueue interface {
	Pending(ctx context.Context, maxRetries int) ([]dlq.Entry, error)
	MarkResolved(ctx context.Context, transactionID string) error
}

// ReplaySummary counts the outcome of one replay pass
type ReplaySummary struct {
	Attempted int `json:"attempted"`
	Resolved  int `json:"resolved"`
	Failed    int `json:"failed"`
	Corrupt   int `json:"corrupt"`
}

// Replay re-ingests dead-lettered transactions still within maxRetries.
// Successful writes are removed from the queue; failures are re-queued by
// Ingest, which bumps their retry count.
func (i *Ingestor) Replay(ctx context.Context, queue ReplayQueue, maxRetries int) (ReplaySummary, error) {
	var summary ReplaySummary

	if _, ok := i.handle.Store(); !ok {
		return summary, errors.StoreUnavailable(fmt.Errorf("%s", i.handle.Reason()), "cannot replay dead letters")
	}

	entries, err := queue.Pending(ctx, maxRetries)
	if err != nil {
		return summary, err
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Attempted++
		log := i.logger.WithFields(logrus.Fields{
			"transaction_id": entry.TransactionID,
			"retry_count":    entry.RetryCount,
		})

		var tx models.TransactionInput
		if err := entry.Decode(&tx); err != nil {
			summary.Corrupt++
			log.WithError(err).Error("dead letter payload is not a transaction")
			continue
		}

		degraded, err := i.ingest(ctx, tx)
		switch {
		case err != nil && errors.GetType(err) == errors.ErrorTypeValidation:
			summary.Corrupt++
			log.WithError(err).Error("dead letter failed validation")
			continue
		case err != nil:
			return summary, err
		case degraded:
			summary.Failed++
			continue
		}

		if err := queue.MarkResolved(ctx, entry.TransactionID); err != nil {
			return summary, err
		}
		summary.Resolved++
	}

	i.logger.WithFields(logrus.Fields{
		"attempted": summary.Attempted,
		"resolved":  summary.Resolved,
		"failed":    summary.Failed,
		"corrupt":   summary.Corrupt,
	}).Info("dead letter replay finished")
	return summary, nil
}
