package ingest

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/rohankatakam/fraudgraph/internal/config"
	"github.com/rohankatakam/fraudgraph/internal/errors"
	"github.com/rohankatakam/fraudgraph/internal/graph"
	"github.com/rohankatakam/fraudgraph/internal/models"
)

// DeadLetters receives transactions whose graph write failed
type DeadLetters interface {
	Enqueue(ctx context.Context, transactionID string, payload any, cause error) error
}

// Options tunes bulk ingestion
type Options struct {
	Concurrency   int
	RatePerSecond float64 // zero or negative disables throttling
}

// OptionsFromConfig maps the ingest section onto Options
func OptionsFromConfig(cfg config.IngestConfig) Options {
	return Options{Concurrency: cfg.Concurrency, RatePerSecond: cfg.RatePerSecond}
}

// Summary counts the outcome of a bulk run
type Summary struct {
	Total    int           `json:"total"`
	Ingested int           `json:"ingested"`
	Invalid  int           `json:"invalid"`
	Degraded int           `json:"degraded"`
	Duration time.Duration `json:"duration"`
}

// Ingestor writes transactions and their entities into the graph store
type Ingestor struct {
	handle  *graph.Handle
	dlq     DeadLetters
	logger  *logrus.Logger
	opts    Options
	limiter *rate.Limiter
}

// New creates an ingestor. dlq may be nil.
func New(handle *graph.Handle, dlq DeadLetters, logger *logrus.Logger, opts Options) *Ingestor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Concurrency)
	}

	return &Ingestor{
		handle:  handle,
		dlq:     dlq,
		logger:  logger,
		opts:    opts,
		limiter: limiter,
	}
}

// BuildBatch maps one transaction onto its five entities and four relationships.
// A missing device resolves to the UnknownDevice sentinel.
func BuildBatch(tx models.TransactionInput) graph.Batch {
	txRef := graph.EntityRef{Kind: models.KindTransaction, ID: tx.TransactionID}
	user := graph.EntityRef{Kind: models.KindUser, ID: tx.UserID}
	ip := graph.EntityRef{Kind: models.KindIP, ID: tx.IPAddress}
	email := graph.EntityRef{Kind: models.KindEmail, ID: tx.Email}
	device := graph.EntityRef{Kind: models.KindDevice, ID: tx.DeviceOrSentinel()}

	timestamp := tx.Timestamp
	if ts, err := tx.ParsedTimestamp(); err == nil {
		timestamp = ts.UTC().Format(time.RFC3339Nano)
	}

	return graph.Batch{
		Entities: []graph.EntityUpsert{
			{Ref: txRef, Attrs: map[string]any{
				"amount":    tx.Amount,
				"merchant":  tx.Merchant,
				"timestamp": timestamp,
			}},
			{Ref: user},
			{Ref: ip},
			{Ref: email},
			{Ref: device},
		},
		Relationships: []graph.RelationshipUpsert{
			{From: user, To: txRef, Type: models.RelPerformed},
			{From: user, To: ip, Type: models.RelUsedIP},
			{From: user, To: email, Type: models.RelHasEmail},
			{From: user, To: device, Type: models.RelUsedDevice},
		},
	}
}

// Ingest upserts one transaction. Only validation and context errors are
// returned; store failures are logged and, when a dead-letter queue is
// configured, queued for replay.
func (i *Ingestor) Ingest(ctx context.Context, tx models.TransactionInput) error {
	_, err := i.ingest(ctx, tx)
	return err
}

// ingest reports degraded when the write did not reach the store
func (i *Ingestor) ingest(ctx context.Context, tx models.TransactionInput) (bool, error) {
	if err := tx.Validate(); err != nil {
		return false, errors.ValidationError(err, "invalid transaction")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	log := i.logger.WithField("transaction_id", tx.TransactionID)

	store, ok := i.handle.Store()
	if !ok {
		log.WithField("reason", i.handle.Reason()).Warn("graph store unavailable, skipping write")
		return true, nil
	}

	err := store.ApplyBatch(ctx, BuildBatch(tx))
	if err == nil {
		log.Debug("transaction ingested")
		return false, nil
	}
	if errors.GetType(err) == errors.ErrorTypeValidation {
		return false, err
	}
	if stderrors.Is(err, context.Canceled) {
		return false, err
	}

	log.WithError(err).WithField("error_type", errors.TypeName(err)).Warn("graph write failed")
	if i.dlq != nil {
		// The caller's context may be the reason the write failed
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if qerr := i.dlq.Enqueue(dctx, tx.TransactionID, tx, err); qerr != nil {
			log.WithError(qerr).Error("failed to dead-letter transaction")
		}
	}
	return true, nil
}

// IngestAll ingests with bounded concurrency and the configured rate. Invalid
// records are counted and skipped; only context cancellation aborts the run.
func (i *Ingestor) IngestAll(ctx context.Context, txs []models.TransactionInput) (Summary, error) {
	start := time.Now()
	summary := Summary{Total: len(txs)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.opts.Concurrency)

	for idx, tx := range txs {
		if err := i.limiter.Wait(gctx); err != nil {
			break
		}

		g.Go(func() error {
			degraded, err := i.ingest(gctx, tx)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.GetType(err) == errors.ErrorTypeValidation:
				summary.Invalid++
				i.logger.WithFields(logrus.Fields{
					"line":           idx + 1,
					"transaction_id": tx.TransactionID,
				}).WithError(err).Warn("skipping invalid transaction")
			case err != nil:
				return err
			case degraded:
				summary.Degraded++
			default:
				summary.Ingested++
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	summary.Duration = time.Since(start)

	i.logger.WithFields(logrus.Fields{
		"total":    summary.Total,
		"ingested": summary.Ingested,
		"invalid":  summary.Invalid,
		"degraded": summary.Degraded,
		"duration": summary.Duration,
	}).Info("ingestion finished")

	return summary, err
}
