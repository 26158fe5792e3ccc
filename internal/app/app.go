// Package app is the process context: it owns every long-lived handle and
// exposes the fast and slow paths to the CLI.
package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/fraudgraph/internal/cache"
	"github.com/rohankatakam/fraudgraph/internal/config"
	"github.com/rohankatakam/fraudgraph/internal/dlq"
	"github.com/rohankatakam/fraudgraph/internal/errors"
	"github.com/rohankatakam/fraudgraph/internal/explain"
	"github.com/rohankatakam/fraudgraph/internal/extract"
	"github.com/rohankatakam/fraudgraph/internal/graph"
	"github.com/rohankatakam/fraudgraph/internal/ingest"
	"github.com/rohankatakam/fraudgraph/internal/model"
	"github.com/rohankatakam/fraudgraph/internal/models"
	"github.com/rohankatakam/fraudgraph/internal/storage"
)

// App is created once per process and shared by every request
type App struct {
	cfg    *config.Config
	logger *logrus.Logger

	graph     *graph.Handle
	model     *model.Handle
	extractor *extract.Extractor
	annotator *explain.Annotator
	explain   *explain.Service
	ingestor  *ingest.Ingestor

	db          *storage.DB
	audit       storage.AuditStore
	dlq         *dlq.Queue
	redis       *cache.Client
	resultStore string

	stopWatch context.CancelFunc
}

// Option overrides a component, mainly for tests
type Option func(*App)

// WithGraphHandle uses h instead of connecting from config
func WithGraphHandle(h *graph.Handle) Option {
	return func(a *App) { a.graph = h }
}

// WithModelHandle uses h instead of loading cfg.Model.Path
func WithModelHandle(h *model.Handle) Option {
	return func(a *App) { a.model = h }
}

// New initialises every component once. Only an invalid configuration is an
// error; unavailable services degrade their component.
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	if err := cfg.Validate().Err(); err != nil {
		return nil, errors.ConfigErrorf("invalid configuration: %v", err)
	}

	a := &App{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(a)
	}

	a.initGraph(ctx)
	a.initModel()
	a.initAudit()

	a.extractor = extract.New(a.graph, extract.OptionsFromConfig(cfg.Extract, cfg.Graph))

	var policy explain.WeightPolicy
	if a.model.State().Kind == model.Loaded {
		policy = explain.NewAttributionPolicy(a.model)
	}
	a.annotator = explain.NewAnnotator(policy, cfg.Explain.Risk)
	a.explain = explain.NewService(a.extractor, a.annotator, a.openResults(ctx), explain.OptionsFromConfig(cfg.Explain))

	var letters ingest.DeadLetters
	if a.dlq != nil {
		letters = a.dlq
	}
	a.ingestor = ingest.New(a.graph, letters, logger, ingest.OptionsFromConfig(cfg.Ingest))

	logger.WithFields(logrus.Fields{
		"graph":        a.graph.State().String(),
		"model":        a.model.State().Kind.String(),
		"weights":      a.annotator.Policy().Name(),
		"result_store": a.resultStore,
		"audit":        a.audit != nil,
	}).Info("application initialised")
	return a, nil
}

func (a *App) initGraph(ctx context.Context) {
	if a.graph == nil {
		a.graph = graph.Open(ctx, a.cfg.Graph)
	}

	store, ok := a.graph.Store()
	if !ok {
		return
	}
	if err := store.EnsureConstraints(ctx); err != nil {
		a.logger.WithError(err).Warn("failed to ensure graph constraints")
	}

	if client, ok := a.graph.Client(); ok && a.cfg.Graph.HealthInterval > 0 {
		watchCtx, cancel := context.WithCancel(context.Background())
		a.stopWatch = cancel
		go client.WatchHealth(watchCtx, a.cfg.Graph.HealthInterval)
	}
}

func (a *App) initModel() {
	if a.model == nil {
		a.model = model.NewHandle(a.cfg.Model.Path)
	}
	state := a.model.Init()
	if state.Kind != model.Loaded {
		a.logger.WithField("reason", state.Reason).Warn("model unavailable, scoring disabled and explanations use random weights")
	}
}

func (a *App) initAudit() {
	if a.cfg.Audit.DSN == "" {
		return
	}
	db, err := storage.Open(a.cfg.Audit.Driver, a.cfg.Audit.DSN, a.logger)
	if err != nil {
		a.logger.WithError(err).WithField("driver", a.cfg.Audit.Driver).Warn("audit database unavailable, scores will not be recorded")
		return
	}
	a.db = db
	a.audit = storage.NewScoreAudit(db)
	a.dlq = dlq.NewQueue(db)
}

func (a *App) openResults(ctx context.Context) explain.ResultStore {
	cfg := a.cfg.Explain
	switch cfg.ResultStore {
	case "bolt":
		store, err := explain.OpenBoltResults(cfg.BoltPath, cfg.ResultTTL)
		if err == nil {
			a.resultStore = "bolt"
			return store
		}
		a.logger.WithError(err).Warn("bolt result store unavailable, keeping results in memory")
	case "redis":
		client, err := cache.Dial(ctx, a.cfg.Redis)
		if err == nil {
			a.redis = client
			a.resultStore = "redis"
			return explain.NewRedisResults(client, cfg.ResultTTL)
		}
		a.logger.WithError(err).Warn("redis result store unavailable, keeping results in memory")
	}
	a.resultStore = "memory"
	return explain.NewMemoryResults(cfg.ResultTTL)
}

// Config returns the effective configuration
func (a *App) Config() *config.Config {
	return a.cfg
}

// Score is the fast path. It is bounded by the configured score timeout and
// returns ErrModelUnavailable when no model is loaded.
func (a *App) Score(ctx context.Context, tx models.TransactionInput) (models.Score, error) {
	if tx.TransactionID == "" {
		return models.Score{}, errors.ValidationError(fmt.Errorf("transaction_id is required"), "invalid score request")
	}

	if timeout := a.cfg.Model.ScoreTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	score, err := a.model.Score(ctx, tx)
	latency := time.Since(start)

	outcome := storage.OutcomeScored
	switch {
	case errors.IsModelUnavailable(err):
		outcome = storage.OutcomeModelUnavailable
		score = models.Score{TransactionID: tx.TransactionID}
	case err != nil:
		outcome = storage.OutcomeError
		score = models.Score{TransactionID: tx.TransactionID}
		if stderrors.Is(err, context.DeadlineExceeded) {
			err = errors.Wrap(err, errors.ErrorTypeInternal, errors.SeverityMedium,
				fmt.Sprintf("scoring exceeded %s", a.cfg.Model.ScoreTimeout))
		}
	}
	a.record(ctx, score, outcome, latency)

	if err != nil {
		return models.Score{}, err
	}
	return score, nil
}

func (a *App) record(ctx context.Context, score models.Score, outcome string, latency time.Duration) {
	if a.audit == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if _, err := a.audit.Record(actx, score, outcome, latency); err != nil {
		a.logger.WithError(err).WithField("transaction_id", score.TransactionID).Warn("failed to audit score")
	}
}

// ScoreHistory returns audited scores for a transaction, newest first
func (a *App) ScoreHistory(ctx context.Context, txID string, limit int) ([]storage.AuditRecord, error) {
	if a.audit == nil {
		return nil, fmt.Errorf("audit store not configured")
	}
	return a.audit.Recent(ctx, txID, limit)
}

// Subgraph never fails; see extract.Extractor
func (a *App) Subgraph(ctx context.Context, txID string, depth int) extract.Result {
	return a.extractor.Subgraph(ctx, txID, depth)
}

// SubmitExplanation starts the slow path. The most recent audited model score,
// when there is one, decides the verdict.
func (a *App) SubmitExplanation(ctx context.Context, txID string, depth int) (explain.Status, error) {
	if txID == "" {
		return explain.Status{}, errors.ValidationError(fmt.Errorf("transaction_id is required"), "invalid explanation request")
	}
	return a.explain.Submit(explain.Request{
		TransactionID: txID,
		Depth:         depth,
		Score:         a.latestScore(ctx, txID),
	})
}

func (a *App) latestScore(ctx context.Context, txID string) *models.Score {
	if a.audit == nil {
		return nil
	}
	records, err := a.audit.Recent(ctx, txID, 1)
	if err != nil || len(records) == 0 || records[0].Outcome != storage.OutcomeScored {
		return nil
	}
	r := records[0]
	return &models.Score{
		TransactionID:    r.TransactionID,
		FraudProbability: r.FraudProbability,
		RiskFactors:      r.RiskFactors,
		ModelBacked:      r.ModelBacked,
	}
}

func (a *App) ExplanationStatus(ctx context.Context, txID string) (explain.Status, error) {
	return a.explain.Status(ctx, txID)
}

func (a *App) AwaitExplanation(ctx context.Context, txID string) (models.Explanation, error) {
	return a.explain.Await(ctx, txID)
}

func (a *App) CancelExplanation(txID string) bool {
	return a.explain.Cancel(txID)
}

// Ingest writes one transaction; store failures are absorbed
func (a *App) Ingest(ctx context.Context, tx models.TransactionInput) error {
	return a.ingestor.Ingest(ctx, tx)
}

// IngestAll is the bulk loader
func (a *App) IngestAll(ctx context.Context, txs []models.TransactionInput) (ingest.Summary, error) {
	return a.ingestor.IngestAll(ctx, txs)
}

// EnsureConstraints re-declares the per-kind uniqueness constraints
func (a *App) EnsureConstraints(ctx context.Context) error {
	store, ok := a.graph.Store()
	if !ok {
		return errors.StoreUnavailable(fmt.Errorf("%s", a.graph.Reason()), "cannot ensure constraints")
	}
	return store.EnsureConstraints(ctx)
}

var errNoDeadLetters = fmt.Errorf("dead-letter queue requires an audit database (audit.dsn)")

// ReplayDeadLetters re-ingests queued transactions
func (a *App) ReplayDeadLetters(ctx context.Context) (ingest.ReplaySummary, error) {
	if a.dlq == nil {
		return ingest.ReplaySummary{}, errNoDeadLetters
	}
	return a.ingestor.Replay(ctx, a.dlq, dlq.DefaultMaxRetries)
}

// DeadLetterStats summarises the dead-letter queue
func (a *App) DeadLetterStats(ctx context.Context) (dlq.Stats, error) {
	if a.dlq == nil {
		return dlq.Stats{}, errNoDeadLetters
	}
	return a.dlq.Stats(ctx, dlq.DefaultMaxRetries)
}

// DeadLetters lists the most recently failed writes
func (a *App) DeadLetters(ctx context.Context, limit int) ([]dlq.Entry, error) {
	if a.dlq == nil {
		return nil, errNoDeadLetters
	}
	return a.dlq.List(ctx, limit)
}

// PurgeDeadLetters drops entries first queued more than olderThan ago
func (a *App) PurgeDeadLetters(ctx context.Context, olderThan time.Duration) (int, error) {
	if a.dlq == nil {
		return 0, errNoDeadLetters
	}
	return a.dlq.Purge(ctx, olderThan)
}

var errNoSharedResults = fmt.Errorf("purging explanation results requires the redis result store (explain.result_store)")

// PurgeExplanations deletes every explanation result held in redis
func (a *App) PurgeExplanations(ctx context.Context) (int64, error) {
	if a.redis == nil {
		return 0, errNoSharedResults
	}
	n, err := a.redis.Purge(ctx, cache.Explanations)
	if err != nil {
		return n, errors.DatabaseErrorf(err, "failed to purge explanation results")
	}
	return n, nil
}

// Close shuts the explain workers down, then releases every connection
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.stopWatch != nil {
		a.stopWatch()
	}
	if a.explain != nil {
		if err := a.explain.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("explain service: %w", err))
		}
	}
	if err := a.graph.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("graph store: %w", err))
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audit database: %w", err))
		}
	}
	return stderrors.Join(errs...)
}
