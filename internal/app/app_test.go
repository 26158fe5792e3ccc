package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/fraudgraph/internal/config"
	"github.com/rohankatakam/fraudgraph/internal/errors"
	"github.com/rohankatakam/fraudgraph/internal/explain"
	"github.com/rohankatakam/fraudgraph/internal/extract"
	"github.com/rohankatakam/fraudgraph/internal/graph"
	"github.com/rohankatakam/fraudgraph/internal/model"
	"github.com/rohankatakam/fraudgraph/internal/models"
	"github.com/rohankatakam/fraudgraph/internal/storage"
)

const artifact = `version: 1
name: app-test
bias: -3.0
weights:
  amount_log: 0.5
  night_time: 1.0
  unknown_device: 0.8
merchants:
  Acme: 0.2
relations:
  PERFORMED: 0.9
  USED_IP: 0.6
default_relation: 0.3
hop_decay: 0.5
fraud_neighbor_boost: 0.5
`

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testConfig(t *testing.T, withModel bool) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Graph.InMemory = true
	cfg.Graph.RichTraversal = false
	cfg.Audit.Driver = storage.DriverSQLite
	cfg.Audit.DSN = filepath.Join(dir, "audit.db")
	cfg.Explain.Workers = 2
	cfg.Model.ScoreTimeout = time.Second

	if withModel {
		path := filepath.Join(dir, "model.yaml")
		require.NoError(t, os.WriteFile(path, []byte(artifact), 0o600))
		cfg.Model.Path = path
	}
	return cfg
}

func newApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, a.Close(ctx))
	})
	return a
}

func exampleTx() models.TransactionInput {
	return models.TransactionInput{
		TransactionID: "tx1",
		UserID:        "u1",
		IPAddress:     "1.2.3.4",
		Email:         "a@b.com",
		Timestamp:     "2024-01-01T00:00:00",
		Amount:        42.0,
		Merchant:      "Acme",
	}
}

func TestApp_IngestThenSubgraph(t *testing.T) {
	a := newApp(t, testConfig(t, true))
	ctx := context.Background()

	require.NoError(t, a.Ingest(ctx, exampleTx()))

	res := a.Subgraph(ctx, "tx1", -1)
	assert.Equal(t, extract.TierSimple, res.Tier)
	assert.Equal(t, 2, res.Depth)
	assert.Len(t, res.Subgraph.Nodes, 5)
	assert.Len(t, res.Subgraph.Edges, 4)

	missing := a.Subgraph(ctx, "nope", 2)
	assert.True(t, missing.Synthetic())
}

func TestApp_ScoreIsAudited(t *testing.T) {
	a := newApp(t, testConfig(t, true))
	ctx := context.Background()

	score, err := a.Score(ctx, exampleTx())
	require.NoError(t, err)
	assert.True(t, score.ModelBacked)
	assert.NotEmpty(t, score.RiskFactors)

	history, err := a.ScoreHistory(ctx, "tx1", 5)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, storage.OutcomeScored, history[0].Outcome)
	assert.InDelta(t, score.FraudProbability, history[0].FraudProbability, 1e-9)
}

func TestApp_DeadLettersReplayAfterOutage(t *testing.T) {
	store := graph.NewMemoryStore(graph.WithoutRichTraversal())
	store.SetUnreachable(true)

	art, err := model.ParseArtifact([]byte(artifact))
	require.NoError(t, err)

	cfg := testConfig(t, false)
	a, err := New(context.Background(), cfg, quietLogger(),
		WithGraphHandle(graph.Connected(store)),
		WithModelHandle(model.LoadedHandle(model.NewLinearModel(art))))
	require.NoError(t, err)
	defer a.Close(context.Background())
	ctx := context.Background()

	require.NoError(t, a.Ingest(ctx, exampleTx()), "store failures are absorbed")

	stats, err := a.DeadLetterStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)

	letters, err := a.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "tx1", letters[0].TransactionID)
	assert.Equal(t, "STORE_UNAVAILABLE", letters[0].ErrorType)

	store.SetUnreachable(false)
	summary, err := a.ReplayDeadLetters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Resolved)

	res := a.Subgraph(ctx, "tx1", 2)
	assert.Equal(t, extract.TierSimple, res.Tier)
	assert.Equal(t, explain.PolicyAttribution, a.Health(ctx).WeightPolicy)

	purged, err := a.PurgeDeadLetters(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, purged)
}

func TestApp_ScoreWithoutModel(t *testing.T) {
	a := newApp(t, testConfig(t, false))
	ctx := context.Background()

	_, err := a.Score(ctx, exampleTx())
	require.Error(t, err)
	assert.True(t, errors.IsModelUnavailable(err))

	history, err := a.ScoreHistory(ctx, "tx1", 5)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, storage.OutcomeModelUnavailable, history[0].Outcome)
	assert.False(t, history[0].ModelBacked)

	_, err = a.Score(ctx, models.TransactionInput{})
	assert.Equal(t, errors.ErrorTypeValidation, errors.GetType(err))
}

func TestApp_ExplanationUsesAttribution(t *testing.T) {
	a := newApp(t, testConfig(t, true))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, a.Ingest(ctx, exampleTx()))
	_, err := a.Score(ctx, exampleTx())
	require.NoError(t, err)

	_, err = a.SubmitExplanation(ctx, "tx1", 2)
	require.NoError(t, err)
	exp, err := a.AwaitExplanation(ctx, "tx1")
	require.NoError(t, err)

	assert.False(t, exp.Degraded)
	assert.Equal(t, explain.PolicyAttribution, exp.WeightSource)
	assert.Len(t, exp.Nodes, 5)

	st, err := a.ExplanationStatus(ctx, "tx1")
	require.NoError(t, err)
	assert.Equal(t, explain.JobDone, st.State)
	assert.Equal(t, extract.TierSimple, st.Tier)

	assert.False(t, a.CancelExplanation("tx1"))

	_, err = a.SubmitExplanation(ctx, "", 2)
	assert.Error(t, err)
}

func TestApp_FullyOffline(t *testing.T) {
	cfg := testConfig(t, false)
	cfg.Graph.InMemory = false
	cfg.Graph.URI = ""
	cfg.Audit.DSN = ""
	a := newApp(t, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	assert.NoError(t, a.Ingest(ctx, exampleTx()))

	res := a.Subgraph(ctx, "tx1", 3)
	assert.True(t, res.Synthetic())
	assert.Equal(t, extract.Synthetic("tx1"), res.Subgraph)

	_, err := a.SubmitExplanation(ctx, "tx1", 2)
	require.NoError(t, err)
	exp, err := a.AwaitExplanation(ctx, "tx1")
	require.NoError(t, err)
	assert.Equal(t, explain.PolicyRandom, exp.WeightSource)
	assert.Contains(t, exp.Summary, "High risk")

	h := a.Health(ctx)
	assert.True(t, h.FullyDegraded)
	assert.Equal(t, "unavailable", h.Graph.State)
	assert.NotEmpty(t, h.Graph.Reason)
	assert.Equal(t, "unavailable", h.Model.State)
	assert.False(t, h.Audit)

	_, err = a.ReplayDeadLetters(ctx)
	assert.Error(t, err)
	assert.ErrorIs(t, a.EnsureConstraints(ctx), errors.ErrStoreUnavailable)
}

func TestApp_Health(t *testing.T) {
	a := newApp(t, testConfig(t, true))
	h := a.Health(context.Background())

	assert.Equal(t, "connected", h.Graph.State)
	assert.Nil(t, h.Graph.Pool)
	assert.Equal(t, "loaded", h.Model.State)
	assert.Equal(t, "app-test", h.Model.Name)
	assert.Equal(t, explain.PolicyAttribution, h.WeightPolicy)
	assert.Equal(t, "memory", h.ResultStore)
	assert.True(t, h.Audit)
	require.NotNil(t, h.DeadLetters)
	assert.Zero(t, h.DeadLetters.Total)
	assert.False(t, h.FullyDegraded)
}

func TestApp_BoltResultStore(t *testing.T) {
	cfg := testConfig(t, false)
	cfg.Explain.ResultStore = "bolt"
	cfg.Explain.BoltPath = filepath.Join(t.TempDir(), "results.db")
	a := newApp(t, cfg)

	assert.Equal(t, "bolt", a.Health(context.Background()).ResultStore)
}

func TestApp_RedisFallsBackToMemory(t *testing.T) {
	cfg := testConfig(t, false)
	cfg.Explain.ResultStore = "redis"
	cfg.Redis.Addr = "127.0.0.1:1"
	a := newApp(t, cfg)

	assert.Equal(t, "memory", a.Health(context.Background()).ResultStore)
}

func TestApp_InvalidConfig(t *testing.T) {
	cfg := testConfig(t, false)
	cfg.Explain.Workers = 0

	_, err := New(context.Background(), cfg, quietLogger())
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeConfig, errors.GetType(err))
}

func TestApp_PurgeExplanationsNeedsRedis(t *testing.T) {
	tests := []struct {
		name  string
		store string
	}{
		{"memory", "memory"},
		{"bolt", "bolt"},
		{"redis unreachable", "redis"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, false)
			cfg.Explain.ResultStore = tt.store
			cfg.Explain.BoltPath = filepath.Join(t.TempDir(), "results.db")
			cfg.Redis.Addr = "127.0.0.1:1"
			a := newApp(t, cfg)

			n, err := a.PurgeExplanations(context.Background())
			assert.ErrorIs(t, err, errNoSharedResults)
			assert.Zero(t, n)
		})
	}
}

func TestApp_PurgeExplanations_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	ctx := context.Background()
	cfg := testConfig(t, true)
	cfg.Explain.ResultStore = "redis"
	cfg.Redis.Addr = addr
	cfg.Redis.DB = 15
	a := newApp(t, cfg)
	require.Equal(t, "redis", a.Health(ctx).ResultStore)

	require.NoError(t, a.Ingest(ctx, exampleTx()))
	_, err := a.SubmitExplanation(ctx, "tx1", 2)
	require.NoError(t, err)
	_, err = a.AwaitExplanation(ctx, "tx1")
	require.NoError(t, err)

	n, err := a.PurgeExplanations(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	n, err = a.PurgeExplanations(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
