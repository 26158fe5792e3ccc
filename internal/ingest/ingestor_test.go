package ingest

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/fraudgraph/internal/dlq"
	"github.com/rohankatakam/fraudgraph/internal/errors"
	"github.com/rohankatakam/fraudgraph/internal/extract"
	"github.com/rohankatakam/fraudgraph/internal/graph"
	"github.com/rohankatakam/fraudgraph/internal/models"
	"github.com/rohankatakam/fraudgraph/internal/storage"
)

type recordedLetter struct {
	txID  string
	cause error
}

type fakeDLQ struct {
	mu      sync.Mutex
	letters []recordedLetter
}

func (f *fakeDLQ) Enqueue(_ context.Context, txID string, _ any, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.letters = append(f.letters, recordedLetter{txID, cause})
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
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

func newIngestor(store graph.GraphStore, letters DeadLetters) *Ingestor {
	return New(graph.Connected(store), letters, quietLogger(), Options{Concurrency: 4})
}

func TestBuildBatch(t *testing.T) {
	batch := BuildBatch(exampleTx())
	require.NoError(t, batch.Validate())
	require.Len(t, batch.Entities, 5)
	require.Len(t, batch.Relationships, 4)

	assert.Equal(t, graph.EntityRef{Kind: models.KindDevice, ID: models.UnknownDevice}, batch.Entities[4].Ref)
	assert.Equal(t, "2024-01-01T00:00:00Z", batch.Entities[0].Attrs["timestamp"])
	assert.Equal(t, 42.0, batch.Entities[0].Attrs["amount"])

	types := []models.RelationType{}
	for _, r := range batch.Relationships {
		assert.Equal(t, models.KindUser, r.From.Kind)
		types = append(types, r.Type)
	}
	assert.Equal(t, []models.RelationType{models.RelPerformed, models.RelUsedIP, models.RelHasEmail, models.RelUsedDevice}, types)
}

func TestBuildBatch_BlankDeviceUsesSentinel(t *testing.T) {
	tx := exampleTx()
	blank := "  "
	tx.DeviceID = &blank
	assert.Equal(t, models.UnknownDevice, BuildBatch(tx).Entities[4].Ref.ID)

	dev := "dev-7"
	tx.DeviceID = &dev
	assert.Equal(t, "dev-7", BuildBatch(tx).Entities[4].Ref.ID)
}

func TestIngest_EndToEndSimpleTraversal(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore(graph.WithoutRichTraversal())
	handle := graph.Connected(store)
	ing := New(handle, nil, quietLogger(), Options{})

	require.NoError(t, ing.Ingest(ctx, exampleTx()))

	ext := extract.New(handle, extract.Options{DefaultDepth: 2, MaxDepth: 5, RichTraversal: true})
	res := ext.Subgraph(ctx, "tx1", 2)

	assert.Equal(t, extract.TierSimple, res.Tier)
	require.NotEmpty(t, res.Attempts)
	assert.Equal(t, extract.TierRich, res.Attempts[0].Tier)
	assert.Equal(t, "CAPABILITY_UNAVAILABLE", res.Attempts[0].ErrorType)

	ids := []string{}
	for _, n := range res.Subgraph.Nodes {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)
	assert.Equal(t, []string{"1.2.3.4", "a@b.com", "tx1", "u1", "unknown_device"}, ids)

	titles := []string{}
	for _, e := range res.Subgraph.Edges {
		titles = append(titles, e.Title)
	}
	sort.Strings(titles)
	assert.Equal(t, []string{"HAS_EMAIL", "PERFORMED", "USED_DEVICE", "USED_IP"}, titles)

	ip, ok := res.Subgraph.NodeByID("1.2.3.4")
	require.True(t, ok)
	assert.Equal(t, "ip", ip.Group)
}

func TestIngest_SimpleTraversalHonoursDepth(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore(graph.WithoutRichTraversal())
	handle := graph.Connected(store)
	ing := New(handle, nil, quietLogger(), Options{})
	require.NoError(t, ing.Ingest(ctx, exampleTx()))

	ext := extract.New(handle, extract.Options{DefaultDepth: 2, MaxDepth: 5, RichTraversal: true})
	tests := []struct {
		depth  int
		nodes  []string
		titles []string
	}{
		{1, []string{"tx1", "u1"}, []string{"PERFORMED"}},
		{2, []string{"1.2.3.4", "a@b.com", "tx1", "u1", "unknown_device"}, []string{"HAS_EMAIL", "PERFORMED", "USED_DEVICE", "USED_IP"}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("depth %d", tt.depth), func(t *testing.T) {
			res := ext.Subgraph(ctx, "tx1", tt.depth)
			require.Equal(t, extract.TierSimple, res.Tier)

			ids := []string{}
			for _, n := range res.Subgraph.Nodes {
				ids = append(ids, n.ID)
			}
			sort.Strings(ids)
			assert.Equal(t, tt.nodes, ids)

			titles := []string{}
			for _, e := range res.Subgraph.Edges {
				titles = append(titles, e.Title)
			}
			sort.Strings(titles)
			assert.Equal(t, tt.titles, titles)
		})
	}
}

func TestIngest_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	ing := newIngestor(store, nil)

	require.NoError(t, ing.Ingest(ctx, exampleTx()))
	second := exampleTx()
	second.Amount = 99.5
	second.Merchant = "Globex"
	require.NoError(t, ing.Ingest(ctx, second))

	entities, rels := store.Counts()
	assert.Equal(t, 5, entities)
	assert.Equal(t, 4, rels)

	props, ok := store.Entity(graph.EntityRef{Kind: models.KindTransaction, ID: "tx1"})
	require.True(t, ok)
	assert.Equal(t, 99.5, props["amount"])
	assert.Equal(t, "Globex", props["merchant"])
}

func TestIngest_ConcurrentReingestion(t *testing.T) {
	store := graph.NewMemoryStore()
	ing := newIngestor(store, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx := exampleTx()
			tx.Amount = float64(i)
			assert.NoError(t, ing.Ingest(context.Background(), tx))
		}(i)
	}
	wg.Wait()

	entities, rels := store.Counts()
	assert.Equal(t, 5, entities)
	assert.Equal(t, 4, rels)
}

func TestIngest_DeviceSentinelEdge(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	require.NoError(t, newIngestor(store, nil).Ingest(ctx, exampleTx()))

	_, ok := store.Entity(graph.EntityRef{Kind: models.KindDevice, ID: models.UnknownDevice})
	assert.True(t, ok)

	sg, err := store.SimpleSubgraph(ctx, "tx1", 2)
	require.NoError(t, err)
	found := false
	for _, e := range sg.Edges {
		if e.Title == string(models.RelUsedDevice) {
			found = true
			assert.Equal(t, "u1", e.From)
			assert.Equal(t, models.UnknownDevice, e.To)
		}
	}
	assert.True(t, found)
}

func TestIngest_ValidationPropagates(t *testing.T) {
	store := graph.NewMemoryStore()
	tx := exampleTx()
	tx.Email = ""

	err := newIngestor(store, nil).Ingest(context.Background(), tx)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeValidation, errors.GetType(err))

	entities, _ := store.Counts()
	assert.Zero(t, entities)
}

func TestIngest_UnavailableStoreIsNoop(t *testing.T) {
	letters := &fakeDLQ{}
	ing := New(graph.Unavailable("connection refused"), letters, quietLogger(), Options{})

	assert.NoError(t, ing.Ingest(context.Background(), exampleTx()))
	assert.Empty(t, letters.letters)

	assert.NoError(t, New(nil, nil, quietLogger(), Options{}).Ingest(context.Background(), exampleTx()))
}

func TestIngest_WriteFailureDeadLetters(t *testing.T) {
	letters := &fakeDLQ{}
	store := graph.NewMemoryStore(graph.Unreachable())

	assert.NoError(t, newIngestor(store, letters).Ingest(context.Background(), exampleTx()))
	require.Len(t, letters.letters, 1)
	assert.Equal(t, "tx1", letters.letters[0].txID)
	assert.ErrorIs(t, letters.letters[0].cause, errors.ErrStoreUnavailable)
}

func TestIngestAll_Summary(t *testing.T) {
	store := graph.NewMemoryStore()
	ing := New(graph.Connected(store), nil, quietLogger(), Options{Concurrency: 4, RatePerSecond: 1000})

	var txs []models.TransactionInput
	for i := 0; i < 20; i++ {
		tx := exampleTx()
		tx.TransactionID = fmt.Sprintf("tx%d", i)
		tx.UserID = fmt.Sprintf("u%d", i%5)
		txs = append(txs, tx)
	}
	bad := exampleTx()
	bad.TransactionID = "bad"
	bad.Timestamp = "yesterday"
	txs = append(txs, bad, models.TransactionInput{})

	summary, err := ing.IngestAll(context.Background(), txs)
	require.NoError(t, err)
	assert.Equal(t, 22, summary.Total)
	assert.Equal(t, 20, summary.Ingested)
	assert.Equal(t, 2, summary.Invalid)
	assert.Zero(t, summary.Degraded)

	// 20 transactions, 5 users, one shared ip, email and device
	entities, _ := store.Counts()
	assert.Equal(t, 28, entities)
}

func TestIngestAll_DegradedWhenUnavailable(t *testing.T) {
	ing := New(graph.Unavailable("down"), nil, quietLogger(), Options{Concurrency: 2})

	summary, err := ing.IngestAll(context.Background(), []models.TransactionInput{exampleTx(), exampleTx()})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Degraded)
}

func TestIngestAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := newIngestor(graph.NewMemoryStore(), nil).IngestAll(ctx, []models.TransactionInput{exampleTx()})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, summary.Ingested)
}

func TestReadJSONLines(t *testing.T) {
	input := `{"transaction_id":"tx1","user_id":"u1","ip_address":"1.2.3.4","email":"a@b.com","device_id":null,"timestamp":"2024-01-01T00:00:00","amount":42.0,"merchant":"Acme"}

{"transaction_id":"tx2","user_id":"u2","ip_address":"5.6.7.8","email":"c@d.com","device_id":"dev-2","timestamp":"2024-01-02T10:00:00Z","amount":7,"merchant":"Globex"}
`
	txs, err := ReadJSONLines(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Nil(t, txs[0].DeviceID)
	assert.Equal(t, "dev-2", txs[1].DeviceOrSentinel())

	_, err = ReadJSONLines(strings.NewReader("{\"transaction_id\":\"ok\"}\n{broken\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestReplay_ResolvesAfterRecovery(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(storage.DriverSQLite, filepath.Join(t.TempDir(), "audit.db"), quietLogger())
	require.NoError(t, err)
	defer db.Close()
	queue := dlq.NewQueue(db)

	store := graph.NewMemoryStore(graph.Unreachable())
	ing := newIngestor(store, queue)

	second := exampleTx()
	second.TransactionID = "tx2"
	require.NoError(t, ing.Ingest(ctx, exampleTx()))
	require.NoError(t, ing.Ingest(ctx, second))

	pending, err := queue.Pending(ctx, dlq.DefaultMaxRetries)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	// Still down: replay re-queues and bumps retry counts
	summary, err := ing.Replay(ctx, queue, dlq.DefaultMaxRetries)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Failed)
	pending, err = queue.Pending(ctx, dlq.DefaultMaxRetries)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, 1, pending[0].RetryCount)

	store.SetUnreachable(false)
	summary, err = ing.Replay(ctx, queue, dlq.DefaultMaxRetries)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Resolved)

	pending, err = queue.Pending(ctx, dlq.DefaultMaxRetries)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, ok := store.Entity(graph.EntityRef{Kind: models.KindTransaction, ID: "tx2"})
	assert.True(t, ok)
}

func TestReplay_StoreUnavailable(t *testing.T) {
	ing := New(graph.Unavailable("down"), nil, quietLogger(), Options{})
	_, err := ing.Replay(context.Background(), nil, dlq.DefaultMaxRetries)
	assert.ErrorIs(t, err, errors.ErrStoreUnavailable)
}
