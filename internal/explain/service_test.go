package explain

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/fraudgraph/internal/extract"
	"github.com/rohankatakam/fraudgraph/internal/models"
)

// syntheticSource serves the demonstration subgraph and counts calls. When
// release is set every call blocks on it.
type syntheticSource struct {
	calls   atomic.Int32
	started chan string
	release chan struct{}
}

func (s *syntheticSource) Subgraph(ctx context.Context, txID string, _ int) extract.Result {
	s.calls.Add(1)
	if s.started != nil {
		s.started <- txID
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
		}
	}
	return extract.Result{Subgraph: extract.Synthetic(txID), Tier: extract.TierSynthetic}
}

func newTestService(t *testing.T, source SubgraphSource, opts Options) (*Service, *MemoryResults) {
	t.Helper()
	results := NewMemoryResults(time.Hour)
	svc := NewService(source, NewAnnotator(NewRandomPolicy(1), testRisk), results, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		svc.Shutdown(ctx)
	})
	return svc, results
}

func TestService_SubmitAndAwait(t *testing.T) {
	svc, results := newTestService(t, &syntheticSource{}, Options{Workers: 2, QueueSize: 4})

	st, err := svc.Submit(Request{TransactionID: "tx1", Depth: 2})
	require.NoError(t, err)
	assert.Equal(t, "tx1", st.TransactionID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	exp, err := svc.Await(ctx, "tx1")
	require.NoError(t, err)
	assert.Equal(t, "tx1", exp.TransactionID)
	assert.False(t, exp.Degraded)

	st, err = svc.Status(ctx, "tx1")
	require.NoError(t, err)
	assert.Equal(t, JobDone, st.State)
	assert.Equal(t, extract.TierSynthetic, st.Tier)
	assert.NotNil(t, st.FinishedAt)

	stored, err := results.Get(ctx, "tx1")
	require.NoError(t, err)
	assert.Equal(t, exp.Summary, stored.Summary)
}

func TestService_DuplicateSubmissionSharesJob(t *testing.T) {
	source := &syntheticSource{}
	svc, _ := newTestService(t, source, Options{Workers: 2, QueueSize: 8, Delay: 100 * time.Millisecond})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Submit(Request{TransactionID: "tx1"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := svc.Await(ctx, "tx1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), source.calls.Load())
}

func TestService_ResubmitAfterFinishRunsAgain(t *testing.T) {
	source := &syntheticSource{}
	svc, _ := newTestService(t, source, Options{Workers: 1, QueueSize: 2})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < 2; i++ {
		_, err := svc.Submit(Request{TransactionID: "tx1"})
		require.NoError(t, err)
		_, err = svc.Await(ctx, "tx1")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), source.calls.Load())
}

func TestService_CancelWritesNothing(t *testing.T) {
	source := &syntheticSource{started: make(chan string, 1), release: make(chan struct{})}
	svc, results := newTestService(t, source, Options{Workers: 1, QueueSize: 2})

	_, err := svc.Submit(Request{TransactionID: "tx1"})
	require.NoError(t, err)
	<-source.started

	assert.True(t, svc.Cancel("tx1"))
	assert.False(t, svc.Cancel("tx1"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = svc.Await(ctx, "tx1")
	assert.ErrorIs(t, err, ErrCancelled)

	st, err := svc.Status(ctx, "tx1")
	require.NoError(t, err)
	assert.Equal(t, JobCancelled, st.State)
	assert.Nil(t, st.Explanation)

	_, err = results.Get(ctx, "tx1")
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func TestService_QueueFull(t *testing.T) {
	source := &syntheticSource{started: make(chan string, 4), release: make(chan struct{})}
	svc, _ := newTestService(t, source, Options{Workers: 1, QueueSize: 1})
	defer close(source.release)

	_, err := svc.Submit(Request{TransactionID: "a"})
	require.NoError(t, err)
	<-source.started

	_, err = svc.Submit(Request{TransactionID: "b"})
	require.NoError(t, err)

	_, err = svc.Submit(Request{TransactionID: "c"})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestService_JobTimeout(t *testing.T) {
	svc, _ := newTestService(t, &syntheticSource{}, Options{Workers: 1, QueueSize: 1, JobTimeout: 20 * time.Millisecond, Delay: time.Second})

	_, err := svc.Submit(Request{TransactionID: "tx1"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = svc.Await(ctx, "tx1")
	assert.ErrorIs(t, err, ErrJobTimedOut)
}

func TestService_AwaitRespectsContext(t *testing.T) {
	svc, _ := newTestService(t, &syntheticSource{}, Options{Workers: 1, QueueSize: 1, Delay: time.Second})

	_, err := svc.Submit(Request{TransactionID: "tx1"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = svc.Await(ctx, "tx1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestService_StatusFromResultStore(t *testing.T) {
	svc, results := newTestService(t, &syntheticSource{}, Options{Workers: 1})
	ctx := context.Background()

	_, err := svc.Status(ctx, "nobody")
	assert.ErrorIs(t, err, ErrJobNotFound)

	require.NoError(t, results.Put(ctx, sampleExplanation("old")))
	st, err := svc.Status(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, JobDone, st.State)
	require.NotNil(t, st.Explanation)

	exp, err := svc.Await(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, "old", exp.TransactionID)
}

func TestService_ShutdownCancelsOutstanding(t *testing.T) {
	source := &syntheticSource{started: make(chan string, 1), release: make(chan struct{})}
	svc := NewService(source, NewAnnotator(nil, testRisk), nil, Options{Workers: 1, QueueSize: 2})

	_, err := svc.Submit(Request{TransactionID: "tx1"})
	require.NoError(t, err)
	<-source.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.Shutdown(ctx), context.DeadlineExceeded)

	st, err := svc.Status(context.Background(), "tx1")
	require.NoError(t, err)
	assert.Equal(t, JobCancelled, st.State)

	_, err = svc.Submit(Request{TransactionID: "tx2"})
	assert.ErrorIs(t, err, ErrServiceClosed)
	assert.NoError(t, svc.Shutdown(context.Background()))
}

func TestService_EndToEndWithExtractor(t *testing.T) {
	ext := extract.New(nil, extract.Options{DefaultDepth: 2, MaxDepth: 5})
	svc, _ := newTestService(t, ext, Options{Workers: 1, QueueSize: 1})

	_, err := svc.Submit(Request{TransactionID: "tx7", Depth: 2, Score: &models.Score{FraudProbability: 0.9}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	exp, err := svc.Await(ctx, "tx7")
	require.NoError(t, err)
	assert.Len(t, exp.Nodes, len(extract.Synthetic("tx7").Nodes))
	assert.Contains(t, exp.Summary, "High risk")
}
