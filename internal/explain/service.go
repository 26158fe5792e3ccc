package explain

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rohankatakam/fraudgraph/internal/config"
	"github.com/rohankatakam/fraudgraph/internal/extract"
	"github.com/rohankatakam/fraudgraph/internal/models"
)

var (
	ErrQueueFull      = stderrors.New("explanation queue is full")
	ErrServiceClosed  = stderrors.New("explanation service is shut down")
	ErrJobNotFound    = stderrors.New("no explanation job for transaction")
	ErrCancelled      = stderrors.New("explanation was cancelled")
	ErrJobTimedOut    = stderrors.New("explanation timed out")
	errNoSubgraphFunc = stderrors.New("explanation service has no subgraph source")
)

// JobState is the lifecycle of one explanation job
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobDone      JobState = "done"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Finished reports whether the state is terminal
func (s JobState) Finished() bool {
	return s == JobDone || s == JobFailed || s == JobCancelled
}

// Status is a point-in-time view of a job
type Status struct {
	TransactionID string              `json:"transaction_id"`
	State         JobState            `json:"state"`
	Tier          extract.Tier        `json:"tier,omitempty"`
	SubmittedAt   time.Time           `json:"submitted_at,omitempty"`
	FinishedAt    *time.Time          `json:"finished_at,omitempty"`
	Error         string              `json:"error,omitempty"`
	Explanation   *models.Explanation `json:"explanation,omitempty"`
}

// Request asks for the explanation of one transaction. Score is optional and
// only feeds the verdict.
type Request struct {
	TransactionID string
	Depth         int
	Score         *models.Score
}

// SubgraphSource is satisfied by *extract.Extractor
type SubgraphSource interface {
	Subgraph(ctx context.Context, txID string, depth int) extract.Result
}

// Options configures the worker pool
type Options struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
	Retention  time.Duration // how long finished jobs stay queryable in memory

	// Delay stretches each job; zero in production
	Delay time.Duration
}

// OptionsFromConfig maps the explain section onto Options
func OptionsFromConfig(cfg config.ExplainConfig) Options {
	return Options{
		Workers:    cfg.Workers,
		QueueSize:  cfg.QueueSize,
		JobTimeout: cfg.JobTimeout,
		Retention:  cfg.ResultTTL,
	}
}

type job struct {
	req         Request
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	submittedAt time.Time

	mu         sync.Mutex
	state      JobState
	tier       extract.Tier
	result     *models.Explanation
	err        error
	finishedAt time.Time
}

func (j *job) setRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != JobPending {
		return false
	}
	j.state = JobRunning
	return true
}

// finish moves the job to a terminal state once; later calls lose
func (j *job) finish(state JobState, result *models.Explanation, err error) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Finished() {
		return false
	}
	j.state, j.result, j.err = state, result, err
	j.finishedAt = time.Now()
	close(j.done)
	return true
}

func (j *job) status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := Status{
		TransactionID: j.req.TransactionID,
		State:         j.state,
		Tier:          j.tier,
		SubmittedAt:   j.submittedAt,
		Explanation:   j.result,
	}
	if j.err != nil {
		st.Error = j.err.Error()
	}
	if !j.finishedAt.IsZero() {
		at := j.finishedAt
		st.FinishedAt = &at
	}
	return st
}

// Service runs explanations off the caller's path on a fixed worker pool.
// A transaction has at most one unfinished job; resubmitting it returns the
// existing one.
type Service struct {
	source    SubgraphSource
	annotator *Annotator
	results   ResultStore
	opts      Options
	logger    *slog.Logger

	queue  chan *job
	flight singleflight.Group
	wg     sync.WaitGroup

	mu     sync.Mutex
	jobs   map[string]*job
	closed bool
}

// NewService starts the workers. results may be nil for a memory store.
func NewService(source SubgraphSource, annotator *Annotator, results ResultStore, opts Options) *Service {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = opts.Workers
	}
	if results == nil {
		results = NewMemoryResults(opts.Retention)
	}

	s := &Service{
		source:    source,
		annotator: annotator,
		results:   results,
		opts:      opts,
		logger:    slog.Default().With("component", "explain"),
		queue:     make(chan *job, opts.QueueSize),
		jobs:      make(map[string]*job),
	}

	for i := 0; i < opts.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Submit enqueues an explanation and returns its current status immediately
func (s *Service) Submit(req Request) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Status{}, ErrServiceClosed
	}
	s.prune()

	if existing, ok := s.jobs[req.TransactionID]; ok {
		if st := existing.status(); !st.State.Finished() {
			return st, nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		req:         req,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		submittedAt: time.Now(),
		state:       JobPending,
	}

	select {
	case s.queue <- j:
	default:
		cancel()
		return Status{}, ErrQueueFull
	}

	s.jobs[req.TransactionID] = j
	s.logger.Debug("explanation submitted", "transaction_id", req.TransactionID, "depth", req.Depth)
	return j.status(), nil
}

// prune drops finished jobs past their retention; caller holds s.mu
func (s *Service) prune() {
	if s.opts.Retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.opts.Retention)
	for id, j := range s.jobs {
		st := j.status()
		if st.FinishedAt != nil && st.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
		}
	}
}

func (s *Service) lookup(txID string) (*job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[txID]
	return j, ok
}

// Status reports the job for txID, falling back to the result store
func (s *Service) Status(ctx context.Context, txID string) (Status, error) {
	if j, ok := s.lookup(txID); ok {
		return j.status(), nil
	}

	exp, err := s.stored(ctx, txID)
	if err != nil {
		return Status{}, err
	}
	return Status{TransactionID: txID, State: JobDone, Explanation: &exp}, nil
}

// Await blocks until the job for txID finishes or ctx ends
func (s *Service) Await(ctx context.Context, txID string) (models.Explanation, error) {
	j, ok := s.lookup(txID)
	if !ok {
		return s.stored(ctx, txID)
	}

	select {
	case <-j.done:
	case <-ctx.Done():
		return models.Explanation{}, ctx.Err()
	}

	st := j.status()
	if st.State != JobDone {
		j.mu.Lock()
		err := j.err
		j.mu.Unlock()
		return models.Explanation{}, err
	}
	return *st.Explanation, nil
}

// stored reads a finished result; concurrent reads of one id share a lookup
func (s *Service) stored(ctx context.Context, txID string) (models.Explanation, error) {
	v, err, _ := s.flight.Do(txID, func() (any, error) {
		return s.results.Get(ctx, txID)
	})
	if err != nil {
		if stderrors.Is(err, ErrResultNotFound) {
			return models.Explanation{}, ErrJobNotFound
		}
		return models.Explanation{}, err
	}
	return v.(models.Explanation), nil
}

// Cancel abandons an unfinished job. It reports whether anything was cancelled.
func (s *Service) Cancel(txID string) bool {
	j, ok := s.lookup(txID)
	if !ok {
		return false
	}
	if !j.finish(JobCancelled, nil, ErrCancelled) {
		return false
	}
	j.cancel()
	s.logger.Info("explanation cancelled", "transaction_id", txID)
	return true
}

func (s *Service) worker() {
	defer s.wg.Done()
	for j := range s.queue {
		s.run(j)
	}
}

func (s *Service) run(j *job) {
	defer j.cancel()
	if !j.setRunning() {
		return
	}

	ctx := j.ctx
	if s.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.JobTimeout)
		defer cancel()
	}

	txID := j.req.TransactionID
	start := time.Now()

	if s.source == nil {
		j.finish(JobFailed, nil, errNoSubgraphFunc)
		return
	}
	res := s.source.Subgraph(ctx, txID, j.req.Depth)
	j.mu.Lock()
	j.tier = res.Tier
	j.mu.Unlock()

	if s.opts.Delay > 0 {
		timer := time.NewTimer(s.opts.Delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	exp := s.annotator.Annotate(ctx, txID, res.Subgraph, j.req.Score)

	if err := ctx.Err(); err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) && j.ctx.Err() == nil {
			j.finish(JobFailed, nil, ErrJobTimedOut)
			s.logger.Warn("explanation timed out", "transaction_id", txID, "timeout", s.opts.JobTimeout)
			return
		}
		j.finish(JobCancelled, nil, ErrCancelled)
		return
	}

	if !j.finish(JobDone, &exp, nil) {
		return
	}

	if err := s.results.Put(context.Background(), exp); err != nil {
		s.logger.Warn("failed to persist explanation", "transaction_id", txID, "error", err)
	}
	s.logger.Info("explanation finished",
		"transaction_id", txID,
		"tier", res.Tier,
		"degraded", exp.Degraded,
		"duration", time.Since(start),
	)
}

// Shutdown stops accepting jobs and waits for the workers. When ctx ends
// first, outstanding jobs are cancelled.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		s.cancelAll()
		<-done
		err = ctx.Err()
	}

	if cerr := s.results.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (s *Service) cancelAll() {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	for _, j := range jobs {
		if j.finish(JobCancelled, nil, ErrCancelled) {
			j.cancel()
		}
	}
}
