// Package runner hosts the background workers that drive analysis
// jobs to a terminal state: a Pool that claims PENDING jobs and runs
// them through a processor, and a Sweeper that reclaims jobs stuck in
// PROCESSING.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"cognispeech/internal/metrics"
	"cognispeech/internal/models"
	"cognispeech/internal/processor"
	"cognispeech/internal/store"
)

// Config controls the claim pool.
type Config struct {
	// Concurrency is the number of claim loops run in parallel.
	Concurrency int
	// PollInterval is how long a claim loop sleeps after finding no
	// claimable work.
	PollInterval time.Duration
	// BatchSize caps how many PENDING jobs a single backlog scan
	// considers.
	BatchSize int
	// ProcessTimeout bounds a single processor invocation.
	ProcessTimeout time.Duration
}

// DefaultConfig returns the pool settings used when a field is left
// zero.
func DefaultConfig() Config {
	return Config{
		Concurrency:    4,
		PollInterval:   time.Second,
		BatchSize:      16,
		ProcessTimeout: 2 * time.Minute,
	}
}

// Pool claims PENDING jobs and runs them through a processor. Every
// state change goes through the store's conditional transition, so any
// number of pools can share one backlog; losing a claim race is
// expected and counted, never treated as an error.
type Pool struct {
	store     store.Store
	processor processor.Processor
	metrics   *metrics.Metrics
	logger    *slog.Logger
	cfg       Config

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewPool creates a pool. Zero config fields fall back to
// DefaultConfig values.
func NewPool(s store.Store, proc processor.Processor, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Pool {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = def.ProcessTimeout
	}
	return &Pool{
		store:     s,
		processor: proc,
		metrics:   m,
		logger:    logger,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the claim loops. Calling Start on a running pool is a
// no-op.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	p.running = true

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.claimLoop()
	}
	p.logger.Info("runner pool started", slog.Int("concurrency", p.cfg.Concurrency))
	return nil
}

// Stop signals the claim loops and waits for in-flight jobs to finish,
// up to the context deadline. A job interrupted by an expired deadline
// stays PROCESSING until the sweeper reclaims it.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("runner pool stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) claimLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		if !p.runOnce(context.Background()) {
			p.sleep()
		}
	}
}

// sleep waits out the poll interval unless the pool is stopped first.
func (p *Pool) sleep() {
	select {
	case <-time.After(p.cfg.PollInterval):
	case <-p.stopCh:
	}
}

// runOnce claims and processes at most one job, reporting whether a
// job was run.
func (p *Pool) runOnce(ctx context.Context) bool {
	pending, err := p.store.ListJobsByState(ctx, models.StatePending, p.cfg.BatchSize)
	if err != nil {
		p.logger.Error("failed to scan for pending jobs", slog.String("error", err.Error()))
		return false
	}

	for _, candidate := range pending {
		claimed, err := p.store.Transition(ctx, candidate.ID, models.StatePending, models.StateProcessing, store.Change{})
		if err != nil {
			if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
				// Lost the race to another runner.
				p.metrics.IncrementClaimLosses()
				continue
			}
			p.logger.Error("failed to claim job",
				slog.String("job_id", candidate.ID),
				slog.String("error", err.Error()))
			continue
		}
		p.process(ctx, claimed)
		return true
	}
	return false
}

func (p *Pool) process(ctx context.Context, job *models.Job) {
	p.logger.Info("job claimed",
		slog.String("job_id", job.ID),
		slog.String("subject_ref", job.SubjectRef),
		slog.Int("attempt", job.Attempt))

	procCtx, cancel := context.WithTimeout(ctx, p.cfg.ProcessTimeout)
	report, err := p.processor.Process(procCtx, job.SubjectRef)
	cancel()

	if err != nil {
		p.recordFailure(ctx, job, err)
		return
	}
	p.recordSuccess(ctx, job, report)
}

func (p *Pool) recordSuccess(ctx context.Context, job *models.Job, report *models.AnalysisReport) {
	if _, err := p.store.Transition(ctx, job.ID, models.StateProcessing, models.StateComplete, store.Change{Result: report}); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// The sweeper reclaimed the job while it was running.
			p.logger.Warn("job no longer ours, dropping result", slog.String("job_id", job.ID))
			return
		}
		p.logger.Error("failed to record result",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
		return
	}
	p.metrics.IncrementCompletedJobs()
	p.logger.Info("job completed",
		slog.String("job_id", job.ID),
		slog.Int("attempt", job.Attempt))
}

func (p *Pool) recordFailure(ctx context.Context, job *models.Job, procErr error) {
	failure := processor.Classify(procErr)
	if _, err := p.store.Transition(ctx, job.ID, models.StateProcessing, models.StateFailed, store.Change{Failure: &failure}); err != nil {
		if errors.Is(err, store.ErrConflict) {
			p.logger.Warn("job no longer ours, dropping failure", slog.String("job_id", job.ID))
			return
		}
		p.logger.Error("failed to record failure",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
		return
	}
	p.metrics.IncrementFailedJobs()
	p.logger.Info("job failed",
		slog.String("job_id", job.ID),
		slog.Int("attempt", job.Attempt),
		slog.String("kind", string(failure.Kind)),
		slog.Bool("retryable", failure.Retryable),
		slog.String("error", failure.Message))
}
