package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cognispeech/internal/metrics"
	"cognispeech/internal/models"
	"cognispeech/internal/store"
)

// SweepConfig controls the staleness sweep.
type SweepConfig struct {
	// Interval is how often the sweep runs.
	Interval time.Duration
	// Timeout is how long a job may sit in PROCESSING without an
	// update before it is considered abandoned. It should comfortably
	// exceed the pool's ProcessTimeout.
	Timeout time.Duration
}

// DefaultSweepConfig returns the sweep settings used when a field is
// left zero.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Interval: 30 * time.Second,
		Timeout:  5 * time.Minute,
	}
}

// Sweeper forces abandoned PROCESSING jobs to FAILED with a retryable
// timeout failure, so the usual retry path can pick them back up after
// a runner crash.
type Sweeper struct {
	store   store.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	cfg     SweepConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewSweeper creates a sweeper. Zero config fields fall back to
// DefaultSweepConfig values.
func NewSweeper(s store.Store, m *metrics.Metrics, logger *slog.Logger, cfg SweepConfig) *Sweeper {
	def := DefaultSweepConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Sweeper{
		store:   s,
		metrics: m,
		logger:  logger,
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the periodic sweep. Calling Start on a running
// sweeper is a no-op.
func (s *Sweeper) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true

	s.wg.Add(1)
	go s.loop()
	s.logger.Info("staleness sweeper started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Duration("timeout", s.cfg.Timeout))
	return nil
}

// Stop signals the sweep loop and waits for it to exit, up to the
// context deadline.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("staleness sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.Sweep(context.Background()); err != nil {
				s.logger.Error("sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep fails every PROCESSING job not touched within the timeout,
// returning how many were reclaimed. Jobs whose runner finishes
// between the scan and the transition are left alone.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	stuck, err := s.store.ListJobsByState(ctx, models.StateProcessing, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list processing jobs: %w", err)
	}

	cutoff := time.Now().UTC().Add(-s.cfg.Timeout)
	swept := 0
	for _, job := range stuck {
		if job.UpdatedAt.After(cutoff) {
			continue
		}
		failure := &models.FailureRecord{
			Kind:      models.FailureTimeout,
			Message:   fmt.Sprintf("processing stalled for more than %s", s.cfg.Timeout),
			Retryable: true,
		}
		if _, err := s.store.Transition(ctx, job.ID, models.StateProcessing, models.StateFailed, store.Change{Failure: failure}); err != nil {
			if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
				// The runner finished after all.
				continue
			}
			s.logger.Error("failed to reclaim stale job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()))
			continue
		}
		swept++
		s.metrics.IncrementSweptJobs()
		s.logger.Warn("reclaimed stale job",
			slog.String("job_id", job.ID),
			slog.Int("attempt", job.Attempt))
	}
	return swept, nil
}
