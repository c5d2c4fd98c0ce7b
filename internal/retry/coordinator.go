// Package retry decides whether a failed analysis may run again and
// creates the follow-up attempt when it may.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cognispeech/internal/metrics"
	"cognispeech/internal/models"
	"cognispeech/internal/store"
)

// DefaultMaxAttempts caps a lineage when no ceiling is configured.
const DefaultMaxAttempts = 5

var (
	// ErrInvalidState is returned when the latest attempt of a logical
	// job is not FAILED.
	ErrInvalidState = errors.New("retry: job is not in a retryable state")

	// ErrRetryExhausted is returned when policy refuses another
	// attempt, either because the failure is marked non-retryable or
	// because the attempt ceiling was reached.
	ErrRetryExhausted = errors.New("retry: retries exhausted")
)

// Coordinator owns the FAILED to PENDING edge of the lifecycle. It
// never mutates a failed record; a granted retry is a brand new
// attempt row appended to the lineage.
type Coordinator struct {
	store       store.Store
	metrics     *metrics.Metrics
	logger      *slog.Logger
	maxAttempts int
}

// NewCoordinator creates a coordinator. A non-positive maxAttempts
// falls back to DefaultMaxAttempts.
func NewCoordinator(s store.Store, m *metrics.Metrics, logger *slog.Logger, maxAttempts int) *Coordinator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Coordinator{
		store:       s,
		metrics:     m,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

// MaxAttempts reports the configured lineage ceiling.
func (c *Coordinator) MaxAttempts() int { return c.maxAttempts }

// Retry creates the next attempt for a logical job. The latest attempt
// must be FAILED with a retryable failure, and the lineage must be
// below the attempt ceiling. Two concurrent retries of the same
// lineage are settled by the store's uniqueness guarantee on
// (logical id, attempt); the loser gets store.ErrAlreadyExists.
func (c *Coordinator) Retry(ctx context.Context, logicalID string) (*models.Job, error) {
	attempts, err := c.store.ListJobsByLogicalID(ctx, logicalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load attempt history: %w", err)
	}
	if len(attempts) == 0 {
		return nil, fmt.Errorf("logical job %s: %w", logicalID, store.ErrNotFound)
	}

	last := attempts[len(attempts)-1]
	if last.State != models.StateFailed {
		return nil, fmt.Errorf("%w: attempt %d is %s", ErrInvalidState, last.Attempt, last.State)
	}
	if last.Failure != nil && !last.Failure.Retryable {
		return nil, fmt.Errorf("%w: %s failure is not retryable", ErrRetryExhausted, last.Failure.Kind)
	}
	if last.Attempt >= c.maxAttempts {
		return nil, fmt.Errorf("%w: attempt %d reached the ceiling of %d", ErrRetryExhausted, last.Attempt, c.maxAttempts)
	}

	next := models.NewRetryAttempt(last)
	if err := c.store.CreateJob(ctx, next); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, fmt.Errorf("attempt %d already created: %w", next.Attempt, err)
		}
		return nil, fmt.Errorf("failed to create retry attempt: %w", err)
	}

	c.metrics.IncrementRetriedJobs()
	c.logger.Info("retry attempt created",
		slog.String("logical_id", logicalID),
		slog.String("job_id", next.ID),
		slog.Int("attempt", next.Attempt))
	return next, nil
}
