// Package service fronts the job store for the HTTP layer:
// submissions with idempotency, status reads, lineage history, and
// retry requests.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cognispeech/internal/metrics"
	"cognispeech/internal/models"
	"cognispeech/internal/retry"
	"cognispeech/internal/store"
)

// ErrRateLimitExceeded is returned when a subject submits faster than
// the configured window allows.
var ErrRateLimitExceeded = errors.New("submission rate limit exceeded")

// AnalysisService handles analysis submission and query logic.
type AnalysisService struct {
	store   store.Store
	limiter *SubmissionLimiter
	retries *retry.Coordinator
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewAnalysisService creates a new analysis service.
func NewAnalysisService(s store.Store, limiter *SubmissionLimiter, retries *retry.Coordinator, m *metrics.Metrics, logger *slog.Logger) *AnalysisService {
	return &AnalysisService{
		store:   s,
		limiter: limiter,
		retries: retries,
		metrics: m,
		logger:  logger,
	}
}

// Submit creates a PENDING job for the subject artifact. A request
// carrying an idempotency key returns the previously created job when
// the key was seen before, whichever replica handled the first
// request.
func (s *AnalysisService) Submit(ctx context.Context, req *models.SubmitAnalysisRequest) (*models.Job, error) {
	if err := s.limiter.Allow(ctx, req.SubjectRef); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.store.GetJobByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			s.logger.Info("duplicate submission",
				slog.String("job_id", existing.ID),
				slog.String("idempotency_key", req.IdempotencyKey))
			return existing, nil
		}
	}

	job := models.NewJob(req.SubjectRef, req.IdempotencyKey)
	if err := s.store.CreateJob(ctx, job); err != nil {
		// Two replicas can pass the lookup with the same key; the
		// store's unique index settles it and the loser re-reads.
		if errors.Is(err, store.ErrAlreadyExists) && req.IdempotencyKey != "" {
			existing, fetchErr := s.store.GetJobByIdempotencyKey(ctx, req.IdempotencyKey)
			if fetchErr != nil {
				return nil, fmt.Errorf("failed to fetch existing job: %w", fetchErr)
			}
			if existing != nil {
				s.logger.Info("duplicate submission settled by store",
					slog.String("job_id", existing.ID),
					slog.String("idempotency_key", req.IdempotencyKey))
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.metrics.IncrementSubmittedJobs()
	s.logger.Info("analysis submitted",
		slog.String("job_id", job.ID),
		slog.String("subject_ref", job.SubjectRef))
	return job, nil
}

// GetJob retrieves one attempt record by id.
func (s *AnalysisService) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.store.GetJobByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// History returns every attempt of the logical job the given attempt
// belongs to, oldest first.
func (s *AnalysisService) History(ctx context.Context, id string) ([]*models.Job, error) {
	job, err := s.store.GetJobByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	attempts, err := s.store.ListJobsByLogicalID(ctx, job.LogicalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	return attempts, nil
}

// Retry requests the next attempt for the logical job the given
// attempt belongs to. Any attempt id of the lineage may be passed.
func (s *AnalysisService) Retry(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.store.GetJobByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return s.retries.Retry(ctx, job.LogicalID)
}

// ListJobsByState retrieves jobs in one state, oldest first.
func (s *AnalysisService) ListJobsByState(ctx context.Context, state models.JobState, limit int) ([]*models.Job, error) {
	jobs, err := s.store.ListJobsByState(ctx, state, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// CountJobsByState reports the backlog depth per state.
func (s *AnalysisService) CountJobsByState(ctx context.Context) (map[models.JobState]int64, error) {
	counts, err := s.store.CountJobsByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	return counts, nil
}
