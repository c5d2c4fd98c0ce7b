package store

import (
	"context"
	"errors"
	"fmt"

	"cognispeech/internal/models"
)

var (
	// ErrNotFound is returned when no job exists for the given id.
	ErrNotFound = errors.New("store: job not found")
	// ErrConflict is returned when a transition loses its compare-and-set
	// race: the job's current state no longer matches the expected state.
	// The job is left untouched.
	ErrConflict = errors.New("store: conflicting state")
	// ErrAlreadyExists is returned when a create collides with an existing
	// id, idempotency key, or (logical id, attempt) pair.
	ErrAlreadyExists = errors.New("store: job already exists")
	// ErrInvalidTransition is returned when the requested edge or its
	// payload violates the state machine, regardless of the job's current
	// state.
	ErrInvalidTransition = errors.New("store: invalid transition")
)

// Change carries the payload attached by a transition. Exactly one field
// is set for a terminal transition, none otherwise.
type Change struct {
	Result  *models.AnalysisReport
	Failure *models.FailureRecord
}

// Store defines the interface for analysis job persistence. It is the
// single source of truth for job state: all writes go through CreateJob
// and the atomic Transition, so per-job histories are totally ordered
// without any external locking.
type Store interface {
	// CreateJob persists a new attempt record exactly as constructed.
	CreateJob(ctx context.Context, job *models.Job) error

	// GetJobByID returns the job or ErrNotFound.
	GetJobByID(ctx context.Context, id string) (*models.Job, error)

	// GetJobByIdempotencyKey returns the job created under key, or
	// (nil, nil) when no such submission exists.
	GetJobByIdempotencyKey(ctx context.Context, key string) (*models.Job, error)

	// Transition atomically moves the job from expected to next and
	// attaches the change payload, returning the updated job. It fails
	// with ErrConflict and no mutation when the current state differs
	// from expected.
	Transition(ctx context.Context, id string, expected, next models.JobState, change Change) (*models.Job, error)

	// ListJobsByState returns jobs in the given state ordered by
	// creation time ascending. A limit of 0 means no limit.
	ListJobsByState(ctx context.Context, state models.JobState, limit int) ([]*models.Job, error)

	// ListJobsByLogicalID returns every attempt of a logical job in
	// ascending attempt order. The slice is empty when the logical id
	// is unknown.
	ListJobsByLogicalID(ctx context.Context, logicalID string) ([]*models.Job, error)

	// CountJobsByState returns the number of jobs per state.
	CountJobsByState(ctx context.Context) (map[models.JobState]int64, error)

	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// ValidateTransition checks edge legality and payload coherence before any
// backend applies a transition: a job may carry a result only in COMPLETE
// and a failure only in FAILED, never both.
func ValidateTransition(expected, next models.JobState, change Change) error {
	if !models.CanTransition(expected, next) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, expected, next)
	}
	switch next {
	case models.StateComplete:
		if change.Result == nil {
			return fmt.Errorf("%w: transition to %s requires a result", ErrInvalidTransition, next)
		}
		if change.Failure != nil {
			return fmt.Errorf("%w: transition to %s cannot carry a failure", ErrInvalidTransition, next)
		}
	case models.StateFailed:
		if change.Failure == nil {
			return fmt.Errorf("%w: transition to %s requires a failure", ErrInvalidTransition, next)
		}
		if change.Result != nil {
			return fmt.Errorf("%w: transition to %s cannot carry a result", ErrInvalidTransition, next)
		}
	default:
		if change.Result != nil || change.Failure != nil {
			return fmt.Errorf("%w: transition to %s carries no payload", ErrInvalidTransition, next)
		}
	}
	return nil
}
