package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cognispeech/internal/models"
)

// Memory is a fully in-memory Store. Safe for concurrent use; intended
// for tests and single-process development setups.
type Memory struct {
	mu sync.RWMutex

	jobs     map[string]*models.Job
	byKey    map[string]string         // idempotency key -> job id
	attempts map[string]map[int]string // logical id -> attempt -> job id
}

var _ Store = (*Memory)(nil)

// NewMemory returns a new empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:     make(map[string]*models.Job),
		byKey:    make(map[string]string),
		attempts: make(map[string]map[int]string),
	}
}

// Ping always succeeds for the memory store.
func (m *Memory) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Memory) Close() error { return nil }

// CreateJob persists a new attempt record.
func (m *Memory) CreateJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[job.ID]; exists {
		return fmt.Errorf("%w: id %s", ErrAlreadyExists, job.ID)
	}
	if job.IdempotencyKey != "" {
		if _, exists := m.byKey[job.IdempotencyKey]; exists {
			return fmt.Errorf("%w: idempotency key %s", ErrAlreadyExists, job.IdempotencyKey)
		}
	}
	if byAttempt := m.attempts[job.LogicalID]; byAttempt != nil {
		if _, exists := byAttempt[job.Attempt]; exists {
			return fmt.Errorf("%w: attempt %d of logical job %s", ErrAlreadyExists, job.Attempt, job.LogicalID)
		}
	}

	m.jobs[job.ID] = job.Clone()
	if job.IdempotencyKey != "" {
		m.byKey[job.IdempotencyKey] = job.ID
	}
	if m.attempts[job.LogicalID] == nil {
		m.attempts[job.LogicalID] = make(map[int]string)
	}
	m.attempts[job.LogicalID][job.Attempt] = job.ID
	return nil
}

// GetJobByID retrieves a job by id.
func (m *Memory) GetJobByID(_ context.Context, id string) (*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return job.Clone(), nil
}

// GetJobByIdempotencyKey retrieves the job created under key, or
// (nil, nil) when no such submission exists.
func (m *Memory) GetJobByIdempotencyKey(_ context.Context, key string) (*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byKey[key]
	if !ok {
		return nil, nil
	}
	return m.jobs[id].Clone(), nil
}

// Transition atomically applies a compare-and-set state change.
func (m *Memory) Transition(_ context.Context, id string, expected, next models.JobState, change Change) (*models.Job, error) {
	if err := ValidateTransition(expected, next, change); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if job.State != expected {
		return nil, fmt.Errorf("%w: job %s is %s, expected %s", ErrConflict, id, job.State, expected)
	}

	job.State = next
	if change.Result != nil {
		r := *change.Result
		job.Result = &r
	}
	if change.Failure != nil {
		f := *change.Failure
		job.Failure = &f
	}
	job.UpdatedAt = time.Now().UTC()

	return job.Clone(), nil
}

// ListJobsByState returns jobs in the given state, oldest first.
func (m *Memory) ListJobsByState(_ context.Context, state models.JobState, limit int) ([]*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*models.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if job.State != state {
			continue
		}
		result = append(result, job.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListJobsByLogicalID returns every attempt of a logical job in ascending
// attempt order.
func (m *Memory) ListJobsByLogicalID(_ context.Context, logicalID string) ([]*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byAttempt := m.attempts[logicalID]
	result := make([]*models.Job, 0, len(byAttempt))
	for _, id := range byAttempt {
		result = append(result, m.jobs[id].Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].Attempt < result[k].Attempt
	})
	return result, nil
}

// CountJobsByState returns the number of jobs per state.
func (m *Memory) CountJobsByState(_ context.Context) (map[models.JobState]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[models.JobState]int64)
	for _, job := range m.jobs {
		counts[job.State]++
	}
	return counts, nil
}
