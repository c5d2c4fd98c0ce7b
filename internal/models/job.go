package models

import (
	"time"

	"github.com/google/uuid"
)

// JobState represents the lifecycle state of an analysis job
type JobState string

const (
	StatePending    JobState = "PENDING"
	StateProcessing JobState = "PROCESSING"
	StateComplete   JobState = "COMPLETE"
	StateFailed     JobState = "FAILED"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

var legalTransitions = map[JobState][]JobState{
	StatePending:    {StateProcessing},
	StateProcessing: {StateComplete, StateFailed},
}

// CanTransition reports whether a single job record may move between two
// states. FAILED to PENDING is deliberately absent: a retry appends a fresh
// attempt record instead of rewinding the failed one.
func CanTransition(from, to JobState) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Job represents one durable analysis attempt over a subject artifact.
// All attempts of the same logical request share a LogicalID.
type Job struct {
	ID             string          `json:"id" bson:"_id"`
	LogicalID      string          `json:"logical_id" bson:"logical_id"`
	SubjectRef     string          `json:"subject_ref" bson:"subject_ref"`
	IdempotencyKey string          `json:"idempotency_key,omitempty" bson:"idempotency_key,omitempty"`
	State          JobState        `json:"state" bson:"state"`
	Attempt        int             `json:"attempt" bson:"attempt"`
	Result         *AnalysisReport `json:"result,omitempty" bson:"result,omitempty"`
	Failure        *FailureRecord  `json:"failure,omitempty" bson:"failure,omitempty"`
	CreatedAt      time.Time       `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" bson:"updated_at"`
}

// NewJob builds the first attempt record for a submitted analysis.
func NewJob(subjectRef, idempotencyKey string) *Job {
	now := time.Now().UTC()
	id := uuid.New().String()
	return &Job{
		ID:             id,
		LogicalID:      id,
		SubjectRef:     subjectRef,
		IdempotencyKey: idempotencyKey,
		State:          StatePending,
		Attempt:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NewRetryAttempt builds the next attempt record for a failed logical job.
// The record gets its own id and does not inherit the submission
// idempotency key, which belongs to the original create call.
func NewRetryAttempt(prev *Job) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:         uuid.New().String(),
		LogicalID:  prev.LogicalID,
		SubjectRef: prev.SubjectRef,
		State:      StatePending,
		Attempt:    prev.Attempt + 1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a deep copy so stores can hand out jobs without sharing
// the result and failure pointers with their internal records.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Result != nil {
		r := *j.Result
		cp.Result = &r
	}
	if j.Failure != nil {
		f := *j.Failure
		cp.Failure = &f
	}
	return &cp
}

// SubmitAnalysisRequest represents a request to start an analysis
type SubmitAnalysisRequest struct {
	SubjectRef     string `json:"subject_ref"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}
