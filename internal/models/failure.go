package models

// FailureKind classifies why an attempt failed
type FailureKind string

const (
	FailureTimeout   FailureKind = "TIMEOUT"
	FailureProcessor FailureKind = "PROCESSOR_FAILURE"
)

// FailureRecord describes the failure attached to a FAILED job. Retryable
// tells the retry coordinator whether a further attempt can succeed.
type FailureRecord struct {
	Kind      FailureKind `json:"kind" bson:"kind"`
	Message   string      `json:"message" bson:"message"`
	Retryable bool        `json:"retryable" bson:"retryable"`
}
