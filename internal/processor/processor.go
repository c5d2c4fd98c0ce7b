// Package processor defines the boundary to the analysis engine that
// extracts vocal and linguistic features from a recording. The engine is
// a black box to the coordination layer: it receives a subject reference
// and returns a report or an error.
package processor

import (
	"context"
	"errors"
	"fmt"

	"cognispeech/internal/models"
)

// Processor runs the analysis for one subject artifact. Implementations
// must tolerate re-invocation with the same subject: a retry re-runs the
// full analysis.
type Processor interface {
	Process(ctx context.Context, subjectRef string) (*models.AnalysisReport, error)
}

// Func adapts a plain function to the Processor interface.
type Func func(ctx context.Context, subjectRef string) (*models.AnalysisReport, error)

// Process calls f.
func (f Func) Process(ctx context.Context, subjectRef string) (*models.AnalysisReport, error) {
	return f(ctx, subjectRef)
}

// Error is a structured failure an engine can return to control how the
// attempt is recorded, in particular whether a further attempt can
// succeed.
type Error struct {
	Kind      models.FailureKind
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("processor: %s", e.Message)
}

// Classify maps an error from a Process call to the failure record stored
// on the FAILED attempt. Engines express permanence through Error;
// anything else is treated as retryable, with deadline and cancellation
// errors classified as timeouts.
func Classify(err error) models.FailureRecord {
	var perr *Error
	if errors.As(err, &perr) {
		return models.FailureRecord{
			Kind:      perr.Kind,
			Message:   perr.Message,
			Retryable: perr.Retryable,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.FailureRecord{
			Kind:      models.FailureTimeout,
			Message:   err.Error(),
			Retryable: true,
		}
	}
	return models.FailureRecord{
		Kind:      models.FailureProcessor,
		Message:   err.Error(),
		Retryable: true,
	}
}
