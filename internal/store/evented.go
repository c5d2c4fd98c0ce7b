package store

import (
	"context"

	"cognispeech/internal/events"
	"cognispeech/internal/models"
)

// Evented wraps a Store and publishes an event for every successful
// transition. Failed compare-and-sets and rejected transitions publish
// nothing, so the feed only ever shows state changes that happened.
type Evented struct {
	Store
	bus *events.Bus
}

var _ Store = (*Evented)(nil)

// NewEvented decorates inner with transition event publication on bus.
func NewEvented(inner Store, bus *events.Bus) *Evented {
	return &Evented{Store: inner, bus: bus}
}

// Transition applies the inner transition and, on success, records it.
func (e *Evented) Transition(ctx context.Context, id string, expected, next models.JobState, change Change) (*models.Job, error) {
	job, err := e.Store.Transition(ctx, id, expected, next, change)
	if err != nil {
		return nil, err
	}

	e.bus.Publish(events.Event{
		JobID:     job.ID,
		LogicalID: job.LogicalID,
		Attempt:   job.Attempt,
		From:      expected,
		To:        job.State,
	})
	return job, nil
}
