package store_test

import (
	"context"
	"errors"
	"testing"

	"cognispeech/internal/events"
	"cognispeech/internal/models"
	"cognispeech/internal/store"
)

func TestEvented_PublishesSuccessfulTransitions(t *testing.T) {
	bus := events.NewBus(16)
	s := store.NewEvented(store.NewMemory(), bus)
	ctx := context.Background()

	job := models.NewJob("rec-1", "")
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if _, err := s.Transition(ctx, job.ID, models.StatePending, models.StateProcessing, store.Change{}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	failure := &models.FailureRecord{Kind: models.FailureProcessor, Message: "boom", Retryable: true}
	if _, err := s.Transition(ctx, job.ID, models.StateProcessing, models.StateFailed, store.Change{Failure: failure}); err != nil {
		t.Fatalf("fail: %v", err)
	}

	got := bus.Since(0)
	if len(got) != 2 {
		t.Fatalf("published %d events, want 2", len(got))
	}
	if got[0].From != models.StatePending || got[0].To != models.StateProcessing {
		t.Errorf("first event %s->%s, want PENDING->PROCESSING", got[0].From, got[0].To)
	}
	if got[1].From != models.StateProcessing || got[1].To != models.StateFailed {
		t.Errorf("second event %s->%s, want PROCESSING->FAILED", got[1].From, got[1].To)
	}
	if got[0].JobID != job.ID || got[0].LogicalID != job.LogicalID || got[0].Attempt != 1 {
		t.Errorf("event identity = %+v, want job %s attempt 1", got[0], job.ID)
	}
}

func TestEvented_SilentOnLostRace(t *testing.T) {
	bus := events.NewBus(16)
	s := store.NewEvented(store.NewMemory(), bus)
	ctx := context.Background()

	job := models.NewJob("rec-1", "")
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := s.Transition(ctx, job.ID, models.StatePending, models.StateProcessing, store.Change{}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	before := len(bus.Since(0))

	_, err := s.Transition(ctx, job.ID, models.StatePending, models.StateProcessing, store.Change{})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("second claim error = %v, want ErrConflict", err)
	}
	if _, err := s.Transition(ctx, job.ID, models.StateProcessing, models.StateComplete, store.Change{}); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("payloadless complete error = %v, want ErrInvalidTransition", err)
	}

	if after := len(bus.Since(0)); after != before {
		t.Errorf("failed transitions published %d events", after-before)
	}
}
