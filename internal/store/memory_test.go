package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cognispeech/internal/models"
	"cognispeech/internal/store"
)

func TestMemory_CreateAndGet(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	job := models.NewJob("rec-1", "")
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err := s.GetJobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJobByID: %v", err)
	}
	if got.ID != job.ID || got.State != models.StatePending || got.Attempt != 1 {
		t.Errorf("got %+v, want pending attempt 1 with id %s", got, job.ID)
	}

	if _, err := s.GetJobByID(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetJobByID(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMemory_CreateDuplicates(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	job := models.NewJob("rec-1", "key-1")
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := s.CreateJob(ctx, job); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("duplicate id error = %v, want ErrAlreadyExists", err)
	}

	dupKey := models.NewJob("rec-2", "key-1")
	if err := s.CreateJob(ctx, dupKey); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("duplicate idempotency key error = %v, want ErrAlreadyExists", err)
	}

	dupAttempt := models.NewJob("rec-1", "")
	dupAttempt.LogicalID = job.LogicalID
	dupAttempt.Attempt = 1
	if err := s.CreateJob(ctx, dupAttempt); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("duplicate attempt error = %v, want ErrAlreadyExists", err)
	}

	// Jobs without a key never collide on the key index.
	if err := s.CreateJob(ctx, models.NewJob("rec-3", "")); err != nil {
		t.Errorf("keyless create error = %v, want nil", err)
	}
	if err := s.CreateJob(ctx, models.NewJob("rec-4", "")); err != nil {
		t.Errorf("second keyless create error = %v, want nil", err)
	}
}

func TestMemory_GetJobByIdempotencyKey(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	got, err := s.GetJobByIdempotencyKey(ctx, "nope")
	if err != nil || got != nil {
		t.Errorf("unknown key = (%v, %v), want (nil, nil)", got, err)
	}

	job := models.NewJob("rec-1", "key-1")
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err = s.GetJobByIdempotencyKey(ctx, "key-1")
	if err != nil {
		t.Fatalf("GetJobByIdempotencyKey: %v", err)
	}
	if got == nil || got.ID != job.ID {
		t.Errorf("got %+v, want job %s", got, job.ID)
	}
}

func TestMemory_TransitionLifecycle(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	job := models.NewJob("rec-1", "")
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	claimed, err := s.Transition(ctx, job.ID, models.StatePending, models.StateProcessing, store.Change{})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.State != models.StateProcessing {
		t.Errorf("state = %s, want PROCESSING", claimed.State)
	}
	if claimed.Result != nil || claimed.Failure != nil {
		t.Error("non-terminal job must carry neither result nor failure")
	}

	report := &models.AnalysisReport{MeanPitchHz: 120.5}
	done, err := s.Transition(ctx, job.ID, models.StateProcessing, models.StateComplete, store.Change{Result: report})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.State != models.StateComplete {
		t.Errorf("state = %s, want COMPLETE", done.State)
	}
	if done.Result == nil || done.Result.MeanPitchHz != 120.5 {
		t.Errorf("result = %+v, want mean pitch 120.5", done.Result)
	}
	if done.Failure != nil {
		t.Error("completed job must not carry a failure")
	}
	if !done.UpdatedAt.After(job.UpdatedAt) && !done.UpdatedAt.Equal(job.UpdatedAt) {
		t.Errorf("updated_at went backwards: %v -> %v", job.UpdatedAt, done.UpdatedAt)
	}
}

func TestMemory_TransitionConflictLeavesJobUntouched(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	job := models.NewJob("rec-1", "")
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := s.Transition(ctx, job.ID, models.StatePending, models.StateProcessing, store.Change{}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	_, err := s.Transition(ctx, job.ID, models.StatePending, models.StateProcessing, store.Change{})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("second claim error = %v, want ErrConflict", err)
	}

	got, err := s.GetJobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJobByID: %v", err)
	}
	if got.State != models.StateProcessing {
		t.Errorf("state after lost race = %s, want PROCESSING", got.State)
	}
}

func TestMemory_TransitionUnknownJob(t *testing.T) {
	s := store.NewMemory()
	_, err := s.Transition(context.Background(), "missing", models.StatePending, models.StateProcessing, store.Change{})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestMemory_TransitionRejectsIllegalEdges(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	job := models.NewJob("rec-1", "")
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	report := &models.AnalysisReport{MeanPitchHz: 1}
	failure := &models.FailureRecord{Kind: models.FailureProcessor, Message: "x", Retryable: true}

	cases := []struct {
		name     string
		expected models.JobState
		next     models.JobState
		change   store.Change
	}{
		{"pending to complete", models.StatePending, models.StateComplete, store.Change{Result: report}},
		{"pending to failed", models.StatePending, models.StateFailed, store.Change{Failure: failure}},
		{"failed to pending", models.StateFailed, models.StatePending, store.Change{}},
		{"complete to processing", models.StateComplete, models.StateProcessing, store.Change{}},
		{"complete without result", models.StateProcessing, models.StateComplete, store.Change{}},
		{"complete with failure", models.StateProcessing, models.StateComplete, store.Change{Result: report, Failure: failure}},
		{"failed without failure", models.StateProcessing, models.StateFailed, store.Change{}},
		{"failed with result", models.StateProcessing, models.StateFailed, store.Change{Result: report, Failure: failure}},
		{"claim with payload", models.StatePending, models.StateProcessing, store.Change{Result: report}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := s.Transition(ctx, job.ID, c.expected, c.next, c.change); !errors.Is(err, store.ErrInvalidTransition) {
				t.Errorf("error = %v, want ErrInvalidTransition", err)
			}
		})
	}

	// The job must be untouched by the rejected requests.
	got, err := s.GetJobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJobByID: %v", err)
	}
	if got.State != models.StatePending || got.Result != nil || got.Failure != nil {
		t.Errorf("job mutated by rejected transitions: %+v", got)
	}
}

func TestMemory_ConcurrentClaimHasOneWinner(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	job := models.NewJob("rec-1", "")
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	const racers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Transition(ctx, job.ID, models.StatePending, models.StateProcessing, store.Change{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, store.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("winners = %d, want exactly 1", wins)
	}
	if conflicts != racers-1 {
		t.Errorf("conflicts = %d, want %d", conflicts, racers-1)
	}
}

func TestMemory_ListJobsByState(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		job := models.NewJob("rec", "")
		job.CreatedAt = time.Date(2024, 1, 1, 0, i, 0, 0, time.UTC)
		if err := s.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		ids = append(ids, job.ID)
	}

	got, err := s.ListJobsByState(ctx, models.StatePending, 0)
	if err != nil {
		t.Fatalf("ListJobsByState: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, job := range got {
		if job.ID != ids[i] {
			t.Errorf("position %d = %s, want %s (created_at order)", i, job.ID, ids[i])
		}
	}

	limited, err := s.ListJobsByState(ctx, models.StatePending, 2)
	if err != nil {
		t.Fatalf("ListJobsByState limited: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != ids[0] {
		t.Errorf("limited list = %d jobs starting %s, want 2 starting %s", len(limited), limited[0].ID, ids[0])
	}

	empty, err := s.ListJobsByState(ctx, models.StateComplete, 0)
	if err != nil {
		t.Fatalf("ListJobsByState complete: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("complete list = %d jobs, want 0", len(empty))
	}
}

func TestMemory_ListJobsByLogicalIDOrdersAttempts(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	first := models.NewJob("rec-1", "")
	if err := s.CreateJob(ctx, first); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	second := models.NewRetryAttempt(first)
	third := models.NewRetryAttempt(second)
	// Insert out of order to prove the store sorts.
	if err := s.CreateJob(ctx, third); err != nil {
		t.Fatalf("CreateJob third: %v", err)
	}
	if err := s.CreateJob(ctx, second); err != nil {
		t.Fatalf("CreateJob second: %v", err)
	}

	got, err := s.ListJobsByLogicalID(ctx, first.LogicalID)
	if err != nil {
		t.Fatalf("ListJobsByLogicalID: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, job := range got {
		if job.Attempt != i+1 {
			t.Errorf("position %d attempt = %d, want %d", i, job.Attempt, i+1)
		}
	}

	none, err := s.ListJobsByLogicalID(ctx, "unknown")
	if err != nil {
		t.Fatalf("ListJobsByLogicalID unknown: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("unknown logical id returned %d jobs, want 0", len(none))
	}
}

func TestMemory_CountJobsByState(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	a := models.NewJob("rec-a", "")
	b := models.NewJob("rec-b", "")
	c := models.NewJob("rec-c", "")
	for _, job := range []*models.Job{a, b, c} {
		if err := s.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}
	if _, err := s.Transition(ctx, a.ID, models.StatePending, models.StateProcessing, store.Change{}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	counts, err := s.CountJobsByState(ctx)
	if err != nil {
		t.Fatalf("CountJobsByState: %v", err)
	}
	if counts[models.StatePending] != 2 || counts[models.StateProcessing] != 1 {
		t.Errorf("counts = %v, want 2 pending, 1 processing", counts)
	}
}

func TestMemory_ReturnsCopies(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	job := models.NewJob("rec-1", "")
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err := s.GetJobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJobByID: %v", err)
	}
	got.State = models.StateComplete
	got.SubjectRef = "tampered"

	fresh, err := s.GetJobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJobByID: %v", err)
	}
	if fresh.State != models.StatePending || fresh.SubjectRef != "rec-1" {
		t.Errorf("store leaked internal state: %+v", fresh)
	}
}
