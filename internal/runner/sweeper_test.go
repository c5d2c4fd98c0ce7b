package runner_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"cognispeech/internal/metrics"
	"cognispeech/internal/models"
	"cognispeech/internal/runner"
	"cognispeech/internal/store"
)

func claimJob(t *testing.T, s store.Store, id string) {
	t.Helper()
	if _, err := s.Transition(context.Background(), id, models.StatePending, models.StateProcessing, store.Change{}); err != nil {
		t.Fatalf("claim job: %v", err)
	}
}

func TestSweeper_ReclaimsStaleJob(t *testing.T) {
	s := store.NewMemory()
	m := metrics.NewMetrics()
	job := seedJob(t, s, "recordings/stale.wav")
	claimJob(t, s, job.ID)

	// Let the claim age past the staleness threshold.
	time.Sleep(40 * time.Millisecond)

	sw := runner.NewSweeper(s, m, slog.Default(), runner.SweepConfig{Timeout: 20 * time.Millisecond})
	swept, err := sw.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep error: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}

	got, err := s.GetJobByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.State != models.StateFailed {
		t.Errorf("state = %s, want %s", got.State, models.StateFailed)
	}
	if got.Failure == nil {
		t.Fatal("expected failure record")
	}
	if got.Failure.Kind != models.FailureTimeout {
		t.Errorf("failure kind = %s, want %s", got.Failure.Kind, models.FailureTimeout)
	}
	if !got.Failure.Retryable {
		t.Error("swept jobs must be retryable")
	}
	if n := m.GetSnapshot()["swept_jobs"]; n != 1 {
		t.Errorf("swept_jobs = %d, want 1", n)
	}
}

func TestSweeper_LeavesFreshJobsAlone(t *testing.T) {
	s := store.NewMemory()
	m := metrics.NewMetrics()
	job := seedJob(t, s, "recordings/fresh.wav")
	claimJob(t, s, job.ID)

	sw := runner.NewSweeper(s, m, slog.Default(), runner.SweepConfig{Timeout: time.Hour})
	swept, err := sw.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep error: %v", err)
	}
	if swept != 0 {
		t.Fatalf("swept = %d, want 0", swept)
	}

	got, err := s.GetJobByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.State != models.StateProcessing {
		t.Errorf("state = %s, want %s", got.State, models.StateProcessing)
	}
}

func TestSweeper_IgnoresPendingAndTerminalJobs(t *testing.T) {
	s := store.NewMemory()
	m := metrics.NewMetrics()
	pending := seedJob(t, s, "recordings/pending.wav")

	done := seedJob(t, s, "recordings/done.wav")
	claimJob(t, s, done.ID)
	report := &models.AnalysisReport{MeanPitchHz: 140}
	if _, err := s.Transition(context.Background(), done.ID, models.StateProcessing, models.StateComplete, store.Change{Result: report}); err != nil {
		t.Fatalf("complete job: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	sw := runner.NewSweeper(s, m, slog.Default(), runner.SweepConfig{Timeout: 10 * time.Millisecond})
	swept, err := sw.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep error: %v", err)
	}
	if swept != 0 {
		t.Fatalf("swept = %d, want 0", swept)
	}

	gotPending, _ := s.GetJobByID(context.Background(), pending.ID)
	if gotPending.State != models.StatePending {
		t.Errorf("pending job state = %s, want %s", gotPending.State, models.StatePending)
	}
	gotDone, _ := s.GetJobByID(context.Background(), done.ID)
	if gotDone.State != models.StateComplete {
		t.Errorf("completed job state = %s, want %s", gotDone.State, models.StateComplete)
	}
}

func TestSweeper_RunLoop(t *testing.T) {
	s := store.NewMemory()
	m := metrics.NewMetrics()
	job := seedJob(t, s, "recordings/abandoned.wav")
	claimJob(t, s, job.ID)

	sw := runner.NewSweeper(s, m, slog.Default(), runner.SweepConfig{
		Interval: 10 * time.Millisecond,
		Timeout:  20 * time.Millisecond,
	})
	if err := sw.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	got := waitForState(t, s, job.ID, models.StateFailed)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sw.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
	// Double stop should be a no-op.
	if err := sw.Stop(ctx); err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}

	if got.Failure == nil || got.Failure.Kind != models.FailureTimeout {
		t.Errorf("failure = %+v, want kind %s", got.Failure, models.FailureTimeout)
	}
}
