package metrics

import (
	"sync"
	"testing"
)

func TestMetrics_IncrementSubmittedJobs(t *testing.T) {
	m := NewMetrics()
	m.IncrementSubmittedJobs()

	snapshot := m.GetSnapshot()
	if snapshot["submitted_jobs"] != 1 {
		t.Errorf("expected submitted_jobs 1, got %d", snapshot["submitted_jobs"])
	}
}

func TestMetrics_IncrementCompletedJobs(t *testing.T) {
	m := NewMetrics()
	m.IncrementCompletedJobs()

	snapshot := m.GetSnapshot()
	if snapshot["completed_jobs"] != 1 {
		t.Errorf("expected completed_jobs 1, got %d", snapshot["completed_jobs"])
	}
}

func TestMetrics_IncrementFailedJobs(t *testing.T) {
	m := NewMetrics()
	m.IncrementFailedJobs()

	snapshot := m.GetSnapshot()
	if snapshot["failed_jobs"] != 1 {
		t.Errorf("expected failed_jobs 1, got %d", snapshot["failed_jobs"])
	}
}

func TestMetrics_IncrementSweptJobs(t *testing.T) {
	m := NewMetrics()
	m.IncrementSweptJobs()

	snapshot := m.GetSnapshot()
	if snapshot["swept_jobs"] != 1 {
		t.Errorf("expected swept_jobs 1, got %d", snapshot["swept_jobs"])
	}
}

func TestMetrics_ConcurrentAccess(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup

	// Concurrent increments
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementSubmittedJobs()
			m.IncrementCompletedJobs()
			m.IncrementFailedJobs()
			m.IncrementRetriedJobs()
			m.IncrementClaimLosses()
		}()
	}

	wg.Wait()

	snapshot := m.GetSnapshot()
	if snapshot["submitted_jobs"] != 100 {
		t.Errorf("expected submitted_jobs 100, got %d", snapshot["submitted_jobs"])
	}
	if snapshot["completed_jobs"] != 100 {
		t.Errorf("expected completed_jobs 100, got %d", snapshot["completed_jobs"])
	}
	if snapshot["claim_losses"] != 100 {
		t.Errorf("expected claim_losses 100, got %d", snapshot["claim_losses"])
	}
}

func TestMetrics_GetSnapshot(t *testing.T) {
	m := NewMetrics()
	m.IncrementSubmittedJobs()
	m.IncrementSubmittedJobs()
	m.IncrementCompletedJobs()
	m.IncrementFailedJobs()
	m.IncrementRetriedJobs()
	m.IncrementSweptJobs()

	snapshot := m.GetSnapshot()

	expected := map[string]int64{
		"submitted_jobs": 2,
		"completed_jobs": 1,
		"failed_jobs":    1,
		"retried_jobs":   1,
		"swept_jobs":     1,
		"claim_losses":   0,
	}

	for key, expectedValue := range expected {
		if snapshot[key] != expectedValue {
			t.Errorf("expected %s %d, got %d", key, expectedValue, snapshot[key])
		}
	}
}
