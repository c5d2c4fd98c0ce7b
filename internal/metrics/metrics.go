package metrics

import (
	"sync"
)

// Metrics tracks coordination counters across the process
type Metrics struct {
	mu sync.RWMutex

	submittedJobs int64
	completedJobs int64
	failedJobs    int64
	retriedJobs   int64
	sweptJobs     int64
	claimLosses   int64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncrementSubmittedJobs increments the submitted jobs counter
func (m *Metrics) IncrementSubmittedJobs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submittedJobs++
}

// IncrementCompletedJobs increments the completed jobs counter
func (m *Metrics) IncrementCompletedJobs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completedJobs++
}

// IncrementFailedJobs increments the failed jobs counter
func (m *Metrics) IncrementFailedJobs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedJobs++
}

// IncrementRetriedJobs increments the retried attempts counter
func (m *Metrics) IncrementRetriedJobs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retriedJobs++
}

// IncrementSweptJobs counts stuck jobs reclaimed by the staleness sweep
func (m *Metrics) IncrementSweptJobs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweptJobs++
}

// IncrementClaimLosses counts claims lost to another runner
func (m *Metrics) IncrementClaimLosses() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claimLosses++
}

// GetSnapshot returns a snapshot of all metrics
func (m *Metrics) GetSnapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]int64{
		"submitted_jobs": m.submittedJobs,
		"completed_jobs": m.completedJobs,
		"failed_jobs":    m.failedJobs,
		"retried_jobs":   m.retriedJobs,
		"swept_jobs":     m.sweptJobs,
		"claim_losses":   m.claimLosses,
	}
}
