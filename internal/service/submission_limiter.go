package service

import (
	"context"
	"sync"
	"time"
)

// SubmissionLimiter caps how many analyses one subject artifact may
// enqueue per window. Windows are fixed, not sliding, and expire
// lazily on the next submission.
type SubmissionLimiter struct {
	mu sync.Mutex

	maxPerWindow int
	window       time.Duration
	windows      map[string]*submissionWindow
}

type submissionWindow struct {
	count     int
	windowEnd time.Time
}

// NewSubmissionLimiter creates a limiter. A non-positive window falls
// back to one minute.
func NewSubmissionLimiter(maxPerWindow int, window time.Duration) *SubmissionLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &SubmissionLimiter{
		maxPerWindow: maxPerWindow,
		window:       window,
		windows:      make(map[string]*submissionWindow),
	}
}

// Allow records one submission for the subject, failing when the
// current window is full.
func (l *SubmissionLimiter) Allow(ctx context.Context, subjectRef string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	window, exists := l.windows[subjectRef]

	if !exists || now.After(window.windowEnd) {
		l.windows[subjectRef] = &submissionWindow{
			count:     1,
			windowEnd: now.Add(l.window),
		}
		return nil
	}

	if window.count >= l.maxPerWindow {
		return ErrRateLimitExceeded
	}

	window.count++
	return nil
}
