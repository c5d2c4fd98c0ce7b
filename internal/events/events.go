// Package events keeps a bounded in-memory record of job state
// transitions for audit feeds and metrics. Only successful transitions
// are recorded; a lost compare-and-set never produces an event.
package events

import (
	"sync"
	"time"

	"cognispeech/internal/models"
)

// Event is one observed state transition.
type Event struct {
	Seq       int64           `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	JobID     string          `json:"job_id"`
	LogicalID string          `json:"logical_id"`
	Attempt   int             `json:"attempt"`
	From      models.JobState `json:"from"`
	To        models.JobState `json:"to"`
}

// Bus stores recent events and provides incremental reads by sequence
// number. Sequences start at 1 and never repeat; old events are dropped
// once the buffer is full.
type Bus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

// NewBus creates a bounded event buffer.
func NewBus(maxEvents int) *Bus {
	if maxEvents <= 0 {
		maxEvents = 512
	}
	return &Bus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Publish appends one event, assigning its sequence and timestamp.
func (b *Bus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	return event
}

// Since returns events with sequence strictly greater than seq, oldest
// first. Passing 0 returns everything still buffered.
func (b *Bus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}
