// Package poller implements the client side of the synchronization
// protocol: repeated status reads spaced by exponential backoff until
// the watched job reaches a terminal state.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cognispeech/internal/backoff"
	"cognispeech/internal/models"
	"cognispeech/internal/store"
)

// ErrPollingTimedOut is returned when the attempt budget runs out
// before the job turns terminal. It is distinct from the job having
// failed; a FAILED job is a successful poll result.
var ErrPollingTimedOut = errors.New("poller: polling timed out")

// StatusReader is the read surface the poller needs. A store satisfies
// it directly; the HTTP client does the same over the wire.
type StatusReader interface {
	GetJobByID(ctx context.Context, id string) (*models.Job, error)
}

// Config controls one poll loop.
type Config struct {
	// MaxAttempts caps how many status reads a single wait makes.
	MaxAttempts int
	// Backoff shapes the delay between reads.
	Backoff backoff.Config
}

// DefaultConfig returns the poll settings used when a field is left
// zero.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 10,
		Backoff:     backoff.DefaultConfig(),
	}
}

// Poller waits for jobs to reach a terminal state. Each AwaitTerminal
// call runs its own independent loop, so one Poller may watch any
// number of jobs concurrently.
type Poller struct {
	reader      StatusReader
	calc        *backoff.Calculator
	logger      *slog.Logger
	maxAttempts int
}

// New creates a poller. Backoff options are forwarded to the delay
// calculator.
func New(reader StatusReader, cfg Config, logger *slog.Logger, opts ...backoff.Option) (*Poller, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.Backoff == (backoff.Config{}) {
		cfg.Backoff = backoff.DefaultConfig()
	}
	calc, err := backoff.New(cfg.Backoff, opts...)
	if err != nil {
		return nil, err
	}
	return &Poller{
		reader:      reader,
		calc:        calc,
		logger:      logger,
		maxAttempts: cfg.MaxAttempts,
	}, nil
}

// AwaitTerminal reads the job until it is COMPLETE or FAILED and
// returns it. Terminal states short-circuit the loop with no further
// waiting. An unknown id fails immediately; transport errors are
// retried and count toward the attempt budget. When the budget runs
// out, the caller gets ErrPollingTimedOut, unless no read ever
// succeeded, in which case the last read error surfaces instead.
func (p *Poller) AwaitTerminal(ctx context.Context, id string) (*models.Job, error) {
	var lastErr error
	sawRead := false

	for attempt := 1; ; attempt++ {
		job, err := p.reader.GetJobByID(ctx, id)
		switch {
		case err == nil:
			sawRead = true
			if job.State.Terminal() {
				return job, nil
			}
		case errors.Is(err, store.ErrNotFound):
			// A definitive answer, not a transport hiccup.
			return nil, err
		default:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			p.logger.Warn("status read failed",
				slog.String("job_id", id),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
		}

		if attempt == p.maxAttempts {
			if !sawRead && lastErr != nil {
				return nil, fmt.Errorf("no successful status read in %d attempts: %w", attempt, lastErr)
			}
			return nil, fmt.Errorf("job %s not terminal after %d attempts: %w", id, attempt, ErrPollingTimedOut)
		}

		delay, err := p.calc.Delay(attempt)
		if err != nil {
			return nil, fmt.Errorf("failed to compute poll delay: %w", err)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
