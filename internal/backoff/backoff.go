// Package backoff computes the delay schedule used between retry attempts
// and client status polls. Delays grow exponentially with the attempt
// number, are capped, and carry additive jitter to desynchronize callers
// that started at the same moment.
package backoff

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ErrInvalidArgument reports a config or attempt value outside the
// documented domain.
var ErrInvalidArgument = errors.New("backoff: invalid argument")

const (
	// DefaultMultiplier is applied when Config.Multiplier is zero.
	DefaultMultiplier = 2.0
	// DefaultJitterFraction is applied when Config.JitterFraction is zero.
	DefaultJitterFraction = 0.1
)

// Config holds the delay schedule parameters.
// Delay for attempt n is min(Base * Multiplier^(n-1), Max), plus up to
// JitterFraction of that value as random padding.
type Config struct {
	// Base is the delay before the first wait. Must be positive.
	Base time.Duration
	// Max caps the pre-jitter delay. Must be positive.
	Max time.Duration
	// Multiplier is the per-attempt growth factor. Must be >= 1.
	// Zero selects DefaultMultiplier.
	Multiplier float64
	// JitterFraction is the upper bound of the random padding, as a
	// fraction of the capped delay. Must be in [0, 1). Zero selects
	// DefaultJitterFraction; inject a fixed randomness source to obtain
	// jitter-free delays.
	JitterFraction float64
}

// DefaultConfig returns the schedule used when callers do not supply one:
// 1s base, 30s cap, doubling, 10% jitter.
func DefaultConfig() Config {
	return Config{
		Base:           time.Second,
		Max:            30 * time.Second,
		Multiplier:     DefaultMultiplier,
		JitterFraction: DefaultJitterFraction,
	}
}

// Calculator produces delays for a fixed Config. It is stateless apart
// from its randomness source; the default source is safe for concurrent
// use.
type Calculator struct {
	cfg    Config
	random func() float64
}

// Option customizes a Calculator.
type Option func(*Calculator)

// WithRandom replaces the jitter source. Tests use this to make delays
// deterministic; the function must return values in [0, 1).
func WithRandom(random func() float64) Option {
	return func(c *Calculator) {
		c.random = random
	}
}

// New validates cfg and returns a Calculator for it. Zero Multiplier and
// JitterFraction take their defaults; Base and Max have no usable zero
// value and must be set.
func New(cfg Config, opts ...Option) (*Calculator, error) {
	if cfg.Base <= 0 {
		return nil, fmt.Errorf("%w: base must be positive, got %v", ErrInvalidArgument, cfg.Base)
	}
	if cfg.Max <= 0 {
		return nil, fmt.Errorf("%w: max must be positive, got %v", ErrInvalidArgument, cfg.Max)
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = DefaultMultiplier
	}
	if cfg.Multiplier < 1 {
		return nil, fmt.Errorf("%w: multiplier must be >= 1, got %v", ErrInvalidArgument, cfg.Multiplier)
	}
	if cfg.JitterFraction == 0 {
		cfg.JitterFraction = DefaultJitterFraction
	}
	if cfg.JitterFraction < 0 || cfg.JitterFraction >= 1 {
		return nil, fmt.Errorf("%w: jitter fraction must be in [0, 1), got %v", ErrInvalidArgument, cfg.JitterFraction)
	}

	c := &Calculator{cfg: cfg, random: rand.Float64}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Delay returns how long to wait before attempt n (1-indexed), rounded to
// the nearest millisecond. The result is always positive and, jitter
// aside, non-decreasing in the attempt number.
func (c *Calculator) Delay(attempt int) (time.Duration, error) {
	if attempt < 1 {
		return 0, fmt.Errorf("%w: attempt must be >= 1, got %d", ErrInvalidArgument, attempt)
	}

	raw := float64(c.cfg.Base) * math.Pow(c.cfg.Multiplier, float64(attempt-1))
	capped := raw
	if limit := float64(c.cfg.Max); capped > limit {
		capped = limit
	}
	final := capped + capped*c.cfg.JitterFraction*c.random()

	d := time.Duration(math.Round(final/float64(time.Millisecond))) * time.Millisecond
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d, nil
}

// Config returns the validated configuration the Calculator runs with,
// defaults applied.
func (c *Calculator) Config() Config {
	return c.cfg
}
