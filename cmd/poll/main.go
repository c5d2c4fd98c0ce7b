package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cognispeech/internal/backoff"
	"cognispeech/internal/client"
	"cognispeech/internal/models"
	"cognispeech/internal/poller"
)

func main() {
	apiURL := flag.String("api", "http://localhost:8080", "analysis API base URL")
	subjectRef := flag.String("subject", "", "subject artifact to submit before polling")
	jobID := flag.String("id", "", "existing job id to poll")
	idempotencyKey := flag.String("idempotency-key", "", "idempotency key for the submission")
	maxAttempts := flag.Int("max-attempts", 10, "polling attempt budget")
	base := flag.Duration("base", time.Second, "initial poll delay")
	max := flag.Duration("max", 30*time.Second, "poll delay ceiling")
	multiplier := flag.Float64("multiplier", 1.5, "poll delay growth factor")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if (*subjectRef == "") == (*jobID == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -subject or -id is required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := client.New(*apiURL)

	id := *jobID
	if *subjectRef != "" {
		job, err := cli.Submit(ctx, *subjectRef, *idempotencyKey)
		if err != nil {
			logger.Error("submission failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("analysis submitted",
			slog.String("job_id", job.ID),
			slog.Int("attempt", job.Attempt))
		id = job.ID
	}

	p, err := poller.New(cli, poller.Config{
		MaxAttempts: *maxAttempts,
		Backoff: backoff.Config{
			Base:       *base,
			Max:        *max,
			Multiplier: *multiplier,
		},
	}, logger)
	if err != nil {
		logger.Error("invalid poll configuration", slog.String("error", err.Error()))
		os.Exit(2)
	}

	job, err := p.AwaitTerminal(ctx, id)
	if err != nil {
		// Budget exhaustion is a distinct outcome from the analysis
		// having failed; say which one happened.
		if errors.Is(err, poller.ErrPollingTimedOut) {
			logger.Error("polling budget exhausted, the analysis may still finish",
				slog.String("job_id", id))
			os.Exit(3)
		}
		logger.Error("polling failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(job); err != nil {
		logger.Error("failed to encode result", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if job.State == models.StateFailed {
		kind := ""
		if job.Failure != nil {
			kind = string(job.Failure.Kind)
		}
		logger.Info("analysis failed",
			slog.String("job_id", job.ID),
			slog.String("kind", kind))
		os.Exit(1)
	}
	logger.Info("analysis complete",
		slog.String("job_id", job.ID),
		slog.Int("attempt", job.Attempt))
}
