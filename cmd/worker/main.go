package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cognispeech/internal/metrics"
	"cognispeech/internal/processor"
	"cognispeech/internal/runner"
	"cognispeech/internal/store"
)

func main() {
	backend := flag.String("store", "sqlite", "store backend: memory, sqlite, mongo or redis")
	dbPath := flag.String("db", "analyses.db", "path to the SQLite database")
	mongoURI := flag.String("mongo-uri", "mongodb://localhost:27017", "MongoDB connection URI")
	mongoDB := flag.String("mongo-db", "cognispeech", "MongoDB database name")
	redisAddr := flag.String("redis-addr", "localhost:6379", "Redis address")
	concurrency := flag.Int("concurrency", 4, "number of concurrent claim loops")
	pollInterval := flag.Duration("poll-interval", time.Second, "sleep between empty backlog scans")
	processTimeout := flag.Duration("process-timeout", 2*time.Minute, "bound on one processor invocation")
	latency := flag.Duration("latency", 2*time.Second, "simulated processor latency")
	sweepInterval := flag.Duration("sweep-interval", 30*time.Second, "staleness sweep cadence")
	staleTimeout := flag.Duration("stale-timeout", 5*time.Minute, "age at which a PROCESSING job is reclaimed")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	openCtx, cancelOpen := context.WithTimeout(context.Background(), 15*time.Second)
	jobStore, err := openStore(openCtx, *backend, *dbPath, *mongoURI, *mongoDB, *redisAddr)
	cancelOpen()
	if err != nil {
		logger.Error("failed to open store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer jobStore.Close()

	metricsInstance := metrics.NewMetrics()
	proc := &processor.Stub{Latency: *latency}

	pool := runner.NewPool(jobStore, proc, metricsInstance, logger, runner.Config{
		Concurrency:    *concurrency,
		PollInterval:   *pollInterval,
		ProcessTimeout: *processTimeout,
	})
	sweeper := runner.NewSweeper(jobStore, metricsInstance, logger, runner.SweepConfig{
		Interval: *sweepInterval,
		Timeout:  *staleTimeout,
	})

	if err := pool.Start(context.Background()); err != nil {
		logger.Error("failed to start runner pool", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := sweeper.Start(context.Background()); err != nil {
		logger.Error("failed to start sweeper", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("worker started, polling for jobs", slog.Int("concurrency", *concurrency))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down worker")
	stopCtx, cancelStop := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStop()
	if err := sweeper.Stop(stopCtx); err != nil {
		logger.Error("sweeper stop error", slog.String("error", err.Error()))
	}
	if err := pool.Stop(stopCtx); err != nil {
		logger.Error("pool stop error", slog.String("error", err.Error()))
	}
	logger.Info("worker stopped")
}

func openStore(ctx context.Context, backend, dbPath, mongoURI, mongoDB, redisAddr string) (store.Store, error) {
	switch backend {
	case "memory":
		return store.NewMemory(), nil
	case "sqlite":
		return store.NewSQLite(dbPath)
	case "mongo":
		return store.NewMongo(ctx, mongoURI, mongoDB)
	case "redis":
		return store.NewRedis(ctx, redisAddr)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
