package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cognispeech/internal/events"
	"cognispeech/internal/handler"
	"cognispeech/internal/metrics"
	"cognispeech/internal/processor"
	"cognispeech/internal/retry"
	"cognispeech/internal/runner"
	"cognispeech/internal/service"
	"cognispeech/internal/store"
)

func main() {
	backend := flag.String("store", "sqlite", "store backend: memory, sqlite, mongo or redis")
	dbPath := flag.String("db", "analyses.db", "path to the SQLite database")
	mongoURI := flag.String("mongo-uri", "mongodb://localhost:27017", "MongoDB connection URI")
	mongoDB := flag.String("mongo-db", "cognispeech", "MongoDB database name")
	redisAddr := flag.String("redis-addr", "localhost:6379", "Redis address")
	port := flag.String("port", "8080", "HTTP server port")
	workers := flag.Int("workers", 2, "embedded runner loops, 0 to serve the API only")
	latency := flag.Duration("latency", 2*time.Second, "simulated processor latency for embedded runners")
	maxAttempts := flag.Int("max-attempts", retry.DefaultMaxAttempts, "retry ceiling per logical job")
	submissionsPerMinute := flag.Int("submissions-per-minute", 10, "submission limit per subject per minute")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	openCtx, cancelOpen := context.WithTimeout(context.Background(), 15*time.Second)
	backingStore, err := openStore(openCtx, *backend, *dbPath, *mongoURI, *mongoDB, *redisAddr)
	cancelOpen()
	if err != nil {
		logger.Error("failed to open store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer backingStore.Close()

	bus := events.NewBus(0)
	jobStore := store.NewEvented(backingStore, bus)

	metricsInstance := metrics.NewMetrics()
	limiter := service.NewSubmissionLimiter(*submissionsPerMinute, time.Minute)
	coordinator := retry.NewCoordinator(jobStore, metricsInstance, logger, *maxAttempts)
	analysisService := service.NewAnalysisService(jobStore, limiter, coordinator, metricsInstance, logger)
	analysisHandler := handler.NewAnalysisHandler(analysisService, bus, jobStore, metricsInstance, logger)

	// Embedded runners keep small deployments to a single binary; a
	// zero count leaves processing to dedicated worker processes.
	var pool *runner.Pool
	var sweeper *runner.Sweeper
	if *workers > 0 {
		proc := &processor.Stub{Latency: *latency}
		pool = runner.NewPool(jobStore, proc, metricsInstance, logger, runner.Config{Concurrency: *workers})
		sweeper = runner.NewSweeper(jobStore, metricsInstance, logger, runner.SweepConfig{})
		if err := pool.Start(context.Background()); err != nil {
			logger.Error("failed to start runner pool", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := sweeper.Start(context.Background()); err != nil {
			logger.Error("failed to start sweeper", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// CORS middleware - sets headers for all responses
	corsMiddleware := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next(w, r)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/analyses", corsMiddleware(analysisHandler.Analyses))
	mux.HandleFunc("/api/v1/analyses/", corsMiddleware(analysisHandler.AnalysisByID))
	mux.HandleFunc("/api/v1/stats", corsMiddleware(analysisHandler.GetStats))
	mux.HandleFunc("/api/v1/events", corsMiddleware(analysisHandler.GetEvents))
	mux.HandleFunc("/metrics", corsMiddleware(analysisHandler.GetMetrics))
	mux.HandleFunc("/healthz", corsMiddleware(analysisHandler.Healthz))

	server := &http.Server{
		Addr:    ":" + *port,
		Handler: mux,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("API server starting",
			slog.String("port", *port),
			slog.String("store", *backend),
			slog.Int("workers", *workers))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	<-sigChan
	logger.Info("shutting down server")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}
	if sweeper != nil {
		if err := sweeper.Stop(shutdownCtx); err != nil {
			logger.Error("sweeper stop error", slog.String("error", err.Error()))
		}
	}
	if pool != nil {
		if err := pool.Stop(shutdownCtx); err != nil {
			logger.Error("pool stop error", slog.String("error", err.Error()))
		}
	}
	logger.Info("server stopped")
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
