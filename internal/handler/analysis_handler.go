// Package handler exposes the analysis lifecycle over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cognispeech/internal/events"
	"cognispeech/internal/metrics"
	"cognispeech/internal/models"
	"cognispeech/internal/retry"
	"cognispeech/internal/service"
	"cognispeech/internal/store"
)

// AnalysisHandler handles HTTP requests for analyses.
type AnalysisHandler struct {
	service *service.AnalysisService
	bus     *events.Bus
	store   store.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewAnalysisHandler creates a new analysis handler.
func NewAnalysisHandler(svc *service.AnalysisService, bus *events.Bus, s store.Store, m *metrics.Metrics, logger *slog.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		service: svc,
		bus:     bus,
		store:   s,
		metrics: m,
		logger:  logger,
	}
}

// statusResponse is the client-facing view of one attempt.
type statusResponse struct {
	ID        string                 `json:"id"`
	LogicalID string                 `json:"logical_id"`
	State     models.JobState        `json:"state"`
	Attempt   int                    `json:"attempt"`
	Message   string                 `json:"message"`
	Result    *models.AnalysisReport `json:"result,omitempty"`
	Error     *models.FailureRecord  `json:"error,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

func newStatusResponse(job *models.Job) statusResponse {
	return statusResponse{
		ID:        job.ID,
		LogicalID: job.LogicalID,
		State:     job.State,
		Attempt:   job.Attempt,
		Message:   statusMessage(job.State),
		Result:    job.Result,
		Error:     job.Failure,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
}

// statusMessage is the human-readable line shown to clients alongside
// the raw state.
func statusMessage(state models.JobState) string {
	switch state {
	case models.StatePending:
		return "Analysis is queued for processing"
	case models.StateProcessing:
		return "Analysis is currently being processed"
	case models.StateComplete:
		return "Analysis completed successfully"
	case models.StateFailed:
		return "Analysis failed during processing"
	default:
		return ""
	}
}

// Analyses handles the collection routes: POST /api/v1/analyses
// submits, GET /api/v1/analyses?state= lists.
func (h *AnalysisHandler) Analyses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.submitAnalysis(w, r)
	case http.MethodGet:
		h.listAnalyses(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// AnalysisByID handles the per-analysis routes: GET {id}, GET
// {id}/history, POST {id}/retry.
func (h *AnalysisHandler) AnalysisByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/analyses/")
	if rest == "" || rest == r.URL.Path {
		http.Error(w, "analysis id is required", http.StatusBadRequest)
		return
	}

	id, action, _ := strings.Cut(rest, "/")
	switch action {
	case "":
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.getAnalysis(w, r, id)
	case "history":
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.getHistory(w, r, id)
	case "retry":
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.retryAnalysis(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (h *AnalysisHandler) submitAnalysis(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitAnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.SubjectRef == "" {
		http.Error(w, "subject_ref is required", http.StatusBadRequest)
		return
	}

	job, err := h.service.Submit(r.Context(), &req)
	if err != nil {
		h.respondError(w, "failed to submit analysis", err)
		return
	}
	h.respondJSON(w, http.StatusCreated, newStatusResponse(job))
}

func (h *AnalysisHandler) listAnalyses(w http.ResponseWriter, r *http.Request) {
	stateStr := r.URL.Query().Get("state")
	if stateStr == "" {
		http.Error(w, "state query parameter is required", http.StatusBadRequest)
		return
	}

	state := models.JobState(stateStr)
	if state != models.StatePending && state != models.StateProcessing &&
		state != models.StateComplete && state != models.StateFailed {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	jobs, err := h.service.ListJobsByState(r.Context(), state, limit)
	if err != nil {
		h.respondError(w, "failed to list analyses", err)
		return
	}

	responses := make([]statusResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, newStatusResponse(job))
	}
	h.respondJSON(w, http.StatusOK, responses)
}

func (h *AnalysisHandler) getAnalysis(w http.ResponseWriter, r *http.Request, id string) {
	job, err := h.service.GetJob(r.Context(), id)
	if err != nil {
		h.respondError(w, "failed to retrieve analysis", err)
		return
	}
	h.respondJSON(w, http.StatusOK, newStatusResponse(job))
}

func (h *AnalysisHandler) getHistory(w http.ResponseWriter, r *http.Request, id string) {
	attempts, err := h.service.History(r.Context(), id)
	if err != nil {
		h.respondError(w, "failed to retrieve history", err)
		return
	}

	responses := make([]statusResponse, 0, len(attempts))
	for _, attempt := range attempts {
		responses = append(responses, newStatusResponse(attempt))
	}
	h.respondJSON(w, http.StatusOK, responses)
}

func (h *AnalysisHandler) retryAnalysis(w http.ResponseWriter, r *http.Request, id string) {
	job, err := h.service.Retry(r.Context(), id)
	if err != nil {
		h.respondError(w, "failed to retry analysis", err)
		return
	}
	h.respondJSON(w, http.StatusCreated, newStatusResponse(job))
}

// GetStats handles GET /api/v1/stats.
func (h *AnalysisHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	counts, err := h.service.CountJobsByState(r.Context())
	if err != nil {
		h.respondError(w, "failed to compute stats", err)
		return
	}
	h.respondJSON(w, http.StatusOK, counts)
}

// GetEvents handles GET /api/v1/events?since=N, returning transition
// events with a sequence above the cursor.
func (h *AnalysisHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	since := int64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid since cursor", http.StatusBadRequest)
			return
		}
		since = parsed
	}
	h.respondJSON(w, http.StatusOK, h.bus.Since(since))
}

// GetMetrics handles GET /metrics.
func (h *AnalysisHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.respondJSON(w, http.StatusOK, h.metrics.GetSnapshot())
}

// Healthz handles GET /healthz, reporting store reachability.
func (h *AnalysisHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Error("health check failed", slog.String("error", err.Error()))
		h.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AnalysisHandler) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

func (h *AnalysisHandler) respondError(w http.ResponseWriter, prefix string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "analysis not found", http.StatusNotFound)
	case errors.Is(err, service.ErrRateLimitExceeded):
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
	case errors.Is(err, retry.ErrInvalidState), errors.Is(err, store.ErrAlreadyExists):
		http.Error(w, prefix+": "+err.Error(), http.StatusConflict)
	case errors.Is(err, retry.ErrRetryExhausted):
		http.Error(w, prefix+": "+err.Error(), http.StatusUnprocessableEntity)
	default:
		h.logger.Error(prefix, slog.String("error", err.Error()))
		http.Error(w, prefix, http.StatusInternalServerError)
	}
}
