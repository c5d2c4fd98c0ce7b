// Package client is a thin HTTP client for the analysis API. Its read
// side satisfies the poller's StatusReader, so a remote API can be
// awaited exactly like a local store.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cognispeech/internal/models"
	"cognispeech/internal/store"
)

// Client talks to one analysis API server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the API at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// statusView mirrors the API's response shape for one attempt.
type statusView struct {
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

func (v *statusView) job() *models.Job {
	return &models.Job{
		ID:        v.ID,
		LogicalID: v.LogicalID,
		State:     v.State,
		Attempt:   v.Attempt,
		Result:    v.Result,
		Failure:   v.Error,
		CreatedAt: v.CreatedAt,
		UpdatedAt: v.UpdatedAt,
	}
}

// Submit enqueues an analysis for the subject artifact.
func (c *Client) Submit(ctx context.Context, subjectRef, idempotencyKey string) (*models.Job, error) {
	body, err := json.Marshal(models.SubmitAnalysisRequest{
		SubjectRef:     subjectRef,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	var view statusView
	if err := c.do(ctx, http.MethodPost, "/api/v1/analyses", bytes.NewReader(body), http.StatusCreated, &view); err != nil {
		return nil, err
	}
	return view.job(), nil
}

// GetJobByID reads one attempt record. An unknown id maps to
// store.ErrNotFound.
func (c *Client) GetJobByID(ctx context.Context, id string) (*models.Job, error) {
	var view statusView
	if err := c.do(ctx, http.MethodGet, "/api/v1/analyses/"+id, nil, http.StatusOK, &view); err != nil {
		return nil, err
	}
	return view.job(), nil
}

// Retry requests the next attempt for the lineage the given attempt
// belongs to.
func (c *Client) Retry(ctx context.Context, id string) (*models.Job, error) {
	var view statusView
	if err := c.do(ctx, http.MethodPost, "/api/v1/analyses/"+id+"/retry", nil, http.StatusCreated, &view); err != nil {
		return nil, err
	}
	return view.job(), nil
}

// History returns every attempt of the lineage, oldest first.
func (c *Client) History(ctx context.Context, id string) ([]*models.Job, error) {
	var views []statusView
	if err := c.do(ctx, http.MethodGet, "/api/v1/analyses/"+id+"/history", nil, http.StatusOK, &views); err != nil {
		return nil, err
	}
	jobs := make([]*models.Job, 0, len(views))
	for i := range views {
		jobs = append(jobs, views[i].job())
	}
	return jobs, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, want int, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, store.ErrNotFound)
	}
	if resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
