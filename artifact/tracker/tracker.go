// Package tracker removes a job's experiment runs from an MLflow
// tracking server. Prediction stages log metrics and parameters as runs
// tagged with the job's ID; erasure finds those runs over the REST API
// and soft-deletes them.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/flamehaven01/rexsyn/deletion"
	"github.com/flamehaven01/rexsyn/id"
)

// storeName identifies this backend in deletion records.
const storeName = "tracker"

// searchPageSize bounds one search response.
const searchPageSize = 200

// Compile-time interface check.
var _ deletion.ArtifactStore = (*Client)(nil)

// Option configures the Client.
type Option func(*Client)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHTTPClient sets the HTTP client used for tracking server calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithExperiments restricts run searches to the given experiment IDs.
// By default all experiments are searched.
func WithExperiments(ids ...string) Option {
	return func(c *Client) { c.experiments = ids }
}

// Client talks to an MLflow tracking server.
type Client struct {
	baseURL     string
	http        *http.Client
	experiments []string
	logger      *slog.Logger
}

// New creates a tracker client for the given tracking server URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name identifies the backend in deletion records and logs.
func (c *Client) Name() string { return storeName }

// DeleteJobArtifacts finds every run tagged with the job's ID and
// deletes it, returning one item per deleted run.
func (c *Client) DeleteJobArtifacts(ctx context.Context, jobID id.JobID) ([]deletion.Item, error) {
	runIDs, err := c.searchRuns(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("tracker: search runs for job %s: %w", jobID, err)
	}

	items := make([]deletion.Item, 0, len(runIDs))
	for _, runID := range runIDs {
		if err := c.deleteRun(ctx, runID); err != nil {
			return items, fmt.Errorf("tracker: delete run %s for job %s: %w", runID, jobID, err)
		}
		items = append(items, deletion.Item{Store: storeName, Kind: "run", Identifier: runID})
	}

	c.logger.Debug("job runs removed from tracking server",
		slog.String("job_id", jobID.String()),
		slog.Int("runs", len(items)),
	)
	return items, nil
}

type searchRequest struct {
	ExperimentIDs []string `json:"experiment_ids,omitempty"`
	Filter        string   `json:"filter"`
	MaxResults    int      `json:"max_results"`
	PageToken     string   `json:"page_token,omitempty"`
}

type searchResponse struct {
	Runs []struct {
		Info struct {
			RunID string `json:"run_id"`
		} `json:"info"`
	} `json:"runs"`
	NextPageToken string `json:"next_page_token"`
}

// searchRuns pages through every run carrying the job's tag.
func (c *Client) searchRuns(ctx context.Context, jobID id.JobID) ([]string, error) {
	var (
		runIDs    []string
		pageToken string
	)
	for {
		req := searchRequest{
			ExperimentIDs: c.experiments,
			Filter:        fmt.Sprintf("tags.job_id = '%s'", jobID),
			MaxResults:    searchPageSize,
			PageToken:     pageToken,
		}

		var resp searchResponse
		if err := c.post(ctx, "/api/2.0/mlflow/runs/search", req, &resp); err != nil {
			return nil, err
		}
		for _, run := range resp.Runs {
			runIDs = append(runIDs, run.Info.RunID)
		}

		if resp.NextPageToken == "" {
			return runIDs, nil
		}
		pageToken = resp.NextPageToken
	}
}

type deleteRequest struct {
	RunID string `json:"run_id"`
}

func (c *Client) deleteRun(ctx context.Context, runID string) error {
	return c.post(ctx, "/api/2.0/mlflow/runs/delete", deleteRequest{RunID: runID}, nil)
}

// post sends a JSON request and decodes the JSON response when out is
// non-nil. Non-2xx statuses are errors carrying the response body.
func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s returned %s: %s", path, resp.Status, bytes.TrimSpace(msg))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
