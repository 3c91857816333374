// Package deliverly is an HTTP client for the deliverly job API.
package deliverly

import (
	"bytes"
	"context"
	"deliverly/internal/model"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// APIError is a non-2xx response. It unwraps to model.ErrNotFound for 404
// and model.ErrNotReady for 409.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API error: status code %d", e.StatusCode)
	}
	return fmt.Sprintf("API error: %s (status %d)", e.Message, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return model.ErrNotFound
	case http.StatusConflict:
		return model.ErrNotReady
	}
	return nil
}

// Client talks to a deliverly API server
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New creates a client for the server at baseURL
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// jobPayload mirrors the server's job response
type jobPayload struct {
	ID         string `json:"id"`
	State      string `json:"state"`
	Processed  int    `json:"processed"`
	Total      *int   `json:"total"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt *int64 `json:"finished_at"`
	Error      string `json:"error"`
	FileName   string `json:"file_name"`
	FileSize   int64  `json:"file_size"`
	Validator  string `json:"validator"`
}

func (p jobPayload) toJob() *model.Job {
	job := &model.Job{
		ID:        p.ID,
		State:     model.JobState(p.State),
		Processed: p.Processed,
		Total:     p.Total,
		StartedAt: time.Unix(p.StartedAt, 0).UTC(),
		Error:     p.Error,
		FileName:  p.FileName,
		FileSize:  p.FileSize,
		Validator: p.Validator,
	}
	if p.FinishedAt != nil {
		finished := time.Unix(*p.FinishedAt, 0).UTC()
		job.FinishedAt = &finished
	}
	return job
}

// request performs a call and returns the body of a 2xx response
func (c *Client) request(ctx context.Context, method, endpoint string, body io.Reader, contentType string) ([]byte, error) {
	startTime := time.Now()
	target := c.baseURL + endpoint

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("url", target).Msg("Error executing request")
		return nil, fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseAPIError(resp.StatusCode, respBody)
	}

	log.Debug().
		Str("method", method).
		Str("url", target).
		Int("status_code", resp.StatusCode).
		Int("response_size", len(respBody)).
		Dur("total_duration", time.Since(startTime)).
		Msg("API request completed successfully")

	return respBody, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, v any) error {
	body, err := c.request(ctx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

// parseAPIError extracts the error message of a failed response
func parseAPIError(statusCode int, respBody []byte) error {
	var errResp struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(respBody, &errResp)

	return &APIError{StatusCode: statusCode, Message: errResp.Error}
}

func jobPath(id string) string {
	return "/jobs/" + url.PathEscape(id)
}

// CreateJob uploads a CSV file and returns the id of the new job
func (c *Client) CreateJob(ctx context.Context, name string, file io.Reader) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("error reading file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	body, err := c.request(ctx, http.MethodPost, "/jobs", &buf, writer.FormDataContentType())
	if err != nil {
		return "", err
	}

	var created struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("error decoding response: %w", err)
	}
	if created.JobID == "" {
		return "", errors.New("server returned no job id")
	}

	return created.JobID, nil
}

// GetJob returns the current snapshot of a job
func (c *Client) GetJob(ctx context.Context, id string) (*model.Job, error) {
	var payload jobPayload
	if err := c.getJSON(ctx, jobPath(id), &payload); err != nil {
		return nil, err
	}
	return payload.toJob(), nil
}

// ListJobs returns jobs newest first, optionally filtered by state
func (c *Client) ListJobs(ctx context.Context, filter model.JobFilter) ([]*model.Job, error) {
	query := url.Values{}
	if filter.State != "" {
		query.Set("state", string(filter.State))
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		query.Set("offset", strconv.Itoa(filter.Offset))
	}

	endpoint := "/jobs"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var payloads []jobPayload
	if err := c.getJSON(ctx, endpoint, &payloads); err != nil {
		return nil, err
	}

	jobs := make([]*model.Job, 0, len(payloads))
	for _, p := range payloads {
		jobs = append(jobs, p.toJob())
	}
	return jobs, nil
}

// LatestFinished returns the most recently finished job
func (c *Client) LatestFinished(ctx context.Context) (*model.Job, error) {
	var payload jobPayload
	if err := c.getJSON(ctx, "/jobs/latest", &payload); err != nil {
		return nil, err
	}
	return payload.toJob(), nil
}

// CancelJob cancels a queued or processing job. A job that already ended
// fails with model.ErrInvalidTransition.
func (c *Client) CancelJob(ctx context.Context, id string) (*model.Job, error) {
	body, err := c.request(ctx, http.MethodPost, jobPath(id)+"/cancel", nil, "")
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
			return nil, fmt.Errorf("%w: %s", model.ErrInvalidTransition, apiErr.Message)
		}
		return nil, err
	}

	var payload jobPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("error decoding response: %w", err)
	}
	return payload.toJob(), nil
}

// GetResults returns every row of a finished job
func (c *Client) GetResults(ctx context.Context, id string) ([]model.ValidationRow, error) {
	var rows []model.ValidationRow
	if err := c.getJSON(ctx, jobPath(id)+"/results", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// GetSummary returns the summary of a finished job
func (c *Client) GetSummary(ctx context.Context, id string) (model.Summary, error) {
	var summary model.Summary
	if err := c.getJSON(ctx, jobPath(id)+"/summary", &summary); err != nil {
		return model.Summary{}, err
	}
	return summary, nil
}

// ExportCSV downloads the CSV export of a finished job into w
func (c *Client) ExportCSV(ctx context.Context, id string, w io.Writer) error {
	body, err := c.request(ctx, http.MethodGet, jobPath(id)+"/export.csv", nil, "")
	if err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// ExportCSVURL is where the CSV export of a job can be downloaded
func (c *Client) ExportCSVURL(id string) string {
	return c.baseURL + jobPath(id) + "/export.csv"
}

// ExportJSONURL is where the JSON export of a job can be downloaded
func (c *Client) ExportJSONURL(id string) string {
	return c.baseURL + jobPath(id) + "/export.json"
}

// Online reports whether the server answers
func (c *Client) Online(ctx context.Context) error {
	_, err := c.request(ctx, http.MethodGet, "/online", nil, "")
	return err
}
