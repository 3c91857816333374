package deliverly

import (
	"bytes"
	"context"
	"deliverly/internal/model"
	"deliverly/internal/poller"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ poller.JobSource = (*Client)(nil)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", time.Second)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestGetJobDecodesWireFormat(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jobs/abc", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"id":          "abc",
			"state":       "finished",
			"processed":   3,
			"total":       3,
			"started_at":  1700000000,
			"finished_at": 1700000060,
			"file_name":   "contacts.csv",
			"percent":     100,
		})
	})

	job, err := client.GetJob(context.Background(), "abc")
	require.NoError(t, err)

	assert.Equal(t, model.StateFinished, job.State)
	require.NotNil(t, job.Total)
	assert.Equal(t, 3, *job.Total)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), job.StartedAt)
	require.NotNil(t, job.FinishedAt)
	assert.Equal(t, time.Minute, job.FinishedAt.Sub(job.StartedAt))
}

func TestStatusCodesMapToDomainErrors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/jobs/missing":
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		case "/jobs/running/summary":
			writeJSON(w, http.StatusConflict, map[string]string{"error": "job results not ready"})
		case "/jobs/done/cancel":
			writeJSON(w, http.StatusConflict, map[string]string{"error": "job done is finished"})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		}
	})
	ctx := context.Background()

	_, err := client.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = client.GetSummary(ctx, "running")
	assert.ErrorIs(t, err, model.ErrNotReady)

	_, err = client.CancelJob(ctx, "done")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = client.GetResults(ctx, "boom")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.NotErrorIs(t, err, model.ErrNotFound)
}

func TestCreateJobUploadsMultipart(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()

		content, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "contacts.csv", header.Filename)
		assert.Equal(t, "email\na@acme.io\n", string(content))

		writeJSON(w, http.StatusCreated, map[string]string{"job_id": "new-job"})
	})

	id, err := client.CreateJob(context.Background(), "contacts.csv", bytes.NewBufferString("email\na@acme.io\n"))
	require.NoError(t, err)
	assert.Equal(t, "new-job", id)
}

func TestListJobsSendsFilter(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "finished", r.URL.Query().Get("state"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, []map[string]any{{"id": "a", "state": "finished"}})
	})

	jobs, err := client.ListJobs(context.Background(), model.JobFilter{State: model.StateFinished, Limit: 5})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "a", jobs[0].ID)
}

func TestExportURLs(t *testing.T) {
	client := New("http://localhost:8080/", 0)

	assert.Equal(t, "http://localhost:8080/jobs/a%2Fb/export.csv", client.ExportCSVURL("a/b"))
	assert.Equal(t, "http://localhost:8080/jobs/abc/export.json", client.ExportJSONURL("abc"))
}
