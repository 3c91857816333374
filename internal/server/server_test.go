package server

import (
	"bytes"
	"context"
	"deliverly/internal/aws"
	"deliverly/internal/cache"
	"deliverly/internal/config"
	"deliverly/internal/controller"
	"deliverly/internal/database"
	"deliverly/internal/model"
	"deliverly/internal/orchestrator"
	"deliverly/internal/processor"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const uploadCSV = "email,first_name,last_name,company,domain\n" +
	"jane@acme.io,Jane,Doe,Acme,acme.io\n" +
	"info@acme.io,,,Acme,acme.io\n" +
	",Bob,Stone,Globex,globex.com\n"

// inlineDispatcher runs each job before Enqueue returns
type inlineDispatcher struct {
	runner *orchestrator.Runner
	skip   bool
}

func (d *inlineDispatcher) Enqueue(ctx context.Context, jobID string) error {
	if d.skip {
		return nil
	}
	return d.runner.Run(ctx, jobID)
}

func (d *inlineDispatcher) Start(context.Context) error { return nil }

func (d *inlineDispatcher) Stop() {}

type testServer struct {
	handler    http.Handler
	db         *database.MemoryDatabase
	dispatcher *inlineDispatcher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.PublicBaseURL = "http://deliverly.test"
	cfg.Jobs.BatchSize = 2

	db := database.NewMemoryDatabase()
	files := aws.NewMemoryFileService()
	c := cache.NewMemoryCache()
	active := orchestrator.NewActiveRuns()

	runner := orchestrator.NewRunner(db, files, processor.DefaultRegistry(), active, orchestrator.RunnerOptions{BatchSize: cfg.Jobs.BatchSize})
	dispatcher := &inlineDispatcher{runner: runner}

	sc := controller.NewServer(db, c, nil, files)
	jc := controller.NewJobController(db, files, dispatcher, active, c, *cfg)
	rr := controller.NewResultsRepository(db, db, c, cfg.Redis.TTL(), cfg.Jobs.ResultsPageSize)

	return &testServer{
		handler:    NewServer(*cfg, sc, jc, rr).RegisterRoutes(),
		db:         db,
		dispatcher: dispatcher,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()

	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) upload(t *testing.T, name, content string) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	return s.do(t, http.MethodPost, "/jobs", &body, writer.FormDataContentType())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	rec := s.upload(t, "contacts.csv", uploadCSV)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	jobID := decode[map[string]string](t, rec)["job_id"]
	require.NotEmpty(t, jobID)

	rec = s.do(t, http.MethodGet, "/jobs/"+jobID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	job := decode[JobResponse](t, rec)
	assert.Equal(t, "finished", job.State)
	require.NotNil(t, job.Total)
	assert.Equal(t, 3, *job.Total)
	assert.Equal(t, 3, job.Processed)
	assert.Equal(t, 100, job.Percent)
	assert.NotZero(t, job.StartedAt)
	require.NotNil(t, job.FinishedAt)
	assert.Equal(t, "contacts.csv", job.FileName)
	assert.Equal(t, "http://deliverly.test/jobs/"+jobID+"/export.csv", job.ExportCSVURL)

	rec = s.do(t, http.MethodGet, "/jobs/"+jobID+"/results", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decode[[]model.ValidationRow](t, rec)
	require.Len(t, rows, 3)
	assert.Equal(t, "bob.stone@globex.com", rows[2].GeneratedEmail)

	rec = s.do(t, http.MethodGet, "/jobs/"+jobID+"/summary", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[SummaryResponse](t, rec)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, summary.Total, summary.Deliverable+summary.Undeliverable+summary.Risky+summary.Unknown)

	rec = s.do(t, http.MethodGet, "/jobs/"+jobID+"/export.csv", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Email,Status,Name,Company\n"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")

	rec = s.do(t, http.MethodGet, "/jobs/"+jobID+"/export.json", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.ValidationRow](t, rec), 3)

	rec = s.do(t, http.MethodGet, "/jobs/"+jobID+"/results?page=2&page_size=2", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[controller.ResultsPage](t, rec)
	assert.Len(t, page.Results, 1)
	assert.Equal(t, 2, page.TotalPages)

	rec = s.do(t, http.MethodGet, "/jobs/latest", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, jobID, decode[JobResponse](t, rec).ID)

	rec = s.do(t, http.MethodGet, "/jobs?state=finished", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]JobResponse](t, rec), 1)
}

func TestUnparsableUploadEndsInError(t *testing.T) {
	s := newTestServer(t)

	rec := s.upload(t, "contacts.csv", "phone\n555\n")
	require.Equal(t, http.StatusCreated, rec.Code)
	jobID := decode[map[string]string](t, rec)["job_id"]

	rec = s.do(t, http.MethodGet, "/jobs/"+jobID, nil, "")
	job := decode[JobResponse](t, rec)
	assert.Equal(t, "error", job.State)
	assert.NotEmpty(t, job.Error)
	assert.NotNil(t, job.FinishedAt)
	assert.Empty(t, job.ExportCSVURL)

	rec = s.do(t, http.MethodGet, "/jobs/"+jobID+"/results", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	s.dispatcher.skip = true

	rec := s.do(t, http.MethodGet, "/jobs/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, decode[map[string]string](t, rec)["error"])

	rec = s.do(t, http.MethodGet, "/jobs/latest", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.upload(t, "contacts.csv", uploadCSV)
	require.Equal(t, http.StatusCreated, rec.Code)
	jobID := decode[map[string]string](t, rec)["job_id"]

	rec = s.do(t, http.MethodGet, "/jobs/"+jobID, nil, "")
	queued := decode[JobResponse](t, rec)
	assert.Equal(t, "queued", queued.State)
	assert.Nil(t, queued.Total)
	assert.Nil(t, queued.FinishedAt)

	rec = s.do(t, http.MethodGet, "/jobs/"+jobID+"/summary", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/jobs/"+jobID+"/cancel", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decode[JobResponse](t, rec).State)

	rec = s.do(t, http.MethodPost, "/jobs/"+jobID+"/cancel", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodGet, "/jobs/"+jobID+"/results?page=0", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/jobs?state=paused", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateJobValidation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/jobs", bytes.NewBufferString("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.upload(t, "contacts.txt", uploadCSV)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.upload(t, "contacts.csv", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]bool{"database": true, "cache": true, "queue": true, "file_service": true}, decode[map[string]bool](t, rec))

	rec = s.do(t, http.MethodGet, "/online", nil, "")
	assert.Equal(t, "Online", rec.Body.String())
}
