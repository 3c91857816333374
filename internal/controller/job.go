package controller

import (
	"context"
	"deliverly/internal/aws"
	"deliverly/internal/cache"
	"deliverly/internal/config"
	"deliverly/internal/database"
	"deliverly/internal/model"
	"deliverly/internal/orchestrator"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrInvalidInput is returned for uploads or filters the service cannot accept
var ErrInvalidInput = errors.New("invalid input")

// JobController handles job operations
type JobController interface {
	// CreateJob stores the upload, creates a queued job and hands it to a runner
	CreateJob(ctx context.Context, name string, size int64, file io.Reader) (*model.Job, error)

	// GetJob returns the current snapshot of a job
	GetJob(ctx context.Context, id string) (*model.Job, error)

	// ListJobs returns jobs newest first
	ListJobs(ctx context.Context, filter model.JobFilter) ([]*model.Job, error)

	// CancelJob moves a queued or processing job to cancelled
	CancelJob(ctx context.Context, id string) (*model.Job, error)

	// LatestFinished returns the most recently finished job
	LatestFinished(ctx context.Context) (*model.Job, error)

	// ExportCSVURL is where the CSV export of a job can be downloaded
	ExportCSVURL(id string) string

	// ExportJSONURL is where the JSON export of a job can be downloaded
	ExportJSONURL(id string) string
}

type jobController struct {
	db         database.JobDatabase
	files      aws.FileService
	dispatcher orchestrator.Dispatcher
	active     *orchestrator.ActiveRuns
	snapshots  *cache.Snapshots
	jobsConfig config.JobsConfig
	baseURL    string
}

// NewJobController creates a new job controller. active may be nil when
// jobs run in another process.
func NewJobController(db database.JobDatabase, files aws.FileService, dispatcher orchestrator.Dispatcher,
	active *orchestrator.ActiveRuns, c cache.Cache, cfg config.Config) JobController {
	return &jobController{
		db:         db,
		files:      files,
		dispatcher: dispatcher,
		active:     active,
		snapshots:  cache.NewSnapshots(c, cfg.Redis.TTL()),
		jobsConfig: cfg.Jobs,
		baseURL:    strings.TrimRight(cfg.PublicBaseURL, "/"),
	}
}

func (c *jobController) CreateJob(ctx context.Context, name string, size int64, file io.Reader) (*model.Job, error) {
	name = filepath.Base(strings.TrimSpace(name))
	switch {
	case name == "" || name == "." || name == "/":
		return nil, fmt.Errorf("%w: file name is required", ErrInvalidInput)
	case !strings.EqualFold(filepath.Ext(name), ".csv"):
		return nil, fmt.Errorf("%w: only .csv files are accepted", ErrInvalidInput)
	case size <= 0:
		return nil, fmt.Errorf("%w: file is empty", ErrInvalidInput)
	case size > c.jobsConfig.MaxUploadBytes:
		return nil, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidInput, c.jobsConfig.MaxUploadBytes)
	}

	key := fmt.Sprintf("jobs/%s.csv", database.NewID())
	if _, err := c.files.UploadFile(ctx, key, file); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	job, err := c.db.CreateJob(ctx, model.FileMeta{Name: name, Size: size, Key: key}, c.jobsConfig.Validator)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if err := c.dispatcher.Enqueue(ctx, job.ID); err != nil {
		if _, cancelErr := c.db.UpdateJob(context.WithoutCancel(ctx), job.ID, model.Transition(model.StateCancelled)); cancelErr != nil {
			log.Error().Err(cancelErr).Str("jobID", job.ID).Msg("Failed to cancel job that could not be enqueued")
		}
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Info().
		Str("jobID", job.ID).
		Str("file", name).
		Int64("size", size).
		Msg("Job created and enqueued")

	return job, nil
}

// GetJob serves terminal jobs from the cache since they can no longer change
func (c *jobController) GetJob(ctx context.Context, id string) (*model.Job, error) {
	if cached, err := c.snapshots.Job(ctx, id); err == nil {
		return cached, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		log.Warn().Err(err).Str("jobID", id).Msg("Job cache read failed")
	}

	job, err := c.db.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	if job.State.Terminal() {
		if err := c.snapshots.AddJob(ctx, job); err != nil {
			log.Warn().Err(err).Str("jobID", id).Msg("Job cache write failed")
		}
	}

	return job, nil
}

func (c *jobController) ListJobs(ctx context.Context, filter model.JobFilter) ([]*model.Job, error) {
	if filter.State != "" && !filter.State.Valid() {
		return nil, fmt.Errorf("%w: unknown state %q", ErrInvalidInput, filter.State)
	}
	return c.db.ListJobs(ctx, filter)
}

func (c *jobController) CancelJob(ctx context.Context, id string) (*model.Job, error) {
	job, err := c.db.UpdateJob(ctx, id, model.Transition(model.StateCancelled))
	if err != nil {
		return nil, err
	}

	if c.active != nil {
		c.active.Cancel(id)
	}

	log.Info().Str("jobID", id).Msg("Job cancelled")
	return job, nil
}

func (c *jobController) LatestFinished(ctx context.Context) (*model.Job, error) {
	id, err := c.db.GetLatestFinished(ctx)
	if err != nil {
		return nil, err
	}
	return c.GetJob(ctx, id)
}

func (c *jobController) ExportCSVURL(id string) string {
	return fmt.Sprintf("%s/jobs/%s/export.csv", c.baseURL, url.PathEscape(id))
}

func (c *jobController) ExportJSONURL(id string) string {
	return fmt.Sprintf("%s/jobs/%s/export.json", c.baseURL, url.PathEscape(id))
}

// LocalSource reads jobs and their results in process. It satisfies
// poller.JobSource so a job can be watched without going through HTTP.
type LocalSource struct {
	JobController
	ResultsRepository
}
