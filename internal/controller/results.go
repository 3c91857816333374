package controller

import (
	"context"
	"deliverly/internal/cache"
	"deliverly/internal/database"
	"deliverly/internal/model"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const maxPageSize = 500

// CSVHeader is the header row of a CSV export
var CSVHeader = []string{"Email", "Status", "Name", "Company"}

// ResultsPage is one page of a job's rows
type ResultsPage struct {
	Results    []model.ValidationRow `json:"results"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
	TotalRows  int                   `json:"total_rows"`
	TotalPages int                   `json:"total_pages"`
}

// ResultsRepository serves the rows of finished jobs. Every method fails
// with model.ErrNotFound for an unknown job and model.ErrNotReady for a job
// that is not finished.
type ResultsRepository interface {
	// GetResults returns every row in processing order
	GetResults(ctx context.Context, jobID string) ([]model.ValidationRow, error)

	// GetResultsPage returns one page of rows, pages start at 1
	GetResultsPage(ctx context.Context, jobID string, page, pageSize int) (*ResultsPage, error)

	// GetSummary classifies every row of the job
	GetSummary(ctx context.Context, jobID string) (model.Summary, error)

	// ExportCSV writes the rows as CSV with a header row
	ExportCSV(ctx context.Context, jobID string, w io.Writer) error

	// ExportJSON writes the rows as a JSON array
	ExportJSON(ctx context.Context, jobID string, w io.Writer) error
}

type summaryEntry struct {
	once    sync.Once
	summary model.Summary
	err     error
}

type resultsRepository struct {
	jobs      database.JobDatabase
	results   database.ResultsDatabase
	snapshots *cache.Snapshots
	pageSize  int

	loads     singleflight.Group
	mu        sync.Mutex
	summaries map[string]*summaryEntry
}

// NewResultsRepository creates a results repository
func NewResultsRepository(jobs database.JobDatabase, results database.ResultsDatabase, c cache.Cache, cacheTTL time.Duration, pageSize int) ResultsRepository {
	if pageSize <= 0 {
		pageSize = 25
	}

	return &resultsRepository{
		jobs:      jobs,
		results:   results,
		snapshots: cache.NewSnapshots(c, cacheTTL),
		pageSize:  pageSize,
		summaries: make(map[string]*summaryEntry),
	}
}

// requireFinished enforces the read preconditions shared by every method
func (r *resultsRepository) requireFinished(ctx context.Context, jobID string) error {
	job, err := r.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State != model.StateFinished {
		return fmt.Errorf("%w: job %s is %s", model.ErrNotReady, jobID, job.State)
	}
	return nil
}

func (r *resultsRepository) GetResults(ctx context.Context, jobID string) ([]model.ValidationRow, error) {
	if err := r.requireFinished(ctx, jobID); err != nil {
		return nil, err
	}
	return r.loadRows(ctx, jobID)
}

// loadRows reads the rows through the cache. Concurrent loads of the same
// job share one store read.
func (r *resultsRepository) loadRows(ctx context.Context, jobID string) ([]model.ValidationRow, error) {
	if rows, err := r.snapshots.Results(ctx, jobID); err == nil {
		return rows, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		log.Warn().Err(err).Str("jobID", jobID).Msg("Results cache read failed")
	}

	v, err, _ := r.loads.Do(jobID, func() (interface{}, error) {
		rows, err := r.results.GetResults(ctx, jobID)
		if err != nil {
			return nil, err
		}

		if err := r.snapshots.AddResults(ctx, jobID, rows); err != nil {
			log.Warn().Err(err).Str("jobID", jobID).Msg("Results cache write failed")
		}
		return rows, nil
	})
	if err != nil {
		log.Error().Err(err).Str("jobID", jobID).Msg("Failed to load results")
		return nil, err
	}

	shared := v.([]model.ValidationRow)
	rows := make([]model.ValidationRow, len(shared))
	copy(rows, shared)
	return rows, nil
}

func (r *resultsRepository) GetResultsPage(ctx context.Context, jobID string, page, pageSize int) (*ResultsPage, error) {
	rows, err := r.GetResults(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = r.pageSize
	}
	pageSize = min(pageSize, maxPageSize)

	start := min((page-1)*pageSize, len(rows))
	end := min(start+pageSize, len(rows))

	return &ResultsPage{
		Results:    rows[start:end],
		Page:       page,
		PageSize:   pageSize,
		TotalRows:  len(rows),
		TotalPages: (len(rows) + pageSize - 1) / pageSize,
	}, nil
}

// GetSummary shares one computation between concurrent callers for a job.
// The entry is dropped once the computation settles; later calls are served
// by the summary cache, and a failed computation may be retried.
func (r *resultsRepository) GetSummary(ctx context.Context, jobID string) (model.Summary, error) {
	if err := r.requireFinished(ctx, jobID); err != nil {
		return model.Summary{}, err
	}

	r.mu.Lock()
	entry, ok := r.summaries[jobID]
	if !ok {
		entry = &summaryEntry{}
		r.summaries[jobID] = entry
	}
	r.mu.Unlock()

	entry.once.Do(func() {
		entry.summary, entry.err = r.computeSummary(ctx, jobID)

		r.mu.Lock()
		if r.summaries[jobID] == entry {
			delete(r.summaries, jobID)
		}
		r.mu.Unlock()
	})

	if entry.err != nil {
		return model.Summary{}, entry.err
	}
	return entry.summary, nil
}

func (r *resultsRepository) computeSummary(ctx context.Context, jobID string) (model.Summary, error) {
	if summary, err := r.snapshots.Summary(ctx, jobID); err == nil {
		return summary, nil
	}

	rows, err := r.loadRows(ctx, jobID)
	if err != nil {
		return model.Summary{}, err
	}

	summary := model.Summarize(rows)
	if err := r.snapshots.AddSummary(ctx, jobID, summary); err != nil {
		log.Warn().Err(err).Str("jobID", jobID).Msg("Summary cache write failed")
	}

	log.Debug().
		Str("jobID", jobID).
		Int("total", summary.Total).
		Int("deliverable", summary.Deliverable).
		Msg("Computed job summary")

	return summary, nil
}

func (r *resultsRepository) ExportCSV(ctx context.Context, jobID string, w io.Writer) error {
	rows, err := r.GetResults(ctx, jobID)
	if err != nil {
		return err
	}
	return WriteCSV(w, rows)
}

func (r *resultsRepository) ExportJSON(ctx context.Context, jobID string, w io.Writer) error {
	rows, err := r.GetResults(ctx, jobID)
	if err != nil {
		return err
	}
	return json.NewEncoder(w).Encode(rows)
}

// WriteCSV serializes rows with the export header. The email column falls
// back to the generated address and the name column to first and last name.
func WriteCSV(w io.Writer, rows []model.ValidationRow) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(CSVHeader); err != nil {
		return err
	}

	for _, row := range rows {
		record := []string{row.Address(), string(row.Status), row.DisplayName(), row.Company}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
