package cache

import (
	"context"
	"deliverly/internal/model"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotTerminal is returned when a job that can still change is offered
// to the snapshot cache
var ErrNotTerminal = errors.New("job is not terminal")

// Snapshots stores the immutable views of a job on top of a Cache: the job
// itself once terminal, its result rows and its summary.
type Snapshots struct {
	cache Cache
	ttl   time.Duration
}

// NewSnapshots wraps c. Entries expire after ttl, or never when ttl is zero.
func NewSnapshots(c Cache, ttl time.Duration) *Snapshots {
	return &Snapshots{cache: c, ttl: ttl}
}

// Job returns the cached terminal snapshot of a job
func (s *Snapshots) Job(ctx context.Context, id string) (*model.Job, error) {
	var job model.Job
	if err := s.get(ctx, jobKey(id), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// AddJob caches a job. Only terminal jobs are accepted.
func (s *Snapshots) AddJob(ctx context.Context, job *model.Job) error {
	if !job.State.Terminal() {
		return fmt.Errorf("%w: job %s is %s", ErrNotTerminal, job.ID, job.State)
	}
	return s.add(ctx, jobKey(job.ID), job)
}

// Results returns the cached result rows of a finished job
func (s *Snapshots) Results(ctx context.Context, jobID string) ([]model.ValidationRow, error) {
	var rows []model.ValidationRow
	if err := s.get(ctx, resultsKey(jobID), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Snapshots) AddResults(ctx context.Context, jobID string, rows []model.ValidationRow) error {
	return s.add(ctx, resultsKey(jobID), rows)
}

// Summary returns the cached summary of a finished job
func (s *Snapshots) Summary(ctx context.Context, jobID string) (model.Summary, error) {
	var summary model.Summary
	err := s.get(ctx, summaryKey(jobID), &summary)
	return summary, err
}

func (s *Snapshots) AddSummary(ctx context.Context, jobID string, summary model.Summary) error {
	return s.add(ctx, summaryKey(jobID), summary)
}

func (s *Snapshots) get(ctx context.Context, key string, v any) error {
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *Snapshots) add(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = s.cache.Add(ctx, key, data, s.ttl)
	return err
}

func jobKey(id string) string {
	return "job:" + id
}

func resultsKey(jobID string) string {
	return "results:" + jobID
}

func summaryKey(jobID string) string {
	return "summary:" + jobID
}
