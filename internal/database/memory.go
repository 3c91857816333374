package database

import (
	"context"
	"deliverly/internal/model"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MemoryDatabase is a single-process Database. All mutations are serialized
// by one lock, so concurrent updates to a job are applied one at a time and
// each is validated against the snapshot left by the previous one.
type MemoryDatabase struct {
	mu      sync.RWMutex
	jobs    map[string]*model.Job
	results map[string][]model.ValidationRow
	latest  string

	now   func() time.Time
	newID func() string
}

// MemoryOption customizes a MemoryDatabase
type MemoryOption func(*MemoryDatabase)

// WithClock replaces the time source used for timestamps
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryDatabase) {
		m.now = now
	}
}

// WithIDGenerator replaces the job id generator
func WithIDGenerator(newID func() string) MemoryOption {
	return func(m *MemoryDatabase) {
		m.newID = newID
	}
}

// NewMemoryDatabase creates an empty in-memory database
func NewMemoryDatabase(opts ...MemoryOption) *MemoryDatabase {
	m := &MemoryDatabase{
		jobs:    make(map[string]*model.Job),
		results: make(map[string][]model.ValidationRow),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   NewID,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Health implements Database interface
func (m *MemoryDatabase) Health() error {
	return nil
}

// Close implements Database interface
func (m *MemoryDatabase) Close(context.Context) error {
	return nil
}

// CreateJob creates a new queued job
func (m *MemoryDatabase) CreateJob(ctx context.Context, file model.FileMeta, validator string) (*model.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		id := m.newID()
		if _, exists := m.jobs[id]; exists {
			log.Warn().Str("jobID", id).Int("attempt", attempt).Msg("Job id collision, retrying")
			continue
		}

		job := model.NewJob(id, file, validator, m.now())
		m.jobs[id] = job

		log.Debug().Str("jobID", id).Str("file", job.FileName).Msg("Created new job")
		return job.Clone(), nil
	}

	return nil, fmt.Errorf("failed to allocate a unique job id after %d attempts", maxIDAttempts)
}

// GetJob returns a copy of the job
func (m *MemoryDatabase) GetJob(ctx context.Context, id string) (*model.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return job.Clone(), nil
}

// UpdateJob applies a validated transition
func (m *MemoryDatabase) UpdateJob(ctx context.Context, id string, update model.JobUpdate) (*model.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}

	next, err := current.Apply(update, m.now())
	if err != nil {
		return nil, err
	}
	m.jobs[id] = next

	log.Debug().
		Str("jobID", id).
		Str("state", string(next.State)).
		Int("processed", next.Processed).
		Msg("Updated job")

	return next.Clone(), nil
}

// ListJobs returns jobs newest first
func (m *MemoryDatabase) ListJobs(ctx context.Context, filter model.JobFilter) ([]*model.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	jobs := make([]*model.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if filter.State != "" && job.State != filter.State {
			continue
		}
		jobs = append(jobs, job.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(i, k int) bool {
		if jobs[i].StartedAt.Equal(jobs[k].StartedAt) {
			return jobs[i].ID > jobs[k].ID
		}
		return jobs[i].StartedAt.After(jobs[k].StartedAt)
	})

	if filter.Offset >= len(jobs) {
		return []*model.Job{}, nil
	}
	jobs = jobs[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(jobs) {
		jobs = jobs[:filter.Limit]
	}
	return jobs, nil
}

// ListStaleJobs returns jobs in state whose last change is before the cutoff
func (m *MemoryDatabase) ListStaleJobs(ctx context.Context, state model.JobState, before time.Time) ([]*model.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := []*model.Job{}
	for _, job := range m.jobs {
		if job.State == state && job.UpdatedAt.Before(before) {
			jobs = append(jobs, job.Clone())
		}
	}
	return jobs, nil
}

// SetLatestFinished stores the most recent finished job id
func (m *MemoryDatabase) SetLatestFinished(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.latest = id
	return nil
}

// GetLatestFinished returns the most recent finished job id
func (m *MemoryDatabase) GetLatestFinished(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.latest == "" {
		return "", fmt.Errorf("%w: no finished job yet", model.ErrNotFound)
	}
	return m.latest, nil
}

// SaveResults stores the rows of a job exactly once
func (m *MemoryDatabase) SaveResults(ctx context.Context, jobID string, rows []model.ValidationRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.results[jobID]; exists {
		return fmt.Errorf("%w: %s", model.ErrResultsExist, jobID)
	}

	stored := make([]model.ValidationRow, len(rows))
	copy(stored, rows)
	m.results[jobID] = stored

	log.Debug().Str("jobID", jobID).Int("resultCount", len(rows)).Msg("Saved job results")
	return nil
}

// DiscardResults drops the rows of a job
func (m *MemoryDatabase) DiscardResults(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.results, jobID)
	m.mu.Unlock()
	return nil
}

// GetResults returns a copy of the rows of a job
func (m *MemoryDatabase) GetResults(ctx context.Context, jobID string) ([]model.ValidationRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rows, ok := m.results[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: no results for %s", model.ErrNotFound, jobID)
	}

	out := make([]model.ValidationRow, len(rows))
	copy(out, rows)
	return out, nil
}
