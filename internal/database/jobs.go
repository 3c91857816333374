package database

import (
	"context"
	"deliverly/internal/model"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// maxUpdateAttempts bounds optimistic retries when concurrent updates race
const maxUpdateAttempts = 8

// latestFinishedKey is the meta document holding the most recent finished job
const latestFinishedKey = "latest_finished"

// JobDatabase defines job-related database operations
type JobDatabase interface {
	// Create a new queued job for an uploaded file
	CreateJob(ctx context.Context, file model.FileMeta, validator string) (*model.Job, error)

	// Get a job by ID
	GetJob(ctx context.Context, id string) (*model.Job, error)

	// Apply a validated transition to a job
	UpdateJob(ctx context.Context, id string, update model.JobUpdate) (*model.Job, error)

	// List jobs, newest first
	ListJobs(ctx context.Context, filter model.JobFilter) ([]*model.Job, error)

	// List jobs in a state that have not changed since before the cutoff
	ListStaleJobs(ctx context.Context, state model.JobState, before time.Time) ([]*model.Job, error)

	// Remember the most recently finished job
	SetLatestFinished(ctx context.Context, id string) error

	// Get the most recently finished job id
	GetLatestFinished(ctx context.Context) (string, error)
}

// CreateJob creates a new job in the database
func (m *mongoDB) CreateJob(ctx context.Context, file model.FileMeta, validator string) (*model.Job, error) {
	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		job := model.NewJob(m.newID(), file, validator, time.Now().UTC())

		_, err := m.jobsCol.InsertOne(ctx, job)
		if mongo.IsDuplicateKeyError(err) {
			log.Warn().Str("jobID", job.ID).Int("attempt", attempt).Msg("Job id collision, retrying")
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("jobID", job.ID).Msg("Failed to create job")
			return nil, err
		}

		log.Debug().Str("jobID", job.ID).Str("file", job.FileName).Msg("Created new job")
		return job, nil
	}

	return nil, fmt.Errorf("failed to allocate a unique job id after %d attempts", maxIDAttempts)
}

// GetJob retrieves a job by its ID
func (m *mongoDB) GetJob(ctx context.Context, id string) (*model.Job, error) {
	var job model.Job
	err := m.jobsCol.FindOne(ctx, bson.M{"_id": id}).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", model.ErrNotFound, id)
		}
		log.Error().Err(err).Str("jobID", id).Msg("Failed to get job")
		return nil, err
	}

	return &job, nil
}

// UpdateJob validates the update against the freshest snapshot and writes it
// only if nobody else changed the job in between.
func (m *mongoDB) UpdateJob(ctx context.Context, id string, update model.JobUpdate) (*model.Job, error) {
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		current, err := m.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}

		next, err := current.Apply(update, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		if next.Version == current.Version {
			return next, nil
		}

		result, err := m.jobsCol.ReplaceOne(ctx, bson.M{"_id": id, "version": current.Version}, next)
		if err != nil {
			log.Error().Err(err).Str("jobID", id).Msg("Failed to update job")
			return nil, err
		}
		if result.MatchedCount == 1 {
			log.Debug().
				Str("jobID", id).
				Str("state", string(next.State)).
				Int("processed", next.Processed).
				Msg("Updated job")
			return next, nil
		}

		log.Debug().Str("jobID", id).Int("attempt", attempt).Msg("Concurrent job update, retrying")
	}

	return nil, fmt.Errorf("job %s: too many concurrent updates", id)
}

// ListJobs retrieves jobs newest first, optionally filtered by state
func (m *mongoDB) ListJobs(ctx context.Context, filter model.JobFilter) ([]*model.Job, error) {
	opts := options.Find().
		SetSkip(int64(filter.Offset)).
		SetSort(bson.D{{Key: "started_at", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	query := bson.M{}
	if filter.State != "" {
		query["state"] = filter.State
	}

	cursor, err := m.jobsCol.Find(ctx, query, opts)
	if err != nil {
		log.Error().Err(err).Str("state", string(filter.State)).Msg("Failed to list jobs")
		return nil, err
	}
	defer cursor.Close(ctx)

	jobs := []*model.Job{}
	if err := cursor.All(ctx, &jobs); err != nil {
		log.Error().Err(err).Msg("Failed to decode jobs")
		return nil, err
	}

	return jobs, nil
}

// ListStaleJobs retrieves jobs stuck in a state since before the cutoff
func (m *mongoDB) ListStaleJobs(ctx context.Context, state model.JobState, before time.Time) ([]*model.Job, error) {
	cursor, err := m.jobsCol.Find(ctx, bson.M{
		"state":      state,
		"updated_at": bson.M{"$lt": before},
	})
	if err != nil {
		log.Error().Err(err).Str("state", string(state)).Msg("Failed to list stale jobs")
		return nil, err
	}
	defer cursor.Close(ctx)

	jobs := []*model.Job{}
	if err := cursor.All(ctx, &jobs); err != nil {
		log.Error().Err(err).Msg("Failed to decode jobs")
		return nil, err
	}

	return jobs, nil
}

// SetLatestFinished stores the most recent finished job id
func (m *mongoDB) SetLatestFinished(ctx context.Context, id string) error {
	_, err := m.metaCol.UpdateOne(ctx,
		bson.M{"_id": latestFinishedKey},
		bson.M{"$set": bson.M{"job_id": id, "updated_at": time.Now().UTC()}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		log.Error().Err(err).Str("jobID", id).Msg("Failed to store latest finished job")
		return err
	}
	return nil
}

// GetLatestFinished returns the most recent finished job id
func (m *mongoDB) GetLatestFinished(ctx context.Context) (string, error) {
	var doc struct {
		JobID string `bson:"job_id"`
	}
	err := m.metaCol.FindOne(ctx, bson.M{"_id": latestFinishedKey}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", fmt.Errorf("%w: no finished job yet", model.ErrNotFound)
		}
		return "", err
	}
	return doc.JobID, nil
}
