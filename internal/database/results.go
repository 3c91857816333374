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

// rowInsertBatch bounds how many result rows go into one InsertMany
const rowInsertBatch = 500

// ResultsDatabase stores the write-once verdicts of finished jobs
type ResultsDatabase interface {
	// Store every row of a job; a second call for the same job fails
	SaveResults(ctx context.Context, jobID string, rows []model.ValidationRow) error

	// Get the rows of a job in processing order
	GetResults(ctx context.Context, jobID string) ([]model.ValidationRow, error)

	// Drop the rows of a job that will never finish. Missing rows are not an error.
	DiscardResults(ctx context.Context, jobID string) error
}

type resultSet struct {
	JobID     string    `bson:"_id"`
	RowCount  int       `bson:"row_count"`
	Complete  bool      `bson:"complete"`
	CreatedAt time.Time `bson:"created_at"`
}

type resultRow struct {
	JobID string              `bson:"job_id"`
	Seq   int                 `bson:"seq"`
	Row   model.ValidationRow `bson:"row"`
}

// SaveResults claims the result set for the job, then inserts the rows and
// marks the set complete. The claim gives at-most-one writer per job.
func (m *mongoDB) SaveResults(ctx context.Context, jobID string, rows []model.ValidationRow) error {
	set := resultSet{
		JobID:     jobID,
		RowCount:  len(rows),
		CreatedAt: time.Now().UTC(),
	}

	if _, err := m.resultSetsCol.InsertOne(ctx, set); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", model.ErrResultsExist, jobID)
		}
		log.Error().Err(err).Str("jobID", jobID).Msg("Failed to claim result set")
		return err
	}

	for start := 0; start < len(rows); start += rowInsertBatch {
		end := min(start+rowInsertBatch, len(rows))

		docs := make([]interface{}, 0, end-start)
		for i := start; i < end; i++ {
			docs = append(docs, resultRow{JobID: jobID, Seq: i, Row: rows[i]})
		}

		if _, err := m.resultRowsCol.InsertMany(ctx, docs); err != nil {
			log.Error().Err(err).Str("jobID", jobID).Int("offset", start).Msg("Failed to insert result rows")
			return err
		}
	}

	_, err := m.resultSetsCol.UpdateOne(ctx,
		bson.M{"_id": jobID},
		bson.M{"$set": bson.M{"complete": true}},
	)
	if err != nil {
		log.Error().Err(err).Str("jobID", jobID).Msg("Failed to complete result set")
		return err
	}

	log.Debug().Str("jobID", jobID).Int("resultCount", len(rows)).Msg("Saved job results")
	return nil
}

// GetResults returns the rows of a complete result set ordered by sequence
func (m *mongoDB) GetResults(ctx context.Context, jobID string) ([]model.ValidationRow, error) {
	var set resultSet
	err := m.resultSetsCol.FindOne(ctx, bson.M{"_id": jobID, "complete": true}).Decode(&set)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: no results for %s", model.ErrNotFound, jobID)
		}
		log.Error().Err(err).Str("jobID", jobID).Msg("Failed to get result set")
		return nil, err
	}

	cursor, err := m.resultRowsCol.Find(ctx,
		bson.M{"job_id": jobID},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}),
	)
	if err != nil {
		log.Error().Err(err).Str("jobID", jobID).Msg("Failed to get result rows")
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []resultRow
	if err := cursor.All(ctx, &docs); err != nil {
		log.Error().Err(err).Msg("Failed to decode result rows")
		return nil, err
	}

	rows := make([]model.ValidationRow, 0, len(docs))
	for _, doc := range docs {
		rows = append(rows, doc.Row)
	}

	return rows, nil
}

// DiscardResults removes the rows before the claim so a half-removed set is
// never readable as complete
func (m *mongoDB) DiscardResults(ctx context.Context, jobID string) error {
	if _, err := m.resultSetsCol.UpdateOne(ctx,
		bson.M{"_id": jobID},
		bson.M{"$set": bson.M{"complete": false}},
	); err != nil {
		log.Error().Err(err).Str("jobID", jobID).Msg("Failed to retire result set")
		return err
	}

	if _, err := m.resultRowsCol.DeleteMany(ctx, bson.M{"job_id": jobID}); err != nil {
		log.Error().Err(err).Str("jobID", jobID).Msg("Failed to delete result rows")
		return err
	}

	if _, err := m.resultSetsCol.DeleteOne(ctx, bson.M{"_id": jobID}); err != nil {
		log.Error().Err(err).Str("jobID", jobID).Msg("Failed to delete result set")
		return err
	}

	log.Debug().Str("jobID", jobID).Msg("Discarded job results")
	return nil
}
