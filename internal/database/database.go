package database

import (
	"context"
	"deliverly/internal/config"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// maxIDAttempts bounds how often job creation retries after an id collision
const maxIDAttempts = 5

// Database is the single source of truth for jobs and their results
type Database interface {
	Health() error
	Close(ctx context.Context) error
	JobDatabase
	ResultsDatabase
}

// NewID allocates an opaque job id
func NewID() string {
	return primitive.NewObjectID().Hex()
}

type mongoDB struct {
	client *mongo.Client
	db     *mongo.Database

	jobsCol       *mongo.Collection
	resultSetsCol *mongo.Collection
	resultRowsCol *mongo.Collection
	metaCol       *mongo.Collection

	newID func() string
}

// New connects to MongoDB and prepares the collections and indexes
func New(cfg config.MongoDBConfig) (Database, error) {
	clientOptions := options.Client().ApplyURI(cfg.URI)
	if cfg.Username != "" {
		clientOptions.SetAuth(options.Credential{
			Username: cfg.Username,
			Password: cfg.Password,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	db := client.Database(cfg.DB)

	jobsCol := db.Collection("jobs")
	jobIndexModels := []mongo.IndexModel{
		{
			// Index for state-based queries
			Keys: bson.D{{Key: "state", Value: 1}},
		},
		{
			// Index for sorting by start date
			Keys: bson.D{{Key: "started_at", Value: -1}},
		},
		{
			// Compound index used by the reaper
			Keys: bson.D{{Key: "state", Value: 1}, {Key: "updated_at", Value: 1}},
		},
	}
	if _, err := jobsCol.Indexes().CreateMany(ctx, jobIndexModels); err != nil {
		log.Warn().Err(err).Str("Collection", "Jobs").Msg("Error creating indexes")
	}

	resultRowsCol := db.Collection("result_rows")
	rowIndexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "job_id", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := resultRowsCol.Indexes().CreateMany(ctx, rowIndexModels); err != nil {
		log.Warn().Err(err).Str("Collection", "ResultRows").Msg("Error creating indexes")
	}

	log.Info().Str("db", cfg.DB).Msg("MongoDB connection established")

	return &mongoDB{
		client:        client,
		db:            db,
		jobsCol:       jobsCol,
		resultSetsCol: db.Collection("result_sets"),
		resultRowsCol: resultRowsCol,
		metaCol:       db.Collection("meta"),
		newID:         NewID,
	}, nil
}

// Health implements Database interface
func (m *mongoDB) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	err := m.client.Ping(ctx, nil)

	if err != nil {
		log.Error().Msgf("Database health error: %v", err)
		return err
	}

	return nil
}

// Close disconnects from MongoDB
func (m *mongoDB) Close(ctx context.Context) error {
	log.Info().Msg("Closing MongoDB connection")
	return m.client.Disconnect(ctx)
}
