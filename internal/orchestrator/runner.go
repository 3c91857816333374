package orchestrator

import (
	"context"
	"deliverly/internal/aws"
	"deliverly/internal/database"
	"deliverly/internal/model"
	"deliverly/internal/processor"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultBatchSize   = 25
	interruptedMessage = "processing interrupted"
)

// JobRunner executes one queued job to completion
type JobRunner interface {
	Run(ctx context.Context, jobID string) error
}

// RunnerOptions tunes how a job is processed
type RunnerOptions struct {
	// BatchSize is how many rows are validated between two progress updates
	BatchSize int
	// StepDelay is the pause after each batch, zero disables it
	StepDelay time.Duration
	// Concurrency bounds parallel validator calls within a batch
	Concurrency int
}

// Runner drives a job through processing: it reads the uploaded file,
// validates every row, stores the results and finishes the job
type Runner struct {
	db         database.Database
	files      aws.FileService
	validators processor.ValidatorRegistry
	active     *ActiveRuns
	opts       RunnerOptions
}

// NewRunner creates a job runner
func NewRunner(db database.Database, files aws.FileService, validators processor.ValidatorRegistry, active *ActiveRuns, opts RunnerOptions) *Runner {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if active == nil {
		active = NewActiveRuns()
	}

	return &Runner{
		db:         db,
		files:      files,
		validators: validators,
		active:     active,
		opts:       opts,
	}
}

// Active returns the registry of runs owned by this runner
func (r *Runner) Active() *ActiveRuns {
	return r.active
}

// Run processes a queued job. Failures of the job itself are recorded on
// the job and Run returns nil; an error means the job could not be read.
// Jobs that are no longer queued are skipped.
func (r *Runner) Run(ctx context.Context, jobID string) (err error) {
	logger := log.With().Str("jobID", jobID).Logger()

	job, err := r.db.GetJob(ctx, jobID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to retrieve job")
		return err
	}
	if job.State != model.StateQueued {
		logger.Warn().Str("state", string(job.State)).Msg("Job is not queued, skipping")
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.active.Register(jobID, cancel)
	defer r.active.Remove(jobID)

	if _, err := r.db.UpdateJob(ctx, jobID, model.Transition(model.StateProcessing)); err != nil {
		if errors.Is(err, model.ErrInvalidTransition) {
			logger.Info().Err(err).Msg("Job changed before processing started")
			return nil
		}
		logger.Error().Err(err).Msg("Failed to start job")
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			logger.Error().Interface("panic", p).Msg("Job run panicked")
			r.fail(ctx, logger, jobID, fmt.Sprintf("internal error: %v", p))
			err = nil
		}
	}()

	logger.Info().Str("file", job.FileName).Str("validator", job.Validator).Msg("Processing job")
	started := time.Now()

	rows, err := r.process(ctx, logger, job)
	if err != nil {
		if ctx.Err() != nil {
			r.fail(ctx, logger, jobID, interruptedMessage)
			return nil
		}
		if errors.Is(err, model.ErrInvalidTransition) {
			logger.Info().Err(err).Msg("Job was changed while processing, stopping")
			return nil
		}
		r.fail(ctx, logger, jobID, err.Error())
		return nil
	}

	if err := r.db.SaveResults(ctx, jobID, rows); err != nil {
		logger.Error().Err(err).Msg("Failed to save results")
		r.fail(ctx, logger, jobID, "could not store results")
		return nil
	}

	if _, err := r.db.UpdateJob(ctx, jobID, model.Finish(len(rows))); err != nil {
		logger.Warn().Err(err).Msg("Could not finish job, discarding its results")
		r.discard(ctx, logger, jobID)
		return nil
	}

	if err := r.db.SetLatestFinished(ctx, jobID); err != nil {
		logger.Error().Err(err).Msg("Failed to record latest finished job")
	}

	logger.Info().
		Int("rows", len(rows)).
		Dur("duration", time.Since(started)).
		Msg("Job finished")

	return nil
}

// process parses the upload and validates it batch by batch, publishing
// progress after every batch
func (r *Runner) process(ctx context.Context, logger zerolog.Logger, job *model.Job) ([]model.ValidationRow, error) {
	validator, ok := r.validators.Get(job.Validator)
	if !ok {
		return nil, fmt.Errorf("unknown validator %q", job.Validator)
	}

	file, err := r.files.OpenFile(ctx, job.FileKey)
	if err != nil {
		logger.Error().Err(err).Str("key", job.FileKey).Msg("Failed to open uploaded file")
		return nil, fmt.Errorf("could not read uploaded file: %w", err)
	}
	defer file.Close()

	parsed, err := processor.ParseContacts(file)
	if err != nil {
		return nil, err
	}
	if parsed.Skipped > 0 {
		logger.Warn().Int("skipped", parsed.Skipped).Msg("Skipped rows without a usable email")
	}

	total := len(parsed.Contacts)
	if _, err := r.db.UpdateJob(ctx, job.ID, model.SetTotal(total)); err != nil {
		return nil, err
	}

	rows := make([]model.ValidationRow, 0, total)
	batches := processor.SplitIntoBatches(parsed.Contacts, r.opts.BatchSize)

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		validated, err := processor.ValidateBatch(ctx, validator, batch, r.opts.Concurrency)
		if err != nil {
			return nil, err
		}
		rows = append(rows, validated...)

		if _, err := r.db.UpdateJob(ctx, job.ID, model.Progress(len(rows))); err != nil {
			return nil, err
		}

		logger.Debug().
			Int("batch", i+1).
			Int("batches", len(batches)).
			Int("processed", len(rows)).
			Msg("Batch validated")

		if i < len(batches)-1 {
			if err := r.pause(ctx); err != nil {
				return nil, err
			}
		}
	}

	return rows, nil
}

func (r *Runner) pause(ctx context.Context) error {
	if r.opts.StepDelay <= 0 {
		return nil
	}

	timer := time.NewTimer(r.opts.StepDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// fail moves the job to error. The write survives cancellation of ctx so an
// interrupted run still leaves a terminal job behind. A job that was
// cancelled meanwhile stays cancelled.
func (r *Runner) fail(ctx context.Context, logger zerolog.Logger, jobID, message string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	_, err := r.db.UpdateJob(ctx, jobID, model.Fail(message))
	switch {
	case err == nil:
		logger.Warn().Str("reason", message).Msg("Job failed")
	case errors.Is(err, model.ErrInvalidTransition):
		logger.Info().Msg("Job already terminal, not marking it failed")
	default:
		logger.Error().Err(err).Msg("Failed to mark job as failed")
	}
}

// discard drops saved results of a job that ended some other way, so only
// finished jobs ever have results
func (r *Runner) discard(ctx context.Context, logger zerolog.Logger, jobID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := r.db.DiscardResults(ctx, jobID); err != nil {
		logger.Error().Err(err).Msg("Failed to discard results of unfinished job")
	}
}
