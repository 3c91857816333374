package orchestrator

import (
	"context"
	"deliverly/internal/database"
	"deliverly/internal/model"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// Reaper settles jobs nobody will finish: processing jobs whose runner died
// mid-job are failed, and queued jobs whose queue entry was lost are
// cancelled
type Reaper struct {
	db          database.JobDatabase
	active      *ActiveRuns
	staleAfter  time.Duration
	queuedAfter time.Duration
	interval    time.Duration
	now         func() time.Time
}

// NewReaper creates a reaper. Jobs in active are never reaped.
func NewReaper(db database.JobDatabase, active *ActiveRuns, staleAfter, queuedAfter time.Duration) *Reaper {
	interval := staleAfter / 2
	if interval < time.Second {
		interval = time.Second
	}

	return &Reaper{
		db:          db,
		active:      active,
		staleAfter:  staleAfter,
		queuedAfter: queuedAfter,
		interval:    interval,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run reaps stale jobs periodically until ctx is cancelled
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log.Info().
		Dur("staleAfter", r.staleAfter).
		Dur("queuedAfter", r.queuedAfter).
		Msg("Job reaper started")

	for {
		if _, err := r.Reap(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Failed to reap stale jobs")
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("Job reaper stopped")
			return
		case <-ticker.C:
		}
	}
}

// Reap fails stale processing jobs and cancels stale queued jobs. It
// returns how many jobs it settled.
func (r *Reaper) Reap(ctx context.Context) (int, error) {
	now := r.now()

	failed, err := r.settle(ctx, model.StateProcessing, now.Add(-r.staleAfter), model.Fail(interruptedMessage))
	if err != nil {
		return failed, err
	}

	if r.queuedAfter <= 0 {
		return failed, nil
	}
	cancelled, err := r.settle(ctx, model.StateQueued, now.Add(-r.queuedAfter), model.Transition(model.StateCancelled))
	return failed + cancelled, err
}

func (r *Reaper) settle(ctx context.Context, state model.JobState, before time.Time, update model.JobUpdate) (int, error) {
	jobs, err := r.db.ListStaleJobs(ctx, state, before)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, job := range jobs {
		if r.active != nil && r.active.IsActive(job.ID) {
			continue
		}

		_, err := r.db.UpdateJob(ctx, job.ID, update)
		if errors.Is(err, model.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("jobID", job.ID).Msg("Failed to reap job")
			continue
		}

		log.Warn().
			Str("jobID", job.ID).
			Str("state", string(state)).
			Time("lastUpdate", job.UpdatedAt).
			Msg("Reaped stale job")
		settled++
	}

	return settled, nil
}
