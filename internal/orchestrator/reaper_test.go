package orchestrator

import (
	"context"
	"deliverly/internal/database"
	"deliverly/internal/model"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaperFailsStaleProcessingJobs(t *testing.T) {
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	db := database.NewMemoryDatabase(database.WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	stale, err := db.CreateJob(ctx, model.FileMeta{Name: "a.csv"}, "rules")
	require.NoError(t, err)
	_, err = db.UpdateJob(ctx, stale.ID, model.Transition(model.StateProcessing))
	require.NoError(t, err)

	running, err := db.CreateJob(ctx, model.FileMeta{Name: "b.csv"}, "rules")
	require.NoError(t, err)
	_, err = db.UpdateJob(ctx, running.ID, model.Transition(model.StateProcessing))
	require.NoError(t, err)

	queued, err := db.CreateJob(ctx, model.FileMeta{Name: "c.csv"}, "rules")
	require.NoError(t, err)

	active := NewActiveRuns()
	active.Register(running.ID, func() {})

	reaper := NewReaper(db, active, 30*time.Minute, 0)
	reaper.now = func() time.Time { return clock.Add(time.Hour) }

	reaped, err := reaper.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	got, err := db.GetJob(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateError, got.State)
	assert.Equal(t, "processing interrupted", got.Error)

	got, err = db.GetJob(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateProcessing, got.State)

	got, err = db.GetJob(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateQueued, got.State)
}

func TestReaperCancelsStaleQueuedJobs(t *testing.T) {
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	db := database.NewMemoryDatabase(database.WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	lost, err := db.CreateJob(ctx, model.FileMeta{Name: "a.csv"}, "rules")
	require.NoError(t, err)

	claimed, err := db.CreateJob(ctx, model.FileMeta{Name: "b.csv"}, "rules")
	require.NoError(t, err)

	clock = clock.Add(90 * time.Minute)
	fresh, err := db.CreateJob(ctx, model.FileMeta{Name: "c.csv"}, "rules")
	require.NoError(t, err)

	active := NewActiveRuns()
	active.Register(claimed.ID, func() {})

	reaper := NewReaper(db, active, 30*time.Minute, time.Hour)
	reaper.now = func() time.Time { return clock }

	reaped, err := reaper.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	got, err := db.GetJob(ctx, lost.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCancelled, got.State)
	assert.NotNil(t, got.FinishedAt)

	for _, id := range []string{claimed.ID, fresh.ID} {
		got, err = db.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.StateQueued, got.State)
	}

	reaped, err = reaper.Reap(ctx)
	require.NoError(t, err)
	assert.Zero(t, reaped)
}
