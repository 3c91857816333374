package controller

import (
	"context"
	"deliverly/internal/database"
	"deliverly/internal/model"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	mu   sync.Mutex
	ids  []string
	fail bool
}

func (f *fakeDispatcher) Enqueue(_ context.Context, jobID string) error {
	if f.fail {
		return errors.New("queue unavailable")
	}
	f.mu.Lock()
	f.ids = append(f.ids, jobID)
	f.mu.Unlock()
	return nil
}

func (f *fakeDispatcher) Start(context.Context) error { return nil }

func (f *fakeDispatcher) Stop() {}

// countingDB counts result reads that reach the store
type countingDB struct {
	*database.MemoryDatabase
	reads atomic.Int32
}

func (c *countingDB) GetResults(ctx context.Context, jobID string) ([]model.ValidationRow, error) {
	c.reads.Add(1)
	return c.MemoryDatabase.GetResults(ctx, jobID)
}

var sampleRows = []model.ValidationRow{
	{Email: "jane@acme.io", Status: model.RowDeliverable, FirstName: "Jane", LastName: "Doe", Company: "Acme"},
	{GeneratedEmail: "bob.stone@globex.com", Status: model.RowUnknown, Name: "Bob Stone", Company: "Globex"},
	{Email: "info@acme.io", Status: model.RowRisky, Company: "Acme"},
	{Email: "broken", Status: model.RowUndeliverable},
}

// finishedJob creates a job that went all the way to finished with rows
func finishedJob(t *testing.T, db *database.MemoryDatabase, rows []model.ValidationRow) *model.Job {
	t.Helper()
	ctx := context.Background()

	job, err := db.CreateJob(ctx, model.FileMeta{Name: "contacts.csv", Size: 10, Key: "k"}, "rules")
	require.NoError(t, err)

	_, err = db.UpdateJob(ctx, job.ID, model.Transition(model.StateProcessing))
	require.NoError(t, err)
	_, err = db.UpdateJob(ctx, job.ID, model.SetTotal(len(rows)))
	require.NoError(t, err)
	require.NoError(t, db.SaveResults(ctx, job.ID, rows))

	job, err = db.UpdateJob(ctx, job.ID, model.Finish(len(rows)))
	require.NoError(t, err)
	return job
}
