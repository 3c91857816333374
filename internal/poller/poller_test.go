package poller

import (
	"context"
	"deliverly/internal/model"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testInterval = 5 * time.Millisecond

type fakeSource struct {
	mu         sync.Mutex
	snapshots  map[string][]model.Job
	fetches    map[string]int
	results    int
	summaries  int
	summaryErr error
	block      map[string]bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		snapshots: make(map[string][]model.Job),
		fetches:   make(map[string]int),
		block:     make(map[string]bool),
	}
}

func (f *fakeSource) GetJob(ctx context.Context, id string) (*model.Job, error) {
	f.mu.Lock()
	block := f.block[id]
	snapshots, ok := f.snapshots[id]
	n := f.fetches[id]
	f.fetches[id]++
	f.mu.Unlock()

	if block {
		<-ctx.Done()
	}
	if !ok {
		return nil, model.ErrNotFound
	}

	job := snapshots[min(n, len(snapshots)-1)]
	return job.Clone(), nil
}

func (f *fakeSource) GetResults(context.Context, string) ([]model.ValidationRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.results++
	return []model.ValidationRow{
		{Email: "a@acme.io", Status: model.RowDeliverable},
		{Email: "b@acme.io", Status: model.RowRisky},
	}, nil
}

func (f *fakeSource) GetSummary(context.Context, string) (model.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.summaries++
	if f.summaryErr != nil {
		return model.Summary{}, f.summaryErr
	}
	return model.Summary{Total: 2, Deliverable: 1, Risky: 1}, nil
}

func (f *fakeSource) fetchCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[id]
}

type recorder struct {
	mu      sync.Mutex
	updates []Update
	notify  chan Update
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan Update, 100)}
}

func (r *recorder) OnUpdate(u Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()

	select {
	case r.notify <- u:
	default:
	}
}

func (r *recorder) all() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

func snapshot(id string, state model.JobState, processed int, total *int) model.Job {
	return model.Job{ID: id, State: state, Processed: processed, Total: total}
}

func intPtr(n int) *int { return &n }

func waitDone(t *testing.T, p *Poller) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("polling cycle did not end")
	}
}

func TestPollerFollowsJobToFinished(t *testing.T) {
	source := newFakeSource()
	source.snapshots["job"] = []model.Job{
		snapshot("job", model.StateQueued, 0, nil),
		snapshot("job", model.StateProcessing, 1, intPtr(2)),
		snapshot("job", model.StateFinished, 2, intPtr(2)),
	}
	rec := newRecorder()
	p := New(source, testInterval, rec)

	gen := p.Start(context.Background(), "job")
	waitDone(t, p)

	updates := rec.all()
	require.Len(t, updates, 3)
	assert.Equal(t, UpdateProgress, updates[0].Kind)
	assert.Equal(t, UpdateProgress, updates[1].Kind)
	assert.Equal(t, 1, updates[1].Job.Processed)

	final := updates[2]
	assert.Equal(t, UpdateFinished, final.Kind)
	assert.Equal(t, gen, final.Generation)
	assert.Len(t, final.Results, 2)
	require.NotNil(t, final.Summary)
	assert.Equal(t, 2, final.Summary.Total)

	time.Sleep(4 * testInterval)
	assert.Equal(t, 3, source.fetchCount("job"))
	assert.Equal(t, 1, source.results)
	assert.Equal(t, 1, source.summaries)
}

func TestPollerReportsUnknownJob(t *testing.T) {
	rec := newRecorder()
	p := New(newFakeSource(), testInterval, rec)

	p.Start(context.Background(), "missing")
	waitDone(t, p)

	updates := rec.all()
	require.Len(t, updates, 1)
	assert.Equal(t, UpdateFailed, updates[0].Kind)

	var pollErr *model.PollingError
	require.ErrorAs(t, updates[0].Err, &pollErr)
	assert.Equal(t, "missing", pollErr.JobID)
	assert.ErrorIs(t, updates[0].Err, model.ErrNotFound)
}

func TestPollerDoesNotFetchResultsOfFailedJobs(t *testing.T) {
	source := newFakeSource()
	failed := snapshot("job", model.StateError, 0, nil)
	failed.Error = "bad file"
	source.snapshots["job"] = []model.Job{failed}

	rec := newRecorder()
	p := New(source, testInterval, rec)
	p.Start(context.Background(), "job")
	waitDone(t, p)

	updates := rec.all()
	require.Len(t, updates, 1)
	assert.Equal(t, UpdateTerminal, updates[0].Kind)
	assert.Equal(t, "bad file", updates[0].Job.Error)
	assert.Zero(t, source.results)
	assert.Zero(t, source.summaries)
}

func TestPollerStopsWhenResultsFail(t *testing.T) {
	source := newFakeSource()
	source.snapshots["job"] = []model.Job{snapshot("job", model.StateFinished, 2, intPtr(2))}
	source.summaryErr = model.ErrNotReady

	rec := newRecorder()
	p := New(source, testInterval, rec)
	p.Start(context.Background(), "job")
	waitDone(t, p)

	updates := rec.all()
	require.Len(t, updates, 1)
	assert.Equal(t, UpdateFailed, updates[0].Kind)
	assert.ErrorIs(t, updates[0].Err, model.ErrNotReady)
	assert.Equal(t, 1, source.results)
	assert.Equal(t, 1, source.summaries)
	assert.Equal(t, 1, source.fetchCount("job"))
}

func TestStartCancelsPreviousCycle(t *testing.T) {
	source := newFakeSource()
	source.snapshots["old"] = []model.Job{snapshot("old", model.StateProcessing, 0, intPtr(5))}
	source.block["old"] = true
	source.snapshots["new"] = []model.Job{snapshot("new", model.StateFinished, 1, intPtr(1))}

	rec := newRecorder()
	p := New(source, testInterval, rec)

	first := p.Start(context.Background(), "old")
	require.Eventually(t, func() bool { return source.fetchCount("old") == 1 }, 5*time.Second, time.Millisecond)

	second := p.Start(context.Background(), "new")
	assert.Greater(t, second, first)
	waitDone(t, p)

	for _, u := range rec.all() {
		assert.Equal(t, "new", u.JobID)
		assert.Equal(t, second, u.Generation)
	}
	assert.Equal(t, 1, source.fetchCount("old"))
}

func TestStopEndsPolling(t *testing.T) {
	source := newFakeSource()
	source.snapshots["job"] = []model.Job{snapshot("job", model.StateProcessing, 0, intPtr(5))}

	rec := newRecorder()
	p := New(source, testInterval, rec)

	p.Stop()

	p.Start(context.Background(), "job")
	select {
	case <-rec.notify:
	case <-time.After(5 * time.Second):
		t.Fatal("no progress update")
	}

	p.Stop()
	waitDone(t, p)

	delivered := len(rec.all())
	fetched := source.fetchCount("job")
	time.Sleep(5 * testInterval)

	assert.Equal(t, delivered, len(rec.all()))
	assert.LessOrEqual(t, source.fetchCount("job"), fetched+1)
	p.Stop()
}

// stubbornSource ignores cancellation and holds every fetch until released
type stubbornSource struct {
	started chan struct{}
	release chan struct{}
}

func (s *stubbornSource) GetJob(_ context.Context, id string) (*model.Job, error) {
	select {
	case s.started <- struct{}{}:
	default:
	}
	<-s.release

	job := snapshot(id, model.StateFinished, 1, intPtr(1))
	return &job, nil
}

func (s *stubbornSource) GetResults(context.Context, string) ([]model.ValidationRow, error) {
	return nil, nil
}

func (s *stubbornSource) GetSummary(context.Context, string) (model.Summary, error) {
	return model.Summary{}, nil
}

func TestStopDoesNotWaitForSlowFetch(t *testing.T) {
	source := &stubbornSource{started: make(chan struct{}, 1), release: make(chan struct{})}
	rec := newRecorder()
	p := New(source, testInterval, rec)

	p.Start(context.Background(), "job")
	select {
	case <-source.started:
	case <-time.After(5 * time.Second):
		t.Fatal("fetch did not start")
	}

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop waited for the in-flight fetch")
	}
	waitDone(t, p)

	close(source.release)
	time.Sleep(5 * testInterval)
	assert.Empty(t, rec.all())
}

func TestRetiredGenerationIsNotDelivered(t *testing.T) {
	rec := newRecorder()
	p := New(newFakeSource(), testInterval, rec)

	gen := p.Start(context.Background(), "missing")
	waitDone(t, p)
	require.Len(t, rec.all(), 1)

	p.Stop()
	p.emit(context.Background(), Update{Kind: UpdateProgress, JobID: "missing", Generation: gen})
	assert.Len(t, rec.all(), 1)

	p.emit(context.Background(), Update{Kind: UpdateProgress, JobID: "missing", Generation: p.Generation()})
	assert.Len(t, rec.all(), 2)
}

func TestUpdateKindString(t *testing.T) {
	assert.Equal(t, "progress", UpdateProgress.String())
	assert.Equal(t, "failed", UpdateFailed.String())
	assert.True(t, errors.Is(&model.PollingError{JobID: "x", Err: model.ErrNotFound}, model.ErrNotFound))
}
