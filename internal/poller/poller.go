// Package poller follows one job at a time until it reaches a terminal
// state, reporting progress and the final results to an observer.
package poller

import (
	"context"
	"deliverly/internal/model"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultInterval is the pause between two fetches of the same job
const DefaultInterval = 900 * time.Millisecond

// JobSource is what the poller reads from. controller.LocalSource and the
// HTTP client in pkg/deliverly implement it.
type JobSource interface {
	GetJob(ctx context.Context, id string) (*model.Job, error)
	GetResults(ctx context.Context, id string) ([]model.ValidationRow, error)
	GetSummary(ctx context.Context, id string) (model.Summary, error)
}

// UpdateKind tells an observer what an Update carries
type UpdateKind int

const (
	// UpdateProgress carries a non-terminal job snapshot
	UpdateProgress UpdateKind = iota
	// UpdateFinished carries the finished job with its results and summary
	UpdateFinished
	// UpdateTerminal carries a job that ended in error or was cancelled
	UpdateTerminal
	// UpdateFailed carries a *model.PollingError; polling has stopped
	UpdateFailed
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateProgress:
		return "progress"
	case UpdateFinished:
		return "finished"
	case UpdateTerminal:
		return "terminal"
	case UpdateFailed:
		return "failed"
	}
	return "unknown"
}

// Update is one notification of a polling cycle
type Update struct {
	Kind       UpdateKind
	JobID      string
	Generation uint64
	Job        *model.Job
	Results    []model.ValidationRow
	Summary    *model.Summary
	Err        error
}

// Observer receives updates. Updates of one cycle arrive sequentially from
// the polling goroutine; an observer must not call Start or Stop
// synchronously.
type Observer interface {
	OnUpdate(Update)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Update)

func (f ObserverFunc) OnUpdate(u Update) {
	f(u)
}

// Poller runs at most one polling cycle at a time. Each Start begins a new
// generation; once Start or Stop returns no update of an older generation
// is delivered, even if its fetch is still in flight.
type Poller struct {
	source   JobSource
	interval time.Duration
	observer Observer

	ctrl    sync.Mutex
	deliver sync.Mutex
	mu      sync.Mutex
	gen     uint64
	jobID   string
	cycle   *cycle
}

// cycle is the lifetime of one generation
type cycle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (c *cycle) end() {
	c.once.Do(func() { close(c.done) })
}

// New creates a poller. A non-positive interval uses DefaultInterval.
func New(source JobSource, interval time.Duration, observer Observer) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}

	idle := &cycle{cancel: func() {}, done: make(chan struct{})}
	idle.end()

	return &Poller{
		source:   source,
		interval: interval,
		observer: observer,
		cycle:    idle,
	}
}

// Start cancels any running cycle and begins polling jobID. The first fetch
// happens immediately. It returns the generation of the new cycle.
func (p *Poller) Start(ctx context.Context, jobID string) uint64 {
	p.ctrl.Lock()
	defer p.ctrl.Unlock()

	p.stop()

	cycleCtx, cancel := context.WithCancel(ctx)
	c := &cycle{cancel: cancel, done: make(chan struct{})}

	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.jobID = jobID
	p.cycle = c
	p.mu.Unlock()

	log.Debug().Str("jobID", jobID).Uint64("generation", gen).Msg("Polling started")

	go p.run(cycleCtx, gen, jobID, c)
	return gen
}

// Stop cancels the running cycle. It does not wait for an in-flight fetch;
// that fetch's outcome is dropped. Stop is a no-op when nothing is polling
// and never changes the job itself.
func (p *Poller) Stop() {
	p.ctrl.Lock()
	defer p.ctrl.Unlock()

	p.stop()
}

// stop retires the current generation. Holding deliver while bumping the
// generation waits out an update that is being delivered right now.
func (p *Poller) stop() {
	p.deliver.Lock()
	p.mu.Lock()
	c, jobID := p.cycle, p.jobID
	p.gen++
	p.mu.Unlock()
	p.deliver.Unlock()

	c.cancel()
	select {
	case <-c.done:
		return
	default:
	}
	c.end()
	log.Debug().Str("jobID", jobID).Msg("Polling stopped")
}

// Done is closed when the current cycle ends, by Stop or by reaching a
// terminal outcome
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.cycle.done
}

// Generation returns the generation of the most recent Start or Stop
func (p *Poller) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.gen
}

// JobID returns the job of the most recent cycle
func (p *Poller) JobID() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.jobID
}

// run is the polling loop of one generation. Fetches are sequential, so at
// most one is in flight.
func (p *Poller) run(ctx context.Context, gen uint64, jobID string, c *cycle) {
	defer c.end()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return
		}

		job, err := p.source.GetJob(ctx, jobID)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			p.fail(ctx, gen, jobID, err)
			return
		}

		if !job.State.Terminal() {
			p.emit(ctx, Update{Kind: UpdateProgress, JobID: jobID, Generation: gen, Job: job})
			timer.Reset(p.interval)
			continue
		}

		p.complete(ctx, gen, job)
		return
	}
}

// complete publishes the outcome of a terminal job. Results and summary are
// fetched exactly once each, and only for finished jobs.
func (p *Poller) complete(ctx context.Context, gen uint64, job *model.Job) {
	if job.State != model.StateFinished {
		p.emit(ctx, Update{Kind: UpdateTerminal, JobID: job.ID, Generation: gen, Job: job})
		return
	}

	results, resultsErr := p.source.GetResults(ctx, job.ID)
	summary, summaryErr := p.source.GetSummary(ctx, job.ID)
	if ctx.Err() != nil {
		return
	}

	if err := errors.Join(resultsErr, summaryErr); err != nil {
		p.fail(ctx, gen, job.ID, err)
		return
	}

	p.emit(ctx, Update{
		Kind:       UpdateFinished,
		JobID:      job.ID,
		Generation: gen,
		Job:        job,
		Results:    results,
		Summary:    &summary,
	})
}

func (p *Poller) fail(ctx context.Context, gen uint64, jobID string, err error) {
	log.Warn().Err(err).Str("jobID", jobID).Msg("Polling failed")

	p.emit(ctx, Update{
		Kind:       UpdateFailed,
		JobID:      jobID,
		Generation: gen,
		Err:        &model.PollingError{JobID: jobID, Err: err},
	})
}

// emit delivers u unless its generation has been retired. The check and
// the delivery happen under one lock so a concurrent Stop cannot slip in
// between them.
func (p *Poller) emit(ctx context.Context, u Update) {
	if ctx.Err() != nil {
		return
	}

	p.deliver.Lock()
	defer p.deliver.Unlock()

	if p.Generation() != u.Generation {
		return
	}
	p.observer.OnUpdate(u)
}
