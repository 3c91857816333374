package orchestrator

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	// ErrQueueFull is returned when the local queue cannot take another job
	ErrQueueFull = errors.New("job queue is full")

	// ErrDispatcherStopped is returned when enqueueing after Stop
	ErrDispatcherStopped = errors.New("dispatcher is stopped")
)

// Dispatcher hands queued jobs to runners
type Dispatcher interface {
	// Enqueue schedules a job for processing
	Enqueue(ctx context.Context, jobID string) error

	// Start begins consuming and running jobs
	Start(ctx context.Context) error

	// Stop stops consuming and waits for in-flight runs
	Stop()
}

// LocalDispatcher runs jobs on a fixed pool of goroutines fed by a
// buffered channel
type LocalDispatcher struct {
	runner  JobRunner
	workers int
	queue   chan string

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewLocalDispatcher creates an in-process dispatcher
func NewLocalDispatcher(runner JobRunner, workers, queueSize int) *LocalDispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}

	return &LocalDispatcher{
		runner:  runner,
		workers: workers,
		queue:   make(chan string, queueSize),
	}
}

// Enqueue implements Dispatcher. It never blocks.
func (d *LocalDispatcher) Enqueue(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrDispatcherStopped
	}

	select {
	case d.queue <- jobID:
		log.Debug().Str("jobID", jobID).Msg("Job enqueued")
		return nil
	default:
		return ErrQueueFull
	}
}

// Start implements Dispatcher
func (d *LocalDispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrDispatcherStopped
	}
	if d.cancel != nil {
		return nil
	}

	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(ctx, i)
	}

	log.Info().Int("workers", d.workers).Msg("Local job dispatcher started")
	return nil
}

func (d *LocalDispatcher) work(ctx context.Context, worker int) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-d.queue:
			if err := d.runner.Run(ctx, jobID); err != nil {
				log.Error().Err(err).Str("jobID", jobID).Int("worker", worker).Msg("Job run failed")
			}
		}
	}
}

// Stop implements Dispatcher. Running jobs see their context cancelled.
func (d *LocalDispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	cancel := d.cancel
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()

	log.Info().Msg("Local job dispatcher stopped")
}
