package orchestrator

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// ActiveRuns tracks the cancel functions of jobs running in this process
type ActiveRuns struct {
	cancels map[string]context.CancelFunc
	mu      sync.RWMutex
}

// NewActiveRuns creates an empty run registry
func NewActiveRuns() *ActiveRuns {
	return &ActiveRuns{
		cancels: make(map[string]context.CancelFunc),
	}
}

// Register records the cancel function of a running job
func (a *ActiveRuns) Register(jobID string, cancel context.CancelFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cancels[jobID] = cancel
}

// Remove forgets a job once its run returned
func (a *ActiveRuns) Remove(jobID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.cancels, jobID)
}

// Cancel stops the run of a job. It reports false when the job is not
// running in this process.
func (a *ActiveRuns) Cancel(jobID string) bool {
	a.mu.RLock()
	cancel, ok := a.cancels[jobID]
	a.mu.RUnlock()

	if !ok {
		return false
	}

	cancel()
	log.Info().Str("jobID", jobID).Msg("Cancelled active job run")
	return true
}

// IsActive reports whether a job is running in this process
func (a *ActiveRuns) IsActive(jobID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	_, ok := a.cancels[jobID]
	return ok
}

// Len returns the number of running jobs
func (a *ActiveRuns) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return len(a.cancels)
}
