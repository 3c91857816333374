package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no job exists for an id
	ErrNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when an update violates the job state machine
	ErrInvalidTransition = errors.New("invalid job transition")

	// ErrNotReady is returned when results are requested before a job finished
	ErrNotReady = errors.New("job results not ready")

	// ErrResultsExist is returned on a second write of a job's results
	ErrResultsExist = errors.New("job results already stored")
)

// PollingError reports a failure while polling a job. Polling stops after one.
type PollingError struct {
	JobID string
	Err   error
}

func (e *PollingError) Error() string {
	return fmt.Sprintf("polling job %s: %v", e.JobID, e.Err)
}

func (e *PollingError) Unwrap() error {
	return e.Err
}
