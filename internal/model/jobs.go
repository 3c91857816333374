package model

import (
	"fmt"
	"time"
)

// JobState represents the current state of a validation job
type JobState string

const (
	StateQueued     JobState = "queued"
	StateProcessing JobState = "processing"
	StateFinished   JobState = "finished"
	StateError      JobState = "error"
	StateCancelled  JobState = "cancelled"
)

// transitions lists the allowed edges of the job state machine
var transitions = map[JobState][]JobState{
	StateQueued:     {StateProcessing, StateCancelled},
	StateProcessing: {StateFinished, StateError, StateCancelled},
}

// Valid reports whether s is one of the known job states
func (s JobState) Valid() bool {
	switch s {
	case StateQueued, StateProcessing, StateFinished, StateError, StateCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further mutation is possible from s
func (s JobState) Terminal() bool {
	return s == StateFinished || s == StateError || s == StateCancelled
}

// CanTransition reports whether the state machine allows moving from s to next
func (s JobState) CanTransition(next JobState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// FileMeta describes the uploaded file a job was created from
type FileMeta struct {
	Name string `bson:"name" json:"name"`
	Size int64  `bson:"size" json:"size"`
	Key  string `bson:"key" json:"key"`
}

// Job represents one bulk email-validation request
type Job struct {
	ID         string     `bson:"_id" json:"id"`
	State      JobState   `bson:"state" json:"state"`
	Processed  int        `bson:"processed" json:"processed"`
	Total      *int       `bson:"total" json:"total"`
	StartedAt  time.Time  `bson:"started_at" json:"started_at"`
	FinishedAt *time.Time `bson:"finished_at" json:"finished_at"`
	Error      string     `bson:"error,omitempty" json:"error,omitempty"`
	FileName   string     `bson:"file_name" json:"file_name"`
	FileSize   int64      `bson:"file_size" json:"file_size"`
	FileKey    string     `bson:"file_key" json:"-"`
	Validator  string     `bson:"validator" json:"validator"`
	UpdatedAt  time.Time  `bson:"updated_at" json:"updated_at"`
	Version    int64      `bson:"version" json:"-"`
}

// NewJob builds a freshly queued job for an uploaded file
func NewJob(id string, file FileMeta, validator string, now time.Time) *Job {
	return &Job{
		ID:        id,
		State:     StateQueued,
		Processed: 0,
		StartedAt: now,
		FileName:  file.Name,
		FileSize:  file.Size,
		FileKey:   file.Key,
		Validator: validator,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy so callers never share pointers with a store
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Total != nil {
		total := *j.Total
		c.Total = &total
	}
	if j.FinishedAt != nil {
		finished := *j.FinishedAt
		c.FinishedAt = &finished
	}
	return &c
}

// Percent returns the completion percentage rounded half up, 0 while the
// total is unknown
func (j *Job) Percent() int {
	if j.Total == nil || *j.Total == 0 {
		return 0
	}
	return (j.Processed*100 + *j.Total/2) / *j.Total
}

// StateMessage is the text shown to a user for the job's current state
func (j *Job) StateMessage() string {
	switch j.State {
	case StateQueued:
		return "Your job is queued and will start processing shortly"
	case StateProcessing:
		return fmt.Sprintf("Processing your CSV file (%d%% complete)", j.Percent())
	case StateFinished:
		return "Validation completed successfully"
	case StateError:
		if j.Error != "" {
			return "Validation failed: " + j.Error
		}
		return "An error occurred during processing"
	case StateCancelled:
		return "The job was cancelled"
	}
	return ""
}

// JobUpdate is a partial update applied to a job; nil fields are left alone
type JobUpdate struct {
	State     *JobState
	Processed *int
	Total     *int
	Error     *string
}

// IsEmpty reports whether the update changes nothing
func (u JobUpdate) IsEmpty() bool {
	return u.State == nil && u.Processed == nil && u.Total == nil && u.Error == nil
}

// Transition builds an update that only moves the job to state
func Transition(state JobState) JobUpdate {
	return JobUpdate{State: &state}
}

// Progress builds an update that only sets the processed count
func Progress(processed int) JobUpdate {
	return JobUpdate{Processed: &processed}
}

// SetTotal builds an update that establishes the row count
func SetTotal(total int) JobUpdate {
	return JobUpdate{Total: &total}
}

// Fail builds an update that moves the job into the error state
func Fail(message string) JobUpdate {
	state := StateError
	return JobUpdate{State: &state, Error: &message}
}

// Finish builds an update that records the final count and completes the job
func Finish(processed int) JobUpdate {
	state := StateFinished
	return JobUpdate{State: &state, Processed: &processed}
}

// Apply validates u against the job state machine and returns the resulting
// snapshot. The receiver is never modified.
func (j *Job) Apply(u JobUpdate, now time.Time) (*Job, error) {
	if j.State.Terminal() {
		return nil, fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, j.ID, j.State)
	}
	if u.IsEmpty() {
		return j.Clone(), nil
	}

	next := j.Clone()

	if u.State != nil && *u.State != j.State {
		if !u.State.Valid() {
			return nil, fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, *u.State)
		}
		if !j.State.CanTransition(*u.State) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, *u.State)
		}
		next.State = *u.State
	}

	if u.Total != nil {
		if j.Total != nil {
			return nil, fmt.Errorf("%w: total already set", ErrInvalidTransition)
		}
		if next.State != StateProcessing {
			return nil, fmt.Errorf("%w: total can only be set while processing", ErrInvalidTransition)
		}
		if *u.Total <= 0 {
			return nil, fmt.Errorf("%w: total must be positive, got %d", ErrInvalidTransition, *u.Total)
		}
		total := *u.Total
		next.Total = &total
	}

	if u.Processed != nil && *u.Processed != j.Processed {
		if j.State != StateProcessing || (next.State != StateProcessing && next.State != StateFinished) {
			return nil, fmt.Errorf("%w: processed can only change while processing", ErrInvalidTransition)
		}
		if next.Total == nil {
			return nil, fmt.Errorf("%w: processed set before total is known", ErrInvalidTransition)
		}
		if *u.Processed < j.Processed {
			return nil, fmt.Errorf("%w: processed cannot decrease (%d -> %d)", ErrInvalidTransition, j.Processed, *u.Processed)
		}
		if *u.Processed > *next.Total {
			return nil, fmt.Errorf("%w: processed %d exceeds total %d", ErrInvalidTransition, *u.Processed, *next.Total)
		}
		next.Processed = *u.Processed
	}

	if next.State == StateFinished {
		if next.Total == nil || next.Processed != *next.Total {
			return nil, fmt.Errorf("%w: cannot finish with %d rows processed", ErrInvalidTransition, next.Processed)
		}
	}

	if u.Error != nil {
		if next.State != StateError {
			return nil, fmt.Errorf("%w: error message only allowed when entering error", ErrInvalidTransition)
		}
		next.Error = *u.Error
	}
	if next.State == StateError && next.Error == "" {
		return nil, fmt.Errorf("%w: error state requires a message", ErrInvalidTransition)
	}

	if next.State.Terminal() {
		finished := now
		next.FinishedAt = &finished
	}
	next.UpdatedAt = now
	next.Version = j.Version + 1

	return next, nil
}

// JobFilter narrows a job listing
type JobFilter struct {
	State  JobState
	Limit  int
	Offset int
}
