package operations

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrJobExists        = errors.New("job already exists")
	ErrQueueFull        = errors.New("job queue is full")
	ErrManagerStopped   = errors.New("job manager stopped")
	ErrJobNotCancelable = errors.New("job cannot be cancelled")
)

// JobError ties a failure to the job it happened in.
type JobError struct {
	JobID string
	Op    string
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s: %s: %v", e.JobID, e.Op, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

func jobError(id, op string, err error) error {
	return &JobError{JobID: id, Op: op, Err: err}
}
