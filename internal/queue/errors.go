package queue

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized    = errors.New("queue not initialized")
	ErrClosed            = errors.New("queue closed")
	ErrJobNotFound       = errors.New("job not found")
	ErrJobFailed         = errors.New("job failed")
	ErrAdmissionRejected = errors.New("admission rejected")
)

// AdmissionError reports a rejected admission check. It matches
// ErrAdmissionRejected with errors.Is.
type AdmissionError struct {
	Queue     string
	Count     int64
	Limit     int
	CountSelf bool
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("%s: queue %s has %d jobs, limit %d (count self: %t)",
		ErrAdmissionRejected, e.Queue, e.Count, e.Limit, e.CountSelf)
}

func (e *AdmissionError) Unwrap() error {
	return ErrAdmissionRejected
}

// JobFailedError is returned by Handle.Await when the job ended in the failed state.
type JobFailedError struct {
	Queue  string
	JobID  string
	Reason string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s/%s failed: %s", e.Queue, e.JobID, e.Reason)
}

func (e *JobFailedError) Unwrap() error {
	return ErrJobFailed
}
