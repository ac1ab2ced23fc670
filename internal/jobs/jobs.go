package jobs

import (
	"context"
	"errors"
)

var ErrQueueFull = errors.New("job queue is full")

// Executor runs one persisted job to completion and records its outcome in
// the job store. A returned error means the outcome could not be recorded.
type Executor interface {
	Execute(ctx context.Context, jobID string) error
}

// Dispatcher hands jobs to whatever runs them: the in-process Pool or the
// Redis-backed Queue.
type Dispatcher interface {
	Submit(ctx context.Context, jobID string) error
	// Cancel stops a job. withdrawn is true when the job never started, in
	// which case the caller records the cancellation itself.
	Cancel(ctx context.Context, jobID string) (withdrawn bool, err error)
}
