package queue

import (
	"context"
	"errors"
	"time"
)

// Store owns all job state. Workers only report outcomes through Complete
// and Fail; every state transition is atomic in the implementation.
type Store interface {
	Enqueue(ctx context.Context, name string, payload any, opts Options) (*Job, error)
	// EnqueueRepeating creates the repeat definition for sched.Key unless one
	// already exists. created is false for the no-op case.
	EnqueueRepeating(ctx context.Context, name string, payload any, sched Schedule, opts Options) (created bool, err error)
	Repeats(ctx context.Context) ([]Repeat, error)
	RemoveRepeating(ctx context.Context, key string) (bool, error)

	// Claim promotes due delayed jobs, materializes due repeat ticks and then
	// leases one waiting job. Returns nil, nil when nothing is runnable.
	Claim(ctx context.Context, lease time.Duration) (*Job, error)
	Complete(ctx context.Context, job *Job, result any) error
	Fail(ctx context.Context, job *Job, cause error) (FailOutcome, error)
	// ReclaimExpired fails every active job whose lease has passed.
	ReclaimExpired(ctx context.Context) (int, error)

	Get(ctx context.Context, id string) (*Job, error)
	Stats(ctx context.Context) (Stats, error)
}

var errLeaseExpired = errors.New("lease expired")

type storeOptions struct {
	now func() time.Time
}

type StoreOption func(*storeOptions)

// WithClock replaces time.Now, mainly so tests can step through backoff.
func WithClock(now func() time.Time) StoreOption {
	return func(o *storeOptions) {
		o.now = now
	}
}

func newStoreOptions(opts []StoreOption) storeOptions {
	o := storeOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
