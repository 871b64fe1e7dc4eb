package worker

import (
	"context"

	"hecticradio.app/live/internal/queue"
)

// Processor runs one attempt of a job. The returned result is kept on the
// job unless it is removed on completion; a non-nil error fails the attempt.
type Processor interface {
	Process(ctx context.Context, job *queue.Job) (any, error)
}

type ProcessorFunc func(ctx context.Context, job *queue.Job) (any, error)

func (f ProcessorFunc) Process(ctx context.Context, job *queue.Job) (any, error) {
	return f(ctx, job)
}

// Reclaimable is the part of queue.Store the reclaimer needs.
type Reclaimable interface {
	ReclaimExpired(ctx context.Context) (int, error)
}
