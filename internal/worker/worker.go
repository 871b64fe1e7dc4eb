package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"hecticradio.app/live/common/logger"
	"hecticradio.app/live/internal/metrics"
	"hecticradio.app/live/internal/queue"
)

const (
	DefaultConcurrency  = 2
	DefaultLease        = 5 * time.Minute
	DefaultPollInterval = time.Second
)

var ErrNoProcessor = errors.New("no processor registered")

type Config struct {
	Concurrency  int
	Lease        time.Duration
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Lease <= 0 {
		c.Lease = DefaultLease
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Worker runs Concurrency loops that claim jobs from the store, dispatch them
// to the processor registered for the job name and report the outcome.
type Worker struct {
	store   queue.Store
	cfg     Config
	metrics *metrics.Collector

	mu         sync.RWMutex
	processors map[string]Processor

	stopCh    chan struct{}
	stoppedCh chan struct{}
	stopOnce  sync.Once
}

func New(store queue.Store, cfg Config, m *metrics.Collector) *Worker {
	return &Worker{
		store:      store,
		cfg:        cfg.withDefaults(),
		metrics:    m,
		processors: make(map[string]Processor),
		stopCh:     make(chan struct{}),
		stoppedCh:  make(chan struct{}),
	}
}

func (w *Worker) Register(name string, p Processor) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.processors[name] = p
}

func (w *Worker) processor(name string) (Processor, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.processors[name]
	return p, ok
}

// Run blocks until ctx is done or Stop is called. Jobs already running are
// allowed to finish.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "live.worker"})
	slog.InfoContext(ctx, "worker started", "concurrency", w.cfg.Concurrency, "lease", w.cfg.Lease)

	var wg sync.WaitGroup
	for range w.cfg.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	slog.InfoContext(ctx, "worker stopped")
	return nil
}

// Stop stops claiming new jobs and waits for Run to return.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.stoppedCh
}

func (w *Worker) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		claimed, err := w.processOne(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "job cycle error", "error", err)
			w.pause(ctx, time.Second)
			continue
		}
		if !claimed {
			w.pause(ctx, w.cfg.PollInterval)
		}
	}
}

func (w *Worker) pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-w.stopCh:
	case <-t.C:
	}
}

// processOne claims and runs at most one job. It reports whether a job was
// claimed.
func (w *Worker) processOne(ctx context.Context) (bool, error) {
	job, err := w.store.Claim(ctx, w.cfg.Lease)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	w.Execute(ctx, job)
	return true, nil
}

// Execute runs one claimed job and records the outcome in the store.
func (w *Worker) Execute(ctx context.Context, job *queue.Job) {
	span := logger.StartSpanFromTraceID(ctx, job.TraceID, "job."+job.Name)
	defer span.End()

	ctx = logger.WithLogFields(span.Context(), logger.LogFields{
		JobID:   logger.Ptr(job.ID),
		Task:    logger.Ptr(job.Name),
		Attempt: logger.Ptr(job.Attempt),
	})

	slog.InfoContext(ctx, "processing job")

	start := time.Now()
	result, procErr := w.run(ctx, job)
	took := time.Since(start)

	if procErr == nil {
		if err := w.store.Complete(ctx, job, result); err != nil {
			if errors.Is(err, queue.ErrNotActive) {
				slog.WarnContext(ctx, "job lease lost before completion, result discarded", "duration_ms", took.Milliseconds())
				return
			}
			slog.ErrorContext(ctx, "failed to mark job completed", "error", err)
			return
		}
		w.metrics.JobProcessed(job.Name, "completed", took)
		slog.InfoContext(ctx, "job completed", "duration_ms", took.Milliseconds())
		return
	}

	span.RecordError(procErr)
	outcome, err := w.store.Fail(ctx, job, procErr)
	if err != nil {
		if errors.Is(err, queue.ErrNotActive) {
			slog.WarnContext(ctx, "job lease lost before failure was recorded", "error", procErr)
			return
		}
		slog.ErrorContext(ctx, "failed to mark job failed", "error", err, "cause", procErr)
		return
	}

	if outcome.Terminal {
		w.metrics.JobProcessed(job.Name, "failed", took)
		slog.ErrorContext(ctx, "job failed, attempts exhausted",
			"error", procErr,
			"attempts", outcome.Attempt)
		return
	}
	w.metrics.JobProcessed(job.Name, "retry", took)
	slog.WarnContext(ctx, "job attempt failed, retrying",
		"error", procErr,
		"retry_in", outcome.Delay)
}

func (w *Worker) run(ctx context.Context, job *queue.Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in job processing",
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	p, ok := w.processor(job.Name)
	if !ok {
		return nil, fmt.Errorf("%w for %q", ErrNoProcessor, job.Name)
	}
	return p.Process(ctx, job)
}
