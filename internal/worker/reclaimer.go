package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"hecticradio.app/live/common/logger"
	"hecticradio.app/live/internal/metrics"
)

const DefaultReclaimInterval = 30 * time.Second

// Reclaimer periodically fails jobs whose lease ran out. This covers a worker
// that died between Claim and Complete; the retry policy then decides whether
// the job runs again.
type Reclaimer struct {
	store    Reclaimable
	interval time.Duration
	metrics  *metrics.Collector

	stopCh    chan struct{}
	stoppedCh chan struct{}
	stopOnce  sync.Once
}

func NewReclaimer(store Reclaimable, interval time.Duration, m *metrics.Collector) *Reclaimer {
	if interval <= 0 {
		interval = DefaultReclaimInterval
	}
	return &Reclaimer{
		store:     store,
		interval:  interval,
		metrics:   m,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run starts the reclaimer loop. Blocks until ctx is done or Stop is called.
func (r *Reclaimer) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "live.worker.reclaimer",
	})

	defer close(r.stoppedCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "reclaimer started", "interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			slog.InfoContext(ctx, "reclaimer stopping")
			return
		case <-ticker.C:
			if _, err := r.ReclaimOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "reclaim cycle error", "error", err)
			}
		}
	}
}

func (r *Reclaimer) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.stoppedCh
}

func (r *Reclaimer) ReclaimOnce(ctx context.Context) (int, error) {
	n, err := r.store.ReclaimExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("reclaiming expired jobs: %w", err)
	}
	if n > 0 {
		r.metrics.JobsReclaimed(n)
		slog.InfoContext(ctx, "reclaimed jobs with expired leases", "count", n)
	}
	return n, nil
}
