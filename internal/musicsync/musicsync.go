// Package musicsync pulls the station's Spotify and YouTube content and
// replaces the local copies. It provides the sync routines, the music-sync
// job processor and the producer that enqueues manual runs.
package musicsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"hecticradio.app/live/common/logger"
	"hecticradio.app/live/internal/metrics"
	"hecticradio.app/live/internal/queue"
)

const TaskName = "music-sync"

type Target string

const (
	TargetSpotify Target = "spotify"
	TargetYouTube Target = "youtube"
	TargetAll     Target = "all"
)

var (
	ErrMissingCredentials = errors.New("missing platform credentials")
	ErrNothingToSync      = errors.New("nothing configured to sync")
	ErrUnknownTarget      = errors.New("unknown sync target")
)

// ParseTarget accepts spotify, youtube or all. Empty means all.
func ParseTarget(s string) (Target, error) {
	switch t := Target(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return TargetAll, nil
	case TargetSpotify, TargetYouTube, TargetAll:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTarget, s)
	}
}

func (t Target) includes(platform Target) bool {
	return t == TargetAll || t == platform
}

// Payload is the music-sync job payload. Scheduled ticks carry
// source "cron"; manual runs carry the time they were requested.
type Payload struct {
	Target     Target `json:"target"`
	Source     string `json:"source,omitempty"`
	EnqueuedAt string `json:"enqueuedAt,omitempty"`
}

type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any, opts queue.Options) (*queue.Job, error)
}

// Producer enqueues one-off sync jobs, e.g. from the admin API.
type Producer struct {
	store   Enqueuer
	metrics *metrics.Collector
	now     func() time.Time
}

func NewProducer(store Enqueuer, m *metrics.Collector) *Producer {
	return &Producer{store: store, metrics: m, now: time.Now}
}

// Enqueue adds a sync of target with three attempts, exponential backoff from
// one second, and removal on completion.
func (p *Producer) Enqueue(ctx context.Context, target Target) (*queue.Job, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "live.musicsync.producer",
		Task:      logger.Ptr(TaskName),
	})

	job, err := p.store.Enqueue(ctx, TaskName, Payload{
		Target:     target,
		Source:     "manual",
		EnqueuedAt: p.now().UTC().Format(time.RFC3339),
	}, queue.Options{
		Policy:           queue.DefaultRetryPolicy(),
		RemoveOnComplete: true,
		TraceID:          logger.TraceID(ctx),
	})
	if err != nil {
		return nil, fmt.Errorf("enqueuing %s sync: %w", target, err)
	}

	p.metrics.JobEnqueued(TaskName)
	slog.InfoContext(ctx, "music sync enqueued", "job_id", job.ID, "target", target)
	return job, nil
}
