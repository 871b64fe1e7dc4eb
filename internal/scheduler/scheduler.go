// Package scheduler keeps the repeat definitions for cron-driven jobs in the
// job store. Every process calls Init on boot; the store keeps one definition
// per task, cron and timezone no matter how many processes do.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"hecticradio.app/live/common/logger"
	"hecticradio.app/live/internal/queue"
)

const (
	DefaultCron     = "0 * * * *"
	DefaultTimezone = "UTC"
)

var ErrInvalidSchedule = errors.New("invalid schedule")

// RepeatStore is the part of queue.Store the scheduler writes to.
type RepeatStore interface {
	EnqueueRepeating(ctx context.Context, name string, payload any, sched queue.Schedule, opts queue.Options) (bool, error)
}

// Payload is what every scheduled tick carries.
type Payload struct {
	Target string `json:"target"`
	Source string `json:"source"`
}

type Config struct {
	Task     string
	Cron     string
	Timezone string
}

type Scheduler struct {
	store RepeatStore
	cfg   Config
}

func New(store RepeatStore, cfg Config) *Scheduler {
	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}
	return &Scheduler{store: store, cfg: cfg}
}

// Disabled reports whether expr is the off sentinel ("off" or "false", any
// case).
func Disabled(expr string) bool {
	switch strings.ToLower(strings.TrimSpace(expr)) {
	case "off", "false":
		return true
	}
	return false
}

// Init asserts the configured repeat job. A disabled cron leaves the store
// untouched.
func (s *Scheduler) Init(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "live.scheduler",
		Task:      logger.Ptr(s.cfg.Task),
	})

	expr := s.cfg.Cron
	if strings.TrimSpace(expr) == "" {
		expr = DefaultCron
	}
	if Disabled(expr) {
		slog.InfoContext(ctx, "scheduled sync disabled", "cron", expr)
		return nil
	}

	_, err := s.EnsureSchedule(ctx, s.cfg.Task, expr, s.cfg.Timezone)
	return err
}

// EnsureSchedule validates cron and tz and makes sure the repeat definition
// for task exists. It returns the repeat key. Calling it again with the same
// arguments is a no-op.
func (s *Scheduler) EnsureSchedule(ctx context.Context, task, cron, tz string) (string, error) {
	sched, err := queue.NewSchedule(task, cron, tz)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}

	created, err := s.store.EnqueueRepeating(ctx, task, Payload{Target: "all", Source: "cron"}, sched, queue.Options{
		Policy:           queue.DefaultRetryPolicy(),
		RemoveOnComplete: true,
		TraceID:          logger.TraceID(ctx),
	})
	if err != nil {
		return "", fmt.Errorf("ensuring repeat %s: %w", sched.Key, err)
	}

	if created {
		slog.InfoContext(ctx, "repeat job scheduled", "key", sched.Key, "cron", cron, "timezone", tz)
	} else {
		slog.DebugContext(ctx, "repeat job already scheduled", "key", sched.Key)
	}
	return sched.Key, nil
}
