package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrNotActive is returned by Complete and Fail when the job is no longer
	// held by the caller: its lease expired and it was reclaimed, or it was
	// already settled.
	ErrNotActive = errors.New("job is not active")
	ErrNotFound  = errors.New("job not found")
)

type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

type Backoff struct {
	Kind  BackoffKind   `json:"kind"`
	Delay time.Duration `json:"delay"`
}

type RetryPolicy struct {
	MaxAttempts int     `json:"max_attempts"`
	Backoff     Backoff `json:"backoff"`
}

// DefaultRetryPolicy is three attempts with exponential backoff from one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     Backoff{Kind: BackoffExponential, Delay: time.Second},
	}
}

// Delay returns how long to wait before the next attempt after the given
// (1-based) attempt failed.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.Backoff.Kind != BackoffExponential {
		return p.Backoff.Delay
	}
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	return p.Backoff.Delay * time.Duration(1<<shift)
}

// Exhausted reports whether no attempt remains after the given one.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}

func (p RetryPolicy) orDefault() RetryPolicy {
	if p.MaxAttempts <= 0 {
		return DefaultRetryPolicy()
	}
	if p.Backoff.Kind == "" {
		p.Backoff.Kind = BackoffFixed
	}
	return p
}

// Schedule is a cron recurrence in an IANA timezone. Key is the idempotency
// key of the repeat definition built from it.
type Schedule struct {
	Cron     string `json:"cron"`
	Timezone string `json:"timezone"`
	Key      string `json:"key"`
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewSchedule validates the expression and timezone and derives the key.
func NewSchedule(task, expr, tz string) (Schedule, error) {
	if _, err := cronParser.Parse(expr); err != nil {
		return Schedule{}, fmt.Errorf("parsing cron %q: %w", expr, err)
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return Schedule{}, fmt.Errorf("loading timezone %q: %w", tz, err)
	}
	return Schedule{Cron: expr, Timezone: tz, Key: RepeatKey(task, expr, tz)}, nil
}

// RepeatKey is "<task>-cron-<cron>-<tz>", e.g. "music-sync-cron-0 * * * *-UTC".
func RepeatKey(task, expr, tz string) string {
	return fmt.Sprintf("%s-cron-%s-%s", task, expr, tz)
}

// Next returns the first fire time strictly after t.
func (s Schedule) Next(t time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("loading timezone %q: %w", s.Timezone, err)
	}
	sched, err := cronParser.Parse(s.Cron)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing cron %q: %w", s.Cron, err)
	}
	return sched.Next(t.In(loc)), nil
}

type Job struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Payload          json.RawMessage `json:"payload"`
	Attempt          int             `json:"attempt"`
	Policy           RetryPolicy     `json:"policy"`
	RemoveOnComplete bool            `json:"remove_on_complete"`
	RepeatKey        string          `json:"repeat_key,omitempty"`
	State            State           `json:"state"`
	LastError        string          `json:"last_error,omitempty"`
	Result           json.RawMessage `json:"result,omitempty"`
	TraceID          string          `json:"trace_id,omitempty"`
	RunAt            time.Time       `json:"run_at"`
	LeaseUntil       time.Time       `json:"lease_until,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	if len(j.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decoding payload of job %s: %w", j.ID, err)
	}
	return nil
}

// Repeat is a stored recurring job definition. Exactly one exists per
// Schedule.Key.
type Repeat struct {
	Key              string          `json:"key"`
	Name             string          `json:"name"`
	Payload          json.RawMessage `json:"payload"`
	Schedule         Schedule        `json:"schedule"`
	Policy           RetryPolicy     `json:"policy"`
	RemoveOnComplete bool            `json:"remove_on_complete"`
	Next             time.Time       `json:"next"`
}

// instanceID names the job materialized for one tick of a repeat.
func instanceID(key string, tick time.Time) string {
	return fmt.Sprintf("%s:%d", key, tick.UnixMilli())
}

type FailOutcome struct {
	Attempt  int
	Terminal bool
	// Delay until the next attempt; zero when Terminal.
	Delay time.Duration
}

type Options struct {
	JobID            string
	Policy           RetryPolicy
	RemoveOnComplete bool
	Delay            time.Duration
	TraceID          string
}

type Stats struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Repeats   int64 `json:"repeats"`
}

func encodePayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return b, nil
}
