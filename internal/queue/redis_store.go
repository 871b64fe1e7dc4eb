package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"hecticradio.app/live/common/id"
	"hecticradio.app/live/common/logger"
)

// RedisStore keeps jobs in Redis so any number of processes can share one
// queue. Every transition runs as a Lua script, and the clock is passed in
// from Go rather than read inside Redis.
//
// Layout under the "{<queue>}" prefix:
//
//	job:<id>     hash, one per job
//	waiting      list of runnable job ids
//	delayed      zset id -> run at (ms)
//	active       zset id -> lease deadline (ms)
//	completed    zset id -> finished at (ms), kept jobs only
//	failed       zset id -> failed at (ms)
//	repeats      hash key -> repeat definition JSON
//	repeat:next  zset key -> next tick (ms)
//
// The scripts build job hash keys from ARGV rather than declaring them in
// KEYS, so they rely on every key sharing the "{<queue>}" hash tag. On Redis
// Cluster that pins a queue to one slot; the prefix must not be changed to
// anything without the tag.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	opts   storeOptions
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client redis.UniversalClient, queueName string, opts ...StoreOption) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "{" + queueName + "}:",
		opts:   newStoreOptions(opts),
	}
}

func (s *RedisStore) key(name string) string {
	return s.prefix + name
}

func (s *RedisStore) jobKey(jobID string) string {
	return s.prefix + "job:" + jobID
}

func (s *RedisStore) Enqueue(ctx context.Context, name string, payload any, opts Options) (*Job, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}

	jobID := opts.JobID
	if jobID == "" {
		jobID = id.NewString("job")
	}

	now := s.opts.now()
	job := &Job{
		ID:               jobID,
		Name:             name,
		Payload:          raw,
		Policy:           opts.Policy.orDefault(),
		RemoveOnComplete: opts.RemoveOnComplete,
		TraceID:          opts.TraceID,
		RunAt:            now.Add(opts.Delay),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	args := []any{s.jobKey(jobID), jobID, ms(job.RunAt), ms(now)}
	args = append(args, jobFields(job)...)
	inserted, err := enqueueScript.Run(ctx, s.client,
		[]string{s.key("waiting"), s.key("delayed")}, args...).Int()
	if err != nil {
		return nil, fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	if inserted == 0 {
		slog.DebugContext(ctx, "job id already queued", "job_id", jobID)
		return s.Get(ctx, jobID)
	}

	job.State = StateWaiting
	if opts.Delay > 0 {
		job.State = StateDelayed
	}
	slog.DebugContext(ctx, "job enqueued", "job_id", jobID, "task", name, "state", job.State)
	return job, nil
}

func (s *RedisStore) EnqueueRepeating(ctx context.Context, name string, payload any, sched Schedule, opts Options) (bool, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return false, err
	}

	next, err := sched.Next(s.opts.now())
	if err != nil {
		return false, err
	}

	def, err := json.Marshal(Repeat{
		Key:              sched.Key,
		Name:             name,
		Payload:          raw,
		Schedule:         sched,
		Policy:           opts.Policy.orDefault(),
		RemoveOnComplete: opts.RemoveOnComplete,
	})
	if err != nil {
		return false, fmt.Errorf("encoding repeat %s: %w", sched.Key, err)
	}

	created, err := addRepeatScript.Run(ctx, s.client,
		[]string{s.key("repeats"), s.key("repeat:next")},
		sched.Key, def, ms(next)).Int()
	if err != nil {
		return false, fmt.Errorf("adding repeat %s: %w", sched.Key, err)
	}
	return created == 1, nil
}

func (s *RedisStore) Repeats(ctx context.Context) ([]Repeat, error) {
	defs, err := s.client.HGetAll(ctx, s.key("repeats")).Result()
	if err != nil {
		return nil, fmt.Errorf("listing repeats: %w", err)
	}
	nexts, err := s.client.ZRangeWithScores(ctx, s.key("repeat:next"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing repeat ticks: %w", err)
	}

	nextByKey := make(map[string]time.Time, len(nexts))
	for _, z := range nexts {
		nextByKey[fmt.Sprint(z.Member)] = time.UnixMilli(int64(z.Score))
	}

	out := make([]Repeat, 0, len(nexts))
	for _, z := range nexts {
		key := fmt.Sprint(z.Member)
		def, ok := defs[key]
		if !ok {
			continue
		}
		var r Repeat
		if err := json.Unmarshal([]byte(def), &r); err != nil {
			return nil, fmt.Errorf("decoding repeat %s: %w", key, err)
		}
		r.Next = nextByKey[key]
		out = append(out, r)
	}
	return out, nil
}

func (s *RedisStore) RemoveRepeating(ctx context.Context, key string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.HDel(ctx, s.key("repeats"), key)
		pipe.ZRem(ctx, s.key("repeat:next"), key)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("removing repeat %s: %w", key, err)
	}
	return removed.Val() > 0, nil
}

func (s *RedisStore) Claim(ctx context.Context, lease time.Duration) (*Job, error) {
	now := s.opts.now()

	if err := s.materialize(ctx, now); err != nil {
		return nil, err
	}

	jobID, err := claimScript.Run(ctx, s.client,
		[]string{s.key("waiting"), s.key("delayed"), s.key("active")},
		ms(now), ms(now.Add(lease)), s.key("job:")).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}

	return s.Get(ctx, jobID)
}

// materialize turns every due repeat tick into a job. Losing a race to another
// process is not an error: the winner already created the job.
func (s *RedisStore) materialize(ctx context.Context, now time.Time) error {
	due, err := s.client.ZRangeByScoreWithScores(ctx, s.key("repeat:next"), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(ms(now), 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("listing due repeats: %w", err)
	}

	for _, z := range due {
		key := fmt.Sprint(z.Member)
		tick := time.UnixMilli(int64(z.Score))

		def, err := s.client.HGet(ctx, s.key("repeats"), key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("loading repeat %s: %w", key, err)
		}
		var r Repeat
		if err := json.Unmarshal([]byte(def), &r); err != nil {
			return fmt.Errorf("decoding repeat %s: %w", key, err)
		}

		next, err := r.Schedule.Next(now)
		if err != nil {
			return fmt.Errorf("advancing repeat %s: %w", key, err)
		}

		jobID := instanceID(key, tick)
		job := &Job{
			ID:               jobID,
			Name:             r.Name,
			Payload:          r.Payload,
			Policy:           r.Policy,
			RemoveOnComplete: r.RemoveOnComplete,
			RepeatKey:        key,
			RunAt:            now,
			CreatedAt:        now,
			UpdatedAt:        now,
		}

		args := []any{key, ms(tick), ms(next), s.jobKey(jobID), jobID}
		args = append(args, jobFields(job)...)
		created, err := materializeScript.Run(ctx, s.client,
			[]string{s.key("repeat:next"), s.key("waiting")}, args...).Int()
		if err != nil {
			return fmt.Errorf("materializing repeat %s: %w", key, err)
		}
		if created == 1 {
			slog.InfoContext(logger.WithLogFields(ctx, logger.LogFields{JobID: &jobID, Task: &r.Name}),
				"repeat tick materialized", "repeat_key", key, "next", next)
		}
	}
	return nil
}

func (s *RedisStore) Complete(ctx context.Context, job *Job, result any) error {
	raw, err := encodePayload(result)
	if err != nil {
		return err
	}

	remove := "0"
	if job.RemoveOnComplete {
		remove = "1"
	}

	ok, err := completeScript.Run(ctx, s.client,
		[]string{s.key("active"), s.key("completed")},
		s.jobKey(job.ID), job.ID, job.Attempt, ms(s.opts.now()), string(raw), remove).Int()
	if err != nil {
		return fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	if ok == 0 {
		return fmt.Errorf("job %s attempt %d: %w", job.ID, job.Attempt, ErrNotActive)
	}
	return nil
}

func (s *RedisStore) Fail(ctx context.Context, job *Job, cause error) (FailOutcome, error) {
	now := s.opts.now()
	policy := job.Policy.orDefault()

	outcome := FailOutcome{Attempt: job.Attempt, Terminal: policy.Exhausted(job.Attempt)}
	retryAt := ""
	if !outcome.Terminal {
		outcome.Delay = policy.Delay(job.Attempt)
		retryAt = strconv.FormatInt(ms(now.Add(outcome.Delay)), 10)
	}

	res, err := failScript.Run(ctx, s.client,
		[]string{s.key("active"), s.key("delayed"), s.key("failed")},
		s.jobKey(job.ID), job.ID, job.Attempt, ms(now), cause.Error(), retryAt).Int()
	if err != nil {
		return FailOutcome{}, fmt.Errorf("failing job %s: %w", job.ID, err)
	}
	if res == 0 {
		return FailOutcome{}, fmt.Errorf("job %s attempt %d: %w", job.ID, job.Attempt, ErrNotActive)
	}
	return outcome, nil
}

func (s *RedisStore) ReclaimExpired(ctx context.Context) (int, error) {
	now := s.opts.now()
	expired, err := s.client.ZRangeByScore(ctx, s.key("active"), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(ms(now), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("listing expired leases: %w", err)
	}

	reclaimed := 0
	for _, jobID := range expired {
		job, err := s.Get(ctx, jobID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return reclaimed, err
		}
		if _, err := s.Fail(ctx, job, errLeaseExpired); err != nil {
			if errors.Is(err, ErrNotActive) {
				continue
			}
			return reclaimed, err
		}
		reclaimed++
	}
	return reclaimed, nil
}

func (s *RedisStore) Get(ctx context.Context, jobID string) (*Job, error) {
	fields, err := s.client.HGetAll(ctx, s.jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("loading job %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return decodeJob(fields)
}

func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	pipe := s.client.Pipeline()
	waiting := pipe.LLen(ctx, s.key("waiting"))
	delayed := pipe.ZCard(ctx, s.key("delayed"))
	active := pipe.ZCard(ctx, s.key("active"))
	completed := pipe.ZCard(ctx, s.key("completed"))
	failed := pipe.ZCard(ctx, s.key("failed"))
	repeats := pipe.HLen(ctx, s.key("repeats"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("reading queue stats: %w", err)
	}
	return Stats{
		Waiting:   waiting.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Repeats:   repeats.Val(),
	}, nil
}

func ms(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMs(s string) time.Time {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}

func jobFields(j *Job) []any {
	remove := "0"
	if j.RemoveOnComplete {
		remove = "1"
	}
	return []any{
		"id", j.ID,
		"name", j.Name,
		"payload", string(j.Payload),
		"attempt", j.Attempt,
		"max_attempts", j.Policy.MaxAttempts,
		"backoff_kind", string(j.Policy.Backoff.Kind),
		"backoff_delay_ms", j.Policy.Backoff.Delay.Milliseconds(),
		"remove_on_complete", remove,
		"repeat_key", j.RepeatKey,
		"trace_id", j.TraceID,
		"run_at", ms(j.RunAt),
		"lease_until", ms(j.LeaseUntil),
		"created_at", ms(j.CreatedAt),
		"updated_at", ms(j.UpdatedAt),
	}
}

func decodeJob(f map[string]string) (*Job, error) {
	attempt, err := strconv.Atoi(f["attempt"])
	if err != nil {
		return nil, fmt.Errorf("parsing attempt of job %s: %w", f["id"], err)
	}
	maxAttempts, err := strconv.Atoi(f["max_attempts"])
	if err != nil {
		return nil, fmt.Errorf("parsing max_attempts of job %s: %w", f["id"], err)
	}
	delayMs, err := strconv.ParseInt(f["backoff_delay_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing backoff of job %s: %w", f["id"], err)
	}

	job := &Job{
		ID:      f["id"],
		Name:    f["name"],
		Payload: json.RawMessage(f["payload"]),
		Attempt: attempt,
		Policy: RetryPolicy{
			MaxAttempts: maxAttempts,
			Backoff: Backoff{
				Kind:  BackoffKind(f["backoff_kind"]),
				Delay: time.Duration(delayMs) * time.Millisecond,
			},
		},
		RemoveOnComplete: f["remove_on_complete"] == "1",
		RepeatKey:        f["repeat_key"],
		State:            State(f["state"]),
		LastError:        f["last_error"],
		TraceID:          f["trace_id"],
		RunAt:            fromMs(f["run_at"]),
		LeaseUntil:       fromMs(f["lease_until"]),
		CreatedAt:        fromMs(f["created_at"]),
		UpdatedAt:        fromMs(f["updated_at"]),
	}
	if r := f["result"]; r != "" {
		job.Result = json.RawMessage(r)
	}
	return job, nil
}
