package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"hecticradio.app/live/common/id"
)

// MemoryStore keeps jobs in process memory. It serves single-process
// deployments without Redis and tests; nothing survives a restart.
type MemoryStore struct {
	mu      sync.Mutex
	opts    storeOptions
	jobs    map[string]*Job
	waiting []string
	repeats map[string]*Repeat
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	return &MemoryStore{
		opts:    newStoreOptions(opts),
		jobs:    make(map[string]*Job),
		repeats: make(map[string]*Repeat),
	}
}

func (s *MemoryStore) Enqueue(ctx context.Context, name string, payload any, opts Options) (*Job, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	jobID := opts.JobID
	if jobID == "" {
		jobID = id.NewString("job")
	}
	if existing, ok := s.jobs[jobID]; ok {
		return cloneJob(existing), nil
	}

	now := s.opts.now()
	job := &Job{
		ID:               jobID,
		Name:             name,
		Payload:          raw,
		Policy:           opts.Policy.orDefault(),
		RemoveOnComplete: opts.RemoveOnComplete,
		TraceID:          opts.TraceID,
		State:            StateWaiting,
		RunAt:            now.Add(opts.Delay),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.insertLocked(job)

	slog.DebugContext(ctx, "job enqueued", "job_id", job.ID, "task", name, "state", job.State)
	return cloneJob(job), nil
}

func (s *MemoryStore) insertLocked(job *Job) {
	s.jobs[job.ID] = job
	if job.RunAt.After(job.CreatedAt) {
		job.State = StateDelayed
		return
	}
	job.State = StateWaiting
	s.waiting = append(s.waiting, job.ID)
}

func (s *MemoryStore) EnqueueRepeating(ctx context.Context, name string, payload any, sched Schedule, opts Options) (bool, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.repeats[sched.Key]; ok {
		return false, nil
	}

	next, err := sched.Next(s.opts.now())
	if err != nil {
		return false, err
	}

	s.repeats[sched.Key] = &Repeat{
		Key:              sched.Key,
		Name:             name,
		Payload:          raw,
		Schedule:         sched,
		Policy:           opts.Policy.orDefault(),
		RemoveOnComplete: opts.RemoveOnComplete,
		Next:             next,
	}
	return true, nil
}

func (s *MemoryStore) Repeats(_ context.Context) ([]Repeat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Repeat, 0, len(s.repeats))
	for _, r := range s.repeats {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) RemoveRepeating(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.repeats[key]; !ok {
		return false, nil
	}
	delete(s.repeats, key)
	return true, nil
}

func (s *MemoryStore) Claim(_ context.Context, lease time.Duration) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.now()
	s.promoteDelayedLocked(now)
	if err := s.materializeLocked(now); err != nil {
		return nil, err
	}

	if len(s.waiting) == 0 {
		return nil, nil
	}
	jobID := s.waiting[0]
	s.waiting = s.waiting[1:]

	job := s.jobs[jobID]
	job.Attempt++
	job.State = StateActive
	job.LeaseUntil = now.Add(lease)
	job.UpdatedAt = now
	return cloneJob(job), nil
}

func (s *MemoryStore) promoteDelayedLocked(now time.Time) {
	var due []*Job
	for _, job := range s.jobs {
		if job.State == StateDelayed && !job.RunAt.After(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RunAt.Before(due[j].RunAt) })
	for _, job := range due {
		job.State = StateWaiting
		s.waiting = append(s.waiting, job.ID)
	}
}

func (s *MemoryStore) materializeLocked(now time.Time) error {
	for _, r := range s.repeats {
		if r.Next.After(now) {
			continue
		}
		tick := r.Next
		next, err := r.Schedule.Next(now)
		if err != nil {
			return fmt.Errorf("advancing repeat %s: %w", r.Key, err)
		}
		r.Next = next

		jobID := instanceID(r.Key, tick)
		if _, ok := s.jobs[jobID]; ok {
			continue
		}
		s.insertLocked(&Job{
			ID:               jobID,
			Name:             r.Name,
			Payload:          r.Payload,
			Policy:           r.Policy,
			RemoveOnComplete: r.RemoveOnComplete,
			RepeatKey:        r.Key,
			RunAt:            now,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}
	return nil
}

// heldLocked returns the stored job if the caller still holds its lease.
func (s *MemoryStore) heldLocked(job *Job) (*Job, error) {
	stored, ok := s.jobs[job.ID]
	if !ok || stored.State != StateActive || stored.Attempt != job.Attempt {
		return nil, fmt.Errorf("job %s attempt %d: %w", job.ID, job.Attempt, ErrNotActive)
	}
	return stored, nil
}

func (s *MemoryStore) Complete(_ context.Context, job *Job, result any) error {
	raw, err := encodePayload(result)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.heldLocked(job)
	if err != nil {
		return err
	}
	if stored.RemoveOnComplete {
		delete(s.jobs, stored.ID)
		return nil
	}
	stored.State = StateCompleted
	stored.Result = raw
	stored.LeaseUntil = time.Time{}
	stored.UpdatedAt = s.opts.now()
	return nil
}

func (s *MemoryStore) Fail(_ context.Context, job *Job, cause error) (FailOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.heldLocked(job)
	if err != nil {
		return FailOutcome{}, err
	}
	return s.failLocked(stored, cause), nil
}

func (s *MemoryStore) failLocked(stored *Job, cause error) FailOutcome {
	now := s.opts.now()
	stored.LastError = cause.Error()
	stored.LeaseUntil = time.Time{}
	stored.UpdatedAt = now

	if stored.Policy.Exhausted(stored.Attempt) {
		stored.State = StateFailed
		return FailOutcome{Attempt: stored.Attempt, Terminal: true}
	}

	delay := stored.Policy.Delay(stored.Attempt)
	stored.State = StateDelayed
	stored.RunAt = now.Add(delay)
	return FailOutcome{Attempt: stored.Attempt, Delay: delay}
}

func (s *MemoryStore) ReclaimExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.now()
	reclaimed := 0
	for _, job := range s.jobs {
		if job.State == StateActive && job.LeaseUntil.Before(now) {
			s.failLocked(job, errLeaseExpired)
			reclaimed++
		}
	}
	return reclaimed, nil
}

func (s *MemoryStore) Get(_ context.Context, jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Repeats: int64(len(s.repeats))}
	for _, job := range s.jobs {
		switch job.State {
		case StateWaiting:
			st.Waiting++
		case StateDelayed:
			st.Delayed++
		case StateActive:
			st.Active++
		case StateCompleted:
			st.Completed++
		case StateFailed:
			st.Failed++
		}
	}
	return st, nil
}

func cloneJob(j *Job) *Job {
	c := *j
	return &c
}
