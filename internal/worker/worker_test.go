package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"hecticradio.app/live/internal/metrics"
	"hecticradio.app/live/internal/queue"
	"hecticradio.app/live/internal/worker"
)

var _ = Describe("Worker", func() {
	var (
		ctx   context.Context
		clock *fakeClock
		store *queue.MemoryStore
		w     *worker.Worker
	)

	BeforeEach(func() {
		ctx = context.Background()
		clock = newFakeClock()
		store = queue.NewMemoryStore(queue.WithClock(clock.Now))
		w = worker.New(store, worker.Config{Lease: time.Minute}, nil)
	})

	claim := func() *queue.Job {
		job, err := store.Claim(ctx, time.Minute)
		Expect(err).NotTo(HaveOccurred())
		return job
	}

	It("attempts an always-failing job MaxAttempts times with exponential delays", func() {
		var calls atomic.Int32
		w.Register("music-sync", worker.ProcessorFunc(func(context.Context, *queue.Job) (any, error) {
			calls.Add(1)
			return nil, errors.New("spotify unavailable")
		}))

		job, err := store.Enqueue(ctx, "music-sync", map[string]string{"target": "all"}, queue.Options{
			Policy: queue.DefaultRetryPolicy(),
		})
		Expect(err).NotTo(HaveOccurred())

		var delays []time.Duration
		for {
			claimed := claim()
			Expect(claimed).NotTo(BeNil())
			w.Execute(ctx, claimed)

			got, err := store.Get(ctx, job.ID)
			Expect(err).NotTo(HaveOccurred())
			if got.State == queue.StateFailed {
				Expect(got.Attempt).To(Equal(3))
				Expect(got.LastError).To(ContainSubstring("spotify unavailable"))
				break
			}

			Expect(got.State).To(Equal(queue.StateDelayed))
			delay := got.RunAt.Sub(clock.Now())
			delays = append(delays, delay)

			Expect(claim()).To(BeNil(), "job must not run before its backoff")
			clock.Advance(delay)
		}

		Expect(calls.Load()).To(BeEquivalentTo(3))
		Expect(delays).To(Equal([]time.Duration{time.Second, 2 * time.Second}))
	})

	It("turns a panic into a failed attempt", func() {
		w.Register("music-sync", worker.ProcessorFunc(func(context.Context, *queue.Job) (any, error) {
			panic("nil playlist")
		}))
		job, err := store.Enqueue(ctx, "music-sync", nil, queue.Options{
			Policy: queue.RetryPolicy{MaxAttempts: 1},
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(func() { w.Execute(ctx, claim()) }).NotTo(Panic())

		got, err := store.Get(ctx, job.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.State).To(Equal(queue.StateFailed))
		Expect(got.LastError).To(ContainSubstring("panic: nil playlist"))
	})

	It("fails jobs nobody can process", func() {
		job, err := store.Enqueue(ctx, "podcast-sync", nil, queue.Options{
			Policy: queue.RetryPolicy{MaxAttempts: 1},
		})
		Expect(err).NotTo(HaveOccurred())

		w.Execute(ctx, claim())

		got, err := store.Get(ctx, job.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.State).To(Equal(queue.StateFailed))
		Expect(got.LastError).To(ContainSubstring(worker.ErrNoProcessor.Error()))
	})

	It("keeps the result when the job is not removed on completion", func() {
		w.Register("music-sync", worker.ProcessorFunc(func(_ context.Context, job *queue.Job) (any, error) {
			return map[string]int{"attempt": job.Attempt}, nil
		}))
		job, err := store.Enqueue(ctx, "music-sync", nil, queue.Options{})
		Expect(err).NotTo(HaveOccurred())

		w.Execute(ctx, claim())

		got, err := store.Get(ctx, job.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.State).To(Equal(queue.StateCompleted))
		Expect(got.Result).To(MatchJSON(`{"attempt":1}`))
	})

	It("discards the outcome of a job whose lease was reclaimed", func() {
		w.Register("music-sync", worker.ProcessorFunc(func(context.Context, *queue.Job) (any, error) {
			return "late", nil
		}))
		job, err := store.Enqueue(ctx, "music-sync", nil, queue.Options{Policy: queue.RetryPolicy{MaxAttempts: 1}})
		Expect(err).NotTo(HaveOccurred())

		claimed := claim()
		clock.Advance(2 * time.Minute)
		n, err := worker.NewReclaimer(store, 0, nil).ReclaimOnce(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		w.Execute(ctx, claimed)

		got, err := store.Get(ctx, job.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.State).To(Equal(queue.StateFailed))
		Expect(got.LastError).To(Equal("lease expired"))
	})

	Describe("Run", func() {
		It("drains the queue with the configured concurrency and stops cleanly", func() {
			store := queue.NewMemoryStore()
			m := metrics.NewCollector()
			w := worker.New(store, worker.Config{Concurrency: 2, PollInterval: 5 * time.Millisecond}, m)

			var running, maxRunning, done atomic.Int32
			w.Register("music-sync", worker.ProcessorFunc(func(context.Context, *queue.Job) (any, error) {
				n := running.Add(1)
				for {
					prev := maxRunning.Load()
					if n <= prev || maxRunning.CompareAndSwap(prev, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				running.Add(-1)
				done.Add(1)
				return nil, nil
			}))

			for range 6 {
				_, err := store.Enqueue(ctx, "music-sync", json.RawMessage(`{}`), queue.Options{RemoveOnComplete: true})
				Expect(err).NotTo(HaveOccurred())
			}

			runErr := make(chan error, 1)
			go func() { runErr <- w.Run(ctx) }()

			Eventually(done.Load).Should(BeEquivalentTo(6))
			w.Stop()
			Eventually(runErr).Should(Receive(BeNil()))
			Expect(maxRunning.Load()).To(BeNumerically("<=", 2))

			stats, err := store.Stats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Waiting + stats.Active + stats.Completed).To(BeZero())
		})

		It("returns the context error when cancelled", func() {
			runCtx, cancel := context.WithCancel(ctx)
			runErr := make(chan error, 1)
			go func() { runErr <- w.Run(runCtx) }()

			cancel()
			Eventually(runErr).Should(Receive(MatchError(context.Canceled)))
		})
	})
})

var _ = Describe("Reclaimer", func() {
	It("fails expired leases on every tick until stopped", func() {
		ctx := context.Background()
		clock := newFakeClock()
		store := queue.NewMemoryStore(queue.WithClock(clock.Now))

		_, err := store.Enqueue(ctx, "music-sync", nil, queue.Options{})
		Expect(err).NotTo(HaveOccurred())
		job, err := store.Claim(ctx, time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(job).NotTo(BeNil())
		clock.Advance(5 * time.Second)

		r := worker.NewReclaimer(store, 10*time.Millisecond, nil)
		go r.Run(ctx)
		DeferCleanup(r.Stop)

		Eventually(func() queue.State {
			got, err := store.Get(ctx, job.ID)
			Expect(err).NotTo(HaveOccurred())
			return got.State
		}).Should(Equal(queue.StateDelayed))
	})
})
