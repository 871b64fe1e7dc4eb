package queue_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"hecticradio.app/live/internal/queue"
)

var _ = Describe("RetryPolicy", func() {
	It("doubles the base delay per attempt when exponential", func() {
		p := queue.DefaultRetryPolicy()
		Expect(p.Delay(1)).To(Equal(time.Second))
		Expect(p.Delay(2)).To(Equal(2 * time.Second))
		Expect(p.Delay(3)).To(Equal(4 * time.Second))
	})

	It("is exhausted at MaxAttempts", func() {
		p := queue.DefaultRetryPolicy()
		Expect(p.Exhausted(2)).To(BeFalse())
		Expect(p.Exhausted(3)).To(BeTrue())
	})
})

var _ = Describe("Schedule", func() {
	It("derives the key from task, cron and timezone", func() {
		s, err := queue.NewSchedule("music-sync", "0 * * * *", "UTC")
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Key).To(Equal("music-sync-cron-0 * * * *-UTC"))
	})

	It("computes the next tick in the schedule's timezone", func() {
		s, err := queue.NewSchedule("music-sync", "0 9 * * *", "America/New_York")
		Expect(err).NotTo(HaveOccurred())

		next, err := s.Next(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
		Expect(err).NotTo(HaveOccurred())
		Expect(next.UTC()).To(Equal(time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)))
	})

	DescribeTable("rejects invalid input",
		func(expr, tz string) {
			_, err := queue.NewSchedule("music-sync", expr, tz)
			Expect(err).To(HaveOccurred())
		},
		Entry("bad cron", "every hour", "UTC"),
		Entry("six fields", "0 0 * * * *", "UTC"),
		Entry("unknown timezone", "0 * * * *", "Mars/Olympus"),
	)
})
