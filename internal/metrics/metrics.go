package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the hub and pipeline metrics. A nil *Collector records
// nothing, so components take one optionally.
type Collector struct {
	registry *prometheus.Registry

	connections   prometheus.Gauge
	listeners     prometheus.Gauge
	listenersPeak prometheus.Gauge
	framesIn      *prometheus.CounterVec
	framesDropped prometheus.Counter
	busFailures   prometheus.Counter
	busDropped    prometheus.Counter

	jobsEnqueued  *prometheus.CounterVec
	jobsProcessed *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	jobsReclaimed prometheus.Counter
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "live_connections",
			Help: "Open websocket connections on this process",
		}),
		listeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "live_listeners",
			Help: "Registered listener sessions on this process",
		}),
		listenersPeak: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "live_listeners_peak",
			Help: "Highest listener count seen by this process",
		}),
		framesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "live_frames_received_total",
			Help: "Inbound socket events by name",
		}, []string{"event"}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_frames_dropped_total",
			Help: "Outbound frames dropped because a client's send buffer was full",
		}),
		busFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_bus_publish_failures_total",
			Help: "Event bus publishes that failed",
		}),
		busDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_bus_publish_dropped_total",
			Help: "Event bus publishes dropped because the outbox was full",
		}),
		jobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "live_jobs_enqueued_total",
			Help: "Jobs enqueued by task",
		}, []string{"task"}),
		jobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "live_jobs_processed_total",
			Help: "Job attempts by task and outcome (completed, retrying, failed)",
		}, []string{"task", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "live_job_duration_seconds",
			Help:    "Job attempt duration",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"task"}),
		jobsReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_jobs_reclaimed_total",
			Help: "Active jobs failed after their lease expired",
		}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.connections,
		c.listeners,
		c.listenersPeak,
		c.framesIn,
		c.framesDropped,
		c.busFailures,
		c.busDropped,
		c.jobsEnqueued,
		c.jobsProcessed,
		c.jobDuration,
		c.jobsReclaimed,
	)

	return c
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) ConnOpened() {
	if c != nil {
		c.connections.Inc()
	}
}

func (c *Collector) ConnClosed() {
	if c != nil {
		c.connections.Dec()
	}
}

func (c *Collector) FrameReceived(event string) {
	if c != nil {
		c.framesIn.WithLabelValues(event).Inc()
	}
}

func (c *Collector) FrameDropped() {
	if c != nil {
		c.framesDropped.Inc()
	}
}

func (c *Collector) BusPublishFailed() {
	if c != nil {
		c.busFailures.Inc()
	}
}

func (c *Collector) BusPublishDropped() {
	if c != nil {
		c.busDropped.Inc()
	}
}

func (c *Collector) SetListeners(count, peak int) {
	if c != nil {
		c.listeners.Set(float64(count))
		c.listenersPeak.Set(float64(peak))
	}
}

func (c *Collector) JobEnqueued(task string) {
	if c != nil {
		c.jobsEnqueued.WithLabelValues(task).Inc()
	}
}

func (c *Collector) JobProcessed(task, outcome string, took time.Duration) {
	if c != nil {
		c.jobsProcessed.WithLabelValues(task, outcome).Inc()
		c.jobDuration.WithLabelValues(task).Observe(took.Seconds())
	}
}

func (c *Collector) JobsReclaimed(n int) {
	if c != nil && n > 0 {
		c.jobsReclaimed.Add(float64(n))
	}
}
