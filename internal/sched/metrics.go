package sched

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics wraps the prometheus collectors a Scheduler reports against
// when configured with WithMetrics. All observation calls are nil-safe
// through the Scheduler, so metrics remain entirely optional.
type Metrics struct {
	queueDepth *prometheus.GaugeVec
	dispatched prometheus.Counter
	discarded  *prometheus.CounterVec
	promoted   prometheus.Counter
	failed     prometheus.Counter
	waitTime   prometheus.Histogram
	burstTime  prometheus.Histogram
	turnaround prometheus.Histogram
}

// NewMetrics builds and registers a Metrics against reg. Pass
// prometheus.DefaultRegisterer to use the global registry, or a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "psched",
			Name:      "queue_depth",
			Help:      "Number of tasks currently queued at a priority level.",
		}, []string{"priority"}),
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "psched",
			Name:      "tasks_dispatched_total",
			Help:      "Total number of tasks dispatched to a worker.",
		}),
		discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "psched",
			Name:      "tasks_discarded_total",
			Help:      "Total number of tasks evicted by the bounded-queue discard policy.",
		}, []string{"priority"}),
		promoted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "psched",
			Name:      "tasks_promoted_total",
			Help:      "Total number of tasks promoted by the aging pass.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "psched",
			Name:      "tasks_failed_total",
			Help:      "Total number of dispatched tasks whose executor returned an error or panicked.",
		}),
		waitTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "psched",
			Name:      "task_wait_seconds",
			Help:      "Time tasks spend queued before dispatch.",
			Buckets:   prometheus.DefBuckets,
		}),
		burstTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "psched",
			Name:      "task_burst_seconds",
			Help:      "Time tasks spend executing once dispatched.",
			Buckets:   prometheus.DefBuckets,
		}),
		turnaround: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "psched",
			Name:      "task_turnaround_seconds",
			Help:      "Total time tasks spend in the system, from arrival to completion.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.queueDepth,
		m.dispatched,
		m.discarded,
		m.promoted,
		m.failed,
		m.waitTime,
		m.burstTime,
		m.turnaround,
	)
	return m
}

func (m *Metrics) observeQueueDepth(priority, depth int) {
	m.queueDepth.WithLabelValues(strconv.Itoa(priority)).Set(float64(depth))
}

func (m *Metrics) observeDiscard(priority int) {
	m.discarded.WithLabelValues(strconv.Itoa(priority)).Inc()
}

func (m *Metrics) observePromotion() {
	m.promoted.Inc()
}

func (m *Metrics) observeDispatch(stats TaskStats, failed bool) {
	m.dispatched.Inc()
	if failed {
		m.failed.Inc()
	}
	m.waitTime.Observe(durationSeconds(stats.WaitTime()))
	m.burstTime.Observe(durationSeconds(stats.BurstTime()))
	m.turnaround.Observe(durationSeconds(stats.TurnaroundTime()))
}

func durationSeconds(d time.Duration) float64 {
	return d.Seconds()
}
