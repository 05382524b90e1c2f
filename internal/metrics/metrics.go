// Package metrics exposes job, cache and worker measurements to Prometheus.
//
// A Collector owns its own registry so tests and multiple daemons in one
// process do not collide on the global default registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deepscan/internal/embedcache"
	"deepscan/internal/ensemble"
	"deepscan/internal/progress"
	"deepscan/internal/services"
	"deepscan/internal/store"
)

const namespace = "deepscan"

// Collector records pipeline metrics. It implements orchestrator.Observer.
type Collector struct {
	registry *prometheus.Registry

	stages      *prometheus.CounterVec
	finished    *prometheus.CounterVec
	retries     *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	frames      prometheus.Counter
	submissions *prometheus.CounterVec
	busy        prometheus.Gauge
	recycled    prometheus.Counter
	reclaimed   prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_transitions_total",
			Help:      "Stage boundaries reached by job executions.",
		}, []string{"stage"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal state.",
		}, []string{"status", "error_kind"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_retries_total",
			Help:      "Job attempts retried after a transient failure.",
		}, []string{"error_kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "End-to-end job execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"status", "cache_hit"}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_scored_total",
			Help:      "Frames scored by completed jobs.",
		}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Job submissions by admission outcome.",
		}, []string{"outcome"}),
		busy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_busy",
			Help:      "Workers currently executing a job.",
		}),
		recycled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workers_recycled_total",
			Help:      "Workers replaced after reaching max_tasks_per_worker.",
		}),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_reclaimed_total",
			Help:      "Jobs returned to the queue after their lease went stale.",
		}),
	}
	c.registry.MustRegister(
		c.stages, c.finished, c.retries, c.duration, c.frames,
		c.submissions, c.busy, c.recycled, c.reclaimed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) StageReached(stage string) {
	c.stages.WithLabelValues(stage).Inc()
}

func (c *Collector) JobRetried(kind services.Kind) {
	c.retries.WithLabelValues(string(kind)).Inc()
}

func (c *Collector) JobFinished(status store.Status, kind services.Kind, cacheHit bool, elapsed time.Duration, frames int) {
	c.finished.WithLabelValues(string(status), string(kind)).Inc()
	c.duration.WithLabelValues(string(status), strconv.FormatBool(cacheHit)).Observe(elapsed.Seconds())
	if frames > 0 {
		c.frames.Add(float64(frames))
	}
}

// SubmissionAccepted counts an admitted job.
func (c *Collector) SubmissionAccepted() {
	c.submissions.WithLabelValues("accepted").Inc()
}

// SubmissionRejected counts a job refused at admission.
func (c *Collector) SubmissionRejected(reason string) {
	c.submissions.WithLabelValues("rejected_" + reason).Inc()
}

// WorkerBusy adjusts the busy worker gauge by delta.
func (c *Collector) WorkerBusy(delta int) {
	c.busy.Add(float64(delta))
}

// WorkerRecycled counts a worker replacement.
func (c *Collector) WorkerRecycled() { c.recycled.Inc() }

// JobsReclaimed counts stale leases returned to the queue.
func (c *Collector) JobsReclaimed(n int64) {
	if n > 0 {
		c.reclaimed.Add(float64(n))
	}
}

// RegisterCache exports embedding cache statistics read at scrape time.
func (c *Collector) RegisterCache(stats func() embedcache.Stats) {
	c.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "cache", Name: "entries",
			Help: "Live keys in the embedding cache.",
		}, func() float64 { return float64(stats().Entries) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hits_total",
			Help: "Embedding cache hits.",
		}, func() float64 { return float64(stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "misses_total",
			Help: "Embedding cache misses.",
		}, func() float64 { return float64(stats().Misses) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "evictions_total",
			Help: "Keys evicted by the capacity bound.",
		}, func() float64 { return float64(stats().Evictions) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "expirations_total",
			Help: "Keys dropped after their TTL.",
		}, func() float64 { return float64(stats().Expirations) }),
	)
}

// RegisterGate exports device gate occupancy.
func (c *Collector) RegisterGate(stats func() ensemble.GateStats) {
	c.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "device", Name: "busy",
			Help: "Batches currently running inference on the device.",
		}, func() float64 { return float64(stats().Busy) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "device", Name: "wait_seconds_total",
			Help: "Time spent waiting for the inference device gate.",
		}, func() float64 { return stats().TotalWait.Seconds() }),
	)
}

// RegisterProgress exports broadcaster delivery statistics.
func (c *Collector) RegisterProgress(stats func() progress.Stats) {
	c.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "progress", Name: "subscribers",
			Help: "Open progress subscriptions.",
		}, func() float64 { return float64(stats().Subscribers) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "progress", Name: "dropped_total",
			Help: "Progress events dropped for slow subscribers.",
		}, func() float64 { return float64(stats().Dropped) }),
	)
}
