package shepherd

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics bundles the Prometheus collectors of a Shepherd. A nil *metrics
// is valid and records nothing, so callers never have to branch on whether
// metrics were enabled.
type metrics struct {
	trackedBlocks  prometheus.Gauge
	processedItems prometheus.Counter
	skippedItems   prometheus.Counter
	rounds         prometheus.Counter
	drainDuration  prometheus.Histogram
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions prometheus.Counter
	cacheFlushes   prometheus.Counter
	workerPanics   prometheus.Counter
}

// newMetrics creates and registers the collectors on the Registerer passed.
// A nil Registerer disables metrics entirely.
func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	m := &metrics{
		trackedBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shepherd", Name: "tracked_blocks",
			Help: "Number of blocks currently queued for processing.",
		}),
		processedItems: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shepherd", Name: "processed_items_total",
			Help: "Number of work items processed.",
		}),
		skippedItems: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shepherd", Name: "skipped_items_total",
			Help: "Number of work items skipped because their block unloaded before processing.",
		}),
		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shepherd", Name: "rounds_total",
			Help: "Number of completed processing rounds.",
		}),
		drainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "shepherd", Name: "drain_duration_seconds",
			Help:    "Time spent draining the block queue per tick.",
			Buckets: prometheus.ExponentialBuckets(50e-6, 4, 10),
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shepherd", Name: "neighbor_cache_hits_total",
			Help: "Neighborhood cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shepherd", Name: "neighbor_cache_misses_total",
			Help: "Neighborhood cache misses.",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shepherd", Name: "neighbor_cache_evictions_total",
			Help: "Neighborhood cache entries evicted at capacity.",
		}),
		cacheFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shepherd", Name: "neighbor_cache_flushes_total",
			Help: "Dirty neighbour buffers written back.",
		}),
		workerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shepherd", Name: "worker_panics_total",
			Help: "Worker invocations contained after a panic.",
		}),
	}
	reg.MustRegister(
		m.trackedBlocks, m.processedItems, m.skippedItems, m.rounds, m.drainDuration,
		m.cacheHits, m.cacheMisses, m.cacheEvictions, m.cacheFlushes, m.workerPanics,
	)
	return m
}

func (m *metrics) setTracked(n int) {
	if m != nil {
		m.trackedBlocks.Set(float64(n))
	}
}

func (m *metrics) itemProcessed() {
	if m != nil {
		m.processedItems.Inc()
	}
}

func (m *metrics) itemSkipped() {
	if m != nil {
		m.skippedItems.Inc()
	}
}

func (m *metrics) roundCompleted() {
	if m != nil {
		m.rounds.Inc()
	}
}

func (m *metrics) drainObserved(d time.Duration) {
	if m != nil {
		m.drainDuration.Observe(d.Seconds())
	}
}

func (m *metrics) cacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *metrics) cacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

func (m *metrics) cacheEviction() {
	if m != nil {
		m.cacheEvictions.Inc()
	}
}

func (m *metrics) cacheFlush() {
	if m != nil {
		m.cacheFlushes.Inc()
	}
}

func (m *metrics) workerPanicked() {
	if m != nil {
		m.workerPanics.Inc()
	}
}
