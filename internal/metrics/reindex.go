package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ReindexMetrics records reindex progress. Implementations must be safe for
// concurrent use by the parallel workers.
type ReindexMetrics interface {
	RunStarted(mode string)
	RunFinished(mode, status string, duration time.Duration)
	EntryIndexed(kind string)
	EntryFailed()
	SetQueueDepth(n int)
	ObserveFlush(duration time.Duration)
}

var (
	shared     ReindexMetrics
	sharedOnce sync.Once
)

// Reindex returns the reindex metrics of the process-wide registry,
// registering them on first use. It is a no-op before InitRegistry.
func Reindex() ReindexMetrics {
	reg := GetRegistry()
	if reg == nil {
		return NewNoopReindexMetrics()
	}
	sharedOnce.Do(func() { shared = NewReindexMetrics(reg) })
	return shared
}

type reindexMetrics struct {
	runsTotal     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	runsActive    prometheus.Gauge
	entriesTotal  *prometheus.CounterVec
	failuresTotal prometheus.Counter
	queueDepth    prometheus.Gauge
	flushDuration prometheus.Histogram
}

// NewReindexMetrics registers the reindex collectors on reg. A nil reg
// yields a no-op implementation.
func NewReindexMetrics(reg prometheus.Registerer) ReindexMetrics {
	if reg == nil {
		return NewNoopReindexMetrics()
	}

	return &reindexMetrics{
		runsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docvault_reindex_runs_total",
				Help: "Total number of reindex runs by mode and final status",
			},
			[]string{"mode", "status"},
		),
		runDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "docvault_reindex_duration_seconds",
				Help: "Duration of reindex runs in seconds",
				Buckets: []float64{
					1,    // 1s
					10,   // 10s
					60,   // 1m
					300,  // 5m
					1800, // 30m
					7200, // 2h
				},
			},
			[]string{"mode"},
		),
		runsActive: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "docvault_reindex_active",
				Help: "Number of reindex runs in progress",
			},
		),
		entriesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docvault_reindex_entries_total",
				Help: "Total number of entries submitted to the index by kind",
			},
			[]string{"kind"},
		),
		failuresTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "docvault_reindex_failures_total",
				Help: "Total number of entries that could not be indexed",
			},
		),
		queueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "docvault_reindex_queue_depth",
				Help: "Messages waiting in the parallel reindex queue",
			},
		),
		flushDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "docvault_index_flush_duration_seconds",
				Help:    "Duration of deferred batch flushes in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
			},
		),
	}
}

func (m *reindexMetrics) RunStarted(mode string) {
	m.runsActive.Inc()
}

func (m *reindexMetrics) RunFinished(mode, status string, duration time.Duration) {
	m.runsActive.Dec()
	m.runsTotal.WithLabelValues(mode, status).Inc()
	m.runDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

func (m *reindexMetrics) EntryIndexed(kind string) {
	m.entriesTotal.WithLabelValues(kind).Inc()
}

func (m *reindexMetrics) EntryFailed() {
	m.failuresTotal.Inc()
}

func (m *reindexMetrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

func (m *reindexMetrics) ObserveFlush(duration time.Duration) {
	m.flushDuration.Observe(duration.Seconds())
}

// NewNoopReindexMetrics returns a ReindexMetrics that records nothing.
func NewNoopReindexMetrics() ReindexMetrics {
	return noopReindexMetrics{}
}

type noopReindexMetrics struct{}

func (noopReindexMetrics) RunStarted(string)                         {}
func (noopReindexMetrics) RunFinished(string, string, time.Duration) {}
func (noopReindexMetrics) EntryIndexed(string)                       {}
func (noopReindexMetrics) EntryFailed()                              {}
func (noopReindexMetrics) SetQueueDepth(int)                         {}
func (noopReindexMetrics) ObserveFlush(time.Duration)                {}
