package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EscrowMetrics records activity of the escrow host.
type EscrowMetrics struct {
	calls     *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
	secrets   prometheus.Counter
	height    prometheus.Gauge
}

var (
	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetrics

	indexerMetricsOnce sync.Once
	indexerRegistry    *IndexerMetrics
)

// Escrow returns the lazily-initialised metrics registry of the escrow host.
func Escrow() *EscrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "swap",
				Subsystem: "escrow",
				Name:      "calls_total",
				Help:      "Total signed calls segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "swap",
				Subsystem: "escrow",
				Name:      "call_duration_seconds",
				Help:      "Latency distribution of applied calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "swap",
				Subsystem: "escrow",
				Name:      "throttles_total",
				Help:      "Count of calls rejected by pause or quota policies.",
			}, []string{"module", "reason"}),
			secrets: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "swap",
				Subsystem: "relayer",
				Name:      "secrets_shared_total",
				Help:      "Count of accepted secret announcements.",
			}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "swap",
				Subsystem: "escrow",
				Name:      "height",
				Help:      "Number of committed calls.",
			}),
		}
		prometheus.MustRegister(
			escrowRegistry.calls,
			escrowRegistry.latency,
			escrowRegistry.throttles,
			escrowRegistry.secrets,
			escrowRegistry.height,
		)
	})
	return escrowRegistry
}

// ObserveCall records the outcome of a call. outcome should be "success" or a
// stable error code such as "stage_not_reached".
func (m *EscrowMetrics) ObserveCall(method, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	if outcome == "" {
		outcome = "success"
	}
	m.calls.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "paused" or
// "quota_exceeded" so dashboards and alerts remain consistent.
func (m *EscrowMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// RecordSecretShared counts an accepted secret announcement.
func (m *EscrowMetrics) RecordSecretShared() {
	if m == nil {
		return
	}
	m.secrets.Inc()
}

// SetHeight publishes the committed call height.
func (m *EscrowMetrics) SetHeight(height uint64) {
	if m == nil {
		return
	}
	m.height.Set(float64(height))
}

// IndexerMetrics tracks the escrowd event indexer.
type IndexerMetrics struct {
	indexed *prometheus.CounterVec
	dropped prometheus.Counter
	queue   prometheus.Gauge
}

// Indexer returns the metrics registry of the event indexer.
func Indexer() *IndexerMetrics {
	indexerMetricsOnce.Do(func() {
		indexerRegistry = &IndexerMetrics{
			indexed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "swap",
				Subsystem: "indexer",
				Name:      "events_total",
				Help:      "Events persisted by the indexer segmented by type.",
			}, []string{"type"}),
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "swap",
				Subsystem: "indexer",
				Name:      "dropped_total",
				Help:      "Events dropped because the indexer queue was full or the write failed.",
			}),
			queue: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "swap",
				Subsystem: "indexer",
				Name:      "queue_depth",
				Help:      "Events waiting to be persisted.",
			}),
		}
		prometheus.MustRegister(indexerRegistry.indexed, indexerRegistry.dropped, indexerRegistry.queue)
	})
	return indexerRegistry
}

// RecordIndexed counts a persisted event.
func (m *IndexerMetrics) RecordIndexed(eventType string) {
	if m == nil {
		return
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		eventType = "unknown"
	}
	m.indexed.WithLabelValues(eventType).Inc()
}

// RecordDropped counts an event that was not persisted.
func (m *IndexerMetrics) RecordDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

// SetQueueDepth publishes the number of queued events.
func (m *IndexerMetrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queue.Set(float64(depth))
}
