package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector exports membrane metrics to a Prometheus
// registry. It satisfies the root MetricsCollector interface.
type PrometheusCollector struct {
	validations       *prometheus.CounterVec
	validationLatency prometheus.Histogram
	decisions         *prometheus.CounterVec
	heals             *prometheus.CounterVec
	allocations       prometheus.Counter
	allocatedBytes    prometheus.Counter
	frees             *prometheus.CounterVec
	evidence          *prometheus.CounterVec
}

// NewPrometheusCollector creates a collector and registers its metrics
// with reg. Pass prometheus.DefaultRegisterer for the global registry.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	c := &PrometheusCollector{
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memsentry_validations_total",
			Help: "Pointer validations by outcome",
		}, []string{"outcome"}),
		validationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "memsentry_validation_latency_seconds",
			Help:    "Latency of pointer validation",
			Buckets: prometheus.ExponentialBuckets(25e-9, 4, 10),
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memsentry_decisions_total",
			Help: "Kernel decisions by profile and action",
		}, []string{"profile", "action"}),
		heals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memsentry_heals_total",
			Help: "Healing actions applied",
		}, []string{"action"}),
		allocations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memsentry_allocations_total",
			Help: "Tracked allocations",
		}),
		allocatedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memsentry_allocated_bytes_total",
			Help: "Bytes handed out by the tracked allocator",
		}),
		frees: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memsentry_frees_total",
			Help: "Free operations by result",
		}, []string{"result"}),
		evidence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memsentry_evidence_events_total",
			Help: "Evidence events by kind",
		}, []string{"kind"}),
	}

	for _, col := range []prometheus.Collector{
		c.validations, c.validationLatency, c.decisions, c.heals,
		c.allocations, c.allocatedBytes, c.frees, c.evidence,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// RecordValidation implements the root MetricsCollector interface.
func (c *PrometheusCollector) RecordValidation(outcome string, duration time.Duration) {
	c.validations.WithLabelValues(outcome).Inc()
	c.validationLatency.Observe(duration.Seconds())
}

// RecordDecision implements the root MetricsCollector interface.
func (c *PrometheusCollector) RecordDecision(profile, action string) {
	c.decisions.WithLabelValues(profile, action).Inc()
}

// RecordHeal implements the root MetricsCollector interface.
func (c *PrometheusCollector) RecordHeal(action string) {
	c.heals.WithLabelValues(action).Inc()
}

// RecordAllocation implements the root MetricsCollector interface.
func (c *PrometheusCollector) RecordAllocation(size uint64) {
	c.allocations.Inc()
	c.allocatedBytes.Add(float64(size))
}

// RecordFree implements the root MetricsCollector interface.
func (c *PrometheusCollector) RecordFree(result string) {
	c.frees.WithLabelValues(result).Inc()
}

// RecordEvidence implements the root MetricsCollector interface.
func (c *PrometheusCollector) RecordEvidence(kind string) {
	c.evidence.WithLabelValues(kind).Inc()
}
