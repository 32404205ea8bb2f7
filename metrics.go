package memsentry

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; the
// telemetry package ships a Prometheus implementation.
type MetricsCollector interface {
	// RecordValidation is called after each pipeline run.
	// outcome is the classification name, duration the time taken.
	RecordValidation(outcome string, duration time.Duration)

	// RecordDecision is called after each kernel decision.
	RecordDecision(profile, action string)

	// RecordHeal is called when a healing action is applied.
	RecordHeal(action string)

	// RecordAllocation is called after each successful allocation.
	RecordAllocation(size uint64)

	// RecordFree is called after each free attempt.
	// result is "ok", "double_free", "foreign" or "canary_corrupt".
	RecordFree(result string)

	// RecordEvidence is called when an evidence event is emitted.
	RecordEvidence(kind string)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordValidation(string, time.Duration) {}
func (NoopMetricsCollector) RecordDecision(string, string)          {}
func (NoopMetricsCollector) RecordHeal(string)                      {}
func (NoopMetricsCollector) RecordAllocation(uint64)                {}
func (NoopMetricsCollector) RecordFree(string)                      {}
func (NoopMetricsCollector) RecordEvidence(string)                  {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	ValidationCount      atomic.Int64
	ValidationViolations atomic.Int64
	ValidationTotalNanos atomic.Int64
	DecisionCount        atomic.Int64
	HealCount            atomic.Int64
	AllocationCount      atomic.Int64
	AllocatedBytes       atomic.Int64
	FreeCount            atomic.Int64
	FreeRejections       atomic.Int64
	EvidenceCount        atomic.Int64
}

// RecordValidation implements MetricsCollector.
func (b *BasicMetricsCollector) RecordValidation(outcome string, duration time.Duration) {
	b.ValidationCount.Add(1)
	b.ValidationTotalNanos.Add(duration.Nanoseconds())
	if outcome != "valid" {
		b.ValidationViolations.Add(1)
	}
}

// RecordDecision implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDecision(string, string) {
	b.DecisionCount.Add(1)
}

// RecordHeal implements MetricsCollector.
func (b *BasicMetricsCollector) RecordHeal(string) {
	b.HealCount.Add(1)
}

// RecordAllocation implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAllocation(size uint64) {
	b.AllocationCount.Add(1)
	b.AllocatedBytes.Add(int64(size))
}

// RecordFree implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFree(result string) {
	b.FreeCount.Add(1)
	if result != "ok" {
		b.FreeRejections.Add(1)
	}
}

// RecordEvidence implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEvidence(string) {
	b.EvidenceCount.Add(1)
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector counters.
type BasicMetricsStats struct {
	ValidationCount      int64
	ValidationViolations int64
	ValidationAvgNanos   int64
	DecisionCount        int64
	HealCount            int64
	AllocationCount      int64
	AllocatedBytes       int64
	FreeCount            int64
	FreeRejections       int64
	EvidenceCount        int64
}

// GetStats returns a consistent-enough snapshot of the counters.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	s := BasicMetricsStats{
		ValidationCount:      b.ValidationCount.Load(),
		ValidationViolations: b.ValidationViolations.Load(),
		DecisionCount:        b.DecisionCount.Load(),
		HealCount:            b.HealCount.Load(),
		AllocationCount:      b.AllocationCount.Load(),
		AllocatedBytes:       b.AllocatedBytes.Load(),
		FreeCount:            b.FreeCount.Load(),
		FreeRejections:       b.FreeRejections.Load(),
		EvidenceCount:        b.EvidenceCount.Load(),
	}
	if s.ValidationCount > 0 {
		s.ValidationAvgNanos = b.ValidationTotalNanos.Load() / s.ValidationCount
	}
	return s
}
