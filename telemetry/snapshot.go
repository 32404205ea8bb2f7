package telemetry

import "github.com/hupe1980/memsentry/heal"

// SchemaVersion is the snapshot schema version. The schema is
// additive only: fields are never renamed or removed, readers of an
// older schema can always decode a newer snapshot.
const SchemaVersion = 1

// OutcomeCounts holds per-outcome validation tallies.
type OutcomeCounts struct {
	Valid              uint64 `json:"valid"`
	NullPointers       uint64 `json:"null_pointers"`
	ForeignPointers    uint64 `json:"foreign_pointers"`
	TemporalViolations uint64 `json:"temporal_violations"`
	BoundsViolations   uint64 `json:"bounds_violations"`
	CanaryMismatches   uint64 `json:"canary_mismatches"`
	Ambiguous          uint64 `json:"ambiguous"`
}

// Record bumps the counter for the given outcome.
func (c *OutcomeCounts) Record(o heal.Outcome) {
	switch o {
	case heal.Valid:
		c.Valid++
	case heal.NullPointer:
		c.NullPointers++
	case heal.ForeignPointer:
		c.ForeignPointers++
	case heal.TemporalViolation:
		c.TemporalViolations++
	case heal.BoundsViolation:
		c.BoundsViolations++
	case heal.CanaryMismatch:
		c.CanaryMismatches++
	case heal.Ambiguous:
		c.Ambiguous++
	}
}

// Snapshot is a point-in-time export of membrane counters. It is
// produced on demand and carries no live references.
type Snapshot struct {
	SchemaVersion int    `json:"schema_version"`
	TimeUnixNano  int64  `json:"time_unix_nano"`
	Mode          string `json:"mode"`

	Decisions         uint64 `json:"decisions"`
	BudgetExhaustions uint64 `json:"budget_exhaustions"`
	ConsistencyFaults uint64 `json:"consistency_faults"`

	Outcomes OutcomeCounts `json:"outcomes"`
	Heals    heal.Stats    `json:"heals"`

	RiskUpperPPM     uint32 `json:"risk_upper_ppm"`
	FullTriggerPPM   uint32 `json:"full_trigger_ppm"`
	RepairTriggerPPM uint32 `json:"repair_trigger_ppm"`

	Allocations      uint64 `json:"allocations"`
	Frees            uint64 `json:"frees"`
	QuarantineDepth  uint64 `json:"quarantine_depth"`
	QuarantineBytes  uint64 `json:"quarantine_bytes"`
	QuarantineBypass uint64 `json:"quarantine_bypass"`
	Evictions        uint64 `json:"evictions"`
	Epoch            uint64 `json:"epoch"`

	CacheHits    uint64 `json:"cache_hits"`
	CacheMisses  uint64 `json:"cache_misses"`
	BloomInserts uint64 `json:"bloom_inserts"`
	BloomBits    uint64 `json:"bloom_bits"`
}
