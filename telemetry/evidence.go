// Package telemetry is the evidence surface of the membrane: a
// schema-versioned snapshot of counters for external tooling, an
// append-only evidence journal for forced-conservative events and
// internal faults, and an archiver that ships snapshots to a blob
// store.
package telemetry

// EventKind classifies an evidence event.
type EventKind uint8

const (
	// EventBudgetExhausted records a kernel compute-budget exhaustion
	// that forced the conservative path.
	EventBudgetExhausted EventKind = iota
	// EventConsistencyFault records a metadata shard disagreement.
	EventConsistencyFault
	// EventInternalFault records corruption of membrane-owned
	// bookkeeping, logged before escalation.
	EventInternalFault
	// EventSnapshotArchived records a successful snapshot archive.
	EventSnapshotArchived
)

func (k EventKind) String() string {
	switch k {
	case EventBudgetExhausted:
		return "budget_exhausted"
	case EventConsistencyFault:
		return "consistency_fault"
	case EventInternalFault:
		return "internal_fault"
	case EventSnapshotArchived:
		return "snapshot_archived"
	}
	return "unknown"
}

// Event is one evidence record appended to the journal.
type Event struct {
	// Seq is assigned by the journal, strictly increasing per journal.
	Seq uint64 `json:"seq"`
	// TimeUnixNano is the event time.
	TimeUnixNano int64 `json:"time_unix_nano"`
	// Kind classifies the event.
	Kind EventKind `json:"kind"`
	// Mode is the operating mode at event time.
	Mode string `json:"mode"`
	// Family is the API family involved, if any.
	Family string `json:"family,omitempty"`
	// RiskPPM is the risk bound at event time, if relevant.
	RiskPPM uint32 `json:"risk_ppm,omitempty"`
	// Detail is a short human-readable description.
	Detail string `json:"detail,omitempty"`
}
