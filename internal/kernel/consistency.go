package kernel

import "sync/atomic"

// ConsistencyShards is the shard count of the consistency monitor.
const ConsistencyShards = 64

// ConsistencyMonitor cross-checks overlapping metadata shards. Each
// shard publishes a section hash; an overlap between two shards carries
// an XOR witness of both hashes. A witness that does not match the
// published sections means one side served a verdict from state the
// other side never saw, and the fault count makes the kernel
// conservative until the disagreement clears.
type ConsistencyMonitor struct {
	sections [ConsistencyShards]atomic.Uint64
	faults   atomic.Uint64
}

// NewConsistencyMonitor creates a monitor with zeroed sections.
func NewConsistencyMonitor() *ConsistencyMonitor {
	return &ConsistencyMonitor{}
}

// SetSection publishes the current section hash for a shard.
func (m *ConsistencyMonitor) SetSection(shard int, hash uint64) {
	m.sections[shard%ConsistencyShards].Store(hash)
}

// Section returns the published hash for a shard.
func (m *ConsistencyMonitor) Section(shard int) uint64 {
	return m.sections[shard%ConsistencyShards].Load()
}

// NoteOverlap checks the XOR witness of two shards. Returns false and
// counts a fault on mismatch.
func (m *ConsistencyMonitor) NoteOverlap(left, right int, witness uint64) bool {
	l := m.sections[left%ConsistencyShards].Load()
	r := m.sections[right%ConsistencyShards].Load()
	if l^r == witness {
		return true
	}
	m.faults.Add(1)
	return false
}

// Faults returns the cumulative fault count.
func (m *ConsistencyMonitor) Faults() uint64 {
	return m.faults.Load()
}
