package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsistencyDetectsBadWitness(t *testing.T) {
	m := NewConsistencyMonitor()
	m.SetSection(1, 0xAA)
	m.SetSection(2, 0x0F)

	assert.True(t, m.NoteOverlap(1, 2, 0xA5))
	assert.False(t, m.NoteOverlap(1, 2, 0x00))
	assert.Equal(t, uint64(1), m.Faults())
}

func TestConsistencyShardWraparound(t *testing.T) {
	m := NewConsistencyMonitor()
	m.SetSection(ConsistencyShards+3, 0x77)
	assert.Equal(t, uint64(0x77), m.Section(3))
}

func TestConsistencyCleanOverlapsNoFault(t *testing.T) {
	m := NewConsistencyMonitor()
	for i := 0; i < ConsistencyShards; i++ {
		m.SetSection(i, uint64(i)*0x9E3779B9)
	}
	for i := 0; i < ConsistencyShards-1; i++ {
		witness := m.Section(i) ^ m.Section(i+1)
		assert.True(t, m.NoteOverlap(i, i+1, witness))
	}
	assert.Zero(t, m.Faults())
}
