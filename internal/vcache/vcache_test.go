package vcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/memsentry/lattice"
)

func TestLookupMissOnEmpty(t *testing.T) {
	c := NewCache()
	_, ok := c.Lookup(0x1000, 1)
	assert.False(t, ok)

	hits, misses := c.Stats()
	assert.Zero(t, hits)
	assert.Equal(t, uint64(1), misses)
}

func TestInsertAndHit(t *testing.T) {
	c := NewCache()
	c.Insert(0x1000, 1, Entry{
		UserBase:   0x1000,
		UserSize:   64,
		Generation: 7,
		State:      lattice.Valid,
	})

	e, ok := c.Lookup(0x1000, 1)
	require.True(t, ok)
	assert.Equal(t, uint64(0x1000), e.Addr)
	assert.Equal(t, uint64(64), e.UserSize)
	assert.Equal(t, uint32(7), e.Generation)
	assert.Equal(t, lattice.Valid, e.State)

	hits, _ := c.Stats()
	assert.Equal(t, uint64(1), hits)
}

func TestEpochMismatchMissesAndDrops(t *testing.T) {
	c := NewCache()
	c.Insert(0x1000, 1, Entry{State: lattice.Valid})

	_, ok := c.Lookup(0x1000, 2)
	assert.False(t, ok, "stale epoch must not hit")

	// The stale entry was dropped, so re-inserting at the old epoch and
	// probing at that epoch works again.
	c.Insert(0x1000, 2, Entry{State: lattice.Valid})
	_, ok = c.Lookup(0x1000, 2)
	assert.True(t, ok)
}

func TestAddressMismatchMisses(t *testing.T) {
	c := NewCache()
	c.Insert(0x1000, 1, Entry{State: lattice.Valid})

	// Same cache slot (same page shifted index), different address.
	_, ok := c.Lookup(0x1008, 1)
	assert.False(t, ok)

	// The resident entry survives a non-matching probe.
	_, ok = c.Lookup(0x1000, 1)
	assert.True(t, ok)
}

func TestDirectMappedEviction(t *testing.T) {
	c := NewCache()
	a := uint64(0x1000)
	b := a + uint64(Size)<<12 // same slot

	c.Insert(a, 1, Entry{State: lattice.Valid})
	c.Insert(b, 1, Entry{State: lattice.Valid})

	_, ok := c.Lookup(a, 1)
	assert.False(t, ok, "conflicting insert evicts the old entry")
	_, ok = c.Lookup(b, 1)
	assert.True(t, ok)
}

func TestInvalidate(t *testing.T) {
	c := NewCache()
	c.Insert(0x1000, 1, Entry{State: lattice.Valid})
	c.Invalidate(0x1000)

	_, ok := c.Lookup(0x1000, 1)
	assert.False(t, ok)
}

func TestReset(t *testing.T) {
	c := NewCache()
	c.Insert(0x1000, 1, Entry{State: lattice.Valid})
	c.Lookup(0x1000, 1)
	c.Reset()

	_, ok := c.Lookup(0x1000, 1)
	assert.False(t, ok)
	hits, misses := c.Stats()
	assert.Zero(t, hits)
	assert.Equal(t, uint64(1), misses)
}

func TestPoolReuse(t *testing.T) {
	p := NewPool()

	c := p.Get()
	require.NotNil(t, c)
	c.Insert(0x1000, 1, Entry{State: lattice.Valid})
	p.Put(c)

	// Whatever cache comes back, stale entries are harmless at a newer
	// epoch.
	c2 := p.Get()
	_, ok := c2.Lookup(0x1000, 99)
	assert.False(t, ok)
	p.Put(c2)

	p.Put(nil) // no-op
}
