// Package vcache provides per-worker validation caches for the hot
// path of the pipeline. Go has no thread-local storage, so caches are
// leased from a sync.Pool: a goroutine takes a private cache, probes
// and fills it without locks, and returns it when done.
//
// Entries are tagged with the arena epoch at insertion time. The arena
// bumps its epoch on every free and quarantine eviction, so a cache
// that changed hands or went stale simply stops hitting.
package vcache

import (
	"sync"

	"github.com/hupe1980/memsentry/lattice"
)

const (
	// Size is the entry count of each cache (power of two).
	Size = 1024

	mask = Size - 1
)

// EntryKind distinguishes what an entry asserts about its address.
type EntryKind uint8

const (
	// KindSlot caches a verdict derived from a tracked slot.
	KindSlot EntryKind = iota
	// KindForeign caches a definite not-tracked verdict.
	KindForeign
)

// Entry is a cached validation verdict for one address.
type Entry struct {
	// Addr is the exact address that was validated.
	Addr uint64
	// Kind classifies the entry.
	Kind EntryKind
	// UserBase is the base of the containing allocation. Zero for
	// foreign entries.
	UserBase uint64
	// UserSize is the allocation size. Zero for foreign entries.
	UserSize uint64
	// Generation is the slot generation at validation time. Foreign
	// entries store the arena's last issued generation instead; any
	// later allocation may claim the address, so generation movement
	// retires them.
	Generation uint32
	// State is the verdict. Meaningless for foreign entries.
	State lattice.State
	// Witness is the XOR of the shard section hashes observed when the
	// verdict was written.
	Witness uint64

	epoch uint64
	used  bool
}

// Cache is a direct-mapped validation cache. Not safe for concurrent
// use; lease one per goroutine through Pool.
type Cache struct {
	entries [Size]Entry
	hits    uint64
	misses  uint64
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

func index(addr uint64) uint64 {
	// Page-granular indexing: nearby interior pointers share an entry.
	return (addr >> 12) & mask
}

// Lookup probes the cache for addr at the given epoch. An entry from an
// older epoch is dropped on sight so repeated probes stop paying the
// epoch comparison.
func (c *Cache) Lookup(addr, epoch uint64) (Entry, bool) {
	e := &c.entries[index(addr)]
	if e.used && e.Addr == addr {
		if e.epoch == epoch {
			c.hits++
			return *e, true
		}
		e.used = false
	}
	c.misses++
	return Entry{}, false
}

// Insert records a verdict for addr at the given epoch, replacing
// whatever occupied the slot.
func (c *Cache) Insert(addr, epoch uint64, e Entry) {
	e.Addr = addr
	e.epoch = epoch
	e.used = true
	c.entries[index(addr)] = e
}

// Invalidate drops the entry for addr if present.
func (c *Cache) Invalidate(addr uint64) {
	e := &c.entries[index(addr)]
	if e.used && e.Addr == addr {
		e.used = false
	}
}

// Reset clears all entries and counters.
func (c *Cache) Reset() {
	*c = Cache{}
}

// Stats returns the hit and miss counts since the last Reset.
func (c *Cache) Stats() (hits, misses uint64) {
	return c.hits, c.misses
}

// Pool leases caches to goroutines. Returned caches keep their entries;
// the epoch tags make stale ones harmless.
type Pool struct {
	pool sync.Pool
}

// NewPool creates a cache pool.
func NewPool() *Pool {
	return &Pool{
		pool: sync.Pool{
			New: func() any { return NewCache() },
		},
	}
}

// Get leases a cache.
func (p *Pool) Get() *Cache {
	return p.pool.Get().(*Cache)
}

// Put returns a cache to the pool.
func (p *Pool) Put(c *Cache) {
	if c != nil {
		p.pool.Put(c)
	}
}
