package arena

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/memsentry/internal/fingerprint"
	"github.com/hupe1980/memsentry/internal/resource"
	"github.com/hupe1980/memsentry/lattice"
)

var (
	// ErrSizeTooLarge is returned when a request exceeds the maximum
	// trackable allocation size.
	ErrSizeTooLarge = errors.New("arena: allocation size too large")
	// ErrBadAlignment is returned for alignments that are not powers of two.
	ErrBadAlignment = errors.New("arena: alignment must be a power of two")
)

const (
	// PageSize is the page granularity of ownership tracking.
	PageSize = 4096

	// NumShards is the shard count of the slot table (power of two).
	NumShards = 16

	// shardRegionBits is the address-region width per shard stripe (64 MiB).
	// The bump allocator never lets one allocation cross a region boundary,
	// so every byte of an allocation routes to the same shard.
	shardRegionBits = 26

	// MaxAllocSize bounds a single tracked allocation. Sizes are recorded
	// in the 32-bit fingerprint header field.
	MaxAllocSize = 1<<32 - fingerprint.Overhead - minHeaderOffset

	// minHeaderOffset is the gap between raw base and user base: large
	// enough for the 24-byte header, rounded to keep user bases 32-aligned.
	minHeaderOffset = 32

	// DefaultMaxQuarantineEntries caps the quarantine queue per shard times
	// NumShards; the byte budget lives in the resource controller.
	DefaultMaxQuarantineEntries = 65536

	// addrSpaceBase is where the synthetic address space starts. Never 0,
	// so a null address can never collide with a real allocation.
	addrSpaceBase = 1 << 20
)

// FreeResult classifies the outcome of a Free call.
type FreeResult uint8

const (
	// FreeOK means the allocation was quarantined cleanly.
	FreeOK FreeResult = iota
	// FreeCanaryCorrupt means the allocation was quarantined but its
	// trailing canary had been overwritten (overflow before free).
	FreeCanaryCorrupt
	// FreeDoubleFree means the address was already freed or quarantined.
	FreeDoubleFree
	// FreeForeign means the address is not tracked by this arena.
	FreeForeign
)

// Slot is the metadata snapshot for one allocation.
type Slot struct {
	// RawBase is the start of the full backing region (header included).
	RawBase uint64
	// UserBase is the caller-visible address.
	UserBase uint64
	// UserSize is the requested size in bytes.
	UserSize uint64
	// Generation distinguishes reuses of this slot.
	Generation uint32
	// State is the current lattice classification.
	State lattice.State
}

// End returns one past the last usable byte.
func (s Slot) End() uint64 { return s.UserBase + s.UserSize }

// Contains reports whether addr falls inside the user region.
func (s Slot) Contains(addr uint64) bool { return addr >= s.UserBase && addr < s.End() }

type slotRecord struct {
	Slot
	backing []byte // header + user + canary; nil once evicted
}

type quarantineEntry struct {
	userBase  uint64
	userSize  uint64
	totalSize uint64
	slotIdx   int
}

type shard struct {
	mu         sync.Mutex
	slots      []slotRecord
	addrToSlot map[uint64]int
	freeList   []int
	quarantine []quarantineEntry

	// liveHash folds every liveness transition of this shard; mapHash
	// folds every address-map removal. Published together through the
	// section hook after each epoch bump. Guarded by mu.
	liveHash uint64
	mapHash  uint64
}

// Stats tracks arena activity. All counters are cumulative.
type Stats struct {
	Allocations       uint64
	Frees             uint64
	DoubleFrees       uint64
	ForeignFrees      uint64
	CanaryCorruptions uint64
	Evictions         uint64
	QuarantineBypass  uint64
}

type atomicStats struct {
	allocations       atomic.Uint64
	frees             atomic.Uint64
	doubleFrees       atomic.Uint64
	foreignFrees      atomic.Uint64
	canaryCorruptions atomic.Uint64
	evictions         atomic.Uint64
	quarantineBypass  atomic.Uint64
}

// Arena is the sharded generational allocation table.
type Arena struct {
	shards [NumShards]shard

	nextGeneration atomic.Uint32
	epoch          atomic.Uint64
	nextAddr       atomic.Uint64
	quarantined    atomic.Int64 // entry count across shards

	codec      *fingerprint.Codec
	rc         *resource.Controller
	maxEntries int

	// onRegister is invoked after an allocation is tracked; the pipeline
	// uses it to populate the bloom filter and page oracle.
	onRegister func(userBase, userSize uint64)
	// onEvict is invoked after a quarantine entry's backing memory is
	// released; the pipeline uses it to clear page-oracle marks.
	onEvict func(userBase, userSize uint64)
	// onSection is invoked under the shard lock whenever a shard's
	// section hashes move; the pipeline publishes them to the kernel's
	// consistency monitor.
	onSection func(shard int, liveHash, mapHash uint64)

	stats atomicStats
}

// Option configures the Arena.
type Option func(*Arena)

// WithCodec sets the fingerprint codec. Required.
func WithCodec(c *fingerprint.Codec) Option {
	return func(a *Arena) { a.codec = c }
}

// WithResourceController sets the quarantine byte-budget controller.
func WithResourceController(rc *resource.Controller) Option {
	return func(a *Arena) { a.rc = rc }
}

// WithMaxQuarantineEntries caps the total quarantine entry count.
func WithMaxQuarantineEntries(n int) Option {
	return func(a *Arena) {
		if n > 0 {
			a.maxEntries = n
		}
	}
}

// WithRegisterHook sets the callback invoked when an allocation is tracked.
func WithRegisterHook(fn func(userBase, userSize uint64)) Option {
	return func(a *Arena) { a.onRegister = fn }
}

// WithEvictHook sets the callback invoked when backing memory is released.
func WithEvictHook(fn func(userBase, userSize uint64)) Option {
	return func(a *Arena) { a.onEvict = fn }
}

// WithSectionHook sets the callback invoked when a shard's section
// hashes change. Runs under the shard lock, must stay cheap.
func WithSectionHook(fn func(shard int, liveHash, mapHash uint64)) Option {
	return func(a *Arena) { a.onSection = fn }
}

// New creates an empty arena.
func New(opts ...Option) (*Arena, error) {
	a := &Arena{
		maxEntries: DefaultMaxQuarantineEntries,
	}
	for i := range a.shards {
		a.shards[i].addrToSlot = make(map[uint64]int)
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.codec == nil {
		c, err := fingerprint.NewRandomCodec()
		if err != nil {
			return nil, err
		}
		a.codec = c
	}
	if a.rc == nil {
		a.rc = resource.NewController(resource.Config{})
	}

	// Generation 0 and epoch 0 are never issued, so zero values in caches
	// and headers are always stale.
	a.nextGeneration.Store(0)
	a.epoch.Store(1)
	a.nextAddr.Store(addrSpaceBase)

	return a, nil
}

// Epoch returns the current global epoch. Bumped on every free and
// quarantine eviction; release-ordered by the atomic.
func (a *Arena) Epoch() uint64 { return a.epoch.Load() }

// Generation returns the last issued generation.
func (a *Arena) Generation() uint32 { return a.nextGeneration.Load() }

// QuarantineDepth returns the current quarantine entry count.
func (a *Arena) QuarantineDepth() int { return int(a.quarantined.Load()) }

// QuarantineBytes returns the bytes pinned by quarantine entries.
func (a *Arena) QuarantineBytes() int64 { return a.rc.Used() }

// Stats returns a snapshot of cumulative counters.
func (a *Arena) Stats() Stats {
	return Stats{
		Allocations:       a.stats.allocations.Load(),
		Frees:             a.stats.frees.Load(),
		DoubleFrees:       a.stats.doubleFrees.Load(),
		ForeignFrees:      a.stats.foreignFrees.Load(),
		CanaryCorruptions: a.stats.canaryCorruptions.Load(),
		Evictions:         a.stats.evictions.Load(),
		QuarantineBypass:  a.stats.quarantineBypass.Load(),
	}
}

func shardFor(addr uint64) int {
	return int((addr >> shardRegionBits) % NumShards)
}

// ShardOf returns the slot-table shard index owning addr.
func ShardOf(addr uint64) int { return shardFor(addr) }

// sectionMix folds one slot transition into a section hash.
func sectionMix(addr uint64, generation uint32) uint64 {
	x := addr ^ uint64(generation)<<32
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	return x
}

// publishSectionsLocked pushes a shard's section hashes to the hook.
// Caller holds sh.mu and must have bumped the epoch first, so a cached
// verdict can never pair an old epoch with new sections.
func (a *Arena) publishSectionsLocked(sh *shard, idx int) {
	if a.onSection != nil {
		a.onSection(idx, sh.liveHash, sh.mapHash)
	}
}

// Allocate tracks a new allocation of the given size and returns its
// user-visible address.
func (a *Arena) Allocate(size uint64) (uint64, error) {
	return a.AllocateAligned(size, 16)
}

// AllocateAligned tracks a new allocation with the given alignment.
func (a *Arena) AllocateAligned(size uint64, align uint64) (uint64, error) {
	if align == 0 || align&(align-1) != 0 {
		return 0, ErrBadAlignment
	}
	if size > MaxAllocSize {
		return 0, ErrSizeTooLarge
	}
	offset := uint64(minHeaderOffset)
	if align > offset {
		offset = align
	}
	totalSize := offset + size + fingerprint.CanarySize

	rawBase := a.reserveAddr(totalSize, align)
	userBase := rawBase + offset

	generation := a.nextGeneration.Add(1)
	fp := a.codec.Compute(userBase, uint32(size), generation)

	backing := make([]byte, totalSize)
	header := fingerprint.EncodeHeader(fp)
	copy(backing[offset-fingerprint.HeaderSize:offset], header[:])
	canary := fp.Canary()
	copy(backing[offset+size:], canary[:])

	rec := slotRecord{
		Slot: Slot{
			RawBase:    rawBase,
			UserBase:   userBase,
			UserSize:   size,
			Generation: generation,
			State:      lattice.Valid,
		},
		backing: backing,
	}

	sh := &a.shards[shardFor(userBase)]
	sh.mu.Lock()
	var idx int
	if n := len(sh.freeList); n > 0 {
		idx = sh.freeList[n-1]
		sh.freeList = sh.freeList[:n-1]
		sh.slots[idx] = rec
	} else {
		idx = len(sh.slots)
		sh.slots = append(sh.slots, rec)
	}
	sh.addrToSlot[userBase] = idx
	sh.mu.Unlock()

	a.stats.allocations.Add(1)

	if a.onRegister != nil {
		a.onRegister(userBase, size)
	}
	return userBase, nil
}

// reserveAddr carves a region out of the synthetic address space. The
// region never crosses a shard-stripe boundary.
func (a *Arena) reserveAddr(totalSize, align uint64) uint64 {
	const region = uint64(1) << shardRegionBits
	for {
		cur := a.nextAddr.Load()
		base := alignUp(cur, align)
		end := base + totalSize
		if base/region != (end-1)/region {
			// Would span two shard stripes; skip to the next boundary.
			base = alignUp((base/region+1)*region, align)
			end = base + totalSize
		}
		if a.nextAddr.CompareAndSwap(cur, end) {
			return base
		}
	}
}

func alignUp(v, align uint64) uint64 {
	mask := align - 1
	return (v + mask) &^ mask
}

// Lookup returns the slot containing addr, including interior pointers
// and quarantined slots. The second return is false for untracked
// addresses.
func (a *Arena) Lookup(addr uint64) (Slot, bool) {
	sh := &a.shards[shardFor(addr)]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if idx, ok := sh.addrToSlot[addr]; ok {
		return sh.slots[idx].Slot, true
	}

	// Interior pointer: scan live and quarantined slots in this shard.
	// An allocation never spans shards, so one shard suffices.
	for i := range sh.slots {
		s := &sh.slots[i]
		if s.backing == nil {
			continue
		}
		if (s.State.IsLive() || s.State == lattice.Quarantined) && s.Contains(addr) {
			return s.Slot, true
		}
	}
	return Slot{}, false
}

// RemainingFrom returns the slot containing addr and the usable bytes
// between addr and the end of the user region.
func (a *Arena) RemainingFrom(addr uint64) (Slot, uint64, bool) {
	s, ok := a.Lookup(addr)
	if !ok || !s.Contains(addr) {
		return Slot{}, 0, false
	}
	return s, s.End() - addr, true
}

// Contains reports whether addr belongs to any tracked allocation.
func (a *Arena) Contains(addr uint64) bool {
	_, ok := a.Lookup(addr)
	return ok
}

// Free quarantines the allocation at addr.
//
// Double frees, foreign frees and canary corruption are reported, never
// panicked. On success the slot moves Valid->Quarantined, receives a
// fresh generation (stale pointers now mismatch), and the global epoch is
// bumped so per-thread caches cannot serve the old verdict.
func (a *Arena) Free(addr uint64) FreeResult {
	shardIdx := shardFor(addr)
	sh := &a.shards[shardIdx]
	sh.mu.Lock()

	idx, ok := sh.addrToSlot[addr]
	if !ok {
		sh.mu.Unlock()
		a.stats.foreignFrees.Add(1)
		return FreeForeign
	}

	rec := &sh.slots[idx]
	switch rec.State {
	case lattice.Freed, lattice.Quarantined:
		sh.mu.Unlock()
		a.stats.doubleFrees.Add(1)
		return FreeDoubleFree
	case lattice.Invalid, lattice.Unknown:
		sh.mu.Unlock()
		a.stats.foreignFrees.Add(1)
		return FreeForeign
	}

	canaryOK := a.verifyCanaryLocked(rec)

	rec.State = lattice.Quarantined
	rec.Generation = a.nextGeneration.Add(1)
	sh.liveHash ^= sectionMix(rec.UserBase, rec.Generation)

	totalSize := uint64(len(rec.backing))
	entry := quarantineEntry{
		userBase:  rec.UserBase,
		userSize:  rec.UserSize,
		totalSize: totalSize,
		slotIdx:   idx,
	}

	var evicted []quarantineEntry

	// Make room under the byte budget by draining this shard's oldest
	// entries. If the shard has nothing left to drain and the budget is
	// still unavailable (held by other shards), bypass quarantine: the
	// entry is evicted immediately rather than blocking cross-shard.
	admitted := false
	for {
		if a.rc.TryAcquire(int64(totalSize)) {
			admitted = true
			break
		}
		if len(sh.quarantine) == 0 {
			break
		}
		evicted = append(evicted, a.popOldestLocked(sh))
	}

	if admitted {
		sh.quarantine = append(sh.quarantine, entry)
		a.quarantined.Add(1)

		// Entry-count budget, FIFO.
		maxPerShard := a.maxEntries / NumShards
		if maxPerShard < 1 {
			maxPerShard = 1
		}
		for len(sh.quarantine) > maxPerShard {
			evicted = append(evicted, a.popOldestLocked(sh))
		}
	} else {
		a.stats.quarantineBypass.Add(1)
		a.evictLocked(sh, entry)
		evicted = append(evicted, entry)
	}

	// Pointer validity changed: invalidate cached verdicts everywhere.
	// The epoch moves before the sections are published so a stale
	// cache entry can never pair its old epoch with the new hashes.
	a.epoch.Add(1)
	a.publishSectionsLocked(sh, shardIdx)
	sh.mu.Unlock()

	a.stats.frees.Add(1)

	if a.onEvict != nil {
		for _, e := range evicted {
			a.onEvict(e.userBase, e.userSize)
		}
	}

	if !canaryOK {
		a.stats.canaryCorruptions.Add(1)
		return FreeCanaryCorrupt
	}
	return FreeOK
}

// popOldestLocked removes the oldest quarantine entry of sh and releases
// its backing memory. Caller holds sh.mu.
func (a *Arena) popOldestLocked(sh *shard) quarantineEntry {
	e := sh.quarantine[0]
	sh.quarantine = sh.quarantine[1:]
	a.quarantined.Add(-1)
	a.rc.Release(int64(e.totalSize))
	a.evictLocked(sh, e)
	return e
}

// evictLocked finalizes an entry: the slot becomes Freed, its mapping is
// dropped, the slot index is recycled, and backing memory is released.
func (a *Arena) evictLocked(sh *shard, e quarantineEntry) {
	rec := &sh.slots[e.slotIdx]
	rec.State = lattice.Freed
	rec.backing = nil
	sh.liveHash ^= sectionMix(e.userBase, rec.Generation)
	sh.mapHash ^= sectionMix(e.userBase, 0)
	delete(sh.addrToSlot, e.userBase)
	sh.freeList = append(sh.freeList, e.slotIdx)

	a.stats.evictions.Add(1)
	a.epoch.Add(1)
}

// EvictExpired drains quarantine entries beyond the byte budget across
// all shards. Sweeps are paced by the resource controller.
func (a *Arena) EvictExpired() int {
	if !a.rc.AllowSweep() {
		return 0
	}
	n := 0
	for i := range a.shards {
		sh := &a.shards[i]
		sh.mu.Lock()
		var drained []quarantineEntry
		for len(sh.quarantine) > 0 && a.rc.Used() > a.rc.Budget() {
			drained = append(drained, a.popOldestLocked(sh))
		}
		if len(drained) > 0 {
			a.publishSectionsLocked(sh, i)
		}
		sh.mu.Unlock()
		if a.onEvict != nil {
			for _, e := range drained {
				a.onEvict(e.userBase, e.userSize)
			}
		}
		n += len(drained)
	}
	return n
}

func (a *Arena) verifyCanaryLocked(rec *slotRecord) bool {
	offset := rec.UserBase - rec.RawBase
	fp := a.codec.Compute(rec.UserBase, uint32(rec.UserSize), headerGeneration(rec, offset))
	want := fp.Canary()

	start := offset + rec.UserSize
	var got [fingerprint.CanarySize]byte
	copy(got[:], rec.backing[start:start+fingerprint.CanarySize])
	return got == want
}

// headerGeneration reads the generation as stamped in the backing header.
// The slot's own Generation field advances on free; the header keeps the
// value the canary was derived from.
func headerGeneration(rec *slotRecord, offset uint64) uint32 {
	var buf [fingerprint.HeaderSize]byte
	copy(buf[:], rec.backing[offset-fingerprint.HeaderSize:offset])
	return fingerprint.DecodeHeader(buf).Generation
}

// VerifyHeader recomputes the fingerprint for the slot at addr and checks
// it against the stored header. False means the header was corrupted or
// forged.
func (a *Arena) VerifyHeader(addr uint64) bool {
	sh := &a.shards[shardFor(addr)]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	idx, ok := sh.addrToSlot[addr]
	if !ok {
		return false
	}
	rec := &sh.slots[idx]
	if rec.backing == nil {
		return false
	}

	offset := rec.UserBase - rec.RawBase
	var buf [fingerprint.HeaderSize]byte
	copy(buf[:], rec.backing[offset-fingerprint.HeaderSize:offset])
	fp := fingerprint.DecodeHeader(buf)
	return a.codec.Verify(fp, rec.UserBase)
}

// VerifyCanary checks the trailing canary of the allocation containing
// addr. False means bytes past the user region were overwritten.
func (a *Arena) VerifyCanary(addr uint64) bool {
	sh := &a.shards[shardFor(addr)]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	idx, ok := sh.addrToSlot[addr]
	if !ok {
		return false
	}
	rec := &sh.slots[idx]
	if rec.backing == nil {
		return false
	}
	return a.verifyCanaryLocked(rec)
}

// WriteAt copies data into the allocation containing addr, clamped to the
// user region. Returns the number of bytes written. Writes past the user
// region are impossible through this path; OverflowAt exists for tests.
func (a *Arena) WriteAt(addr uint64, data []byte) (int, error) {
	return a.access(addr, uint64(len(data)), false, func(region []byte) int {
		return copy(region, data)
	})
}

// ReadAt copies bytes out of the allocation containing addr, clamped to
// the user region.
func (a *Arena) ReadAt(addr uint64, buf []byte) (int, error) {
	return a.access(addr, uint64(len(buf)), false, func(region []byte) int {
		return copy(buf, region)
	})
}

// OverflowAt writes past the user region into the canary area. Test hook
// for corruption scenarios; clamped to the backing buffer.
func (a *Arena) OverflowAt(addr uint64, data []byte) (int, error) {
	return a.access(addr, uint64(len(data)), true, func(region []byte) int {
		return copy(region, data)
	})
}

func (a *Arena) access(addr uint64, n uint64, includeTail bool, fn func([]byte) int) (int, error) {
	sh := &a.shards[shardFor(addr)]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	idx, ok := sh.addrToSlot[addr]
	if !ok {
		// Interior pointer.
		found := false
		for i := range sh.slots {
			s := &sh.slots[i]
			if s.backing != nil && s.State.IsLive() && s.Contains(addr) {
				idx = i
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("arena: address %#x not tracked", addr)
		}
	}

	rec := &sh.slots[idx]
	if rec.backing == nil {
		return 0, fmt.Errorf("arena: address %#x already evicted", addr)
	}

	offset := rec.UserBase - rec.RawBase
	start := offset + (addr - rec.UserBase)
	end := offset + rec.UserSize
	if includeTail {
		end = uint64(len(rec.backing))
	}
	if start >= end {
		return 0, nil
	}
	limit := start + n
	if limit > end {
		limit = end
	}
	return fn(rec.backing[start:limit]), nil
}
