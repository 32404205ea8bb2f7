// Package pageoracle answers "does any tracked allocation touch this
// page?" in O(1) without scanning the arena.
//
// The oracle is two-level. Level one is a roaring bitmap of 16 MiB
// chunks that contain at least one owned page. Level two is a
// per-chunk array of saturating refcounts, one byte per 4 KiB page, so
// overlapping allocations on a shared page stay marked until the last
// one is removed. A refcount that saturates at 255 is sticky and never
// decrements; the page then reads as owned for the process lifetime,
// which errs toward validation rather than dismissal.
package pageoracle

import (
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

const (
	// PageSize is the page granularity of ownership tracking.
	PageSize = 4096

	// PagesPerChunk is the level-two span: 4096 pages cover 16 MiB.
	PagesPerChunk = 4096
)

type chunk struct {
	counts [PagesPerChunk]atomic.Uint32
}

func (c *chunk) bump(page uint64) {
	for {
		v := c.counts[page].Load()
		if v == 255 {
			return
		}
		if c.counts[page].CompareAndSwap(v, v+1) {
			return
		}
	}
}

func (c *chunk) drop(page uint64) {
	for {
		v := c.counts[page].Load()
		// Saturated counts are sticky; zero means an unbalanced remove.
		if v == 255 || v == 0 {
			return
		}
		if c.counts[page].CompareAndSwap(v, v-1) {
			return
		}
	}
}

func (c *chunk) owned(page uint64) bool {
	return c.counts[page].Load() > 0
}

// Oracle is the two-level page ownership map. All methods are safe for
// concurrent use.
type Oracle struct {
	mu     sync.RWMutex
	chunks map[uint64]*chunk
	l1     *roaring64.Bitmap
}

// New creates an empty oracle.
func New() *Oracle {
	return &Oracle{
		chunks: make(map[uint64]*chunk),
		l1:     roaring64.New(),
	}
}

// Insert marks every page touched by [base, base+size) as owned.
func (o *Oracle) Insert(base, size uint64) {
	if size == 0 {
		return
	}
	startPage := base / PageSize
	endPage := (base + size - 1) / PageSize

	for page := startPage; page <= endPage; page++ {
		chunkIdx, l2Page := page/PagesPerChunk, page%PagesPerChunk

		o.mu.RLock()
		c, ok := o.chunks[chunkIdx]
		o.mu.RUnlock()
		if ok {
			c.bump(l2Page)
			continue
		}

		o.mu.Lock()
		c, ok = o.chunks[chunkIdx]
		if !ok {
			c = &chunk{}
			o.chunks[chunkIdx] = c
			o.l1.Add(chunkIdx)
		}
		o.mu.Unlock()
		c.bump(l2Page)
	}
}

// Remove drops the ownership marks for [base, base+size). Chunks stay
// allocated once created; only the page counts decrement.
func (o *Oracle) Remove(base, size uint64) {
	if size == 0 {
		return
	}
	startPage := base / PageSize
	endPage := (base + size - 1) / PageSize

	o.mu.RLock()
	defer o.mu.RUnlock()
	for page := startPage; page <= endPage; page++ {
		if c, ok := o.chunks[page/PagesPerChunk]; ok {
			c.drop(page % PagesPerChunk)
		}
	}
}

// Owns reports whether the page containing addr has any owned bytes.
// No false negatives: every inserted page answers true until removed.
func (o *Oracle) Owns(addr uint64) bool {
	page := addr / PageSize
	chunkIdx := page / PagesPerChunk

	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.l1.Contains(chunkIdx) {
		return false
	}
	c, ok := o.chunks[chunkIdx]
	return ok && c.owned(page%PagesPerChunk)
}

// Chunks returns the number of chunks with at least one tracked page
// in their history.
func (o *Oracle) Chunks() uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.l1.GetCardinality()
}
