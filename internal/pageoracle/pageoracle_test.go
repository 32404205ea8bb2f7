package pageoracle

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInsertAndOwns(t *testing.T) {
	o := New()
	o.Insert(0x1000, 4096)

	assert.True(t, o.Owns(0x1000))
	assert.True(t, o.Owns(0x1000+2048))
	assert.False(t, o.Owns(0x1000+8192))
}

func TestMultiPageAllocation(t *testing.T) {
	o := New()
	o.Insert(0x10000, 3*PageSize)

	assert.True(t, o.Owns(0x10000))
	assert.True(t, o.Owns(0x10000+PageSize))
	assert.True(t, o.Owns(0x10000+2*PageSize))
	assert.False(t, o.Owns(0x10000+3*PageSize))
}

func TestUnalignedAllocationCoversBothPages(t *testing.T) {
	o := New()
	// 32 bytes straddling a page boundary marks both pages.
	o.Insert(3*PageSize-16, 32)

	assert.True(t, o.Owns(3*PageSize-1))
	assert.True(t, o.Owns(3*PageSize))
	assert.False(t, o.Owns(PageSize))
}

func TestNoFalseNegatives(t *testing.T) {
	o := New()
	for i := uint64(0); i < 100; i++ {
		o.Insert(0x100000+i*0x10000, (i+1)*256)
	}
	for i := uint64(0); i < 100; i++ {
		assert.True(t, o.Owns(0x100000+i*0x10000), "false negative at allocation %d", i)
	}
}

func TestRemove(t *testing.T) {
	o := New()
	o.Insert(0x2000, 4096)
	assert.True(t, o.Owns(0x2000))

	o.Remove(0x2000, 4096)
	assert.False(t, o.Owns(0x2000))
}

func TestSharedPageRefcounted(t *testing.T) {
	o := New()
	// Two allocations on the same page: removing one keeps the page owned.
	o.Insert(0x5000, 64)
	o.Insert(0x5100, 64)

	o.Remove(0x5000, 64)
	assert.True(t, o.Owns(0x5100))

	o.Remove(0x5100, 64)
	assert.False(t, o.Owns(0x5100))
}

func TestEmptyOracle(t *testing.T) {
	o := New()
	assert.False(t, o.Owns(0x1000))
	assert.False(t, o.Owns(0xDEAD_BEEF))
	assert.Zero(t, o.Chunks())
}

func TestZeroSizeNoop(t *testing.T) {
	o := New()
	o.Insert(0x1000, 0)
	o.Remove(0x1000, 0)
	assert.False(t, o.Owns(0x1000))
}

func TestChunksCardinality(t *testing.T) {
	o := New()
	o.Insert(0x1000, 64)
	o.Insert(0x2000, 64) // same 16 MiB chunk
	assert.Equal(t, uint64(1), o.Chunks())

	o.Insert(uint64(PagesPerChunk)*PageSize+0x1000, 64) // next chunk
	assert.Equal(t, uint64(2), o.Chunks())
}

func TestConcurrentInsertRemove(t *testing.T) {
	o := New()
	const workers = 8

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w uint64) {
			defer wg.Done()
			base := 0x100000 + w*0x100000
			for i := uint64(0); i < 200; i++ {
				addr := base + i*PageSize
				o.Insert(addr, 64)
				if !o.Owns(addr) {
					t.Errorf("false negative at %#x", addr)
					return
				}
				o.Remove(addr, 64)
			}
		}(uint64(w))
	}
	wg.Wait()
}
