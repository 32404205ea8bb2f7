package bloom

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoFalseNegatives(t *testing.T) {
	f := NewWithCapacity(1000, 0.01)

	// Mirror every inserted address in an exact set and replay it.
	mirror := bitset.New(1001)
	for i := uint64(1); i <= 1000; i++ {
		f.Insert(i * 0x1000)
		mirror.Set(uint(i))
	}

	for i, ok := mirror.NextSet(0); ok; i, ok = mirror.NextSet(i + 1) {
		addr := uint64(i) * 0x1000
		assert.True(t, f.Contains(addr), "false negative for inserted address %#x", addr)
	}
}

func TestFalsePositiveRateBounded(t *testing.T) {
	f := NewWithCapacity(1000, 0.01)
	for i := uint64(1); i <= 1000; i++ {
		f.Insert(i * 0x1000)
	}

	const probes = 10000
	falsePositives := 0
	for i := uint64(0); i < probes; i++ {
		if f.Contains(0xDEAD_0000 + i*0x1000) {
			falsePositives++
		}
	}

	rate := float64(falsePositives) / probes
	assert.Less(t, rate, 0.02, "false positive rate exceeds 2x target")
}

func TestEmptyFilterNegative(t *testing.T) {
	f := New()
	assert.False(t, f.Contains(0x1000))
	assert.False(t, f.Contains(0xDEAD_BEEF))
	assert.Zero(t, f.Inserted())
}

func TestSizing(t *testing.T) {
	f := NewWithCapacity(100_000, 0.001)
	assert.GreaterOrEqual(t, f.NumBits(), uint64(1_000_000))
	assert.GreaterOrEqual(t, f.NumHashes(), uint32(7))

	tiny := NewWithCapacity(0, 0.5)
	assert.GreaterOrEqual(t, tiny.NumBits(), uint64(64))
	assert.GreaterOrEqual(t, tiny.NumHashes(), uint32(1))
	assert.LessOrEqual(t, NewWithCapacity(1, 1e-300).NumHashes(), uint32(maxHashes))
}

func TestReset(t *testing.T) {
	f := NewWithCapacity(100, 0.01)
	f.Insert(0x4000)
	require.True(t, f.Contains(0x4000))

	f.Reset()
	assert.False(t, f.Contains(0x4000))
	assert.Zero(t, f.Inserted())
}

func TestEstimatedFillRatio(t *testing.T) {
	f := NewWithCapacity(1000, 0.01)
	assert.Zero(t, f.EstimatedFillRatio())

	for i := uint64(1); i <= 1000; i++ {
		f.Insert(i)
	}
	ratio := f.EstimatedFillRatio()
	assert.Greater(t, ratio, 0.3)
	assert.Less(t, ratio, 0.7)
}

func TestConcurrentInsertAndQuery(t *testing.T) {
	f := NewWithCapacity(10_000, 0.01)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 1000; i++ {
				addr := rng.Uint64() | 1
				f.Insert(addr)
				if !f.Contains(addr) {
					t.Errorf("false negative under concurrency for %#x", addr)
					return
				}
			}
		}(int64(g))
	}
	wg.Wait()
}
