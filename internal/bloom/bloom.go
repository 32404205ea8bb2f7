// Package bloom provides a lock-free bloom filter used as the first
// membership prefilter of the validation pipeline. A negative answer is
// authoritative (the address was never registered); a positive answer
// still requires an arena lookup.
package bloom

import (
	"math"
	"sync/atomic"
)

const (
	// DefaultExpectedItems sizes the filter when no capacity is given.
	DefaultExpectedItems = 1_000_000

	// DefaultFalsePositiveRate is the target false positive rate.
	DefaultFalsePositiveRate = 0.001

	maxHashes = 16
)

// Filter is a fixed-size bloom filter over uint64 addresses. Insert and
// Contains are safe for concurrent use without locks; the filter does
// not support removal, so freed addresses stay positive until Reset.
type Filter struct {
	words     []atomic.Uint64
	numBits   uint64
	numHashes uint32
	inserted  atomic.Uint64
}

// New creates a filter with default sizing.
func New() *Filter {
	return NewWithCapacity(DefaultExpectedItems, DefaultFalsePositiveRate)
}

// NewWithCapacity creates a filter sized for the expected number of
// insertions at the target false positive rate. The bit count is
// m = -n*ln(p)/(ln 2)^2 and the hash count k = (m/n)*ln 2, the optimum
// for independent hashes.
func NewWithCapacity(expectedItems int, fpRate float64) *Filter {
	fpRate = math.Min(math.Max(fpRate, 1e-10), 0.5)
	if expectedItems < 1 {
		expectedItems = 1
	}
	n := float64(expectedItems)

	m := uint64(math.Ceil(-n * math.Log(fpRate) / (math.Ln2 * math.Ln2)))
	if m < 64 {
		m = 64
	}

	k := uint32(math.Ceil(float64(m) / n * math.Ln2))
	if k < 1 {
		k = 1
	}
	if k > maxHashes {
		k = maxHashes
	}

	numWords := (m + 63) / 64

	return &Filter{
		words:     make([]atomic.Uint64, numWords),
		numBits:   numWords * 64,
		numHashes: k,
	}
}

// Insert marks addr as present.
func (f *Filter) Insert(addr uint64) {
	h1, h2 := mix(addr)
	for i := uint64(0); i < uint64(f.numHashes); i++ {
		bit := (h1 + i*h2) % f.numBits
		f.words[bit/64].Or(1 << (bit % 64))
	}
	f.inserted.Add(1)
}

// Contains reports whether addr might have been inserted. False is
// definitive; true may be a false positive.
func (f *Filter) Contains(addr uint64) bool {
	h1, h2 := mix(addr)
	for i := uint64(0); i < uint64(f.numHashes); i++ {
		bit := (h1 + i*h2) % f.numBits
		if f.words[bit/64].Load()&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}

// Reset clears every bit. Not atomic with respect to concurrent
// inserts; callers quiesce the pipeline first.
func (f *Filter) Reset() {
	for i := range f.words {
		f.words[i].Store(0)
	}
	f.inserted.Store(0)
}

// NumBits returns the filter width in bits.
func (f *Filter) NumBits() uint64 { return f.numBits }

// NumHashes returns the hash function count.
func (f *Filter) NumHashes() uint32 { return f.numHashes }

// Inserted returns the cumulative insert count since the last Reset.
func (f *Filter) Inserted() uint64 { return f.inserted.Load() }

// EstimatedFillRatio approximates the fraction of set bits from the
// insert count: 1 - (1 - 1/m)^(k*n).
func (f *Filter) EstimatedFillRatio() float64 {
	n := float64(f.inserted.Load())
	k := float64(f.numHashes)
	m := float64(f.numBits)
	return 1 - math.Exp(-k*n/m)
}

// mix derives two hash streams from addr for double hashing,
// h(i) = h1 + i*h2. h2 is forced odd so the probe sequence covers the
// full bit range.
func mix(addr uint64) (h1, h2 uint64) {
	x := addr
	x *= 0x9E37_79B9_7F4A_7C15
	x ^= x >> 30
	x *= 0xBF58_476D_1CE4_E5B9
	x ^= x >> 27
	h1 = x

	y := addr
	y ^= y >> 33
	y *= 0xFF51_AFD7_ED55_8CCD
	y ^= y >> 33
	y *= 0xC4CE_B9FE_1A85_EC53
	y ^= y >> 33
	h2 = y | 1
	return h1, h2
}
