package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcquireWithinBudget(t *testing.T) {
	c := NewController(Config{QuarantineBytesBudget: 100})

	assert.True(t, c.TryAcquire(60))
	assert.Equal(t, int64(60), c.Used())
	assert.True(t, c.TryAcquire(40))
	assert.False(t, c.TryAcquire(1), "budget exhausted")

	c.Release(40)
	assert.True(t, c.TryAcquire(30))
	assert.Equal(t, int64(90), c.Used())
}

func TestOversizeEntryNeverAdmitted(t *testing.T) {
	c := NewController(Config{QuarantineBytesBudget: 100})
	assert.False(t, c.TryAcquire(101))
	assert.Equal(t, int64(0), c.Used())
}

func TestZeroAndNilAreNoops(t *testing.T) {
	var nilC *Controller
	assert.True(t, nilC.TryAcquire(10))
	nilC.Release(10)
	assert.True(t, nilC.AllowSweep())
	assert.Equal(t, int64(0), nilC.Used())

	c := NewController(Config{QuarantineBytesBudget: 10})
	assert.True(t, c.TryAcquire(0))
	assert.Equal(t, int64(0), c.Used())
}

func TestDefaultBudgetApplied(t *testing.T) {
	c := NewController(Config{})
	assert.Equal(t, int64(DefaultQuarantineBytes), c.Budget())
}

func TestSweepPacing(t *testing.T) {
	c := NewController(Config{QuarantineBytesBudget: 100, EvictSweepsPerSec: 1, EvictBurst: 2})

	assert.True(t, c.AllowSweep())
	assert.True(t, c.AllowSweep())
	// Burst consumed; the next sweep inside the same second is denied.
	assert.False(t, c.AllowSweep())
}

func TestUnpacedSweeps(t *testing.T) {
	c := NewController(Config{QuarantineBytesBudget: 100})
	for i := 0; i < 10; i++ {
		assert.True(t, c.AllowSweep())
	}
}
