package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimitsAreModeAware(t *testing.T) {
	c := NewThresholdController()
	strict := c.Limits(ModeStrict)
	hardened := c.Limits(ModeHardened)

	assert.LessOrEqual(t, hardened.FullTriggerPPM, strict.FullTriggerPPM)
	assert.LessOrEqual(t, hardened.RepairTriggerPPM, strict.RepairTriggerPPM)
	assert.Less(t, strict.MaxRequestBytes, hardened.MaxRequestBytes)
}

func TestLimitsShiftAfterCadence(t *testing.T) {
	c := NewThresholdController()
	before := c.Limits(ModeStrict)

	for i := 0; i < 128; i++ {
		c.Observe(200, true)
	}

	after := c.Limits(ModeStrict)
	assert.Less(t, after.FullTriggerPPM, before.FullTriggerPPM, "heavy adverse pressure tightens the full trigger")
	assert.LessOrEqual(t, after.RepairTriggerPPM, before.RepairTriggerPPM)
	assert.Equal(t, before.MaxRequestBytes, after.MaxRequestBytes)
}

func TestOffLimitsHighAndBounded(t *testing.T) {
	c := NewThresholdController()
	off := c.Limits(ModeOff)
	assert.Equal(t, uint32(900_000), off.FullTriggerPPM)
	assert.Equal(t, uint32(980_000), off.RepairTriggerPPM)
	assert.Equal(t, uint64(1)<<62, off.MaxRequestBytes)
}

func TestLimitsBoundedUnderLongTrace(t *testing.T) {
	c := NewThresholdController()

	for i := uint64(0); i < 4096; i++ {
		c.Observe(20+i%500, i%11 == 0 || i%257 == 0)

		strict := c.Limits(ModeStrict)
		hardened := c.Limits(ModeHardened)

		assert.GreaterOrEqual(t, strict.FullTriggerPPM, uint32(5_000))
		assert.LessOrEqual(t, strict.FullTriggerPPM, uint32(900_000))
		assert.GreaterOrEqual(t, strict.RepairTriggerPPM, uint32(10_000))
		assert.LessOrEqual(t, strict.RepairTriggerPPM, uint32(980_000))
		assert.LessOrEqual(t, hardened.FullTriggerPPM, strict.FullTriggerPPM)
		assert.LessOrEqual(t, hardened.RepairTriggerPPM, strict.RepairTriggerPPM)
	}
}
