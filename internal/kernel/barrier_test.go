package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var testLimits = Limits{
	FullTriggerPPM:   80_000,
	RepairTriggerPPM: 140_000,
	MaxRequestBytes:  4096,
}

func TestBarrierRejectsOversizeRequest(t *testing.T) {
	b := NewBarrier()
	ctx := Context{
		Family:         FamilyStringMemory,
		RequestedBytes: 1 << 40,
		IsWrite:        true,
	}
	assert.False(t, b.Admissible(ctx, ModeHardened, ProfileFast, 10_000, testLimits))
}

func TestBarrierStrictBloomNegativePointerIsAdmissible(t *testing.T) {
	b := NewBarrier()
	ctx := Context{
		Family:        FamilyPointerValidation,
		AddrHint:      0x2000,
		BloomNegative: true,
	}
	limits := Limits{FullTriggerPPM: 220_000, RepairTriggerPPM: 1_000_000, MaxRequestBytes: 4096}
	assert.True(t, b.Admissible(ctx, ModeStrict, ProfileFast, 100_000, limits))
}

func TestBarrierRejectsFastWriteUnderExtremeRisk(t *testing.T) {
	b := NewBarrier()
	ctx := Context{
		Family:         FamilyStringMemory,
		RequestedBytes: 128,
		IsWrite:        true,
	}
	assert.False(t, b.Admissible(ctx, ModeHardened, ProfileFast, 200_000, testLimits))
}

func TestBarrierFullProfileReadmitsHighRiskWrite(t *testing.T) {
	b := NewBarrier()
	ctx := Context{
		Family:         FamilyStringMemory,
		RequestedBytes: 128,
		IsWrite:        true,
	}
	assert.True(t, b.Admissible(ctx, ModeHardened, ProfileFull, 200_000, testLimits))
}
