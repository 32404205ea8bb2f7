package kernel

import "sync/atomic"

// Limits are the runtime thresholds derived from controller state.
type Limits struct {
	// FullTriggerPPM is the risk bound at which full validation is
	// forced.
	FullTriggerPPM uint32
	// RepairTriggerPPM is the risk bound at which repairs are allowed.
	RepairTriggerPPM uint32
	// MaxRequestBytes bounds a single admissible request.
	MaxRequestBytes uint64
}

const (
	controlCadence = 128

	latencyTargetNS = 60
	riskTargetPPM   = 8_000
)

// ThresholdController is a small primal-dual controller. It keeps two
// multipliers, one on latency error and one on adverse-rate error, and
// folds them into the mode's base thresholds. Updates happen every
// controlCadence observations; Limits itself is two atomic loads and
// integer math.
type ThresholdController struct {
	calls       atomic.Uint64
	totalCostNS atomic.Uint64
	adverse     atomic.Uint64

	lambdaLatency atomic.Int64
	lambdaRisk    atomic.Int64
}

// NewThresholdController creates a controller with zeroed multipliers.
func NewThresholdController() *ThresholdController {
	return &ThresholdController{}
}

// Observe records one routed call.
func (t *ThresholdController) Observe(costNS uint64, adverse bool) {
	calls := t.calls.Add(1)
	t.totalCostNS.Add(costNS)
	if adverse {
		t.adverse.Add(1)
	}

	if calls%controlCadence != 0 {
		return
	}

	avgCost := int64(t.totalCostNS.Load() / calls)
	adversePPM := int64(t.adverse.Load() * 1_000_000 / calls)

	latencyErr := avgCost - latencyTargetNS
	riskErr := adversePPM - riskTargetPPM

	t.lambdaLatency.Add(clampI64(latencyErr/4, -64, 64))
	t.lambdaRisk.Add(clampI64(riskErr/256, -128, 128))
}

// Limits returns the current thresholds for a mode. The risk
// multiplier tightens triggers, the latency multiplier loosens them.
func (t *ThresholdController) Limits(mode Mode) Limits {
	lambdaL := t.lambdaLatency.Load()
	lambdaR := t.lambdaRisk.Load()

	var baseFull, baseRepair int64
	var maxBytes uint64
	switch mode {
	case ModeStrict:
		baseFull, baseRepair = 220_000, 1_000_000
		maxBytes = 128 << 20
	case ModeHardened:
		baseFull, baseRepair = 80_000, 140_000
		maxBytes = 256 << 20
	default: // ModeOff
		baseFull, baseRepair = 1_000_000, 1_000_000
		maxBytes = 1 << 62
	}

	return Limits{
		FullTriggerPPM:   uint32(clampI64(baseFull-lambdaR+lambdaL, 5_000, 900_000)),
		RepairTriggerPPM: uint32(clampI64(baseRepair-lambdaR/2+lambdaL/2, 10_000, 980_000)),
		MaxRequestBytes:  maxBytes,
	}
}

func clampI64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
