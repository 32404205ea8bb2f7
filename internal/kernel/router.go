package kernel

import (
	"math"
	"sync/atomic"
)

const (
	armFast = 0
	armFull = 1
	armMax  = 2
)

// Router selects the validation depth per family with a two-armed UCB
// bandit, subject to hard risk and contention gates.
type Router struct {
	pulls   [familyCount * armMax]atomic.Uint64
	utility [familyCount * armMax]atomic.Int64
}

// NewRouter creates a router with no history.
func NewRouter() *Router {
	return &Router{}
}

func armIndex(f Family, arm int) int {
	return (int(f)%familyCount)*armMax + arm
}

// SelectProfile picks Fast or Full for one call. Hard gates run first:
// under healing modes elevated risk or contention forces Full, and
// extreme risk forces Full in every mode. Otherwise both arms are
// explored once and then UCB decides.
func (r *Router) SelectProfile(f Family, mode Mode, riskPPM uint32, contention uint16) Profile {
	if mode.HealsEnabled() && (riskPPM >= 100_000 || contention >= 96) {
		return ProfileFull
	}
	if riskPPM >= 300_000 {
		return ProfileFull
	}

	fastIdx := armIndex(f, armFast)
	fullIdx := armIndex(f, armFull)

	fastPulls := r.pulls[fastIdx].Load()
	fullPulls := r.pulls[fullIdx].Load()

	if fastPulls == 0 {
		return ProfileFast
	}
	if fullPulls == 0 {
		return ProfileFull
	}

	total := float64(fastPulls + fullPulls)
	logTotal := math.Max(math.Log(total), 1.0)
	c := 0.35
	if mode.HealsEnabled() {
		c = 0.55
	}

	fastMean := float64(r.utility[fastIdx].Load()) / float64(fastPulls)
	fullMean := float64(r.utility[fullIdx].Load()) / float64(fullPulls)

	fastUCB := fastMean + c*math.Sqrt(2.0*logTotal/float64(fastPulls))
	fullUCB := fullMean + c*math.Sqrt(2.0*logTotal/float64(fullPulls))

	if fullUCB > fastUCB {
		return ProfileFull
	}
	return ProfileFast
}

// Observe records the realized utility of a pulled arm. Utility is
// latency-penalized and heavily punished for adverse outcomes, so the
// bandit learns to pay for Full only where it prevents damage.
func (r *Router) Observe(f Family, p Profile, costNS uint64, adverse bool) {
	arm := armFast
	if p == ProfileFull {
		arm = armFull
	}
	slot := armIndex(f, arm)

	r.pulls[slot].Add(1)

	latencyPenalty := int64(min(costNS, math.MaxInt64/16)) * 8
	adversePenalty := int64(0)
	if adverse {
		adversePenalty = 20_000
	}
	r.utility[slot].Add(100_000 - latencyPenalty - adversePenalty)
}
