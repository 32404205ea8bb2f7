package kernel

import (
	"math"
	"sync/atomic"
)

const (
	// DefaultPriorPPM is the startup risk bound before enough calls
	// have been observed.
	DefaultPriorPPM = 20_000

	// DefaultZScore sets the confidence width of the envelope.
	DefaultZScore = 3.0

	// recomputeCadence is how often the sqrt-and-division bound is
	// refreshed per family. Between refreshes the hot path is a single
	// atomic load.
	recomputeCadence = 64

	// minSamples delays the first recompute until the estimate means
	// something.
	minSamples = 32
)

// RiskEnvelope tracks adverse outcomes per family and exposes a
// conservative upper bound on the adverse probability in ppm.
//
// The bound is a smoothed binomial estimate with a z-scaled deviation
// term: p = (adverse+1)/(n+2), ub = p + z*sqrt(p(1-p)/(n+3)).
type RiskEnvelope struct {
	calls    [familyCount]atomic.Uint64
	adverse  [familyCount]atomic.Uint64
	cachedUB [familyCount]atomic.Uint32
	zScore   float64
}

// NewRiskEnvelope creates an envelope starting at priorPPM for every
// family.
func NewRiskEnvelope(priorPPM uint32, zScore float64) *RiskEnvelope {
	r := &RiskEnvelope{zScore: zScore}
	for i := range r.cachedUB {
		r.cachedUB[i].Store(priorPPM)
	}
	return r
}

// Observe records one outcome. Every recomputeCadence observations per
// family the cached bound is refreshed.
func (r *RiskEnvelope) Observe(f Family, adverse bool) {
	idx := int(f) % familyCount
	n := r.calls[idx].Add(1)
	if adverse {
		r.adverse[idx].Add(1)
	}
	if n >= minSamples && n%recomputeCadence == 0 {
		r.cachedUB[idx].Store(r.computeUpperBound(idx, n))
	}
}

// UpperBoundPPM returns the cached bound. Hot-path safe: one atomic
// load.
func (r *RiskEnvelope) UpperBoundPPM(f Family) uint32 {
	return r.cachedUB[int(f)%familyCount].Load()
}

func (r *RiskEnvelope) computeUpperBound(idx int, calls uint64) uint32 {
	adverse := r.adverse[idx].Load()
	n := float64(calls)
	pHat := (float64(adverse) + 1.0) / (n + 2.0)
	variance := math.Max(pHat*(1.0-pHat)/(n+3.0), 0.0)
	ub := pHat + r.zScore*math.Sqrt(variance)
	ub = math.Min(math.Max(ub, 0.0), 1.0)
	return uint32(math.Round(ub * 1_000_000))
}
