package kernel

// Barrier is the constant-time admissibility veto. A candidate outside
// the admissible region does not get executed as proposed; the kernel
// downgrades it to Repair or Deny.
type Barrier struct{}

// NewBarrier creates the barrier.
func NewBarrier() *Barrier {
	return &Barrier{}
}

// Admissible reports whether the candidate (profile, action context)
// stays inside the admissible region. Every branch is O(1).
func (b *Barrier) Admissible(ctx Context, mode Mode, profile Profile, riskPPM uint32, limits Limits) bool {
	// Oversize requests are never admissible.
	if ctx.RequestedBytes > limits.MaxRequestBytes {
		return false
	}

	// Strict pointer classification of a bloom-negative address is an
	// ordinary foreign-pointer report, not a deny. Letting it through
	// keeps strict mode observational.
	if mode == ModeStrict && ctx.Family == FamilyPointerValidation &&
		ctx.BloomNegative && riskPPM < 900_000 {
		return true
	}

	// A write at fast depth under extreme risk sits outside the region;
	// escalation to ProfileFull re-enters it.
	if ctx.IsWrite && riskPPM > limits.RepairTriggerPPM && profile == ProfileFast {
		return false
	}

	return true
}
