// Package kernel implements the online decision kernel that routes
// every membrane call to a validation depth and an action. Five
// controllers feed the decision: a conformal risk envelope, a
// two-armed bandit router, a primal-dual threshold controller, a
// constant-time admissibility barrier, and a sharded consistency
// monitor. The hot path touches only atomics; anything involving
// floating point runs on a cadence and is cached.
package kernel

import (
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Mode is the operating mode the kernel decides under.
type Mode uint8

const (
	// ModeStrict detects and reports without healing.
	ModeStrict Mode = iota
	// ModeHardened heals violations in place.
	ModeHardened
	// ModeOff passes everything through unvalidated.
	ModeOff
)

// HealsEnabled reports whether the mode permits repairs.
func (m Mode) HealsEnabled() bool { return m == ModeHardened }

func (m Mode) String() string {
	switch m {
	case ModeStrict:
		return "strict"
	case ModeHardened:
		return "hardened"
	case ModeOff:
		return "off"
	default:
		return "unknown"
	}
}

// Family classifies the calling API surface. Counters in the kernel
// are kept per family so a noisy allocator cannot poison pointer
// validation routing.
type Family uint8

const (
	// FamilyPointerValidation covers raw pointer classification.
	FamilyPointerValidation Family = iota
	// FamilyAllocator covers malloc, calloc, realloc and free.
	FamilyAllocator
	// FamilyStringMemory covers bounded copy and string operations.
	FamilyStringMemory
	// FamilyStdlib covers remaining wrapped entry points.
	FamilyStdlib

	familyCount = 4
)

func (f Family) String() string {
	switch f {
	case FamilyPointerValidation:
		return "pointer_validation"
	case FamilyAllocator:
		return "allocator"
	case FamilyStringMemory:
		return "string_memory"
	case FamilyStdlib:
		return "stdlib"
	}
	return "unknown"
}

// Profile is the validation depth selected for a call.
type Profile uint8

const (
	// ProfileFast runs the abbreviated pipeline (cache, bloom, oracle).
	ProfileFast Profile = iota
	// ProfileFull runs every pipeline stage.
	ProfileFull
)

// RequiresFull reports whether the full pipeline must run.
func (p Profile) RequiresFull() bool { return p == ProfileFull }

func (p Profile) String() string {
	if p == ProfileFull {
		return "full"
	}
	return "fast"
}

// Action is the disposition the kernel selects.
type Action uint8

const (
	// Allow admits the call at the selected depth.
	Allow Action = iota
	// FullValidate forces the complete pipeline before admitting.
	FullValidate
	// Repair admits the call through a healing transformation.
	Repair
	// Deny rejects the call outright. Classification-only callers
	// resolve Deny by running the full pipeline and reporting the true
	// outcome; healing callers refuse the access.
	Deny
)

func (a Action) String() string {
	switch a {
	case Allow:
		return "allow"
	case FullValidate:
		return "full_validate"
	case Repair:
		return "repair"
	case Deny:
		return "deny"
	}
	return "unknown"
}

// Context carries the per-call facts the kernel decides on.
type Context struct {
	Family         Family
	AddrHint       uint64
	RequestedBytes uint64
	IsWrite        bool
	ContentionHint uint16
	BloomNegative  bool
}

// PointerValidation builds the context for the pointer classification
// flow.
func PointerValidation(addrHint uint64, bloomNegative bool) Context {
	return Context{
		Family:        FamilyPointerValidation,
		AddrHint:      addrHint,
		BloomNegative: bloomNegative,
	}
}

// Decision is the kernel output consumed by call paths.
type Decision struct {
	Profile         Profile
	Action          Action
	RiskUpperPPM    uint32
	BudgetExhausted bool
}

// RequiresFullValidation reports whether the caller must run the
// complete pipeline.
func (d Decision) RequiresFullValidation() bool {
	return d.Profile.RequiresFull() || d.Action == FullValidate || d.Action == Repair
}

// Kernel composes the controllers. Safe for concurrent use.
type Kernel struct {
	risk        *RiskEnvelope
	router      *Router
	controller  *ThresholdController
	barrier     *Barrier
	consistency *ConsistencyMonitor

	budget    *rate.Limiter
	decisions atomic.Uint64
	exhausted atomic.Uint64

	// onBudgetExhausted fires when the per-call compute budget runs dry
	// and the kernel falls back to its conservative decision.
	onBudgetExhausted func(ctx Context)
}

// Option configures the Kernel.
type Option func(*Kernel)

// WithRiskEnvelope replaces the default risk envelope.
func WithRiskEnvelope(r *RiskEnvelope) Option {
	return func(k *Kernel) { k.risk = r }
}

// WithDecisionBudget bounds kernel decisions per second. Zero or
// negative disables the budget.
func WithDecisionBudget(perSecond float64, burst int) Option {
	return func(k *Kernel) {
		if perSecond > 0 {
			k.budget = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		} else {
			k.budget = nil
		}
	}
}

// WithBudgetExhaustedHook sets the callback fired on conservative
// fallback.
func WithBudgetExhaustedHook(fn func(ctx Context)) Option {
	return func(k *Kernel) { k.onBudgetExhausted = fn }
}

// New creates a kernel with default controllers and an effectively
// unlimited decision budget.
func New(opts ...Option) *Kernel {
	k := &Kernel{
		risk:        NewRiskEnvelope(DefaultPriorPPM, DefaultZScore),
		router:      NewRouter(),
		controller:  NewThresholdController(),
		barrier:     NewBarrier(),
		consistency: NewConsistencyMonitor(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Consistency exposes the consistency monitor for pipeline shards.
func (k *Kernel) Consistency() *ConsistencyMonitor { return k.consistency }

// Limits returns the current controller thresholds for a mode.
func (k *Kernel) Limits(mode Mode) Limits { return k.controller.Limits(mode) }

// Decisions returns the cumulative decision count.
func (k *Kernel) Decisions() uint64 { return k.decisions.Load() }

// BudgetExhaustions returns how often the conservative fallback fired.
func (k *Kernel) BudgetExhaustions() uint64 { return k.exhausted.Load() }

// RiskUpperPPM returns the cached risk bound for a family.
func (k *Kernel) RiskUpperPPM(f Family) uint32 { return k.risk.UpperBoundPPM(f) }

// Decide routes one call.
//
// When the decision budget is exhausted the kernel does not reason at
// all: it returns the conservative decision for the mode and reports
// the exhaustion, so pathological call storms degrade to maximum
// caution rather than starved controllers.
func (k *Kernel) Decide(mode Mode, ctx Context) Decision {
	k.decisions.Add(1)

	if mode == ModeOff {
		return Decision{Profile: ProfileFast, Action: Allow, RiskUpperPPM: 0}
	}

	if k.budget != nil && !k.budget.Allow() {
		k.exhausted.Add(1)
		if k.onBudgetExhausted != nil {
			k.onBudgetExhausted(ctx)
		}
		return k.conservative(mode, ctx)
	}

	riskPPM := k.risk.UpperBoundPPM(ctx.Family)

	// Consistency faults inflate risk: disagreement between metadata
	// shards means some verdict somewhere was wrong.
	faults := k.consistency.Faults()
	bonus := uint32(min(faults, 16)) * 15_000
	riskPPM = min(riskPPM+bonus, 1_000_000)

	limits := k.controller.Limits(mode)
	profile := k.router.SelectProfile(ctx.Family, mode, riskPPM, ctx.ContentionHint)

	if faults > 0 && mode.HealsEnabled() {
		profile = ProfileFull
	}

	var action Action
	switch {
	case !k.barrier.Admissible(ctx, mode, profile, riskPPM, limits):
		if mode.HealsEnabled() {
			action = Repair
		} else {
			action = Deny
		}
	case profile.RequiresFull() || riskPPM >= limits.FullTriggerPPM:
		action = FullValidate
	case mode.HealsEnabled() && riskPPM >= limits.RepairTriggerPPM:
		action = Repair
	default:
		action = Allow
	}

	return Decision{
		Profile:      profile,
		Action:       action,
		RiskUpperPPM: riskPPM,
	}
}

// conservative is the budget-exhausted fallback: strict forces the
// full pipeline, hardened heals, and oversize requests are denied.
func (k *Kernel) conservative(mode Mode, ctx Context) Decision {
	limits := k.controller.Limits(mode)

	action := FullValidate
	if ctx.RequestedBytes > limits.MaxRequestBytes {
		action = Deny
	} else if mode.HealsEnabled() {
		action = Repair
	}

	return Decision{
		Profile:         ProfileFull,
		Action:          action,
		RiskUpperPPM:    1_000_000,
		BudgetExhausted: true,
	}
}

// Observe feeds one realized outcome back into the controllers.
func (k *Kernel) Observe(ctx Context, profile Profile, costNS uint64, adverse bool) {
	k.risk.Observe(ctx.Family, adverse)
	k.router.Observe(ctx.Family, profile, costNS, adverse)
	k.controller.Observe(costNS, adverse)
}
