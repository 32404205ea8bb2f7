package memsentry

import (
	"context"
	"time"

	"github.com/hupe1980/memsentry/heal"
	"github.com/hupe1980/memsentry/internal/arena"
	"github.com/hupe1980/memsentry/internal/kernel"
	"github.com/hupe1980/memsentry/internal/vcache"
	"github.com/hupe1980/memsentry/telemetry"
)

// Outcome classifies a validated access. Alias of heal.Outcome so the
// policy and the pipeline share one closed set.
type Outcome = heal.Outcome

// Pipeline outcomes.
const (
	Valid             = heal.Valid
	NullPointer       = heal.NullPointer
	ForeignPointer    = heal.ForeignPointer
	TemporalViolation = heal.TemporalViolation
	BoundsViolation   = heal.BoundsViolation
	CanaryMismatch    = heal.CanaryMismatch
	Ambiguous         = heal.Ambiguous
)

// OpKind identifies the access being validated.
type OpKind = heal.OpKind

// Access kinds.
const (
	OpRead    = heal.OpRead
	OpWrite   = heal.OpWrite
	OpString  = heal.OpString
	OpFree    = heal.OpFree
	OpRealloc = heal.OpRealloc
)

func opFamily(op OpKind) kernel.Family {
	switch op {
	case OpString:
		return kernel.FamilyStringMemory
	case OpFree, OpRealloc:
		return kernel.FamilyAllocator
	default:
		return kernel.FamilyPointerValidation
	}
}

// Validate classifies an access of length bytes at addr without
// altering anything. The stages run cheapest first; the decision
// kernel picks how deep the expensive stages go.
func (m *Membrane) Validate(addr, length uint64, op OpKind) Outcome {
	outcome, _ := m.classify(addr, length, op)
	return outcome
}

func (m *Membrane) classify(addr, length uint64, op OpKind) (Outcome, kernel.Decision) {
	if m.kmode == kernel.ModeOff {
		return Valid, kernel.Decision{Action: kernel.Allow}
	}

	start := time.Now()

	if addr == 0 {
		return m.conclude(NullPointer, start), kernel.Decision{Action: kernel.Allow}
	}

	epoch := m.arena.Epoch()
	cache := m.caches.Get()
	defer m.caches.Put(cache)

	var (
		staleEntry vcache.Entry
		crossCheck bool
	)
	if e, ok := cache.Lookup(addr, epoch); ok {
		usable, check := m.verdictCurrent(e, addr)
		if usable {
			m.cacheHits.Add(1)
			return m.conclude(cachedOutcome(e, addr, length), start), kernel.Decision{Action: kernel.Allow}
		}
		staleEntry, crossCheck = e, check
		cache.Invalidate(addr)
	}
	m.cacheMisses.Add(1)

	bloomNegative := !m.bloom.Contains(addr &^ uint64(arena.PageSize-1))
	kctx := kernel.Context{
		Family:         opFamily(op),
		AddrHint:       addr,
		RequestedBytes: length,
		IsWrite:        op == OpWrite || op == OpString,
		BloomNegative:  bloomNegative,
	}
	decision := m.kernel.Decide(m.kmode, kctx)
	m.metrics.RecordDecision(decision.Profile.String(), decision.Action.String())

	outcome := m.runStages(cache, addr, length, epoch, bloomNegative, decision)
	if crossCheck {
		m.noteDisagreement(staleEntry, addr, length, epoch, outcome, op)
	}

	cost := time.Since(start)
	m.kernel.Observe(kctx, decision.Profile, uint64(cost.Nanoseconds()), outcome.IsViolation())
	m.recordOutcome(outcome)
	m.metrics.RecordValidation(outcome.String(), cost)
	return outcome, decision
}

// conclude finishes the fast exits that never reach the kernel.
func (m *Membrane) conclude(o Outcome, start time.Time) Outcome {
	m.recordOutcome(o)
	m.metrics.RecordValidation(o.String(), time.Since(start))
	return o
}

// cachedOutcome re-derives the verdict from a cache entry. Entries are
// epoch-tagged, so a hit means the arena has not changed since the
// entry was written.
func cachedOutcome(e vcache.Entry, addr, length uint64) Outcome {
	if e.Kind == vcache.KindForeign {
		return ForeignPointer
	}
	if !e.State.IsLive() {
		return TemporalViolation
	}
	offset := addr - e.UserBase
	if offset >= e.UserSize || length > e.UserSize-offset {
		return BoundsViolation
	}
	return Valid
}

// sectionWitness reads the published section hashes for the shard
// owning addr. The XOR of both planes is the witness a cache entry
// must reproduce on a hit.
func (m *Membrane) sectionWitness(addr uint64) uint64 {
	shard := arena.ShardOf(addr)
	mon := m.kernel.Consistency()
	return mon.Section(shard) ^ mon.Section(arena.NumShards+shard)
}

// verdictCurrent reports whether a cache hit may be served. A foreign
// verdict is retired by any later allocation. Slot verdicts are served
// only while the shard's published sections reproduce the entry's
// witness; on a mismatch the caller re-derives the verdict and
// cross-checks it against the cached claim.
func (m *Membrane) verdictCurrent(e vcache.Entry, addr uint64) (usable, crossCheck bool) {
	if e.Kind == vcache.KindForeign && e.Generation != m.arena.Generation() {
		return false, false
	}
	witness := m.sectionWitness(addr)
	if witness == e.Witness {
		return true, false
	}
	return false, true
}

// noteDisagreement compares a stale cached verdict against the freshly
// derived one. Sections only move together with the epoch, so a
// different verdict at an unchanged epoch means one metadata shard
// served state another never saw. The fault makes the kernel
// conservative and leaves evidence.
func (m *Membrane) noteDisagreement(e vcache.Entry, addr, length, epoch uint64, fresh Outcome, op OpKind) {
	if m.arena.Epoch() != epoch || cachedOutcome(e, addr, length) == fresh {
		return
	}
	shard := arena.ShardOf(addr)
	m.kernel.Consistency().NoteOverlap(shard, arena.NumShards+shard, e.Witness)
	family := opFamily(op)
	m.recordEvidence(telemetry.EventConsistencyFault, family.String(),
		m.kernel.RiskUpperPPM(family), "cached verdict disagrees with re-derived outcome at an unchanged epoch")
}

// cacheForeign records a definite not-tracked verdict, keyed to the
// allocation generation so a later allocation at this address cannot
// be masked.
func (m *Membrane) cacheForeign(cache *vcache.Cache, addr, epoch, witness uint64) Outcome {
	cache.Insert(addr, epoch, vcache.Entry{
		Addr:       addr,
		Kind:       vcache.KindForeign,
		Generation: m.arena.Generation(),
		Witness:    witness,
	})
	return ForeignPointer
}

func (m *Membrane) runStages(cache *vcache.Cache, addr, length, epoch uint64, bloomNegative bool, decision kernel.Decision) Outcome {
	witness := m.sectionWitness(addr)

	// The filter has no false negatives: a miss is a definite foreign
	// pointer and the expensive stages are skipped entirely.
	if bloomNegative {
		return m.cacheForeign(cache, addr, epoch, witness)
	}

	if length > m.kernel.Limits(m.kmode).MaxRequestBytes {
		return BoundsViolation
	}

	if !m.oracle.Owns(addr) {
		return m.cacheForeign(cache, addr, epoch, witness)
	}

	slot, ok := m.arena.Lookup(addr)
	if !ok {
		return m.cacheForeign(cache, addr, epoch, witness)
	}
	if !slot.State.IsLive() {
		cache.Insert(addr, epoch, vcache.Entry{
			Addr:       addr,
			UserBase:   slot.UserBase,
			UserSize:   slot.UserSize,
			Generation: slot.Generation,
			State:      slot.State,
			Witness:    witness,
		})
		return TemporalViolation
	}

	if decision.RequiresFullValidation() {
		if !m.arena.VerifyHeader(slot.UserBase) {
			return CanaryMismatch
		}
		touchesTail := addr-slot.UserBase+length >= slot.UserSize
		if touchesTail && !m.arena.VerifyCanary(slot.UserBase) {
			return CanaryMismatch
		}
	}

	_, remaining, ok := m.arena.RemainingFrom(addr)
	if !ok {
		return Ambiguous
	}
	if length > remaining {
		return BoundsViolation
	}

	cache.Insert(addr, epoch, vcache.Entry{
		Addr:       addr,
		UserBase:   slot.UserBase,
		UserSize:   slot.UserSize,
		Generation: slot.Generation,
		State:      slot.State,
		Witness:    witness,
	})
	return Valid
}

// ValidateAndHeal is the generic access gate. It classifies the
// access, consults the healing policy, and returns the possibly
// adjusted (addr, length) the operation should proceed with.
//
// Strict mode never adjusts: violations come back unchanged along with
// the matching sentinel error. Hardened mode applies the deterministic
// policy and returns nil errors for healable violations, except when
// the kernel denies the access outright; a denied violation is refused
// with the matching error instead of healed.
func (m *Membrane) ValidateAndHeal(addr, length uint64, op OpKind) (uint64, uint64, Outcome, heal.Applied, error) {
	if m.closed.Load() {
		return addr, length, Ambiguous, heal.Applied{}, ErrClosed
	}

	outcome, decision := m.classify(addr, length, op)
	applied := heal.Decide(outcome, m.kmode, op)
	applied.Requested = length
	applied.Adjusted = length

	var err error
	if decision.Action == kernel.Deny && outcome.IsViolation() && m.kmode.HealsEnabled() {
		// The kernel refused to admit the access; denial preempts
		// healing, so the violation surfaces as an error even in
		// hardened mode. Strict denials arrive below via ActionNone.
		applied.Action = heal.ActionReturnSafeDefault
		applied.Adjusted = 0
		length = 0
		err = heal.StrictError(outcome)

		m.policy.Record(applied)
		m.metrics.RecordHeal(applied.Action.String())
		m.logger.LogHeal(context.Background(), addr, applied.Action.String(), applied.Requested, applied.Adjusted)
		return addr, length, outcome, applied, err
	}

	switch applied.Action {
	case heal.ActionNone:
		if outcome.IsViolation() && m.mode == Strict {
			err = heal.StrictError(outcome)
		}

	case heal.ActionClampSize:
		_, remaining, ok := m.arena.RemainingFrom(addr)
		if !ok {
			remaining = 0
		}
		if limit := m.kernel.Limits(m.kmode).MaxRequestBytes; remaining > limit {
			remaining = limit
		}
		applied = heal.HealCopyBounds(length, heal.Unbounded, remaining)
		applied.Action = heal.ActionClampSize
		length = applied.Adjusted

	case heal.ActionTruncateWithNull:
		_, remaining, ok := m.arena.RemainingFrom(addr)
		if !ok {
			remaining = 0
		}
		applied = heal.HealStringBounds(length, remaining)
		applied.Action = heal.ActionTruncateWithNull
		length = applied.Adjusted

	case heal.ActionReturnSafeDefault, heal.ActionIgnoreDoubleFree, heal.ActionIgnoreForeignFree:
		applied.Adjusted = 0
		length = 0

	case heal.ActionReallocAsMalloc, heal.ActionUpgradeToSafeVariant:
		// The caller reroutes; sizes stay as requested.
	}

	m.policy.Record(applied)
	if applied.IsHeal() {
		m.metrics.RecordHeal(applied.Action.String())
		m.logger.LogHeal(context.Background(), addr, applied.Action.String(), applied.Requested, applied.Adjusted)
	}
	return addr, length, outcome, applied, err
}
