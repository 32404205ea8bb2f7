package memsentry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hupe1980/memsentry/heal"
	"github.com/hupe1980/memsentry/internal/arena"
	"github.com/hupe1980/memsentry/internal/bloom"
	"github.com/hupe1980/memsentry/internal/fingerprint"
	"github.com/hupe1980/memsentry/internal/kernel"
	"github.com/hupe1980/memsentry/internal/pageoracle"
	"github.com/hupe1980/memsentry/internal/resource"
	"github.com/hupe1980/memsentry/internal/vcache"
	"github.com/hupe1980/memsentry/telemetry"
)

// Membrane is the safety membrane facade. It owns the allocation
// arena, the fast-path indexes and the decision kernel, and exposes
// the allocator entry points and the validation pipeline.
//
// All methods are safe for concurrent use.
type Membrane struct {
	mode  Mode
	kmode kernel.Mode

	arena  *arena.Arena
	bloom  *bloom.Filter
	oracle *pageoracle.Oracle
	caches *vcache.Pool
	kernel *kernel.Kernel
	policy *heal.Policy

	metrics MetricsCollector
	logger  *Logger

	journal     *telemetry.Journal
	ownsJournal bool

	outcomes    [8]atomic.Uint64 // indexed by Outcome
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64
	closed      atomic.Bool
}

// New creates a membrane. The operating mode comes from WithMode or,
// absent that, from MEMSENTRY_MODE (resolved once per process).
func New(optFns ...Option) (*Membrane, error) {
	o := applyOptions(optFns)

	mode := DefaultMode()
	if o.mode != nil {
		mode = *o.mode
	}

	var codec *fingerprint.Codec
	var err error
	if o.fingerprintKey != nil {
		codec, err = fingerprint.NewCodec(o.fingerprintKey)
	} else {
		codec, err = fingerprint.NewRandomCodec()
	}
	if err != nil {
		return nil, err
	}

	m := &Membrane{
		mode:    mode,
		kmode:   mode.kernelMode(),
		caches:  vcache.NewPool(),
		policy:  heal.NewPolicy(),
		metrics: o.metricsCollector,
		logger:  o.logger,
		journal: o.journal,
	}

	if o.bloomItems > 0 {
		m.bloom = bloom.NewWithCapacity(o.bloomItems, o.bloomFPRate)
	} else {
		m.bloom = bloom.New()
	}
	m.oracle = pageoracle.New()

	rc := resource.NewController(resource.Config{
		QuarantineBytesBudget: o.quarantineBytes,
	})
	arenaOpts := []arena.Option{
		arena.WithCodec(codec),
		arena.WithResourceController(rc),
		arena.WithRegisterHook(m.register),
		arena.WithEvictHook(m.unregister),
		// Shard section hashes land in the kernel's consistency
		// monitor; cache hits in the pipeline are checked against them.
		arena.WithSectionHook(func(shard int, liveHash, mapHash uint64) {
			mon := m.kernel.Consistency()
			mon.SetSection(shard, liveHash)
			mon.SetSection(arena.NumShards+shard, mapHash)
		}),
	}
	if o.maxQuarantine > 0 {
		arenaOpts = append(arenaOpts, arena.WithMaxQuarantineEntries(o.maxQuarantine))
	}
	m.arena, err = arena.New(arenaOpts...)
	if err != nil {
		return nil, err
	}

	kernelOpts := []kernel.Option{
		kernel.WithBudgetExhaustedHook(func(ctx kernel.Context) {
			m.recordEvidence(telemetry.EventBudgetExhausted, ctx.Family.String(),
				m.kernel.RiskUpperPPM(ctx.Family), "decision budget exhausted, conservative path forced")
		}),
	}
	if o.decisionPerSecond > 0 {
		kernelOpts = append(kernelOpts, kernel.WithDecisionBudget(o.decisionPerSecond, o.decisionBurst))
	}
	m.kernel = kernel.New(kernelOpts...)

	if o.evidenceDir != "" {
		j, err := telemetry.OpenJournal(o.evidenceDir, o.journalOptions...)
		if err != nil {
			return nil, err
		}
		m.journal = j
		m.ownsJournal = true
	}

	m.logger.Debug("membrane ready", "mode", mode.String())
	return m, nil
}

// register marks freshly tracked pages in the negative filter and the
// ownership oracle. Runs under the arena shard lock, must stay cheap.
func (m *Membrane) register(userBase, userSize uint64) {
	m.oracle.Insert(userBase, userSize)
	end := userBase + userSize
	for page := userBase &^ (arena.PageSize - 1); page < end; page += arena.PageSize {
		m.bloom.Insert(page)
	}
}

// unregister clears ownership after quarantine eviction. The bloom
// filter is append-only; the oracle and the arena remain authoritative
// for liveness.
func (m *Membrane) unregister(userBase, userSize uint64) {
	m.oracle.Remove(userBase, userSize)
}

// Mode returns the operating mode fixed at construction.
func (m *Membrane) Mode() Mode { return m.mode }

// HealingPolicy returns the policy counters for inspection.
func (m *Membrane) HealingPolicy() *heal.Policy { return m.policy }

// Epoch returns the current arena epoch. It advances on every free
// and eviction.
func (m *Membrane) Epoch() uint64 { return m.arena.Epoch() }

// Close finalizes membrane-owned resources. Idempotent.
func (m *Membrane) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	if m.ownsJournal && m.journal != nil {
		return m.journal.Close()
	}
	return nil
}

func (m *Membrane) recordOutcome(o Outcome) {
	if int(o) < len(m.outcomes) {
		m.outcomes[o].Add(1)
	}
}

func (m *Membrane) recordEvidence(kind telemetry.EventKind, family string, riskPPM uint32, detail string) {
	m.metrics.RecordEvidence(kind.String())
	m.logger.LogEvidence(context.Background(), kind.String(), detail)
	if m.journal == nil {
		return
	}
	ev := telemetry.Event{
		TimeUnixNano: time.Now().UnixNano(),
		Kind:         kind,
		Mode:         m.mode.String(),
		Family:       family,
		RiskPPM:      riskPPM,
		Detail:       detail,
	}
	if err := m.journal.Append(ev); err != nil {
		m.logger.Warn("evidence append failed", "error", err)
	}
}

// Snapshot exports the current counters. The result carries no live
// references and is safe to serialize.
func (m *Membrane) Snapshot() telemetry.Snapshot {
	stats := m.arena.Stats()
	limits := m.kernel.Limits(m.kmode)

	return telemetry.Snapshot{
		SchemaVersion: telemetry.SchemaVersion,
		TimeUnixNano:  time.Now().UnixNano(),
		Mode:          m.mode.String(),

		Decisions:         m.kernel.Decisions(),
		BudgetExhaustions: m.kernel.BudgetExhaustions(),
		ConsistencyFaults: m.kernel.Consistency().Faults(),

		Outcomes: telemetry.OutcomeCounts{
			Valid:              m.outcomes[Valid].Load(),
			NullPointers:       m.outcomes[NullPointer].Load(),
			ForeignPointers:    m.outcomes[ForeignPointer].Load(),
			TemporalViolations: m.outcomes[TemporalViolation].Load(),
			BoundsViolations:   m.outcomes[BoundsViolation].Load(),
			CanaryMismatches:   m.outcomes[CanaryMismatch].Load(),
			Ambiguous:          m.outcomes[Ambiguous].Load(),
		},
		Heals: m.policy.Stats(),

		RiskUpperPPM:     m.kernel.RiskUpperPPM(kernel.FamilyPointerValidation),
		FullTriggerPPM:   limits.FullTriggerPPM,
		RepairTriggerPPM: limits.RepairTriggerPPM,

		Allocations:      stats.Allocations,
		Frees:            stats.Frees,
		QuarantineDepth:  uint64(m.arena.QuarantineDepth()),
		QuarantineBytes:  uint64(m.arena.QuarantineBytes()),
		QuarantineBypass: stats.QuarantineBypass,
		Evictions:        stats.Evictions,
		Epoch:            m.arena.Epoch(),

		CacheHits:    m.cacheHits.Load(),
		CacheMisses:  m.cacheMisses.Load(),
		BloomInserts: m.bloom.Inserted(),
		BloomBits:    m.bloom.NumBits(),
	}
}
