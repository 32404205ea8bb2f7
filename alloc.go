package memsentry

import (
	"context"
	"math/bits"
	"time"

	"github.com/hupe1980/memsentry/heal"
	"github.com/hupe1980/memsentry/internal/arena"
	"github.com/hupe1980/memsentry/internal/kernel"
	"github.com/hupe1980/memsentry/telemetry"
)

// Malloc allocates size bytes of tracked memory and returns its
// address. A size of zero allocates one byte so the address stays
// unique and freeable, matching C allocator behavior.
func (m *Membrane) Malloc(size uint64) (uint64, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	if size == 0 {
		size = 1
	}

	start := time.Now()
	addr, err := m.arena.Allocate(size)
	if err != nil {
		return 0, translateAllocError(size, err)
	}
	m.metrics.RecordAllocation(size)
	m.observeAllocator(addr, size, start, false)
	return addr, nil
}

// Calloc allocates count*size bytes, overflow-checked. The backing
// memory is zeroed.
func (m *Membrane) Calloc(count, size uint64) (uint64, error) {
	hi, total := bits.Mul64(count, size)
	if hi != 0 {
		return 0, ErrSizeOverflow
	}
	return m.Malloc(total)
}

// Realloc resizes the allocation at addr, moving it and copying the
// surviving prefix. addr 0 degrades to Malloc; size 0 degrades to
// Free. Resizing an untracked or freed address is healed to a fresh
// allocation in hardened mode and rejected in strict mode.
func (m *Membrane) Realloc(addr, size uint64) (uint64, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	if addr == 0 {
		return m.Malloc(size)
	}
	if size == 0 {
		return 0, m.Free(addr)
	}

	slot, tracked := m.arena.Lookup(addr)
	if !tracked || !slot.State.IsLive() {
		outcome := ForeignPointer
		if tracked {
			outcome = TemporalViolation
		}
		m.recordOutcome(outcome)

		applied := heal.Decide(outcome, m.kmode, OpRealloc)
		applied.Requested = size
		applied.Adjusted = size
		m.policy.Record(applied)

		if applied.Action != heal.ActionReallocAsMalloc {
			if m.mode == Strict {
				return 0, heal.StrictError(outcome)
			}
			// Off mode: fall through to a plain allocation.
		} else {
			m.metrics.RecordHeal(applied.Action.String())
		}
		return m.Malloc(size)
	}

	newAddr, err := m.Malloc(size)
	if err != nil {
		return 0, err
	}

	copied := size
	if slot.UserSize < copied {
		copied = slot.UserSize
	}
	// Any failure past this point rolls the fresh allocation back so a
	// failed resize does not leak an address the caller never saw.
	buf := make([]byte, copied)
	if _, err := m.arena.ReadAt(addr, buf); err != nil {
		m.arena.Free(newAddr)
		return 0, err
	}
	if _, err := m.arena.WriteAt(newAddr, buf); err != nil {
		m.arena.Free(newAddr)
		return 0, err
	}

	if err := m.Free(addr); err != nil {
		m.arena.Free(newAddr)
		return 0, err
	}
	return newAddr, nil
}

// Free releases the allocation at addr into quarantine. Freeing the
// null address is a no-op. Double and foreign frees are absorbed in
// hardened mode and reported in strict mode; either way the arena
// state is unchanged by the invalid call.
func (m *Membrane) Free(addr uint64) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if addr == 0 {
		return nil
	}

	start := time.Now()
	result := m.arena.Free(addr)
	m.metrics.RecordFree(freeResultString(result))
	m.observeAllocator(addr, 0, start, result != arena.FreeOK)

	switch result {
	case arena.FreeOK:
		return nil

	case arena.FreeCanaryCorrupt:
		m.recordOutcome(CanaryMismatch)
		m.recordEvidence(telemetry.EventInternalFault, kernel.FamilyAllocator.String(),
			m.kernel.RiskUpperPPM(kernel.FamilyAllocator), "trailing canary overwritten before free")
		if m.mode == Strict {
			return ErrCorrupted
		}
		return nil

	case arena.FreeDoubleFree:
		return m.healFree(addr, TemporalViolation)

	case arena.FreeForeign:
		return m.healFree(addr, ForeignPointer)
	}
	return nil
}

func (m *Membrane) healFree(addr uint64, outcome Outcome) error {
	m.recordOutcome(outcome)
	m.logger.LogFree(context.Background(), addr, outcome.String())

	applied := heal.Decide(outcome, m.kmode, OpFree)
	m.policy.Record(applied)
	if applied.IsHeal() {
		m.metrics.RecordHeal(applied.Action.String())
		return nil
	}
	if m.mode == Strict {
		return heal.StrictError(outcome)
	}
	return nil
}

// UsableSize reports the tracked size of the allocation containing
// addr, zero when untracked.
func (m *Membrane) UsableSize(addr uint64) uint64 {
	slot, ok := m.arena.Lookup(addr)
	if !ok || !slot.State.IsLive() {
		return 0
	}
	return slot.UserSize
}

// Write copies data into tracked memory after gating it through the
// pipeline. The returned count reflects any healing clamp.
func (m *Membrane) Write(addr uint64, data []byte) (int, error) {
	adjAddr, adjLen, _, _, err := m.ValidateAndHeal(addr, uint64(len(data)), OpWrite)
	if err != nil {
		return 0, err
	}
	if adjLen == 0 {
		return 0, nil
	}
	return m.arena.WriteAt(adjAddr, data[:adjLen])
}

// Read copies bytes out of tracked memory after gating it through the
// pipeline.
func (m *Membrane) Read(addr uint64, buf []byte) (int, error) {
	adjAddr, adjLen, _, _, err := m.ValidateAndHeal(addr, uint64(len(buf)), OpRead)
	if err != nil {
		return 0, err
	}
	if adjLen == 0 {
		return 0, nil
	}
	return m.arena.ReadAt(adjAddr, buf[:adjLen])
}

func (m *Membrane) observeAllocator(addr, size uint64, start time.Time, adverse bool) {
	m.kernel.Observe(kernel.Context{
		Family:         kernel.FamilyAllocator,
		AddrHint:       addr,
		RequestedBytes: size,
		IsWrite:        true,
	}, kernel.ProfileFull, uint64(time.Since(start).Nanoseconds()), adverse)
}

func freeResultString(r arena.FreeResult) string {
	switch r {
	case arena.FreeOK:
		return "ok"
	case arena.FreeCanaryCorrupt:
		return "canary_corrupt"
	case arena.FreeDoubleFree:
		return "double_free"
	case arena.FreeForeign:
		return "foreign"
	}
	return "unknown"
}
