// Package memsentry is a transparent safety membrane for manually
// managed memory regions. It tracks allocations in a sharded arena,
// classifies every pointer access through a staged validation
// pipeline, and either reports violations (strict mode) or applies a
// deterministic healing policy (hardened mode).
//
// The membrane never dereferences caller memory. Allocations live in a
// synthetic address space backed by membrane-owned buffers, so the
// soundness properties are testable and portable.
//
// Basic usage:
//
//	m, err := memsentry.New(memsentry.WithMode(memsentry.Hardened))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Close()
//
//	addr, _ := m.Malloc(16)
//	adjAddr, adjLen, outcome, applied, _ := m.ValidateAndHeal(addr, 128, memsentry.OpWrite)
//	// outcome == memsentry.BoundsViolation, adjLen == 16
//	_, _ = adjAddr, adjLen
//	_ = outcome
//	_ = applied
//
// The operating mode is resolved once from the MEMSENTRY_MODE
// environment variable unless overridden with WithMode. There is no
// runtime mode mutation.
package memsentry
