// Package resource enforces the quarantine's explicit capacity budgets.
//
// The quarantine queue is the one bounded shared resource in the membrane:
// freed allocations are withheld from reuse until they age out, and the
// bytes they pin must stay under a hard budget. The controller tracks that
// budget with a weighted semaphore and paces bulk eviction sweeps with a
// rate limiter so a burst of frees cannot turn eviction into a stall.
package resource

import (
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds quarantine resource limits.
type Config struct {
	// QuarantineBytesBudget is the hard limit for bytes pinned by the
	// quarantine queue. If 0, DefaultQuarantineBytes is used.
	QuarantineBytesBudget int64

	// EvictSweepsPerSec limits how often full eviction sweeps may run.
	// If 0, sweeps are unpaced.
	EvictSweepsPerSec float64

	// EvictBurst is the sweep burst allowance. Defaults to 1 when paced.
	EvictBurst int
}

// DefaultQuarantineBytes bounds quarantined memory to 64 MiB.
const DefaultQuarantineBytes = 64 * 1024 * 1024

// Controller tracks quarantine byte usage against a fixed budget.
type Controller struct {
	budget int64

	sem  *semaphore.Weighted
	used atomic.Int64

	sweepLimiter *rate.Limiter
}

// NewController creates a controller for the given limits.
func NewController(cfg Config) *Controller {
	if cfg.QuarantineBytesBudget <= 0 {
		cfg.QuarantineBytesBudget = DefaultQuarantineBytes
	}

	c := &Controller{
		budget: cfg.QuarantineBytesBudget,
		sem:    semaphore.NewWeighted(cfg.QuarantineBytesBudget),
	}

	if cfg.EvictSweepsPerSec > 0 {
		burst := cfg.EvictBurst
		if burst <= 0 {
			burst = 1
		}
		c.sweepLimiter = rate.NewLimiter(rate.Limit(cfg.EvictSweepsPerSec), burst)
	}

	return c
}

// Budget returns the configured byte budget.
func (c *Controller) Budget() int64 {
	if c == nil {
		return 0
	}
	return c.budget
}

// TryAcquire attempts to reserve bytes for a new quarantine entry.
// Non-blocking: callers evict and retry on failure.
func (c *Controller) TryAcquire(bytes int64) bool {
	if c == nil || bytes <= 0 {
		return true
	}
	if bytes > c.budget {
		// A single entry larger than the whole budget can never be admitted.
		return false
	}
	if !c.sem.TryAcquire(bytes) {
		return false
	}
	c.used.Add(bytes)
	return true
}

// Release returns bytes reserved for an evicted quarantine entry.
func (c *Controller) Release(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	c.sem.Release(bytes)
	c.used.Add(-bytes)
}

// Used returns the bytes currently pinned by quarantine entries.
func (c *Controller) Used() int64 {
	if c == nil {
		return 0
	}
	return c.used.Load()
}

// AllowSweep reports whether a bulk eviction sweep may run now.
// Always true when sweeps are unpaced.
func (c *Controller) AllowSweep() bool {
	if c == nil || c.sweepLimiter == nil {
		return true
	}
	return c.sweepLimiter.Allow()
}
