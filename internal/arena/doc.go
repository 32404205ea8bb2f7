// Package arena tracks allocations with generational quarantine for
// temporal safety.
//
// Every allocation gets a slot with a generation counter drawn from a
// single strictly increasing source. When freed, the slot enters a FIFO
// quarantine queue rather than being recycled immediately, so a stale
// pointer keeps hitting a quarantined slot (generation mismatch) instead
// of silently aliasing a new allocation.
//
// # Address model
//
// The arena owns a synthetic, 16-byte-aligned address space and hands out
// addresses from a bump allocator. Each allocation is backed by a real
// byte buffer carrying the fingerprint header, the user region, and the
// trailing canary, so corruption is physically observable. An allocation
// never spans two shard regions; shard routing from an address is a shift
// and a mask.
//
// # Concurrency
//
// The slot table is sharded 16 ways by address region, each shard behind
// its own mutex. Generation and epoch counters are atomics. The global
// epoch is bumped on every free and every quarantine eviction; per-thread
// validation caches compare their stored epoch against it, which is the
// single cross-thread staleness signal.
//
// No arena operation panics on caller-induced failure: double frees,
// foreign frees and corrupted canaries all resolve to a FreeResult the
// healing layer can act on.
package arena
