// Package session owns conversation lifecycle: the live session registry,
// the tombstone table that distinguishes "recently ended" from "never
// existed", and the correlation cache that makes retried start requests
// idempotent.
//
// # Lifecycle
//
// A conversation id moves through exactly one of three states at a time:
//
//	Unknown -> Active        on Create
//	Active  -> Active        on every successful Get/Touch (idle clock reset)
//	Active  -> Tombstoned    on idle timeout or explicit Remove
//	Tombstoned -> Unknown    when the retention window elapses
//
// Lookups map the states to a deterministic error taxonomy: ErrBadRequest
// for blank ids, ErrExpired while tombstoned, ErrNotFound otherwise.
//
// # Eviction
//
// Every public registry operation sweeps on entry, so TTLs hold without any
// background task; Sweep is also safe to drive from a ticker so idle
// processes evict on time. Watchers of an evicted session receive the close
// sentinel before their channels close.
//
// All state is process-local and in-memory. Horizontal scaling requires
// replacing this package's storage with a shared TTL-capable store and
// real per-conversation mutual exclusion.
package session
