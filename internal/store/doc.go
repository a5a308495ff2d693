// Package store persists the transcript ledger: an append-only record of
// every finalized charter event, keyed by conversation id. Writes are
// best-effort from the dispatcher's perspective; reads power the history
// endpoint. Session liveness never touches this package.
package store
