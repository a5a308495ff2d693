// ABOUTME: In-memory session registry with idle eviction and tombstone table
// ABOUTME: Tombstones distinguish "recently ended" (410) from "never existed" (404)

package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/2389/charter-gateway/internal/events"
)

const (
	// DefaultIdleTimeout is how long a session may sit without activity
	// before the sweep tombstones it.
	DefaultIdleTimeout = 5 * time.Minute

	// DefaultTombstoneRetention is how long a tombstone is kept after a
	// session is removed. Within the window lookups report Expired;
	// afterwards NotFound.
	DefaultTombstoneRetention = 10 * time.Minute
)

// Registry owns the conversation id -> record map and the tombstone table.
// Every public operation runs an eviction sweep first, so TTL behavior does
// not depend on a background timer; callers that want timely eviction on an
// idle process can additionally run Sweep from a ticker.
type Registry struct {
	mu         sync.Mutex
	sessions   map[string]*Record
	tombstones map[string]time.Time // conversationID -> deletedAt

	idleTimeout time.Duration
	retention   time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// RegistryOptions configures a Registry. Zero values take defaults.
type RegistryOptions struct {
	IdleTimeout        time.Duration
	TombstoneRetention time.Duration
	Now                func() time.Time // test hook
	Logger             *slog.Logger
}

// NewRegistry creates an empty session registry.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.TombstoneRetention <= 0 {
		opts.TombstoneRetention = DefaultTombstoneRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		sessions:    make(map[string]*Record),
		tombstones:  make(map[string]time.Time),
		idleTimeout: opts.IdleTimeout,
		retention:   opts.TombstoneRetention,
		now:         opts.Now,
		logger:      opts.Logger.With("component", "session"),
	}
}

// Create inserts a new record with an empty watcher set and the given
// initial state. Fails with ErrBadRequest on a blank id.
func (r *Registry) Create(conversationID string, initial *events.CharterState) (*Record, error) {
	if conversationID == "" {
		return nil, ErrBadRequest
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()

	// A fresh create supersedes any tombstone for the same id; the id is in
	// at most one of {live, tombstone} at any time.
	delete(r.tombstones, conversationID)

	rec := newRecord(conversationID, initial, r.now())
	r.sessions[conversationID] = rec
	r.logger.Debug("session created", "conversation_id", conversationID)
	return rec, nil
}

// Get resolves a live record. The error kind is a deterministic function of
// the id's lifecycle: blank -> ErrBadRequest, tombstoned -> ErrExpired,
// otherwise absent -> ErrNotFound.
func (r *Registry) Get(conversationID string) (*Record, error) {
	if conversationID == "" {
		return nil, ErrBadRequest
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()

	if rec, ok := r.sessions[conversationID]; ok {
		return rec, nil
	}
	if _, ok := r.tombstones[conversationID]; ok {
		return nil, ErrExpired
	}
	return nil, ErrNotFound
}

// Touch resets the record's activity clock to now.
func (r *Registry) Touch(rec *Record) {
	rec.touch(r.now())
}

// Remove deletes the live record, inserts a tombstone stamped with the
// current time, and returns the record's watcher set so the caller can
// notify the watchers before discarding them. Resolution errors are the
// same as Get's.
func (r *Registry) Remove(conversationID string) ([]*events.Watcher, error) {
	if conversationID == "" {
		return nil, ErrBadRequest
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()

	rec, ok := r.sessions[conversationID]
	if !ok {
		if _, dead := r.tombstones[conversationID]; dead {
			return nil, ErrExpired
		}
		return nil, ErrNotFound
	}

	delete(r.sessions, conversationID)
	r.tombstones[conversationID] = r.now()
	r.logger.Debug("session removed", "conversation_id", conversationID)
	return rec.detachWatchers(), nil
}

// Discard drops a live record and tombstones it without resolution errors.
// Used when a collaborator reports the session gone while this layer still
// thought it was live; detached watchers are told the conversation closed.
func (r *Registry) Discard(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.sessions[conversationID]
	if !ok {
		return
	}
	delete(r.sessions, conversationID)
	r.tombstones[conversationID] = r.now()
	r.closeWatchers(conversationID, rec.detachWatchers())
	r.logger.Warn("stale session discarded", "conversation_id", conversationID)
}

// Alive reports whether a live (non-tombstoned) session exists for the id.
// Used by the correlation cache's liveness check; runs no sweep so a cache
// lookup inside another operation cannot re-enter the lock ordering.
func (r *Registry) Alive(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[conversationID]
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep runs one eviction pass: idle sessions are tombstoned and their
// watchers closed with the close sentinel; tombstones past retention are
// dropped entirely. Every public operation already sweeps on entry; this
// is for background tickers.
func (r *Registry) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
}

func (r *Registry) sweepLocked() {
	now := r.now()
	for id, rec := range r.sessions {
		if now.Sub(rec.LastActiveAt()) < r.idleTimeout {
			continue
		}
		delete(r.sessions, id)
		r.tombstones[id] = now
		r.closeWatchers(id, rec.detachWatchers())
		r.logger.Info("idle session evicted", "conversation_id", id)
	}
	for id, deletedAt := range r.tombstones {
		if now.Sub(deletedAt) >= r.retention {
			delete(r.tombstones, id)
		}
	}
}

// closeWatchers pushes the close sentinel to each watcher and closes it.
func (r *Registry) closeWatchers(conversationID string, watchers []*events.Watcher) {
	if len(watchers) == 0 {
		return
	}
	sentinel := events.NewClose(conversationID)
	for _, w := range watchers {
		if !w.Send(sentinel) {
			r.logger.Debug("close sentinel dropped", "watcher_id", w.ID())
		}
		w.Close()
	}
}
