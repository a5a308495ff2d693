// ABOUTME: Record is the live state of one conversation: snapshot plus watcher set
// ABOUTME: Owns both exclusively; state crosses the boundary only as deep copies

package session

import (
	"sync"
	"time"

	"github.com/2389/charter-gateway/internal/events"
)

// Record holds the mutable state of one live conversation. The Registry owns
// record lifecycle; the record's own lock guards its interior (state snapshot
// and watcher set) so collectors and stream registrations can touch it
// without holding the registry lock.
type Record struct {
	conversationID string
	createdAt      time.Time

	mu           sync.RWMutex
	lastActiveAt time.Time
	state        *events.CharterState
	watchers     map[string]*events.Watcher

	// interact serializes interactions against this conversation; held by
	// the dispatcher across the charter engine call.
	interact sync.Mutex
}

func newRecord(conversationID string, state *events.CharterState, now time.Time) *Record {
	return &Record{
		conversationID: conversationID,
		createdAt:      now,
		lastActiveAt:   now,
		state:          state.Clone(),
		watchers:       make(map[string]*events.Watcher),
	}
}

// ConversationID returns the record's immutable conversation id.
func (r *Record) ConversationID() string { return r.conversationID }

// CreatedAt returns when the record was created.
func (r *Record) CreatedAt() time.Time { return r.createdAt }

// LastActiveAt returns the record's activity clock.
func (r *Record) LastActiveAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastActiveAt
}

func (r *Record) touch(now time.Time) {
	r.mu.Lock()
	r.lastActiveAt = now
	r.mu.Unlock()
}

// State returns a deep copy of the current state snapshot.
func (r *Record) State() *events.CharterState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Clone()
}

// SetState replaces the state snapshot. The record takes ownership of state;
// callers pass a copy they will not touch again.
func (r *Record) SetState(state *events.CharterState) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
}

// Watchers returns a snapshot of the current watcher set.
func (r *Record) Watchers() []*events.Watcher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*events.Watcher, 0, len(r.watchers))
	for _, w := range r.watchers {
		out = append(out, w)
	}
	return out
}

// AddWatcher adds a watcher to the record's watcher set.
func (r *Record) AddWatcher(w *events.Watcher) {
	r.mu.Lock()
	r.watchers[w.ID()] = w
	r.mu.Unlock()
}

// RemoveWatcher removes a watcher by id. A no-op when the watcher is not
// present, so repeated detach signals from one transport are harmless.
func (r *Record) RemoveWatcher(watcherID string) {
	r.mu.Lock()
	delete(r.watchers, watcherID)
	r.mu.Unlock()
}

// detachWatchers empties the watcher set and returns the detached watchers.
func (r *Record) detachWatchers() []*events.Watcher {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*events.Watcher, 0, len(r.watchers))
	for id, w := range r.watchers {
		out = append(out, w)
		delete(r.watchers, id)
	}
	return out
}

// Interaction returns the per-conversation interaction lock.
func (r *Record) Interaction() *sync.Mutex { return &r.interact }
