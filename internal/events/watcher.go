// ABOUTME: Watcher is the push-delivery handle held in a session's watcher set
// ABOUTME: Buffered channel semantics; slow consumers drop events, never block the producer

package events

import (
	"sync"

	"github.com/google/uuid"
)

// DefaultWatcherBuffer is the channel buffer for each watcher.
// Matches the broadcaster pattern (64 events).
const DefaultWatcherBuffer = 64

// Watcher receives pushed events for one conversation. Sends are
// non-blocking: a full channel drops the event for that watcher only,
// isolating a slow consumer from the producer and from its peers.
type Watcher struct {
	id   string
	ch   chan *Event
	once sync.Once
}

// NewWatcher creates a watcher with the given channel buffer.
// A non-positive buffer falls back to DefaultWatcherBuffer.
func NewWatcher(buffer int) *Watcher {
	if buffer <= 0 {
		buffer = DefaultWatcherBuffer
	}
	return &Watcher{
		id: uuid.New().String(),
		ch: make(chan *Event, buffer),
	}
}

// ID returns the watcher's unique identifier.
func (w *Watcher) ID() string { return w.id }

// Events returns the receive side of the watcher's channel. The channel is
// closed when the watcher is detached or its conversation ends.
func (w *Watcher) Events() <-chan *Event { return w.ch }

// Send delivers an event without blocking. Returns false if the event was
// dropped because the watcher's buffer is full or the watcher is closed.
func (w *Watcher) Send(ev *Event) (delivered bool) {
	defer func() {
		// Send on a closed channel panics; a watcher detached between the
		// snapshot of the watcher set and the send is treated as a drop.
		if recover() != nil {
			delivered = false
		}
	}()
	select {
	case w.ch <- ev:
		return true
	default:
		return false
	}
}

// Close closes the watcher's channel. Safe to call more than once.
func (w *Watcher) Close() {
	w.once.Do(func() { close(w.ch) })
}
