// ABOUTME: Listener-broadcast registry multiplexing live updates to conversation viewers
// ABOUTME: Registration returns a catch-up snapshot plus an idempotent detach capability

package stream

import (
	"log/slog"
	"sync"

	"github.com/2389/charter-gateway/internal/events"
	"github.com/2389/charter-gateway/internal/session"
)

// Registration is the ephemeral result of registering a stream listener.
type Registration struct {
	// WatcherID identifies the listener within its conversation.
	WatcherID string

	// Events receives pushed events. Closed after the close sentinel when
	// the conversation ends, or on Detach.
	Events <-chan *events.Event

	// Snapshot is a freshly computed slot_update reflecting the session
	// state at registration time, so a new subscriber is caught up without
	// waiting for the next mutation. Never reused from a cache.
	Snapshot *events.Event

	detach func()
	once   sync.Once
}

// Detach removes the listener from the conversation's watcher set and closes
// its channel. Safe to call more than once; a transport that signals both
// "close" and "aborted" for the same socket detaches exactly once in effect.
func (r *Registration) Detach() {
	r.once.Do(r.detach)
}

// Registry tracks live subscribers per conversation and performs broadcast
// duties that go through the session layer: registration with catch-up and
// conversation close with sentinel delivery.
type Registry struct {
	sessions *session.Registry
	buffer   int
	logger   *slog.Logger
}

// NewRegistry creates a stream registry over the given session registry.
// buffer is the per-watcher channel buffer; non-positive takes the default.
// Pass nil logger for default.
func NewRegistry(sessions *session.Registry, buffer int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: sessions,
		buffer:   buffer,
		logger:   logger.With("component", "stream"),
	}
}

// Register adds a listener to a live conversation. Resolution errors are the
// session layer's verbatim (ErrBadRequest/ErrNotFound/ErrExpired).
func (r *Registry) Register(conversationID string) (*Registration, error) {
	rec, err := r.sessions.Get(conversationID)
	if err != nil {
		return nil, err
	}

	w := events.NewWatcher(r.buffer)
	rec.AddWatcher(w)
	snapshot := events.NewSlotUpdate(conversationID, rec.State())

	r.logger.Debug("stream registered",
		"conversation_id", conversationID,
		"watcher_id", w.ID())

	return &Registration{
		WatcherID: w.ID(),
		Events:    w.Events(),
		Snapshot:  snapshot,
		detach: func() {
			rec.RemoveWatcher(w.ID())
			w.Close()
			r.logger.Debug("stream detached",
				"conversation_id", conversationID,
				"watcher_id", w.ID())
		},
	}, nil
}

// Broadcast pushes an event to every current watcher of a live conversation.
// Best-effort: slow watchers drop the event; an unknown conversation is a
// no-op.
func (r *Registry) Broadcast(conversationID string, ev *events.Event) {
	rec, err := r.sessions.Get(conversationID)
	if err != nil {
		return
	}
	for _, w := range rec.Watchers() {
		if !w.Send(ev) {
			r.logger.Debug("dropped event for slow watcher",
				"conversation_id", conversationID,
				"watcher_id", w.ID(),
				"event_id", ev.ID)
		}
	}
}

// CloseConversation removes the session and delivers exactly one close
// sentinel to each watcher it had, leaving the watcher set empty.
func (r *Registry) CloseConversation(conversationID string) error {
	watchers, err := r.sessions.Remove(conversationID)
	if err != nil {
		return err
	}

	sentinel := events.NewClose(conversationID)
	for _, w := range watchers {
		if !w.Send(sentinel) {
			r.logger.Debug("close sentinel dropped",
				"conversation_id", conversationID,
				"watcher_id", w.ID())
		}
		w.Close()
	}

	r.logger.Info("conversation closed",
		"conversation_id", conversationID,
		"watchers_notified", len(watchers))
	return nil
}
