// ABOUTME: Per-interaction event collector bridging the charter engine to watchers
// ABOUTME: Reconciles live-notify emission against idempotent-replay reconstruction

package events

import (
	"log/slog"
	"strings"
)

// Session is what the collector needs from a session record.
type Session interface {
	ConversationID() string
	Watchers() []*Watcher
	SetState(state *CharterState)
}

// Collector accumulates the events of one interaction against one session.
// Build a fresh Collector per interaction; it is not reusable and not safe
// for concurrent use.
type Collector struct {
	session *combined
	events  []*Event
	seen    map[string]struct{} // trimmed assistant texts emitted this pass
	logger  *slog.Logger
}

// combined avoids re-fetching the conversation id on every emit.
type combined struct {
	Session
	conversationID string
}

// NewCollector creates a collector bound to the given session.
// Pass nil logger for default.
func NewCollector(session Session, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		session: &combined{Session: session, conversationID: session.ConversationID()},
		seen:    make(map[string]struct{}),
		logger:  logger.With("component", "collector", "conversation_id", session.ConversationID()),
	}
}

// EmitAssistant records one assistant turn. Empty and whitespace-only
// messages are ignored, as is any text already emitted by this collector.
// With notify set, the event is pushed to every current watcher.
func (c *Collector) EmitAssistant(message string, notify bool) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return
	}
	if _, dup := c.seen[trimmed]; dup {
		return
	}
	c.seen[trimmed] = struct{}{}
	ev := NewAssistantPrompt(c.session.conversationID, trimmed)
	c.events = append(c.events, ev)
	if notify {
		c.push(ev)
	}
}

// EmitState replaces the session's state snapshot with a deep copy of state
// and records a full slot_update event built from it.
func (c *Collector) EmitState(state *CharterState, notify bool) {
	c.session.SetState(state.Clone())
	ev := NewSlotUpdate(c.session.conversationID, state)
	c.events = append(c.events, ev)
	if notify {
		c.push(ev)
	}
}

// Finalize closes out the interaction with the engine's result. Call exactly
// once.
//
// When the engine reports an idempotent replay, or when nothing was emitted
// at all during this pass (an engine that never called the emit callbacks),
// the result's assistant messages are re-walked so the returned event list
// reconstructs the full response. Messages the dedup set has not seen are
// emitted normally; messages it has seen are still appended as duplicate
// events so a replayed response is self-consistent, without re-notifying
// watchers unless notifyIdempotent is set.
//
// A final full slot_update built from the result state is always appended.
// The returned slice is a deep copy; callers cannot reach collector
// internals through it.
func (c *Collector) Finalize(result *InteractionResult, notifyIdempotent bool) []*Event {
	if result.Idempotent || len(c.events) == 0 {
		for _, msg := range result.AssistantMessages {
			trimmed := strings.TrimSpace(msg)
			if trimmed == "" {
				continue
			}
			if _, dup := c.seen[trimmed]; !dup {
				c.EmitAssistant(trimmed, notifyIdempotent)
				continue
			}
			// Already emitted live this pass: append a duplicate so the
			// replayed response carries it, pushing only on request.
			ev := NewAssistantPrompt(c.session.conversationID, trimmed)
			c.events = append(c.events, ev)
			if notifyIdempotent {
				c.push(ev)
			}
		}
	}

	// The final slot_update is appended unconditionally; with no result
	// state it carries only the envelope fields. The session snapshot is
	// only replaced when the engine actually produced a state.
	if result.State != nil {
		c.session.SetState(result.State.Clone())
	}
	final := NewSlotUpdate(c.session.conversationID, result.State)
	c.events = append(c.events, final)
	if notifyIdempotent {
		c.push(final)
	}

	out := make([]*Event, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Clone()
	}
	return out
}

// push delivers an event to every current watcher of the session.
// Best-effort: a full or closed watcher drops the event without affecting
// delivery to the others.
func (c *Collector) push(ev *Event) {
	for _, w := range c.session.Watchers() {
		if !w.Send(ev) {
			c.logger.Debug("dropped event for slow watcher",
				"watcher_id", w.ID(),
				"event_id", ev.ID)
		}
	}
}
