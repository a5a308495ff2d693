// Package events defines the charter event model and the per-interaction
// Collector that accumulates events and pushes them to session watchers.
//
// Two business event types exist: assistant_prompt (one textual turn) and
// slot_update (a full snapshot of every slot's status). A third, close, is a
// sentinel delivered to watchers immediately before their stream ends.
//
// The Collector is built fresh for every interaction and bridges the charter
// engine's emit callbacks to live watcher notification. Its Finalize step
// reconciles the two delivery modes: live watchers hear each distinct piece
// of content at most once per interaction, while a replayed idempotent
// response still reconstructs the full event list for the HTTP caller.
package events
