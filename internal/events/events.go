// ABOUTME: Charter event model shared by the collector, stream registry and transport
// ABOUTME: Events are immutable once built; snapshots are deep-copied in and out

package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType categorizes the kind of charter event
type EventType string

const (
	EventAssistantPrompt EventType = "assistant_prompt"
	EventSlotUpdate      EventType = "slot_update"
	// EventClose is the sentinel pushed to watchers immediately before
	// their stream ends. It carries no business payload.
	EventClose EventType = "close"
)

// SlotStatus is the lifecycle state of a single charter slot
type SlotStatus string

const (
	SlotPending   SlotStatus = "pending"
	SlotAsked     SlotStatus = "asked"
	SlotFilled    SlotStatus = "filled"
	SlotConfirmed SlotStatus = "confirmed"
	SlotSkipped   SlotStatus = "skipped"
)

// SlotState is the full status of one slot in the guided conversation.
type SlotState struct {
	SlotID         string     `json:"slot_id"`
	Status         SlotStatus `json:"status"`
	Value          string     `json:"value,omitempty"`
	ConfirmedValue string     `json:"confirmed_value,omitempty"`
	Issues         []string   `json:"issues"`
	SkippedReason  string     `json:"skipped_reason,omitempty"`
	LastAskedAt    *time.Time `json:"last_asked_at,omitempty"`
	LastUpdatedAt  *time.Time `json:"last_updated_at,omitempty"`
}

// CharterState is a snapshot of the guided conversation's field state.
// The session record owns its copy exclusively; use Clone when handing
// a state across a boundary.
type CharterState struct {
	Status        string      `json:"status"`
	CurrentSlotID string      `json:"current_slot_id,omitempty"`
	Waiting       bool        `json:"waiting"`
	StartedAt     *time.Time  `json:"started_at,omitempty"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
	Slots         []SlotState `json:"slots"`
}

// Clone returns a deep copy of the state.
func (s *CharterState) Clone() *CharterState {
	if s == nil {
		return nil
	}
	out := &CharterState{
		Status:        s.Status,
		CurrentSlotID: s.CurrentSlotID,
		Waiting:       s.Waiting,
		StartedAt:     copyTime(s.StartedAt),
		CompletedAt:   copyTime(s.CompletedAt),
	}
	if s.Slots != nil {
		out.Slots = make([]SlotState, len(s.Slots))
		for i, slot := range s.Slots {
			out.Slots[i] = slot
			out.Slots[i].LastAskedAt = copyTime(slot.LastAskedAt)
			out.Slots[i].LastUpdatedAt = copyTime(slot.LastUpdatedAt)
			if slot.Issues != nil {
				out.Slots[i].Issues = append([]string(nil), slot.Issues...)
			}
		}
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Event is a charter event on the wire. AssistantPrompt events carry
// Message; SlotUpdate events carry the state fields; the close sentinel
// carries neither.
type Event struct {
	Type           EventType `json:"type"`
	ID             string    `json:"event_id"`
	ConversationID string    `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`

	// assistant_prompt
	Message string `json:"message,omitempty"`

	// slot_update
	Status        string      `json:"status,omitempty"`
	CurrentSlotID string      `json:"current_slot_id,omitempty"`
	Waiting       bool        `json:"waiting"`
	StartedAt     *time.Time  `json:"started_at,omitempty"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
	Slots         []SlotState `json:"slots,omitempty"`
}

// NewAssistantPrompt builds an assistant_prompt event for one textual turn.
func NewAssistantPrompt(conversationID, message string) *Event {
	return &Event{
		Type:           EventAssistantPrompt,
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		CreatedAt:      time.Now(),
		Message:        message,
	}
}

// NewSlotUpdate builds a slot_update event from a state snapshot.
// The state is deep-copied so later mutation cannot reach the event.
func NewSlotUpdate(conversationID string, state *CharterState) *Event {
	ev := &Event{
		Type:           EventSlotUpdate,
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		CreatedAt:      time.Now(),
	}
	if state != nil {
		c := state.Clone()
		ev.Status = c.Status
		ev.CurrentSlotID = c.CurrentSlotID
		ev.Waiting = c.Waiting
		ev.StartedAt = c.StartedAt
		ev.CompletedAt = c.CompletedAt
		ev.Slots = c.Slots
	}
	return ev
}

// NewClose builds the close sentinel for a conversation.
func NewClose(conversationID string) *Event {
	return &Event{
		Type:           EventClose,
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		CreatedAt:      time.Now(),
	}
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	out := *e
	out.StartedAt = copyTime(e.StartedAt)
	out.CompletedAt = copyTime(e.CompletedAt)
	if e.Slots != nil {
		out.Slots = make([]SlotState, len(e.Slots))
		for i, slot := range e.Slots {
			out.Slots[i] = slot
			out.Slots[i].LastAskedAt = copyTime(slot.LastAskedAt)
			out.Slots[i].LastUpdatedAt = copyTime(slot.LastUpdatedAt)
			if slot.Issues != nil {
				out.Slots[i].Issues = append([]string(nil), slot.Issues...)
			}
		}
	}
	return &out
}

// InteractionResult is what the charter engine reports at the end of one
// interaction. AssistantMessages is the engine's own record of the turns it
// believes it produced; the collector reconciles it against what was actually
// emitted (see Collector.Finalize).
type InteractionResult struct {
	Handled           bool
	Idempotent        bool
	State             *CharterState
	AssistantMessages []string

	PendingToolFields    []string
	PendingToolArguments map[string]any
	PendingToolWarnings  []string
}
