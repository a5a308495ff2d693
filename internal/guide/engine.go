// ABOUTME: Built-in deterministic charter engine used when no LLM engine is wired
// ABOUTME: Collects three charter slots in order; implements dispatch.Orchestrator

package guide

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/charter-gateway/internal/dispatch"
	"github.com/2389/charter-gateway/internal/events"
)

const (
	SlotProjectName = "project_name"
	SlotObjective   = "objective"
	SlotTargetDate  = "target_date"
)

var slotOrder = []string{SlotProjectName, SlotObjective, SlotTargetDate}

var slotQuestions = map[string]string{
	SlotProjectName: "What is the project called?",
	SlotObjective:   "What outcome should the project deliver?",
	SlotTargetDate:  "When does the project need to be done? (YYYY-MM-DD)",
}

const (
	welcomeMessage  = "Let's draft your project charter. I'll walk you through it one field at a time."
	completeMessage = "That's everything I need. Your charter draft is ready."
)

// Engine is a minimal scripted implementation of dispatch.Orchestrator:
// it asks for each charter slot in order and records the answers verbatim.
// It stands in for the LLM-backed engine in local development and tests.
type Engine struct {
	mu       sync.Mutex
	sessions map[string]*events.CharterState
	logger   *slog.Logger
}

// New creates an engine with no sessions. Pass nil logger for default.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		sessions: make(map[string]*events.CharterState),
		logger:   logger.With("component", "guide"),
	}
}

var _ dispatch.Orchestrator = (*Engine)(nil)

// StartSession begins collecting the charter for a new conversation.
func (e *Engine) StartSession(_ context.Context, sctx *dispatch.SessionContext) (*events.InteractionResult, error) {
	now := time.Now()
	state := &events.CharterState{
		Status:        "collecting",
		CurrentSlotID: slotOrder[0],
		Waiting:       true,
		StartedAt:     &now,
	}
	for _, id := range slotOrder {
		state.Slots = append(state.Slots, events.SlotState{
			SlotID: id,
			Status: events.SlotPending,
			Issues: []string{},
		})
	}
	askSlot(state, slotOrder[0], now)

	e.mu.Lock()
	e.sessions[sctx.ConversationID] = state
	e.mu.Unlock()

	messages := []string{welcomeMessage, slotQuestions[slotOrder[0]]}
	for _, msg := range messages {
		sctx.EmitAssistant(msg)
	}
	sctx.EmitState(state)

	e.logger.Debug("session started", "conversation_id", sctx.ConversationID)
	return &events.InteractionResult{
		Handled:           true,
		State:             state.Clone(),
		AssistantMessages: messages,
	}, nil
}

// HandleUserMessage records the answer for the current slot and advances.
func (e *Engine) HandleUserMessage(_ context.Context, sctx *dispatch.SessionContext, text string) (*events.InteractionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, ok := e.sessions[sctx.ConversationID]
	if !ok {
		return nil, dispatch.ErrSessionUnknown
	}

	var messages []string
	now := time.Now()
	answer := strings.TrimSpace(text)

	switch {
	case state.Status == "complete":
		messages = append(messages, completeMessage)

	case answer == "":
		messages = append(messages, "I didn't catch that. "+slotQuestions[state.CurrentSlotID])

	default:
		slot := findSlot(state, state.CurrentSlotID)
		if issue := validateAnswer(slot.SlotID, answer); issue != "" {
			slot.Issues = append(slot.Issues, issue)
			slot.LastUpdatedAt = &now
			messages = append(messages, issue+" "+slotQuestions[slot.SlotID])
			break
		}
		slot.Value = answer
		slot.ConfirmedValue = answer
		slot.Status = events.SlotConfirmed
		slot.Issues = []string{}
		slot.LastUpdatedAt = &now
		messages = append(messages, e.advance(state, now))
	}

	for _, msg := range messages {
		sctx.EmitAssistant(msg)
	}
	sctx.EmitState(state)

	return &events.InteractionResult{
		Handled:           true,
		State:             state.Clone(),
		AssistantMessages: messages,
	}, nil
}

// HandleCommand supports "skip" (skip the current slot) and "status"
// (restate where the conversation is). Unknown commands are reported back
// as unhandled.
func (e *Engine) HandleCommand(_ context.Context, sctx *dispatch.SessionContext, command string) (*events.InteractionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, ok := e.sessions[sctx.ConversationID]
	if !ok {
		return nil, dispatch.ErrSessionUnknown
	}

	handled := true
	var messages []string
	now := time.Now()

	switch strings.ToLower(strings.TrimSpace(command)) {
	case "skip":
		if state.Status == "complete" {
			messages = append(messages, completeMessage)
			break
		}
		slot := findSlot(state, state.CurrentSlotID)
		slot.Status = events.SlotSkipped
		slot.SkippedReason = "skipped by user"
		slot.LastUpdatedAt = &now
		messages = append(messages, e.advance(state, now))

	case "status":
		messages = append(messages, statusSummary(state))

	default:
		handled = false
		messages = append(messages, fmt.Sprintf("Unknown command %q. Available commands: skip, status.", command))
	}

	for _, msg := range messages {
		sctx.EmitAssistant(msg)
	}
	sctx.EmitState(state)

	return &events.InteractionResult{
		Handled:           handled,
		State:             state.Clone(),
		AssistantMessages: messages,
	}, nil
}

// DeleteSession drops the engine's side of a conversation.
func (e *Engine) DeleteSession(_ context.Context, conversationID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sessions[conversationID]; !ok {
		return dispatch.ErrSessionUnknown
	}
	delete(e.sessions, conversationID)
	return nil
}

// HasSession reports whether the engine tracks a conversation.
func (e *Engine) HasSession(_ context.Context, conversationID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.sessions[conversationID]
	return ok
}

// advance moves to the next open slot, or completes the charter, and
// returns the assistant message for the transition.
func (e *Engine) advance(state *events.CharterState, now time.Time) string {
	for _, id := range slotOrder {
		slot := findSlot(state, id)
		if slot.Status == events.SlotPending || slot.Status == events.SlotAsked {
			askSlot(state, id, now)
			return slotQuestions[id]
		}
	}
	state.Status = "complete"
	state.CurrentSlotID = ""
	state.Waiting = false
	state.CompletedAt = &now
	return completeMessage
}

func askSlot(state *events.CharterState, slotID string, now time.Time) {
	slot := findSlot(state, slotID)
	slot.Status = events.SlotAsked
	slot.LastAskedAt = &now
	state.CurrentSlotID = slotID
	state.Waiting = true
}

func findSlot(state *events.CharterState, slotID string) *events.SlotState {
	for i := range state.Slots {
		if state.Slots[i].SlotID == slotID {
			return &state.Slots[i]
		}
	}
	return nil
}

func validateAnswer(slotID, answer string) string {
	if slotID != SlotTargetDate {
		return ""
	}
	if _, err := time.Parse("2006-01-02", answer); err != nil {
		return "That doesn't look like a date I can use."
	}
	return ""
}

func statusSummary(state *events.CharterState) string {
	confirmed := 0
	for _, slot := range state.Slots {
		if slot.Status == events.SlotConfirmed || slot.Status == events.SlotSkipped {
			confirmed++
		}
	}
	if state.Status == "complete" {
		return completeMessage
	}
	return fmt.Sprintf("%d of %d fields done. %s", confirmed, len(state.Slots), slotQuestions[state.CurrentSlotID])
}
