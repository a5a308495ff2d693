// ABOUTME: Contract consumed from the external guided-conversation engine
// ABOUTME: Defines the callback context and the distinguished session-gone error

package dispatch

import (
	"context"
	"errors"

	"github.com/2389/charter-gateway/internal/events"
)

// ErrSessionUnknown is the distinguished condition an Orchestrator raises
// when it no longer tracks a session this layer still considers live. The
// dispatcher translates it narrowly: the stale local record is discarded and
// the caller sees Expired. No other engine error is reinterpreted.
var ErrSessionUnknown = errors.New("engine session unknown")

// SessionContext is passed into every Orchestrator call. The two emit
// callbacks are the collector's EmitAssistant/EmitState, the sole bridge
// between the engine's internal stepping and this layer's broadcast.
type SessionContext struct {
	ConversationID string
	CorrelationID  string
	EmitAssistant  func(message string)
	EmitState      func(state *events.CharterState)
}

// Orchestrator is the guided field-by-field conversation engine. Its state
// machine, validation rules, and LLM-backed extraction live behind this
// interface; this layer only sequences calls into it and fans out what it
// emits.
type Orchestrator interface {
	StartSession(ctx context.Context, sctx *SessionContext) (*events.InteractionResult, error)
	HandleUserMessage(ctx context.Context, sctx *SessionContext, text string) (*events.InteractionResult, error)
	HandleCommand(ctx context.Context, sctx *SessionContext, command string) (*events.InteractionResult, error)
	DeleteSession(ctx context.Context, conversationID string) error
	HasSession(ctx context.Context, conversationID string) bool
}
