// ABOUTME: Top-level entry points sequencing session, collector, stream and engine
// ABOUTME: Start is idempotent under client retries via the correlation cache

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/charter-gateway/internal/events"
	"github.com/2389/charter-gateway/internal/session"
	"github.com/2389/charter-gateway/internal/stream"
)

// TranscriptLedger defines what the dispatcher needs from the history store.
type TranscriptLedger interface {
	SaveEvent(ctx context.Context, ev *events.Event) error
}

// Dispatcher composes the session registry, correlation cache, stream
// registry and charter engine behind the public conversation operations.
type Dispatcher struct {
	sessions     *session.Registry
	correlations *session.CorrelationCache
	streams      *stream.Registry
	ledger       TranscriptLedger // optional; nil disables transcript recording
	engine       Orchestrator
	logger       *slog.Logger
}

// New creates a dispatcher. ledger may be nil. Pass nil logger for default.
func New(
	sessions *session.Registry,
	correlations *session.CorrelationCache,
	streams *stream.Registry,
	ledger TranscriptLedger,
	engine Orchestrator,
	logger *slog.Logger,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sessions:     sessions,
		correlations: correlations,
		streams:      streams,
		ledger:       ledger,
		engine:       engine,
		logger:       logger.With("component", "dispatch"),
	}
}

// StartRequest starts a conversation. CorrelationID is the client-chosen
// idempotency token; empty skips the cache entirely.
type StartRequest struct {
	CorrelationID string
}

// StartResponse is the result of starting (or replaying a start of) a
// conversation.
type StartResponse struct {
	ConversationID string
	Events         []*events.Event
	InitialPrompt  string
	Idempotent     bool
}

// SendRequest is one interaction against a live conversation. Exactly one of
// Message and Command must be non-empty.
type SendRequest struct {
	ConversationID string
	CorrelationID  string
	Message        string
	Command        string
}

// SendResponse is the result of one interaction.
type SendResponse struct {
	Handled              bool
	Idempotent           bool
	Events               []*events.Event
	PendingToolFields    []string
	PendingToolArguments map[string]any
	PendingToolWarnings  []string
}

// Start creates a conversation, or replays a cached response when the
// correlation id was seen within its TTL and the referenced session is still
// live. A retried start counts as activity on the referenced session.
func (d *Dispatcher) Start(ctx context.Context, req *StartRequest) (*StartResponse, error) {
	if req.CorrelationID != "" {
		if conversationID, cached, ok := d.correlations.Lookup(req.CorrelationID); ok {
			if rec, err := d.sessions.Get(conversationID); err == nil {
				d.sessions.Touch(rec)
				resp, valid := cached.(*StartResponse)
				if valid {
					replay := *resp
					replay.Idempotent = true
					d.logger.Info("start replayed",
						"conversation_id", conversationID,
						"correlation_id", req.CorrelationID)
					return &replay, nil
				}
			}
			// Referenced session died between the cache's liveness check and
			// ours; fall through and create fresh.
		}
	}

	conversationID := uuid.New().String()
	rec, err := d.sessions.Create(conversationID, &events.CharterState{Status: "active"})
	if err != nil {
		return nil, err
	}

	collector := events.NewCollector(rec, d.logger)
	result, err := d.engine.StartSession(ctx, d.sessionContext(conversationID, req.CorrelationID, collector))
	if err != nil {
		d.sessions.Discard(conversationID)
		return nil, fmt.Errorf("starting charter session: %w", err)
	}

	evs := collector.Finalize(result, false)
	d.sessions.Touch(rec)
	d.persistEvents(evs)

	resp := &StartResponse{
		ConversationID: conversationID,
		Events:         evs,
		InitialPrompt:  lastPrompt(evs),
		Idempotent:     result.Idempotent,
	}
	if req.CorrelationID != "" {
		d.correlations.Store(req.CorrelationID, conversationID, resp)
	}

	d.logger.Info("conversation started",
		"conversation_id", conversationID,
		"events", len(evs))
	return resp, nil
}

// SendInteraction runs one message or command through the engine. Events the
// engine emits are pushed to watchers live; the finalize pass never
// re-notifies them.
func (d *Dispatcher) SendInteraction(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	if (req.Message == "") == (req.Command == "") {
		return nil, fmt.Errorf("%w: exactly one of message or command is required", session.ErrBadRequest)
	}

	rec, err := d.sessions.Get(req.ConversationID)
	if err != nil {
		return nil, err
	}

	// Interactions against one conversation are serialized; two concurrent
	// sends would otherwise interleave engine calls and race on the state
	// snapshot.
	rec.Interaction().Lock()
	defer rec.Interaction().Unlock()

	collector := events.NewCollector(rec, d.logger)
	sctx := d.sessionContext(req.ConversationID, req.CorrelationID, collector)

	var result *events.InteractionResult
	if req.Command != "" {
		result, err = d.engine.HandleCommand(ctx, sctx, req.Command)
	} else {
		result, err = d.engine.HandleUserMessage(ctx, sctx, req.Message)
	}
	if err != nil {
		if errors.Is(err, ErrSessionUnknown) {
			// The engine's bookkeeping diverged from ours; treat the local
			// record as already tombstoned.
			d.sessions.Discard(req.ConversationID)
			return nil, fmt.Errorf("%w: engine no longer tracks session", session.ErrExpired)
		}
		return nil, fmt.Errorf("charter engine: %w", err)
	}

	evs := collector.Finalize(result, false)
	d.sessions.Touch(rec)
	d.persistEvents(evs)

	return &SendResponse{
		Handled:              result.Handled,
		Idempotent:           result.Idempotent,
		Events:               evs,
		PendingToolFields:    result.PendingToolFields,
		PendingToolArguments: result.PendingToolArguments,
		PendingToolWarnings:  result.PendingToolWarnings,
	}, nil
}

// RegisterStream adds a live-update subscriber to a conversation.
func (d *Dispatcher) RegisterStream(conversationID string) (*stream.Registration, error) {
	return d.streams.Register(conversationID)
}

// CloseConversation ends a conversation: watchers get the close sentinel,
// the session is tombstoned, and the engine is told to drop its side.
func (d *Dispatcher) CloseConversation(ctx context.Context, conversationID string) error {
	if err := d.streams.CloseConversation(conversationID); err != nil {
		return err
	}
	if err := d.engine.DeleteSession(ctx, conversationID); err != nil && !errors.Is(err, ErrSessionUnknown) {
		d.logger.Warn("engine session delete failed",
			"conversation_id", conversationID,
			"error", err)
	}
	d.persistEvents([]*events.Event{events.NewClose(conversationID)})
	return nil
}

func (d *Dispatcher) sessionContext(conversationID, correlationID string, collector *events.Collector) *SessionContext {
	return &SessionContext{
		ConversationID: conversationID,
		CorrelationID:  correlationID,
		EmitAssistant: func(message string) {
			collector.EmitAssistant(message, true)
		},
		EmitState: func(state *events.CharterState) {
			collector.EmitState(state, true)
		},
	}
}

// persistEvents writes events to the transcript ledger with a separate
// timeout context. Best-effort: a ledger failure never fails the
// interaction.
func (d *Dispatcher) persistEvents(evs []*events.Event) {
	if d.ledger == nil || len(evs) == 0 {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, ev := range evs {
		if err := d.ledger.SaveEvent(saveCtx, ev); err != nil {
			d.logger.Error("failed to save transcript event",
				"error", err,
				"event_id", ev.ID,
				"conversation_id", ev.ConversationID)
		}
	}
}

// lastPrompt returns the text of the most recent assistant_prompt, the turn
// currently awaiting the user's answer.
func lastPrompt(evs []*events.Event) string {
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Type == events.EventAssistantPrompt {
			return evs[i].Message
		}
	}
	return ""
}
