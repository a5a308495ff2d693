// ABOUTME: HTTP API handlers for the conversation endpoints and SSE streaming
// ABOUTME: Maps the session error taxonomy onto 400/404/410/5xx with stable codes

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/charter-gateway/internal/dispatch"
	"github.com/2389/charter-gateway/internal/events"
	"github.com/2389/charter-gateway/internal/session"
)

// StartConversationRequest is the JSON request body for POST /api/conversations.
type StartConversationRequest struct {
	CorrelationID string `json:"correlation_id,omitempty"`
}

// StartConversationResponse is the JSON response for POST /api/conversations.
type StartConversationResponse struct {
	ConversationID string          `json:"conversation_id"`
	Events         []*events.Event `json:"events"`
	InitialPrompt  string          `json:"initial_prompt,omitempty"`
	Idempotent     bool            `json:"idempotent"`
}

// SendInteractionRequest is the JSON request body for
// POST /api/conversations/{id}/interactions.
type SendInteractionRequest struct {
	CorrelationID string `json:"correlation_id,omitempty"`
	Message       string `json:"message,omitempty"`
	Command       string `json:"command,omitempty"`
}

// SendInteractionResponse is the JSON response for a sent interaction.
type SendInteractionResponse struct {
	Handled              bool            `json:"handled"`
	Idempotent           bool            `json:"idempotent"`
	Events               []*events.Event `json:"events"`
	PendingToolFields    []string        `json:"pending_tool_fields,omitempty"`
	PendingToolArguments map[string]any  `json:"pending_tool_arguments,omitempty"`
	PendingToolWarnings  []string        `json:"pending_tool_warnings,omitempty"`
}

// HistoryResponse is the JSON response for GET /api/conversations/{id}/history.
type HistoryResponse struct {
	ConversationID string          `json:"conversation_id"`
	Events         []*events.Event `json:"events"`
}

// handleStart handles POST /api/conversations.
func (g *Gateway) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		g.writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	resp, err := g.dispatcher.Start(r.Context(), &dispatch.StartRequest{CorrelationID: req.CorrelationID})
	if err != nil {
		g.writeError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, StartConversationResponse{
		ConversationID: resp.ConversationID,
		Events:         resp.Events,
		InitialPrompt:  resp.InitialPrompt,
		Idempotent:     resp.Idempotent,
	})
}

// handleSendInteraction handles POST /api/conversations/{id}/interactions.
func (g *Gateway) handleSendInteraction(w http.ResponseWriter, r *http.Request) {
	var req SendInteractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	resp, err := g.dispatcher.SendInteraction(r.Context(), &dispatch.SendRequest{
		ConversationID: r.PathValue("id"),
		CorrelationID:  req.CorrelationID,
		Message:        req.Message,
		Command:        req.Command,
	})
	if err != nil {
		g.writeError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, SendInteractionResponse{
		Handled:              resp.Handled,
		Idempotent:           resp.Idempotent,
		Events:               resp.Events,
		PendingToolFields:    resp.PendingToolFields,
		PendingToolArguments: resp.PendingToolArguments,
		PendingToolWarnings:  resp.PendingToolWarnings,
	})
}

// handleStream handles GET /api/conversations/{id}/events.
// Registration failures are reported as an ordinary error response before
// the connection is upgraded to a stream, never mid-stream.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.writeJSONError(w, http.StatusInternalServerError, "internal_error", "streaming not supported")
		return
	}

	reg, err := g.dispatcher.RegisterStream(r.PathValue("id"))
	if err != nil {
		g.writeError(w, err)
		return
	}
	defer reg.Detach()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Connection-opened acknowledgement, then the catch-up snapshot so a
	// new subscriber sees current state without waiting for a mutation.
	fmt.Fprint(w, ": connected\n\n")
	g.writeSSEEvent(w, reg.Snapshot)
	flusher.Flush()

	heartbeat := time.NewTicker(g.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()

		case ev, open := <-reg.Events:
			if !open {
				return
			}
			g.writeSSEEvent(w, ev)
			flusher.Flush()
			if ev.Type == events.EventClose {
				return
			}
		}
	}
}

// handleClose handles DELETE /api/conversations/{id}.
func (g *Gateway) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := g.dispatcher.CloseConversation(r.Context(), r.PathValue("id")); err != nil {
		g.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHistory handles GET /api/conversations/{id}/history.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	if g.history == nil {
		g.writeJSONError(w, http.StatusNotFound, "not_found", "transcript ledger disabled")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			g.writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid limit")
			return
		}
		limit = parsed
	}

	conversationID := r.PathValue("id")
	evs, err := g.history.GetEvents(r.Context(), conversationID, limit)
	if err != nil {
		g.writeError(w, err)
		return
	}
	if evs == nil {
		evs = []*events.Event{}
	}

	g.writeJSON(w, http.StatusOK, HistoryResponse{
		ConversationID: conversationID,
		Events:         evs,
	})
}

// handleHealth handles GET /healthz.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeSSEEvent writes a single event with standard SSE framing:
// an id line, an event line, a data line, and a blank terminator.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, ev *events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	fmt.Fprintf(w, "id: %s\n", ev.ID)
	fmt.Fprintf(w, "event: %s\n", ev.Type)
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// writeError maps an error to its transport status and stable code so
// clients can branch without string-matching messages.
func (g *Gateway) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrBadRequest):
		g.writeJSONError(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, session.ErrNotFound):
		g.writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, session.ErrExpired):
		g.writeJSONError(w, http.StatusGone, "expired", err.Error())
	default:
		g.logger.Error("request failed", "error", err)
		g.writeJSONError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

func (g *Gateway) writeJSONError(w http.ResponseWriter, status int, code, message string) {
	g.writeJSON(w, status, map[string]string{"error": message, "code": code})
}
