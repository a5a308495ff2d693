// ABOUTME: HTTP gateway wiring the conversation API onto a ServeMux
// ABOUTME: Applies bearer-token auth to /api routes when a verifier is configured

package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/charter-gateway/internal/auth"
	"github.com/2389/charter-gateway/internal/dispatch"
	"github.com/2389/charter-gateway/internal/events"
)

// DefaultHeartbeatInterval is how often SSE comment heartbeats are written,
// independent of business events, so intermediary proxies do not close an
// idle-looking connection.
const DefaultHeartbeatInterval = 15 * time.Second

// HistoryStore defines what the gateway needs from the transcript ledger.
type HistoryStore interface {
	GetEvents(ctx context.Context, conversationID string, limit int) ([]*events.Event, error)
}

// Gateway exposes the conversation API over HTTP.
type Gateway struct {
	dispatcher *dispatch.Dispatcher
	history    HistoryStore // optional; nil disables the history endpoint
	verifier   auth.TokenVerifier
	heartbeat  time.Duration
	logger     *slog.Logger
}

// Options configures a Gateway. History and Verifier may be nil.
type Options struct {
	Dispatcher        *dispatch.Dispatcher
	History           HistoryStore
	Verifier          auth.TokenVerifier
	HeartbeatInterval time.Duration
	Logger            *slog.Logger
}

// New creates a gateway.
func New(opts Options) *Gateway {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Gateway{
		dispatcher: opts.Dispatcher,
		history:    opts.History,
		verifier:   opts.Verifier,
		heartbeat:  opts.HeartbeatInterval,
		logger:     opts.Logger.With("component", "gateway"),
	}
}

// Register installs the gateway's routes on the given mux.
func (g *Gateway) Register(mux *http.ServeMux) {
	authed := auth.HTTPAuthMiddleware(g.verifier)

	mux.Handle("POST /api/conversations", authed(http.HandlerFunc(g.handleStart)))
	mux.Handle("POST /api/conversations/{id}/interactions", authed(http.HandlerFunc(g.handleSendInteraction)))
	mux.Handle("GET /api/conversations/{id}/events", authed(http.HandlerFunc(g.handleStream)))
	mux.Handle("DELETE /api/conversations/{id}", authed(http.HandlerFunc(g.handleClose)))
	mux.Handle("GET /api/conversations/{id}/history", authed(http.HandlerFunc(g.handleHistory)))
	mux.HandleFunc("GET /healthz", g.handleHealth)
}

// Handler returns a fully routed handler for the gateway.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	g.Register(mux)
	return mux
}
