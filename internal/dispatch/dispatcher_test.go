// ABOUTME: Tests for start idempotency, interaction sequencing and error translation
// ABOUTME: Uses a scriptable fake engine and an in-memory transcript ledger

package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/charter-gateway/internal/events"
	"github.com/2389/charter-gateway/internal/session"
	"github.com/2389/charter-gateway/internal/stream"
)

// fakeEngine is a scriptable Orchestrator for dispatcher tests.
type fakeEngine struct {
	mu       sync.Mutex
	known    map[string]bool
	onStart  func(sctx *SessionContext) (*events.InteractionResult, error)
	onHandle func(sctx *SessionContext, input string) (*events.InteractionResult, error)
}

func newFakeEngine() *fakeEngine {
	e := &fakeEngine{known: make(map[string]bool)}
	e.onStart = func(sctx *SessionContext) (*events.InteractionResult, error) {
		sctx.EmitAssistant("welcome")
		sctx.EmitState(&events.CharterState{Status: "collecting", CurrentSlotID: "project_name"})
		return &events.InteractionResult{
			Handled:           true,
			State:             &events.CharterState{Status: "collecting", CurrentSlotID: "project_name"},
			AssistantMessages: []string{"welcome"},
		}, nil
	}
	e.onHandle = func(sctx *SessionContext, input string) (*events.InteractionResult, error) {
		sctx.EmitAssistant("got: " + input)
		sctx.EmitState(&events.CharterState{Status: "collecting", CurrentSlotID: "objective"})
		return &events.InteractionResult{
			Handled:           true,
			State:             &events.CharterState{Status: "collecting", CurrentSlotID: "objective"},
			AssistantMessages: []string{"got: " + input},
		}, nil
	}
	return e
}

func (e *fakeEngine) StartSession(_ context.Context, sctx *SessionContext) (*events.InteractionResult, error) {
	e.mu.Lock()
	e.known[sctx.ConversationID] = true
	e.mu.Unlock()
	return e.onStart(sctx)
}

func (e *fakeEngine) HandleUserMessage(_ context.Context, sctx *SessionContext, text string) (*events.InteractionResult, error) {
	return e.onHandle(sctx, text)
}

func (e *fakeEngine) HandleCommand(_ context.Context, sctx *SessionContext, command string) (*events.InteractionResult, error) {
	return e.onHandle(sctx, command)
}

func (e *fakeEngine) DeleteSession(_ context.Context, conversationID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.known[conversationID] {
		return ErrSessionUnknown
	}
	delete(e.known, conversationID)
	return nil
}

func (e *fakeEngine) HasSession(_ context.Context, conversationID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.known[conversationID]
}

// memoryLedger records saved events for assertions.
type memoryLedger struct {
	mu     sync.Mutex
	events []*events.Event
}

func (l *memoryLedger) SaveEvent(_ context.Context, ev *events.Event) error {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	return nil
}

func (l *memoryLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

type fixture struct {
	sessions *session.Registry
	streams  *stream.Registry
	engine   *fakeEngine
	ledger   *memoryLedger
	d        *Dispatcher
}

func newDispatcherFixture(t *testing.T) *fixture {
	t.Helper()
	sessions := session.NewRegistry(session.RegistryOptions{})
	correlations := session.NewCorrelationCache(session.CorrelationOptions{
		TTL:   60 * time.Second,
		Alive: sessions.Alive,
	})
	streams := stream.NewRegistry(sessions, 8, nil)
	engine := newFakeEngine()
	ledger := &memoryLedger{}
	return &fixture{
		sessions: sessions,
		streams:  streams,
		engine:   engine,
		ledger:   ledger,
		d:        New(sessions, correlations, streams, ledger, engine, nil),
	}
}

func TestDispatcher_StartCreatesSession(t *testing.T) {
	f := newDispatcherFixture(t)

	resp, err := f.d.Start(t.Context(), &StartRequest{})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.ConversationID)
	assert.False(t, resp.Idempotent)
	assert.Equal(t, "welcome", resp.InitialPrompt)
	require.Len(t, resp.Events, 3) // prompt, live slot_update, final slot_update
	assert.Equal(t, events.EventAssistantPrompt, resp.Events[0].Type)

	_, err = f.sessions.Get(resp.ConversationID)
	assert.NoError(t, err)
	assert.True(t, f.engine.HasSession(t.Context(), resp.ConversationID))
	assert.Equal(t, 3, f.ledger.count())
}

func TestDispatcher_StartIsIdempotentUnderRetry(t *testing.T) {
	f := newDispatcherFixture(t)

	first, err := f.d.Start(t.Context(), &StartRequest{CorrelationID: "abc"})
	require.NoError(t, err)
	assert.False(t, first.Idempotent)

	second, err := f.d.Start(t.Context(), &StartRequest{CorrelationID: "abc"})
	require.NoError(t, err)
	assert.True(t, second.Idempotent)
	assert.Equal(t, first.ConversationID, second.ConversationID)
	assert.Equal(t, 1, f.sessions.Len(), "no orphaned second session")
}

func TestDispatcher_DistinctCorrelationIDsGetDistinctSessions(t *testing.T) {
	f := newDispatcherFixture(t)

	a, err := f.d.Start(t.Context(), &StartRequest{CorrelationID: "a"})
	require.NoError(t, err)
	b, err := f.d.Start(t.Context(), &StartRequest{CorrelationID: "b"})
	require.NoError(t, err)

	assert.NotEqual(t, a.ConversationID, b.ConversationID)
}

func TestDispatcher_StartWithoutCorrelationSkipsCache(t *testing.T) {
	f := newDispatcherFixture(t)

	a, err := f.d.Start(t.Context(), &StartRequest{})
	require.NoError(t, err)
	b, err := f.d.Start(t.Context(), &StartRequest{})
	require.NoError(t, err)

	assert.NotEqual(t, a.ConversationID, b.ConversationID)
}

func TestDispatcher_ReplayAfterSessionDeathCreatesFresh(t *testing.T) {
	f := newDispatcherFixture(t)

	first, err := f.d.Start(t.Context(), &StartRequest{CorrelationID: "abc"})
	require.NoError(t, err)

	_, err = f.sessions.Remove(first.ConversationID)
	require.NoError(t, err)

	second, err := f.d.Start(t.Context(), &StartRequest{CorrelationID: "abc"})
	require.NoError(t, err)
	assert.False(t, second.Idempotent)
	assert.NotEqual(t, first.ConversationID, second.ConversationID)
}

func TestDispatcher_SendValidatesMessageXorCommand(t *testing.T) {
	f := newDispatcherFixture(t)

	resp, err := f.d.Start(t.Context(), &StartRequest{})
	require.NoError(t, err)

	_, err = f.d.SendInteraction(t.Context(), &SendRequest{ConversationID: resp.ConversationID})
	assert.ErrorIs(t, err, session.ErrBadRequest)

	_, err = f.d.SendInteraction(t.Context(), &SendRequest{
		ConversationID: resp.ConversationID,
		Message:        "hello",
		Command:        "skip",
	})
	assert.ErrorIs(t, err, session.ErrBadRequest)
}

func TestDispatcher_SendResolutionErrors(t *testing.T) {
	f := newDispatcherFixture(t)

	_, err := f.d.SendInteraction(t.Context(), &SendRequest{ConversationID: "missing", Message: "hi"})
	assert.ErrorIs(t, err, session.ErrNotFound)

	resp, err := f.d.Start(t.Context(), &StartRequest{})
	require.NoError(t, err)
	require.NoError(t, f.d.CloseConversation(t.Context(), resp.ConversationID))

	_, err = f.d.SendInteraction(t.Context(), &SendRequest{ConversationID: resp.ConversationID, Message: "hi"})
	assert.ErrorIs(t, err, session.ErrExpired)
}

func TestDispatcher_SendNotifiesWatchersLiveOnly(t *testing.T) {
	f := newDispatcherFixture(t)

	resp, err := f.d.Start(t.Context(), &StartRequest{})
	require.NoError(t, err)

	reg, err := f.d.RegisterStream(resp.ConversationID)
	require.NoError(t, err)
	defer reg.Detach()

	sent, err := f.d.SendInteraction(t.Context(), &SendRequest{
		ConversationID: resp.ConversationID,
		Message:        "hello",
	})
	require.NoError(t, err)
	assert.True(t, sent.Handled)
	require.Len(t, sent.Events, 3) // prompt, live slot_update, final slot_update

	// The watcher hears the live pass exactly once; finalize never
	// re-notifies on this path.
	var got []*events.Event
	timeout := time.After(time.Second)
	for len(got) < 2 {
		select {
		case ev := <-reg.Events:
			got = append(got, ev)
		case <-timeout:
			t.Fatal("timed out waiting for watcher events")
		}
	}
	assert.Equal(t, events.EventAssistantPrompt, got[0].Type)
	assert.Equal(t, "got: hello", got[0].Message)
	assert.Equal(t, events.EventSlotUpdate, got[1].Type)

	select {
	case ev := <-reg.Events:
		t.Fatalf("unexpected extra event: %s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatcher_SendTranslatesEngineSessionGone(t *testing.T) {
	f := newDispatcherFixture(t)

	resp, err := f.d.Start(t.Context(), &StartRequest{})
	require.NoError(t, err)

	f.engine.onHandle = func(*SessionContext, string) (*events.InteractionResult, error) {
		return nil, ErrSessionUnknown
	}

	_, err = f.d.SendInteraction(t.Context(), &SendRequest{ConversationID: resp.ConversationID, Message: "hi"})
	assert.ErrorIs(t, err, session.ErrExpired)

	// The stale local record was discarded, not left live
	_, err = f.sessions.Get(resp.ConversationID)
	assert.ErrorIs(t, err, session.ErrExpired)
}

func TestDispatcher_OtherEngineErrorsAreOpaque(t *testing.T) {
	f := newDispatcherFixture(t)

	resp, err := f.d.Start(t.Context(), &StartRequest{})
	require.NoError(t, err)

	boom := errors.New("model overloaded")
	f.engine.onHandle = func(*SessionContext, string) (*events.InteractionResult, error) {
		return nil, boom
	}

	_, err = f.d.SendInteraction(t.Context(), &SendRequest{ConversationID: resp.ConversationID, Message: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, session.ErrExpired)

	// The session stays live; only the narrow session-gone case discards it
	_, err = f.sessions.Get(resp.ConversationID)
	assert.NoError(t, err)
}

func TestDispatcher_CloseDeliversSentinelAndTombstones(t *testing.T) {
	f := newDispatcherFixture(t)

	resp, err := f.d.Start(t.Context(), &StartRequest{})
	require.NoError(t, err)

	reg, err := f.d.RegisterStream(resp.ConversationID)
	require.NoError(t, err)

	require.NoError(t, f.d.CloseConversation(t.Context(), resp.ConversationID))

	var sentinel *events.Event
	timeout := time.After(time.Second)
	for sentinel == nil {
		select {
		case ev, open := <-reg.Events:
			if !open {
				t.Fatal("channel closed before sentinel")
			}
			if ev.Type == events.EventClose {
				sentinel = ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for close sentinel")
		}
	}

	assert.False(t, f.engine.HasSession(t.Context(), resp.ConversationID))
	_, err = f.sessions.Get(resp.ConversationID)
	assert.ErrorIs(t, err, session.ErrExpired)
}

func TestDispatcher_ConcurrentSendsAreSerialized(t *testing.T) {
	f := newDispatcherFixture(t)

	resp, err := f.d.Start(t.Context(), &StartRequest{})
	require.NoError(t, err)

	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0
	f.engine.onHandle = func(sctx *SessionContext, input string) (*events.InteractionResult, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return &events.InteractionResult{Handled: true, State: &events.CharterState{Status: "collecting"}}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.d.SendInteraction(t.Context(), &SendRequest{
				ConversationID: resp.ConversationID,
				Message:        "hello",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInFlight, "interactions against one conversation must not interleave")
}
