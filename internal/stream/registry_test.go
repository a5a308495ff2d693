// ABOUTME: Tests for stream registration, fan-out, detach idempotence and close sentinel
// ABOUTME: Session registry is real; events are pushed through record watcher sets

package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/charter-gateway/internal/events"
	"github.com/2389/charter-gateway/internal/session"
)

func newFixture(t *testing.T) (*session.Registry, *Registry) {
	t.Helper()
	sessions := session.NewRegistry(session.RegistryOptions{})
	return sessions, NewRegistry(sessions, 8, nil)
}

func receive(t *testing.T, ch <-chan *events.Event) *events.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed while expecting event")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestRegistry_RegisterReturnsFreshSnapshot(t *testing.T) {
	sessions, streams := newFixture(t)

	_, err := sessions.Create("c1", &events.CharterState{Status: "collecting", CurrentSlotID: "objective"})
	require.NoError(t, err)

	reg, err := streams.Register("c1")
	require.NoError(t, err)
	defer reg.Detach()

	require.NotNil(t, reg.Snapshot)
	assert.Equal(t, events.EventSlotUpdate, reg.Snapshot.Type)
	assert.Equal(t, "objective", reg.Snapshot.CurrentSlotID)

	reg2, err := streams.Register("c1")
	require.NoError(t, err)
	defer reg2.Detach()
	assert.NotEqual(t, reg.Snapshot.ID, reg2.Snapshot.ID, "snapshots are computed fresh, not cached")
}

func TestRegistry_RegisterPropagatesResolutionErrors(t *testing.T) {
	sessions, streams := newFixture(t)

	_, err := streams.Register("")
	assert.ErrorIs(t, err, session.ErrBadRequest)

	_, err = streams.Register("missing")
	assert.ErrorIs(t, err, session.ErrNotFound)

	_, err = sessions.Create("gone", &events.CharterState{})
	require.NoError(t, err)
	_, err = sessions.Remove("gone")
	require.NoError(t, err)

	_, err = streams.Register("gone")
	assert.ErrorIs(t, err, session.ErrExpired)
}

func TestRegistry_BroadcastReachesAllListenersInOrder(t *testing.T) {
	sessions, streams := newFixture(t)

	_, err := sessions.Create("c1", &events.CharterState{})
	require.NoError(t, err)

	var regs []*Registration
	for i := 0; i < 3; i++ {
		reg, err := streams.Register("c1")
		require.NoError(t, err)
		defer reg.Detach()
		regs = append(regs, reg)
	}

	first := events.NewAssistantPrompt("c1", "first")
	second := events.NewAssistantPrompt("c1", "second")
	streams.Broadcast("c1", first)
	streams.Broadcast("c1", second)

	for i, reg := range regs {
		got1 := receive(t, reg.Events)
		got2 := receive(t, reg.Events)
		assert.Equal(t, first.ID, got1.ID, "listener %d order", i)
		assert.Equal(t, second.ID, got2.ID, "listener %d order", i)
	}
}

func TestRegistry_DetachIsIdempotent(t *testing.T) {
	sessions, streams := newFixture(t)

	rec, err := sessions.Create("c1", &events.CharterState{})
	require.NoError(t, err)

	reg1, err := streams.Register("c1")
	require.NoError(t, err)
	reg2, err := streams.Register("c1")
	require.NoError(t, err)
	defer reg2.Detach()

	// A transport may fire both "close" and "aborted" for one socket
	reg1.Detach()
	reg1.Detach()

	assert.Len(t, rec.Watchers(), 1, "second detach must not remove another listener")
}

func TestRegistry_DetachedListenerStopsReceiving(t *testing.T) {
	sessions, streams := newFixture(t)

	_, err := sessions.Create("c1", &events.CharterState{})
	require.NoError(t, err)

	reg, err := streams.Register("c1")
	require.NoError(t, err)
	reg.Detach()

	streams.Broadcast("c1", events.NewAssistantPrompt("c1", "after detach"))

	_, open := <-reg.Events
	assert.False(t, open, "detached listener's channel is closed")
}

func TestRegistry_CloseDeliversOneSentinelPerWatcher(t *testing.T) {
	sessions, streams := newFixture(t)

	rec, err := sessions.Create("c1", &events.CharterState{})
	require.NoError(t, err)

	reg1, err := streams.Register("c1")
	require.NoError(t, err)
	reg2, err := streams.Register("c1")
	require.NoError(t, err)

	require.NoError(t, streams.CloseConversation("c1"))

	for i, reg := range []*Registration{reg1, reg2} {
		ev := receive(t, reg.Events)
		assert.Equal(t, events.EventClose, ev.Type, "listener %d", i)

		select {
		case _, open := <-reg.Events:
			assert.False(t, open, "listener %d channel closed after sentinel", i)
		case <-time.After(time.Second):
			t.Fatalf("listener %d channel not closed", i)
		}
	}

	assert.Empty(t, rec.Watchers())

	_, err = sessions.Get("c1")
	assert.ErrorIs(t, err, session.ErrExpired)
}

func TestRegistry_CloseUnknownConversation(t *testing.T) {
	_, streams := newFixture(t)

	err := streams.CloseConversation("missing")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestRegistry_LateListenerCatchesUpViaSnapshot(t *testing.T) {
	sessions, streams := newFixture(t)

	rec, err := sessions.Create("c1", &events.CharterState{Status: "collecting"})
	require.NoError(t, err)

	// State moved on while nobody was listening
	rec.SetState(&events.CharterState{Status: "complete"})

	reg, err := streams.Register("c1")
	require.NoError(t, err)
	defer reg.Detach()

	assert.Equal(t, "complete", reg.Snapshot.Status)
}
