package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryJoinMovesBetweenRooms(t *testing.T) {
	r := NewRegistry()
	s := NewSession("a", 0)

	assert.Equal(t, "", r.Join(s, "general"))
	assert.Equal(t, 1, r.Count("general"))

	assert.Equal(t, "general", r.Join(s, "random"))
	assert.Equal(t, 0, r.Count("general"))
	assert.Equal(t, 1, r.Count("random"))
	assert.Equal(t, 1, r.Rooms(), "empty rooms are dropped")

	room, ok := r.RoomOf(s)
	require.True(t, ok)
	assert.Equal(t, "random", room)
}

func TestRegistryLeave(t *testing.T) {
	r := NewRegistry()
	s := NewSession("a", 0)

	assert.Equal(t, "", r.Leave(s), "leaving while absent is a no-op")

	r.Join(s, "general")
	assert.Equal(t, "general", r.Leave(s))
	assert.Equal(t, 0, r.Count("general"))

	_, ok := r.RoomOf(s)
	assert.False(t, ok)
}

func TestRegistryBroadcastLocalSkipsExcept(t *testing.T) {
	r := NewRegistry()
	alice := NewSession("a", 0)
	bob := NewSession("b", 0)
	carol := NewSession("c", 0)

	r.Join(alice, "general")
	r.Join(bob, "general")
	r.Join(carol, "random")

	n := r.BroadcastLocal("general", &Event{Kind: EventUserTyping, User: "alice"}, alice)
	assert.Equal(t, 1, n)

	ev := mustEvent(t, bob.Events, EventUserTyping)
	assert.Equal(t, "alice", ev.User)
	assert.Empty(t, alice.Events)
	assert.Empty(t, carol.Events)
}

func TestRegistryReplaceKeepsRoomSlot(t *testing.T) {
	r := NewRegistry()
	s := NewSession("a", 0)
	s.setRoom("ops")
	r.Join(s, "ops")

	p := parkSession(s, time.Now().Add(time.Minute), 10)
	swapped := false
	room, ok := r.Replace(s, p, func() { swapped = true })
	require.True(t, ok)
	assert.True(t, swapped)
	assert.Equal(t, "ops", room)

	_, ok = r.RoomOf(s)
	assert.False(t, ok)
	assert.Equal(t, 1, r.Count("ops"))

	_, ok = r.Replace(s, p, nil)
	assert.False(t, ok, "replacing an unregistered member fails")
}

func TestSessionDeliverSuppressesDuplicateIDs(t *testing.T) {
	s := NewSession("a", 0)
	msg := Message{ID: 7, Room: "general", Text: "hi"}

	assert.True(t, s.Deliver(chatEvent(msg)))
	assert.True(t, s.Deliver(chatEvent(msg)))
	assert.Len(t, s.Events, 1)

	// Switching rooms forgets what was delivered.
	s.setRoom("random")
	assert.True(t, s.Deliver(chatEvent(msg)))
	assert.Len(t, s.Events, 2)
}

func TestSessionDeliverMarksLaggingWhenFull(t *testing.T) {
	s := NewSession("a", 0)
	for i := range sessionEventBuffer {
		require.True(t, s.Deliver(systemEvent("general", "x")), "event %d", i)
	}

	assert.False(t, s.Deliver(systemEvent("general", "overflow")))
	select {
	case <-s.Lagged():
	default:
		t.Fatal("expected session to be marked lagging")
	}
}

func TestIDWindowEvictsOldest(t *testing.T) {
	w := newIDWindow(3)
	for _, id := range []int64{1, 2, 3} {
		assert.True(t, w.add(id))
	}
	assert.False(t, w.add(2))

	assert.True(t, w.add(4)) // evicts 1
	assert.True(t, w.add(1))
	assert.False(t, w.add(4))
}

func TestSessionHoldsLiveEventsDuringBacklog(t *testing.T) {
	s := NewSession("a", 0)
	ctx := context.Background()

	s.holdLive()
	for i := range sessionEventBuffer {
		require.NoError(t, s.emit(ctx, chatEvent(Message{ID: int64(i + 1), Room: "general"})))
	}

	live := Message{ID: sessionEventBuffer + 1, Room: "general"}
	assert.True(t, s.Deliver(chatEvent(live)))
	assert.True(t, s.Deliver(chatEvent(live)))
	select {
	case <-s.Lagged():
		t.Fatal("held delivery marked the session lagging")
	default:
	}

	released := make(chan error, 1)
	go func() { released <- s.releaseLive(ctx) }()

	var last int64
	for range sessionEventBuffer + 1 {
		last = mustEvent(t, s.Events, EventChatMessage).Message.ID
	}
	require.NoError(t, <-released)
	assert.Equal(t, live.ID, last)
	assert.Empty(t, s.Events)

	// Direct delivery resumes once released.
	assert.True(t, s.Deliver(chatEvent(Message{ID: 9999, Room: "general"})))
	assert.Len(t, s.Events, 1)
}

func TestSessionHeldOverflowMarksLagging(t *testing.T) {
	s := NewSession("a", 0)
	s.holdLive()

	for i := range sessionEventBuffer {
		require.True(t, s.Deliver(chatEvent(Message{ID: int64(i + 1)})))
	}
	assert.False(t, s.Deliver(chatEvent(Message{ID: sessionEventBuffer + 1})))
	select {
	case <-s.Lagged():
	default:
		t.Fatal("expected session to be marked lagging")
	}
}

func TestRequeueKeepsHeldEvents(t *testing.T) {
	s := NewSession("a", 0)
	s.setRoom("general")
	require.True(t, s.Deliver(chatEvent(Message{ID: 1, Room: "general"})))
	s.holdLive()
	require.True(t, s.Deliver(chatEvent(Message{ID: 2, Room: "general"})))

	p := parkSession(s, time.Now().Add(time.Minute), 10)
	requeue(s, p)

	events, complete := p.drain()
	require.True(t, complete)
	ids := make([]int64, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.Message.ID)
	}
	assert.Equal(t, []int64{1, 2}, ids)
	assert.Empty(t, s.takePending())
}
