package core

import (
	"context"
	"sync"
)

// SessionState is the connection state machine position.
type SessionState int

const (
	// StateNoNickname is the initial state; messages are rejected.
	StateNoNickname SessionState = iota
	// StateActive is entered once a nickname is set.
	StateActive
)

func (s SessionState) String() string {
	switch s {
	case StateNoNickname:
		return "no_nickname"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

const (
	sessionCommandBuffer = 16
	sessionEventBuffer   = 256
	seenWindowSize       = 512
)

// Session is one live connection as seen by the core layer.
// Commands are consumed by Hub.Serve; Events are drained by the transport.
type Session struct {
	ID       string
	Commands chan Command
	Events   chan *Event

	mu           sync.Mutex
	nickname     string
	room         string
	state        SessionState
	serverOffset int64
	recovered    bool
	seen         *idWindow

	// While held, cross-session deliveries wait in pending so the session's
	// own backlog cannot crowd them out of Events.
	held    bool
	pending []*Event

	lagOnce sync.Once
	lagged  chan struct{}
}

// NewSession constructs a session with initialized channels.
// serverOffset is the highest message id the client claims to have seen.
func NewSession(id string, serverOffset int64) *Session {
	if serverOffset < 0 {
		serverOffset = 0
	}
	return &Session{
		ID:           id,
		Commands:     make(chan Command, sessionCommandBuffer),
		Events:       make(chan *Event, sessionEventBuffer),
		serverOffset: serverOffset,
		seen:         newIDWindow(seenWindowSize),
		lagged:       make(chan struct{}),
	}
}

// Nickname returns the display name, empty until set.
func (s *Session) Nickname() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nickname
}

// Room returns the current room.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// State returns the state machine position.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ServerOffset returns the last message id the client reported at connect time.
func (s *Session) ServerOffset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverOffset
}

// Recovered reports whether the session was resumed from a parked state.
func (s *Session) Recovered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recovered
}

// Lagged is closed when the session could not keep up with deliveries.
// The transport should drop the connection; the client recovers on reconnect.
func (s *Session) Lagged() <-chan struct{} {
	return s.lagged
}

func (s *Session) snapshot() (nickname, room string, state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nickname, s.room, s.state
}

func (s *Session) setNickname(name string) {
	s.mu.Lock()
	s.nickname = name
	s.state = StateActive
	s.mu.Unlock()
}

// setRoom switches the current room and forgets delivered ids, so history of
// the new room is never suppressed.
func (s *Session) setRoom(room string) {
	s.mu.Lock()
	s.room = room
	s.seen = newIDWindow(seenWindowSize)
	s.mu.Unlock()
}

func (s *Session) setRecovered(recovered bool) {
	s.mu.Lock()
	s.recovered = recovered
	s.mu.Unlock()
}

// sightedLocked records a chat message id; false means it was already
// delivered. s.mu must be held.
func (s *Session) sightedLocked(ev *Event) bool {
	if ev.Kind != EventChatMessage || ev.Message.ID == 0 {
		return true
	}
	return s.seen.add(ev.Message.ID)
}

// Deliver queues an event from another goroutine without blocking.
// A full queue marks the session as lagging.
func (s *Session) Deliver(ev *Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.sightedLocked(ev) {
		return true
	}
	if s.held {
		if len(s.pending) >= sessionEventBuffer {
			s.markLagged()
			return false
		}
		s.pending = append(s.pending, ev)
		return true
	}
	select {
	case s.Events <- ev:
		return true
	default:
		s.markLagged()
		return false
	}
}

func (s *Session) markLagged() {
	s.lagOnce.Do(func() { close(s.lagged) })
}

// emit queues an event produced by the session's own loop, waiting for room.
func (s *Session) emit(ctx context.Context, ev *Event) error {
	s.mu.Lock()
	first := s.sightedLocked(ev)
	s.mu.Unlock()
	if !first {
		return nil
	}
	select {
	case s.Events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// holdLive diverts Deliver into the pending buffer while the session's own
// loop streams a replay or room history.
func (s *Session) holdLive() {
	s.mu.Lock()
	s.held = true
	s.mu.Unlock()
}

// releaseLive flushes held events in arrival order and resumes direct
// delivery. Held events were sighted by Deliver and are not filtered again.
// If ctx ends first the unsent events stay pending for takePending.
func (s *Session) releaseLive(ctx context.Context) error {
	for {
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		if len(batch) == 0 {
			s.held = false
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()

		for i, ev := range batch {
			select {
			case s.Events <- ev:
			case <-ctx.Done():
				s.mu.Lock()
				s.pending = append(batch[i:len(batch):len(batch)], s.pending...)
				s.mu.Unlock()
				return ctx.Err()
			}
		}
	}
}

// takePending removes and returns the held events.
func (s *Session) takePending() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.pending
	s.pending = nil
	return pending
}

// idWindow remembers the last size ids it was given.
type idWindow struct {
	ids   map[int64]struct{}
	order []int64
	next  int
}

func newIDWindow(size int) *idWindow {
	return &idWindow{
		ids:   make(map[int64]struct{}, size),
		order: make([]int64, 0, size),
	}
}

func (w *idWindow) add(id int64) bool {
	if _, ok := w.ids[id]; ok {
		return false
	}
	if len(w.order) < cap(w.order) {
		w.order = append(w.order, id)
	} else {
		delete(w.ids, w.order[w.next])
		w.order[w.next] = id
		w.next = (w.next + 1) % len(w.order)
	}
	w.ids[id] = struct{}{}
	return true
}
