package core

import (
	"sync"
	"time"
)

// parkedSession holds a disconnected session's room slot during the recovery
// window and buffers chat messages published meanwhile.
type parkedSession struct {
	id       string
	nickname string
	room     string
	state    SessionState
	expires  time.Time

	mu       sync.Mutex
	limit    int
	buffered []*Event
	overflow bool
}

func parkSession(s *Session, expires time.Time, limit int) *parkedSession {
	nickname, room, state := s.snapshot()
	return &parkedSession{
		id:       s.ID,
		nickname: nickname,
		room:     room,
		state:    state,
		expires:  expires,
		limit:    limit,
	}
}

// Deliver buffers chat messages; presence events are dropped.
func (p *parkedSession) Deliver(ev *Event) bool {
	if ev.Kind != EventChatMessage {
		return true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.overflow {
		return false
	}
	if len(p.buffered) >= p.limit {
		p.overflow = true
		p.buffered = nil
		return false
	}
	p.buffered = append(p.buffered, ev)
	return true
}

// drain returns the buffered events, or false if some were lost.
func (p *parkedSession) drain() ([]*Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.overflow {
		return nil, false
	}
	events := p.buffered
	p.buffered = nil
	return events, true
}
