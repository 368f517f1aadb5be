package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirechat-relay/internal/metrics"
	"github.com/vovakirdan/wirechat-relay/internal/store"
)

// Options tunes hub behavior.
type Options struct {
	// DefaultRoom is joined by every new session.
	DefaultRoom string
	// HistoryLimit bounds the history sent on room join; 0 sends the whole room.
	HistoryLimit int
	// ReplayBatch is the page size for recovery scans.
	ReplayBatch int
	// WriteTimeout bounds a submission's store write and publish.
	WriteTimeout time.Duration

	// RecoveryEnabled parks disconnected sessions for resume.
	RecoveryEnabled bool
	// MaxDisconnect is how long a parked session can be resumed.
	MaxDisconnect time.Duration
	// ParkBuffer caps messages buffered for a parked session.
	ParkBuffer int
	// SweepInterval is how often expired parked sessions are dropped.
	SweepInterval time.Duration
}

// DefaultOptions returns reasonable starter defaults.
func DefaultOptions() Options {
	return Options{
		DefaultRoom:     "general",
		HistoryLimit:    100,
		ReplayBatch:     defaultReplayBatch,
		WriteTimeout:    5 * time.Second,
		RecoveryEnabled: true,
		MaxDisconnect:   2 * time.Minute,
		ParkBuffer:      100,
		SweepInterval:   15 * time.Second,
	}
}

// Handshake carries what the transport learned while establishing a connection.
type Handshake struct {
	// ServerOffset is the highest message id the client has seen.
	ServerOffset int64
	// ResumeID names a parked session to restore, if any.
	ResumeID string
}

// Hub coordinates sessions of one worker process with the message store,
// the local room registry and the cross-worker fan-out.
type Hub struct {
	store    store.MessageStore
	fanout   Fanout
	registry *Registry
	replayer *Replayer
	opts     Options
	log      *zerolog.Logger
	now      func() time.Time

	parkMu sync.Mutex
	parked map[string]*parkedSession
}

// NewHub creates a new chat hub instance.
func NewHub(st store.MessageStore, fan Fanout, opts Options, logger *zerolog.Logger) *Hub {
	defaults := DefaultOptions()
	if opts.DefaultRoom == "" {
		opts.DefaultRoom = defaults.DefaultRoom
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.MaxDisconnect <= 0 {
		opts.MaxDisconnect = defaults.MaxDisconnect
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaults.SweepInterval
	}
	// Restored events must fit into a fresh session queue in one go.
	if opts.ParkBuffer <= 0 || opts.ParkBuffer > sessionEventBuffer/2 {
		opts.ParkBuffer = sessionEventBuffer / 2
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	hubLog := logger.With().Str("component", "hub").Logger()

	return &Hub{
		store:    st,
		fanout:   fan,
		registry: NewRegistry(),
		replayer: NewReplayer(st, opts.ReplayBatch),
		opts:     opts,
		log:      &hubLog,
		now:      time.Now,
		parked:   make(map[string]*parkedSession),
	}
}

// Registry exposes the local room registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Parked returns the number of sessions waiting to be resumed.
func (h *Hub) Parked() int {
	h.parkMu.Lock()
	defer h.parkMu.Unlock()
	return len(h.parked)
}

// Run consumes the fan-out and sweeps parked sessions until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return h.fanout.Listen(ctx, h.deliverLocal)
	})

	if h.opts.RecoveryEnabled {
		g.Go(func() error {
			ticker := time.NewTicker(h.opts.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if n := h.expireParked(h.now()); n > 0 {
						h.log.Debug().Int("count", n).Msg("expired parked sessions")
					}
				}
			}
		})
	}

	return g.Wait()
}

// Connect registers a new connection. A resumable parked session named by
// the handshake is restored; otherwise a fresh session joins the default room.
func (h *Hub) Connect(hs Handshake) *Session {
	if hs.ResumeID != "" && h.opts.RecoveryEnabled {
		if s := h.resume(hs); s != nil {
			metrics.SessionsActive.Inc()
			return s
		}
	}

	s := NewSession(uuid.NewString(), hs.ServerOffset)
	s.setRoom(h.opts.DefaultRoom)
	h.registry.Join(s, h.opts.DefaultRoom)
	metrics.SessionsActive.Inc()

	h.log.Debug().Str("session_id", s.ID).Int64("server_offset", hs.ServerOffset).Msg("session connected")
	return s
}

// Disconnect removes the session from its room. With recovery enabled the
// room slot is handed to a parked placeholder for the resume window; chat
// messages still queued for the session move into it. A lagging session has
// already lost messages and is not parked. Call it after Serve returned.
func (h *Hub) Disconnect(s *Session) {
	metrics.SessionsActive.Dec()

	lagged := false
	select {
	case <-s.Lagged():
		lagged = true
	default:
	}

	if h.opts.RecoveryEnabled && !lagged {
		p := parkSession(s, h.now().Add(h.opts.MaxDisconnect), h.opts.ParkBuffer)
		if _, ok := h.registry.Replace(s, p, func() { requeue(s, p) }); ok {
			h.parkMu.Lock()
			h.parked[s.ID] = p
			h.parkMu.Unlock()
			h.log.Debug().Str("session_id", s.ID).Str("room", p.room).Msg("session parked")
			return
		}
	}

	h.registry.Leave(s)
	h.log.Debug().Str("session_id", s.ID).Msg("session disconnected")
}

// requeue moves undelivered events of s into p, oldest first. Queued events
// precede the ones held back during a backlog.
func requeue(s *Session, p *parkedSession) {
	for {
		select {
		case ev := <-s.Events:
			p.Deliver(ev)
		default:
			for _, ev := range s.takePending() {
				p.Deliver(ev)
			}
			return
		}
	}
}

// Serve runs the session's command loop until ctx is done. Recovery runs
// first; every command is answered with an EventAck.
func (h *Hub) Serve(ctx context.Context, s *Session) error {
	replayed, err := h.replayer.Replay(ctx, s)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		h.log.Error().Err(err).Str("session_id", s.ID).Msg("recovery replay aborted")
	} else if len(replayed) > 0 {
		h.log.Debug().Str("session_id", s.ID).Int("count", len(replayed)).Msg("replayed missed messages")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-s.Commands:
			if err := h.dispatch(ctx, s, cmd); err != nil {
				return err
			}
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, s *Session, cmd Command) error {
	var (
		ack     Ack
		history []Message
	)

	switch cmd.Kind {
	case CommandSetNickname:
		ack = h.SetNickname(s, cmd.Nickname)
	case CommandJoinRoom:
		s.holdLive()
		ack, history = h.JoinRoom(ctx, s, cmd.Room)
	case CommandSubmitMessage:
		ack = h.SubmitMessage(ctx, s, cmd.Text, cmd.ClientOffset)
	case CommandTyping:
		h.Typing(s, true)
		return nil
	case CommandStopTyping:
		h.Typing(s, false)
		return nil
	default:
		ack = Ack{Error: badRequest("unknown command")}
	}

	ack.Seq = cmd.Seq
	if err := s.emit(ctx, &Event{Kind: EventAck, Room: ack.Room, Ack: &ack}); err != nil {
		return err
	}

	if cmd.Kind != CommandJoinRoom {
		return nil
	}
	if ack.OK() {
		if err := s.emit(ctx, systemEvent(ack.Room, "you joined "+ack.Room)); err != nil {
			return err
		}
		for _, msg := range history {
			if err := s.emit(ctx, chatEvent(msg)); err != nil {
				return err
			}
		}
	}
	return s.releaseLive(ctx)
}

// SetNickname assigns the display name and activates the session.
// Calling it again replaces the name.
func (h *Hub) SetNickname(s *Session, name string) Ack {
	name = strings.TrimSpace(name)
	if name == "" {
		return Ack{Room: s.Room(), Error: badRequest("nickname is required")}
	}
	s.setNickname(name)
	return Ack{Room: s.Room()}
}

// JoinRoom moves the session to room in one registry step and loads the
// room history to stream after the acknowledgment. A failed history scan
// still joins the room and yields no history.
func (h *Hub) JoinRoom(ctx context.Context, s *Session, room string) (Ack, []Message) {
	room = strings.TrimSpace(room)
	if room == "" {
		return Ack{Room: s.Room(), Error: badRequest("room is required")}, nil
	}

	// The dedupe window resets while the session is still in the old room,
	// so no live message of the new room is forgotten. Membership precedes
	// the history load: history plus live traffic leaves no gap.
	s.setRoom(room)
	prev := h.registry.Join(s, room)
	h.log.Debug().Str("session_id", s.ID).Str("from", prev).Str("to", room).Msg("session switched room")

	history, err := h.history(ctx, room)
	if err != nil {
		h.log.Error().Err(err).Str("session_id", s.ID).Str("room", room).Msg("history load failed")
		return Ack{Room: room}, nil
	}
	return Ack{Room: room}, history
}

func (h *Hub) history(ctx context.Context, room string) ([]Message, error) {
	if h.opts.HistoryLimit <= 0 {
		return h.replayer.Missed(ctx, room, 0)
	}

	start := time.Now()
	rows, err := h.store.LatestInRoom(ctx, room, h.opts.HistoryLimit)
	metrics.StoreLatency.WithLabelValues("latest").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StoreErrors.WithLabelValues("latest").Inc()
		return nil, err
	}
	return messagesFromStore(rows), nil
}

// SubmitMessage stores text in the session's room and broadcasts it.
// A retried client offset is acknowledged as a duplicate without another
// broadcast. The write runs detached from ctx cancellation so a client that
// disconnects mid-flight still gets its message stored and broadcast.
func (h *Hub) SubmitMessage(ctx context.Context, s *Session, text, clientOffset string) Ack {
	nickname, room, state := s.snapshot()
	if state != StateActive {
		metrics.RejectedMessages.WithLabelValues("nickname_required").Inc()
		return Ack{Room: room, Error: nicknameRequired()}
	}
	if clientOffset == "" {
		clientOffset = uuid.NewString()
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.opts.WriteTimeout)
	defer cancel()

	// Stored and broadcast copies share one timestamp, at the precision
	// every store keeps.
	createdAt := h.now().UTC().Truncate(time.Microsecond)

	start := time.Now()
	id, err := h.store.Append(wctx, room, nickname, clientOffset, text, createdAt)
	metrics.StoreLatency.WithLabelValues("append").Observe(time.Since(start).Seconds())
	if errors.Is(err, store.ErrDuplicateOffset) {
		metrics.DuplicateOffsets.Inc()
		h.log.Debug().Str("session_id", s.ID).Str("client_offset", clientOffset).Msg("duplicate submission absorbed")
		return Ack{Room: room, Duplicate: true}
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues("append").Inc()
		h.log.Error().Err(err).Str("session_id", s.ID).Str("room", room).Msg("append failed")
		return Ack{Room: room, Error: storeUnavailable(err)}
	}
	metrics.MessagesAppended.Inc()

	h.publish(wctx, Message{
		ID:           id,
		ClientOffset: clientOffset,
		Room:         room,
		Nickname:     nickname,
		Text:         text,
		CreatedAt:    createdAt,
	})
	return Ack{Room: room, MessageID: id}
}

// publish hands msg to the fan-out, which loops back to this worker too.
// If the fan-out is down only local sessions get it live.
func (h *Hub) publish(ctx context.Context, msg Message) {
	if err := h.fanout.Publish(ctx, msg); err != nil {
		metrics.FanoutPublishFailures.Inc()
		h.log.Warn().Err(errors.Join(ErrFanoutUnavailable, err)).
			Int64("message_id", msg.ID).Str("room", msg.Room).
			Msg("publish failed, delivering locally only")
		h.deliverLocal(msg)
	}
}

func (h *Hub) deliverLocal(msg Message) {
	n := h.registry.BroadcastLocal(msg.Room, chatEvent(msg), nil)
	metrics.FanoutDelivered.Add(float64(n))
}

// Typing forwards a presence signal to the other local sessions of the
// session's room. Presence is not fanned out to other workers.
func (h *Hub) Typing(s *Session, typing bool) {
	nickname, room, state := s.snapshot()
	if state != StateActive {
		return
	}
	kind := EventUserStopTyping
	if typing {
		kind = EventUserTyping
	}
	h.registry.BroadcastLocal(room, &Event{Kind: kind, Room: room, User: nickname}, s)
}

func (h *Hub) resume(hs Handshake) *Session {
	h.parkMu.Lock()
	p, ok := h.parked[hs.ResumeID]
	if ok {
		delete(h.parked, hs.ResumeID)
	}
	h.parkMu.Unlock()

	if !ok {
		metrics.SessionsResumed.WithLabelValues("unknown").Inc()
		return nil
	}
	if h.now().After(p.expires) {
		h.registry.Leave(p)
		metrics.SessionsResumed.WithLabelValues("expired").Inc()
		return nil
	}

	s := NewSession(p.id, hs.ServerOffset)
	s.mu.Lock()
	s.nickname = p.nickname
	s.state = p.state
	s.mu.Unlock()
	s.setRoom(p.room)

	result := "restored"
	_, swapped := h.registry.Replace(p, s, func() {
		events, complete := p.drain()
		if !complete {
			// Buffered messages were lost; fall back to a store replay.
			result = "overflow"
			return
		}
		s.setRecovered(true)
		for _, ev := range events {
			s.Deliver(ev)
		}
	})
	if !swapped {
		metrics.SessionsResumed.WithLabelValues("unknown").Inc()
		return nil
	}

	metrics.SessionsResumed.WithLabelValues(result).Inc()
	h.log.Debug().Str("session_id", s.ID).Str("room", p.room).Str("result", result).Msg("session resumed")
	return s
}

// expireParked drops parked sessions whose window closed before now.
func (h *Hub) expireParked(now time.Time) int {
	h.parkMu.Lock()
	var expired []*parkedSession
	for id, p := range h.parked {
		if now.After(p.expires) {
			expired = append(expired, p)
			delete(h.parked, id)
		}
	}
	h.parkMu.Unlock()

	for _, p := range expired {
		h.registry.Leave(p)
	}
	return len(expired)
}
