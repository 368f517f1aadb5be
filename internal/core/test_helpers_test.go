package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-relay/internal/store"
	"github.com/vovakirdan/wirechat-relay/internal/store/sqlite"
)

// loopbackFanout stands in for a pub/sub medium shared by several hubs.
type loopbackFanout struct {
	mu        sync.RWMutex
	listeners map[int]func(Message)
	nextID    int
	failWith  error
	published int
}

func newLoopbackFanout() *loopbackFanout {
	return &loopbackFanout{listeners: make(map[int]func(Message))}
}

func (f *loopbackFanout) Publish(_ context.Context, msg Message) error {
	f.mu.Lock()
	if f.failWith != nil {
		err := f.failWith
		f.mu.Unlock()
		return err
	}
	if len(f.listeners) == 0 {
		f.mu.Unlock()
		return errNoListeners
	}
	f.published++
	listeners := make([]func(Message), 0, len(f.listeners))
	for _, l := range f.listeners {
		listeners = append(listeners, l)
	}
	f.mu.Unlock()

	for _, l := range listeners {
		l(msg)
	}
	return nil
}

func (f *loopbackFanout) Listen(ctx context.Context, deliver func(Message)) error {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = deliver
	f.mu.Unlock()

	<-ctx.Done()

	f.mu.Lock()
	delete(f.listeners, id)
	f.mu.Unlock()
	return nil
}

func (f *loopbackFanout) Close() error { return nil }

func (f *loopbackFanout) listenerCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.listeners)
}

func (f *loopbackFanout) publishCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.published
}

func (f *loopbackFanout) fail(err error) {
	f.mu.Lock()
	f.failWith = err
	f.mu.Unlock()
}

// failingStore wraps a real store and fails selected operations.
type failingStore struct {
	store.MessageStore
	appendErr error
	scanErr   error
}

func (s *failingStore) Append(ctx context.Context, room, nickname, clientOffset, content string, createdAt time.Time) (int64, error) {
	if s.appendErr != nil {
		return 0, s.appendErr
	}
	return s.MessageStore.Append(ctx, room, nickname, clientOffset, content, createdAt)
}

func (s *failingStore) ScanRoom(ctx context.Context, room string, afterID int64, limit int) ([]store.Message, error) {
	if s.scanErr != nil {
		return nil, s.scanErr
	}
	return s.MessageStore.ScanRoom(ctx, room, afterID, limit)
}

func (s *failingStore) LatestInRoom(ctx context.Context, room string, limit int) ([]store.Message, error) {
	if s.scanErr != nil {
		return nil, s.scanErr
	}
	return s.MessageStore.LatestInRoom(ctx, room, limit)
}

// hookStore runs beforeLatest once, ahead of the first history load.
type hookStore struct {
	store.MessageStore
	once         sync.Once
	beforeLatest func()
}

func (s *hookStore) LatestInRoom(ctx context.Context, room string, limit int) ([]store.Message, error) {
	if s.beforeLatest != nil {
		s.once.Do(s.beforeLatest)
	}
	return s.MessageStore.LatestInRoom(ctx, room, limit)
}

var (
	errBoom        = errors.New("boom")
	errNoListeners = errors.New("no listeners")
)

func newTestStore(t *testing.T) store.MessageStore {
	t.Helper()

	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// startHub runs a hub until the test ends and waits for its fan-out listener.
func startHub(t *testing.T, st store.MessageStore, fan *loopbackFanout, opts Options) *Hub {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	before := fan.listenerCount()
	hub := NewHub(st, fan, opts, nil)
	go func() { _ = hub.Run(ctx) }()

	require.Eventually(t, func() bool { return fan.listenerCount() > before }, 2*time.Second, 5*time.Millisecond)
	return hub
}

// connect opens a session and runs its command loop until the returned
// cancel is called or the test ends.
func connect(t *testing.T, hub *Hub, hs Handshake) (*Session, context.CancelFunc) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s := hub.Connect(hs)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Serve(ctx, s)
	}()

	return s, func() {
		cancel()
		<-done
	}
}

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("expected event kind %v not received", kind)
			return nil
		}
	}
}

func mustAck(t *testing.T, s *Session, seq int64) *Ack {
	t.Helper()

	for {
		ev := mustEvent(t, s.Events, EventAck)
		if ev.Ack.Seq == seq {
			return ev.Ack
		}
	}
}

func mustChat(t *testing.T, s *Session, id int64) Message {
	t.Helper()

	for {
		ev := mustEvent(t, s.Events, EventChatMessage)
		if ev.Message.ID == id {
			return ev.Message
		}
	}
}

// drainChats collects the chat messages currently queued for s, waiting
// briefly for stragglers.
func drainChats(s *Session) []Message {
	var out []Message
	for {
		select {
		case ev := <-s.Events:
			if ev.Kind == EventChatMessage {
				out = append(out, ev.Message)
			}
		case <-time.After(100 * time.Millisecond):
			return out
		}
	}
}

func messageIDs(msgs []Message) []int64 {
	ids := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids
}
