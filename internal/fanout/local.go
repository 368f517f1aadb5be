package fanout

import (
	"context"
	"errors"
	"sync"

	"github.com/vovakirdan/wirechat-relay/internal/core"
)

var (
	// ErrClosed is returned when publishing on a closed fan-out.
	ErrClosed = errors.New("fanout closed")
	// ErrNoListeners is returned when nothing is listening yet.
	ErrNoListeners = errors.New("fanout has no listeners")
)

// Local is an in-process fan-out. Several hubs in one process may share it.
type Local struct {
	mu        sync.RWMutex
	listeners map[uint64]func(core.Message)
	next      uint64
	closed    bool
	done      chan struct{}
}

// NewLocal creates an in-process fan-out.
func NewLocal() *Local {
	return &Local{
		listeners: make(map[uint64]func(core.Message)),
		done:      make(chan struct{}),
	}
}

// Publish calls every listener synchronously. With no listener registered
// the message would reach nobody, so ErrNoListeners is returned instead.
func (l *Local) Publish(_ context.Context, msg core.Message) error {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return ErrClosed
	}
	if len(l.listeners) == 0 {
		l.mu.RUnlock()
		return ErrNoListeners
	}
	listeners := make([]func(core.Message), 0, len(l.listeners))
	for _, deliver := range l.listeners {
		listeners = append(listeners, deliver)
	}
	l.mu.RUnlock()

	for _, deliver := range listeners {
		deliver(msg)
	}
	return nil
}

// Listen registers deliver until ctx is done or the fan-out is closed.
func (l *Local) Listen(ctx context.Context, deliver func(core.Message)) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	id := l.next
	l.next++
	l.listeners[id] = deliver
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.listeners, id)
		l.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
	case <-l.done:
	}
	return nil
}

// Listeners returns the number of registered listeners.
func (l *Local) Listeners() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.listeners)
}

// Close stops every listener.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.done)
	}
	return nil
}
