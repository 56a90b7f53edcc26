package can

import (
	"context"
	"sync"

	"can-safety-gateway/internal/models"
)

// LoopbackBus is an in-memory bus segment for tests and simulation.
// Endpoints opened from the same segment see each other's frames.
type LoopbackBus struct {
	mu        sync.RWMutex
	closed    bool
	endpoints map[*loopEndpoint]struct{}
}

// NewLoopbackBus creates an empty segment.
func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{endpoints: make(map[*loopEndpoint]struct{})}
}

// Open attaches an endpoint that tags received frames with index.
func (b *LoopbackBus) Open(index int) Bus {
	ep := &loopEndpoint{
		bus:    b,
		index:  index,
		ch:     make(chan models.CANFrame, 256),
		closed: make(chan struct{}),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		ep.dead = true
		close(ep.closed)
		close(ep.ch)
		return ep
	}
	b.endpoints[ep] = struct{}{}
	b.mu.Unlock()
	return ep
}

// Close closes the segment and every endpoint.
func (b *LoopbackBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ep := range b.endpoints {
		ep.closeNoLock()
	}
	b.endpoints = nil
	return nil
}

type loopEndpoint struct {
	bus    *LoopbackBus
	index  int
	ch     chan models.CANFrame
	mu     sync.Mutex
	dead   bool
	closed chan struct{}
}

// Send delivers the frame to every other endpoint on the segment.
func (e *loopEndpoint) Send(ctx context.Context, f models.CANFrame) error {
	if f.DLC > 8 {
		return ErrUnsupportedFrame
	}
	e.mu.Lock()
	dead := e.dead
	e.mu.Unlock()
	if dead {
		return ErrClosed
	}

	e.bus.mu.RLock()
	if e.bus.closed {
		e.bus.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]*loopEndpoint, 0, len(e.bus.endpoints))
	for ep := range e.bus.endpoints {
		if ep != e {
			targets = append(targets, ep)
		}
	}
	e.bus.mu.RUnlock()

	for _, t := range targets {
		tagged := f
		tagged.Bus = t.index
		select {
		case t.ch <- tagged:
		case <-t.closed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Receive waits for the next frame.
func (e *loopEndpoint) Receive(ctx context.Context) (models.CANFrame, error) {
	select {
	case f, ok := <-e.ch:
		if !ok {
			return models.CANFrame{}, ErrClosed
		}
		return f, nil
	case <-ctx.Done():
		return models.CANFrame{}, ctx.Err()
	}
}

func (e *loopEndpoint) Close() error {
	e.bus.mu.Lock()
	e.closeNoLock()
	e.bus.mu.Unlock()
	return nil
}

func (e *loopEndpoint) closeNoLock() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return
	}
	e.dead = true
	close(e.closed)
	close(e.ch)
	if e.bus.endpoints != nil {
		delete(e.bus.endpoints, e)
	}
}
