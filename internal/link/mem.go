package link

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/imglink/internal/protocol"
)

const memQueueDepth = 256

// DropFunc decides whether a unit is lost in flight.
type DropFunc func(from, to protocol.Endpoint, data []byte) bool

// Hub is an in-memory radio channel connecting any number of endpoints.
type Hub struct {
	mu    sync.RWMutex
	nodes map[protocol.Endpoint]*Mem
	drop  DropFunc
	now   func() time.Time
}

func NewHub() *Hub {
	return &Hub{
		nodes: make(map[protocol.Endpoint]*Mem),
		now:   time.Now,
	}
}

// NewPipe returns two endpoints joined by a private hub.
func NewPipe(a, b protocol.Endpoint) (*Mem, *Mem) {
	h := NewHub()
	return h.Attach(a), h.Attach(b)
}

// SetDrop installs a loss filter; nil delivers everything.
func (h *Hub) SetDrop(fn DropFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop = fn
}

func (h *Hub) Attach(ep protocol.Endpoint) *Mem {
	m := &Mem{
		self:   ep,
		hub:    h,
		in:     make(chan Inbound, memQueueDepth),
		closed: make(chan struct{}),
	}
	h.mu.Lock()
	h.nodes[ep] = m
	h.mu.Unlock()
	return m
}

func (h *Hub) deliver(from, to protocol.Endpoint, data []byte) error {
	h.mu.RLock()
	dst, ok := h.nodes[to]
	drop := h.drop
	now := h.now
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, to)
	}
	if drop != nil && drop(from, to, data) {
		return nil
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case <-dst.closed:
	case dst.in <- Inbound{From: from, Data: buf, At: now()}:
	default:
		// full queue behaves like an overrun radio buffer
	}
	return nil
}

// Mem is one endpoint attached to a Hub.
type Mem struct {
	self   protocol.Endpoint
	hub    *Hub
	in     chan Inbound
	closed chan struct{}
	once   sync.Once
}

var _ Link = (*Mem)(nil)

func (m *Mem) Endpoint() protocol.Endpoint {
	return m.self
}

// Hub returns the channel this endpoint is attached to.
func (m *Mem) Hub() *Hub {
	return m.hub
}

func (m *Mem) Send(ctx context.Context, to protocol.Endpoint, data []byte) error {
	select {
	case <-m.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return m.hub.deliver(m.self, to, data)
}

func (m *Mem) Receive(ctx context.Context, timeout time.Duration) (Inbound, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case in := <-m.in:
		return in, nil
	case <-m.closed:
		return Inbound{}, ErrClosed
	case <-ctx.Done():
		return Inbound{}, ctx.Err()
	case <-timer.C:
		return Inbound{}, ErrNoData
	}
}

func (m *Mem) Close() error {
	m.once.Do(func() {
		close(m.closed)
		m.hub.mu.Lock()
		if m.hub.nodes[m.self] == m {
			delete(m.hub.nodes, m.self)
		}
		m.hub.mu.Unlock()
	})
	return nil
}
