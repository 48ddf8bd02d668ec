package signaling

import (
	"context"
	"sync"
)

const memoryInboxSize = 256

// MemoryHub connects the devices of one session inside a single process.
// Delivery is asynchronous and preserves per-receiver order.
type MemoryHub struct {
	mu      sync.Mutex
	members map[string]*MemorySignaler
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{members: make(map[string]*MemorySignaler)}
}

// Join registers deviceID with the hub and returns its signaler.
func (h *MemoryHub) Join(deviceID string) *MemorySignaler {
	s := &MemorySignaler{
		hub:      h,
		deviceID: deviceID,
		inbox:    make(chan delivery, memoryInboxSize),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	h.members[deviceID] = s
	h.mu.Unlock()

	go s.dispatch()
	return s
}

func (h *MemoryHub) lookup(deviceID string) *MemorySignaler {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.members[deviceID]
}

type delivery struct {
	from string
	sig  Signal
}

// MemorySignaler is one device's endpoint on a MemoryHub.
type MemorySignaler struct {
	hub      *MemoryHub
	deviceID string
	inbox    chan delivery

	mu      sync.RWMutex
	handler Handler

	done      chan struct{}
	closeOnce sync.Once
}

var _ Signaler = (*MemorySignaler)(nil)

func (s *MemorySignaler) OnSignal(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *MemorySignaler) SendSignal(ctx context.Context, remoteID string, sig Signal) error {
	if _, err := sig.Kind(); err != nil {
		return err
	}

	target := s.hub.lookup(remoteID)
	if target == nil {
		return ErrNotConnected
	}

	select {
	case target.inbox <- delivery{from: s.deviceID, sig: sig}:
		return nil
	case <-target.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MemorySignaler) Close() error {
	s.closeOnce.Do(func() {
		s.hub.mu.Lock()
		if s.hub.members[s.deviceID] == s {
			delete(s.hub.members, s.deviceID)
		}
		s.hub.mu.Unlock()
		close(s.done)
	})
	return nil
}

func (s *MemorySignaler) dispatch() {
	for {
		select {
		case d := <-s.inbox:
			s.mu.RLock()
			h := s.handler
			s.mu.RUnlock()
			if h != nil {
				h(d.from, d.sig)
			}
		case <-s.done:
			return
		}
	}
}
