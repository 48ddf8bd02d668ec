package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/1ureka/quicksync/internal/protocol"
	"github.com/1ureka/quicksync/internal/signaling"
	"github.com/1ureka/quicksync/internal/util"
)

// ErrPoolClosed is returned by operations on a closed Pool.
var ErrPoolClosed = errors.New("peer pool closed")

// Trigger is the event that asks the pool for a peer.
type Trigger int

const (
	TriggerSend Trigger = iota
	TriggerOffer
	TriggerAnswer
	TriggerCandidate
)

// FrameHandler receives every frame arriving from any peer.
type FrameHandler func(remoteID string, f protocol.Frame)

// HandlerID identifies a registered FrameHandler.
type HandlerID uint64

type handlerEntry struct {
	id HandlerID
	fn FrameHandler
}

// Pool owns at most one live Peer per remote device and routes inbound
// signals to them. All map mutations happen under mu.
type Pool struct {
	localID  string
	signaler signaling.Signaler
	newConn  connFactory

	mu     sync.Mutex
	peers  map[string]*Peer
	closed bool

	handlersMu  sync.RWMutex
	handlers    []handlerEntry
	nextHandler HandlerID
}

// NewPool creates a pool for localID and installs itself as sig's handler.
func NewPool(localID string, sig signaling.Signaler, cfg Config) *Pool {
	return newPool(localID, sig, pionFactory(cfg))
}

func newPool(localID string, sig signaling.Signaler, factory connFactory) *Pool {
	p := &Pool{
		localID:  localID,
		signaler: sig,
		newConn:  factory,
		peers:    make(map[string]*Peer),
	}
	sig.OnSignal(p.handleSignal)
	return p
}

func (p *Pool) LocalID() string { return p.localID }

// SendData sends f to remoteID, starting a connection as the offering side
// when none is usable. Frames sent before the channel opens are queued.
func (p *Pool) SendData(ctx context.Context, remoteID string, f protocol.Frame) error {
	peer, err := p.getOrCreate(remoteID, TriggerSend)
	if err != nil {
		return err
	}
	return peer.Send(ctx, f)
}

// MaxMessageSize reports the negotiated message size limit towards remoteID.
func (p *Pool) MaxMessageSize(remoteID string) (int, bool) {
	p.mu.Lock()
	peer := p.peers[remoteID]
	p.mu.Unlock()

	if peer == nil {
		return 0, false
	}
	return peer.MaxMessageSize()
}

// State returns the state of the peer for remoteID, if any.
func (p *Pool) State(remoteID string) (State, bool) {
	p.mu.Lock()
	peer := p.peers[remoteID]
	p.mu.Unlock()

	if peer == nil {
		return StateIdle, false
	}
	return peer.State(), true
}

// AddFrameHandler registers fn for inbound frames.
func (p *Pool) AddFrameHandler(fn FrameHandler) HandlerID {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()

	p.nextHandler++
	p.handlers = append(p.handlers, handlerEntry{id: p.nextHandler, fn: fn})
	return p.nextHandler
}

// RemoveFrameHandler unregisters a handler. Unknown ids are ignored.
func (p *Pool) RemoveFrameHandler(id HandlerID) {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()

	for i, h := range p.handlers {
		if h.id == id {
			p.handlers = append(p.handlers[:i:i], p.handlers[i+1:]...)
			return
		}
	}
}

// CloseConnection tears down the connection to remoteID. The next send or
// offer creates a fresh one.
func (p *Pool) CloseConnection(remoteID string) error {
	p.mu.Lock()
	peer := p.peers[remoteID]
	delete(p.peers, remoteID)
	p.mu.Unlock()

	if peer == nil {
		return nil
	}
	return peer.Close()
}

// Close closes every peer. The signaler is owned by the caller.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	peers := p.peers
	p.peers = make(map[string]*Peer)
	p.mu.Unlock()

	var errs []error
	for _, peer := range peers {
		errs = append(errs, peer.Close())
	}
	return errors.Join(errs...)
}

// getOrCreate returns the peer for remoteID, creating one when there is none
// or the existing one is closed. An inbound offer also replaces a peer that
// was connected and has since lost its channel. A send additionally replaces
// a dormant peer left behind by stray signals. A peer still negotiating is
// kept so that collisions go through perfect negotiation.
func (p *Pool) getOrCreate(remoteID string, trigger Trigger) (*Peer, error) {
	if remoteID == p.localID {
		return nil, fmt.Errorf("refusing to connect to self (%s)", remoteID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	if existing, ok := p.peers[remoteID]; ok {
		switch {
		case existing.State() == StateClosed:
		case trigger == TriggerOffer && existing.stale():
			util.LogInfo("replacing stale peer connection", "remote", remoteID)
			existing.Close()
		case trigger == TriggerSend && (existing.dormant() || existing.stale()):
			util.LogInfo("replacing unusable peer connection", "remote", remoteID)
			existing.Close()
		default:
			return existing, nil
		}
	}

	conn, err := p.newConn()
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	offering := trigger == TriggerSend
	peer, err := newPeer(p.localID, remoteID, conn, p.signaler, offering, peerEvents{
		onFrame:  p.dispatch,
		onClosed: p.forget,
	})
	if err != nil {
		return nil, err
	}

	p.peers[remoteID] = peer
	util.LogDebug("created peer connection", "remote", remoteID, "offering", offering, "polite", peer.polite)
	return peer, nil
}

func (p *Pool) handleSignal(remoteID string, sig signaling.Signal) {
	kind, err := sig.Kind()
	if err != nil {
		util.LogWarning("dropping malformed signal", "from", remoteID, "err", err)
		return
	}

	trigger := TriggerCandidate
	switch kind {
	case signaling.KindOffer:
		trigger = TriggerOffer
	case signaling.KindAnswer:
		trigger = TriggerAnswer
	}

	peer, err := p.getOrCreate(remoteID, trigger)
	if err != nil {
		util.LogWarning("no peer for signal", "from", remoteID, "err", err)
		return
	}
	if err := peer.HandleSignal(sig); err != nil {
		util.LogWarning("failed to apply signal", "from", remoteID, "kind", kind, "err", err)
	}
}

func (p *Pool) dispatch(remoteID string, f protocol.Frame) {
	p.handlersMu.RLock()
	handlers := make([]FrameHandler, len(p.handlers))
	for i, h := range p.handlers {
		handlers[i] = h.fn
	}
	p.handlersMu.RUnlock()

	for _, fn := range handlers {
		fn(remoteID, f)
	}
}

// forget drops a closed peer unless it was already replaced.
func (p *Pool) forget(peer *Peer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.peers[peer.remoteID] == peer {
		delete(p.peers, peer.remoteID)
	}
}
