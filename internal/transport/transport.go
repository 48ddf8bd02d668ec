// Package transport maintains one WebRTC peer connection per remote device
// and negotiates it with the "perfect negotiation" pattern: either side may
// offer at any time, and offer collisions are settled by a fixed politeness
// rule so that exactly one offer wins.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/quicksync/internal/protocol"
	"github.com/1ureka/quicksync/internal/signaling"
	"github.com/1ureka/quicksync/internal/util"
)

// State is the lifecycle of a Peer. Closed is terminal.
type State int

const (
	StateIdle State = iota
	StateNegotiating
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrPeerClosed is returned when sending through a closed peer connection.
var ErrPeerClosed = errors.New("peer connection closed")

const signalTimeout = 5 * time.Second

// IsPolite reports whether localID yields to remoteID in an offer collision.
// Exactly one side of any pair of distinct ids is polite.
func IsPolite(localID, remoteID string) bool {
	return localID < remoteID
}

type peerEvents struct {
	onFrame  func(remoteID string, f protocol.Frame)
	onClosed func(p *Peer)
}

// Peer is the negotiation state machine for one remote device. Signaling
// events run to completion under mu.
type Peer struct {
	localID  string
	remoteID string
	polite   bool
	conn     rtcConn
	signaler signaling.Signaler
	events   peerEvents

	mu                         sync.Mutex
	state                      State
	makingOffer                bool
	ignoreOffer                bool
	settingRemoteAnswerPending bool
	iceRestarted               bool
	everConnected              bool
	flushing                   bool
	dc                         dataChannel
	sender                     *sender
	queue                      []protocol.Frame // frames waiting for the channel to open

	// signalMu orders outbound signals so that a description is sent before
	// the candidates gathered after it was applied.
	signalMu sync.Mutex

	closed chan struct{}
}

// newPeer wires conn's callbacks. An offering peer creates the data channel
// (which makes the connection fire negotiationneeded); an answering peer
// waits for the remote side's channel.
func newPeer(localID, remoteID string, conn rtcConn, sig signaling.Signaler, offering bool, events peerEvents) (*Peer, error) {
	p := &Peer{
		localID:  localID,
		remoteID: remoteID,
		polite:   IsPolite(localID, remoteID),
		conn:     conn,
		signaler: sig,
		events:   events,
		state:    StateIdle,
		closed:   make(chan struct{}),
	}

	conn.OnNegotiationNeeded(func() { go p.negotiate() })
	conn.OnICECandidate(p.handleLocalCandidate)
	conn.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		util.LogDebug("ICE state", "remote", remoteID, "state", state.String())
		if state == webrtc.ICEConnectionStateFailed {
			go p.restartICE()
		}
	})
	conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state", "remote", remoteID, "state", state.String())
		if state == webrtc.PeerConnectionStateClosed {
			go p.Close()
		}
	})

	if offering {
		dc, err := newDataChannel(conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create data channel: %w", err)
		}
		p.state = StateNegotiating
		p.attach(dc)
	} else {
		conn.OnDataChannel(func(dc dataChannel) {
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.state == StateClosed || p.dc != nil {
				dc.Close()
				return
			}
			p.attach(dc)
		})
	}

	return p, nil
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

func (p *Peer) RemoteID() string { return p.remoteID }

func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Done returns a channel that is closed once the peer is closed.
func (p *Peer) Done() <-chan struct{} {
	return p.closed
}

// Connected reports whether the data channel is open and usable.
func (p *Peer) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectedLocked()
}

func (p *Peer) connectedLocked() bool {
	return p.state == StateConnected && p.dc != nil && p.dc.ReadyState() == webrtc.DataChannelStateOpen
}

// stale reports whether the peer was connected once and no longer is.
func (p *Peer) stale() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.everConnected && !p.connectedLocked()
}

// dormant reports whether the peer was created by a stray candidate or
// answer: it has no data channel and no remote offer was applied, so it
// never negotiates on its own.
func (p *Peer) dormant() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateIdle && p.dc == nil
}

// MaxMessageSize returns the negotiated maximum message size once connected.
func (p *Peer) MaxMessageSize() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateConnected {
		return 0, false
	}
	return p.conn.MaxMessageSize()
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

// Send writes f to the data channel, or queues it until the channel opens.
// Queued frames are flushed in order on open and discarded on close.
func (p *Peer) Send(ctx context.Context, f protocol.Frame) error {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return ErrPeerClosed
	}
	if p.state != StateConnected || p.flushing {
		p.queue = append(p.queue, f)
		p.mu.Unlock()
		return nil
	}
	s := p.sender
	p.mu.Unlock()

	return s.write(ctx, f)
}

// attach takes ownership of dc. Caller holds mu or is constructing p.
func (p *Peer) attach(dc dataChannel) {
	p.dc = dc
	p.sender = newSender(dc, p.closed)

	dc.OnOpen(p.handleOpen)
	dc.OnClose(func() {
		util.LogDebug("DataChannel closed", "remote", p.remoteID)
		go p.Close()
	})
	dc.OnMessage(p.handleMessage)
}

func (p *Peer) handleOpen() {
	p.mu.Lock()
	if p.state == StateClosed || p.state == StateConnected {
		p.mu.Unlock()
		return
	}
	p.state = StateConnected
	p.everConnected = true
	p.flushing = true
	p.mu.Unlock()

	util.Stats.AddPeer()
	util.LogSuccess("peer connected", "remote", p.remoteID)
	p.flush()
}

// flush drains the queue in order without holding mu across writes. Sends
// issued meanwhile are appended to the queue so FIFO order holds.
func (p *Peer) flush() {
	for {
		p.mu.Lock()
		if p.state == StateClosed || len(p.queue) == 0 {
			p.flushing = false
			p.mu.Unlock()
			return
		}
		f := p.queue[0]
		p.queue[0] = protocol.Frame{}
		p.queue = p.queue[1:]
		s := p.sender
		p.mu.Unlock()

		if err := s.write(context.Background(), f); err != nil {
			util.LogError("failed to flush queued frame", "remote", p.remoteID, "err", err)
			p.mu.Lock()
			p.flushing = false
			p.mu.Unlock()
			return
		}
	}
}

func (p *Peer) handleMessage(msg webrtc.DataChannelMessage) {
	select {
	case <-p.closed:
		return
	default:
	}

	util.Stats.AddRecv(len(msg.Data))

	kind := protocol.FrameBinary
	if msg.IsString {
		kind = protocol.FrameText
	}
	if p.events.onFrame != nil {
		p.events.onFrame(p.remoteID, protocol.Frame{Kind: kind, Data: msg.Data})
	}
}

// ---------------------------------------------------------------------------
// Negotiation
// ---------------------------------------------------------------------------

// negotiate answers negotiationneeded with a fresh offer.
func (p *Peer) negotiate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateClosed {
		return
	}
	if err := p.sendOfferLocked(nil); err != nil {
		util.LogWarning("negotiation failed", "remote", p.remoteID, "err", err)
	}
}

// sendOfferLocked creates, applies and sends an offer with makingOffer set
// for its duration.
func (p *Peer) sendOfferLocked(opts *webrtc.OfferOptions) error {
	p.makingOffer = true
	defer func() { p.makingOffer = false }()

	offer, err := p.conn.CreateOffer(opts)
	if err != nil {
		return fmt.Errorf("CreateOffer: %w", err)
	}
	return p.applyAndSend(offer)
}

// HandleSignal applies a remote description or candidate. Offers that
// collide with a local offer are dropped by the impolite side and accepted
// (after rolling back) by the polite side.
func (p *Peer) HandleSignal(sig signaling.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateClosed {
		return ErrPeerClosed
	}

	kind, err := sig.Kind()
	if err != nil {
		return err
	}

	if kind == signaling.KindCandidate {
		candidate, err := sig.Candidate()
		if err != nil {
			return err
		}
		if err := p.conn.AddICECandidate(candidate); err != nil {
			if p.ignoreOffer {
				return nil
			}
			return fmt.Errorf("AddICECandidate: %w", err)
		}
		return nil
	}

	desc, err := sig.Description()
	if err != nil {
		return err
	}
	isOffer := desc.Type == webrtc.SDPTypeOffer

	readyForOffer := !p.makingOffer &&
		(p.conn.SignalingState() == webrtc.SignalingStateStable || p.settingRemoteAnswerPending)
	offerCollision := isOffer && !readyForOffer

	p.ignoreOffer = !p.polite && offerCollision
	if p.ignoreOffer {
		util.LogDebug("ignoring colliding offer", "remote", p.remoteID)
		return nil
	}

	if offerCollision {
		if err := p.conn.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
	}

	p.settingRemoteAnswerPending = desc.Type == webrtc.SDPTypeAnswer
	err = p.conn.SetRemoteDescription(desc)
	p.settingRemoteAnswerPending = false
	if err != nil {
		return fmt.Errorf("SetRemoteDescription(%s): %w", desc.Type, err)
	}

	if !isOffer {
		return nil
	}

	if p.state == StateIdle {
		p.state = StateNegotiating
	}
	answer, err := p.conn.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("CreateAnswer: %w", err)
	}
	return p.applyAndSend(answer)
}

// restartICE renegotiates with fresh ICE credentials once. A second failure
// closes the peer.
func (p *Peer) restartICE() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateClosed {
		return
	}
	if p.iceRestarted {
		util.LogWarning("ICE failed after restart, closing", "remote", p.remoteID)
		p.closeLocked()
		return
	}
	p.iceRestarted = true

	util.LogInfo("ICE failed, restarting", "remote", p.remoteID)
	if err := p.sendOfferLocked(&webrtc.OfferOptions{ICERestart: true}); err != nil {
		util.LogWarning("ICE restart failed", "remote", p.remoteID, "err", err)
	}
}

func (p *Peer) handleLocalCandidate(c *webrtc.ICECandidate) {
	if c == nil {
		return
	}
	select {
	case <-p.closed:
		return
	default:
	}

	sig, err := signaling.CandidateSignal(c.ToJSON())
	if err != nil {
		util.LogWarning("failed to encode candidate", "err", err)
		return
	}

	p.signalMu.Lock()
	defer p.signalMu.Unlock()
	p.send(sig)
}

// applyAndSend sets desc as the local description and sends it.
func (p *Peer) applyAndSend(desc webrtc.SessionDescription) error {
	sig, err := signaling.DescriptionSignal(desc)
	if err != nil {
		return err
	}

	p.signalMu.Lock()
	defer p.signalMu.Unlock()

	if err := p.conn.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("SetLocalDescription(%s): %w", desc.Type, err)
	}
	p.send(sig)
	return nil
}

// send is best effort: signaling failures are logged, not retried.
func (p *Peer) send(sig signaling.Signal) {
	ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
	defer cancel()

	if err := p.signaler.SendSignal(ctx, p.remoteID, sig); err != nil {
		util.LogWarning("failed to send signal", "remote", p.remoteID, "type", sig.Type, "err", err)
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Close tears the peer down. It is idempotent and the peer is never reused.
func (p *Peer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *Peer) closeLocked() error {
	if p.state == StateClosed {
		return nil
	}
	wasConnected := p.everConnected
	p.state = StateClosed
	p.queue = nil
	close(p.closed)

	var errs []error
	if p.dc != nil {
		errs = append(errs, p.dc.Close())
	}
	errs = append(errs, p.conn.Close())

	if wasConnected {
		util.Stats.RemovePeer()
	}
	util.LogInfo("peer closed", "remote", p.remoteID)

	if p.events.onClosed != nil {
		go p.events.onClosed(p)
	}
	return errors.Join(errs...)
}
