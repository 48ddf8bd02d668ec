package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/quicksync/internal/signaling"
	"github.com/1ureka/quicksync/internal/util"
)

func init() {
	util.SetLogOutput(io.Discard)
}

// Compile-time interface checks.
var (
	_ rtcConn     = (*fakeConn)(nil)
	_ dataChannel = (*fakeChannel)(nil)
)

// fakeConn emulates the signaling-state machine of a peer connection:
// stable → have-local-offer → stable, stable → have-remote-offer → stable,
// with rollback. It records every description and candidate applied.
type fakeConn struct {
	name string

	mu            sync.Mutex
	state         webrtc.SignalingState
	offers        int
	remoteSet     bool
	remoteDescs   []webrtc.SessionDescription
	candidates    []webrtc.ICECandidateInit
	candidateErr  error
	offerOptions  []*webrtc.OfferOptions
	channels      []*fakeChannel
	maxMessage    int
	closed        bool
	onNegotiation func()
	onCandidate   func(*webrtc.ICECandidate)
	onICEState    func(webrtc.ICEConnectionState)
	onConnState   func(webrtc.PeerConnectionState)
	onDataChannel func(dataChannel)
}

func newFakeConn(name string) *fakeConn {
	return &fakeConn{name: name, state: webrtc.SignalingStateStable}
}

func (c *fakeConn) CreateOffer(opts *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, errors.New("CreateOffer in have-remote-offer")
	}
	c.offers++
	c.offerOptions = append(c.offerOptions, opts)
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%s-%d", c.name, c.offers)}, nil
}

func (c *fakeConn) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, errors.New("CreateAnswer without remote offer")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-" + c.name}, nil
}

func (c *fakeConn) SetLocalDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		if c.state != webrtc.SignalingStateStable && c.state != webrtc.SignalingStateHaveLocalOffer {
			return fmt.Errorf("local offer in %s", c.state)
		}
		c.state = webrtc.SignalingStateHaveLocalOffer
	case webrtc.SDPTypeAnswer:
		if c.state != webrtc.SignalingStateHaveRemoteOffer {
			return fmt.Errorf("local answer in %s", c.state)
		}
		c.state = webrtc.SignalingStateStable
	case webrtc.SDPTypeRollback:
		if c.state != webrtc.SignalingStateHaveLocalOffer {
			return fmt.Errorf("rollback in %s", c.state)
		}
		c.state = webrtc.SignalingStateStable
	default:
		return fmt.Errorf("unsupported local %s", desc.Type)
	}
	return nil
}

func (c *fakeConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		if c.state != webrtc.SignalingStateStable {
			return fmt.Errorf("remote offer in %s", c.state)
		}
		c.state = webrtc.SignalingStateHaveRemoteOffer
	case webrtc.SDPTypeAnswer:
		if c.state != webrtc.SignalingStateHaveLocalOffer {
			return fmt.Errorf("remote answer in %s", c.state)
		}
		c.state = webrtc.SignalingStateStable
	default:
		return fmt.Errorf("unsupported remote %s", desc.Type)
	}
	c.remoteSet = true
	c.remoteDescs = append(c.remoteDescs, desc)
	return nil
}

func (c *fakeConn) AddICECandidate(init webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.candidateErr != nil {
		return c.candidateErr
	}
	if !c.remoteSet {
		return errors.New("remote description not set")
	}
	c.candidates = append(c.candidates, init)
	return nil
}

func (c *fakeConn) SignalingState() webrtc.SignalingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeConn) OnNegotiationNeeded(f func()) {
	c.mu.Lock()
	c.onNegotiation = f
	c.mu.Unlock()
}

func (c *fakeConn) OnICECandidate(f func(*webrtc.ICECandidate)) {
	c.mu.Lock()
	c.onCandidate = f
	c.mu.Unlock()
}

func (c *fakeConn) OnICEConnectionStateChange(f func(webrtc.ICEConnectionState)) {
	c.mu.Lock()
	c.onICEState = f
	c.mu.Unlock()
}

func (c *fakeConn) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onConnState = f
	c.mu.Unlock()
}

func (c *fakeConn) OnDataChannel(f func(dataChannel)) {
	c.mu.Lock()
	c.onDataChannel = f
	c.mu.Unlock()
}

func (c *fakeConn) CreateDataChannel(label string, init *webrtc.DataChannelInit) (dataChannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if init == nil || init.Ordered == nil || *init.Ordered {
		return nil, errors.New("expected an unordered channel")
	}
	ch := newFakeChannel(label)
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *fakeConn) MaxMessageSize() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxMessage, c.maxMessage > 0
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// negotiationNeeded fires the connection's negotiationneeded callback.
func (c *fakeConn) negotiationNeeded() {
	c.mu.Lock()
	f := c.onNegotiation
	c.mu.Unlock()
	if f != nil {
		f()
	}
}

// remoteChannel simulates the remote side opening a channel towards us.
func (c *fakeConn) remoteChannel() *fakeChannel {
	ch := newFakeChannel(channelLabel)
	c.mu.Lock()
	f := c.onDataChannel
	c.mu.Unlock()
	f(ch)
	return ch
}

func (c *fakeConn) iceState(s webrtc.ICEConnectionState) {
	c.mu.Lock()
	f := c.onICEState
	c.mu.Unlock()
	f(s)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeChannel is an in-memory data channel recording sent frames.
type fakeChannel struct {
	label string

	mu        sync.Mutex
	state     webrtc.DataChannelState
	buffered  uint64
	sent      []string // "t:" or "b:" prefixed payloads
	onOpen    func()
	onClose   func()
	onMessage func(webrtc.DataChannelMessage)
	onLow     func()
}

func newFakeChannel(label string) *fakeChannel {
	return &fakeChannel{label: label, state: webrtc.DataChannelStateConnecting}
}

func (ch *fakeChannel) Label() string { return ch.label }

func (ch *fakeChannel) ReadyState() webrtc.DataChannelState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

func (ch *fakeChannel) Send(data []byte) error  { return ch.record("b:" + string(data)) }
func (ch *fakeChannel) SendText(s string) error { return ch.record("t:" + s) }

func (ch *fakeChannel) SetBufferedAmountLowThreshold(uint64) {}

func (ch *fakeChannel) record(s string) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.state != webrtc.DataChannelStateOpen {
		return errors.New("channel not open")
	}
	ch.sent = append(ch.sent, s)
	return nil
}

func (ch *fakeChannel) BufferedAmount() uint64 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.buffered
}

func (ch *fakeChannel) OnBufferedAmountLow(f func()) {
	ch.mu.Lock()
	ch.onLow = f
	ch.mu.Unlock()
}

func (ch *fakeChannel) OnOpen(f func()) {
	ch.mu.Lock()
	ch.onOpen = f
	ch.mu.Unlock()
}

func (ch *fakeChannel) OnClose(f func()) {
	ch.mu.Lock()
	ch.onClose = f
	ch.mu.Unlock()
}

func (ch *fakeChannel) OnMessage(f func(webrtc.DataChannelMessage)) {
	ch.mu.Lock()
	ch.onMessage = f
	ch.mu.Unlock()
}

func (ch *fakeChannel) Close() error {
	ch.mu.Lock()
	ch.state = webrtc.DataChannelStateClosed
	ch.mu.Unlock()
	return nil
}

func (ch *fakeChannel) open() {
	ch.mu.Lock()
	ch.state = webrtc.DataChannelStateOpen
	f := ch.onOpen
	ch.mu.Unlock()
	f()
}

func (ch *fakeChannel) drop() {
	ch.mu.Lock()
	ch.state = webrtc.DataChannelStateClosed
	ch.mu.Unlock()
}

func (ch *fakeChannel) deliver(msg webrtc.DataChannelMessage) {
	ch.mu.Lock()
	f := ch.onMessage
	ch.mu.Unlock()
	f(msg)
}

func (ch *fakeChannel) drain() {
	ch.mu.Lock()
	ch.buffered = 0
	f := ch.onLow
	ch.mu.Unlock()
	f()
}

func (ch *fakeChannel) sentFrames() []string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([]string(nil), ch.sent...)
}

// recordingSignaler keeps every outbound signal for manual delivery.
type recordingSignaler struct {
	mu      sync.Mutex
	out     []sentSignal
	handler signaling.Handler
}

type sentSignal struct {
	to  string
	sig signaling.Signal
}

var _ signaling.Signaler = (*recordingSignaler)(nil)

func (s *recordingSignaler) SendSignal(_ context.Context, remoteID string, sig signaling.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = append(s.out, sentSignal{to: remoteID, sig: sig})
	return nil
}

func (s *recordingSignaler) OnSignal(h signaling.Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *recordingSignaler) Close() error { return nil }

// inject delivers sig as if it arrived from remoteID.
func (s *recordingSignaler) inject(remoteID string, sig signaling.Signal) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	h(remoteID, sig)
}

// take removes and returns the oldest outbound signal.
func (s *recordingSignaler) take(t *testing.T) sentSignal {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.out) == 0 {
		t.Fatal("no outbound signal")
	}
	first := s.out[0]
	s.out = s.out[1:]
	return first
}

func (s *recordingSignaler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.out)
}

func description(t *testing.T, typ webrtc.SDPType, sdp string) signaling.Signal {
	t.Helper()
	sig, err := signaling.DescriptionSignal(webrtc.SessionDescription{Type: typ, SDP: sdp})
	if err != nil {
		t.Fatal(err)
	}
	return sig
}

func candidate(t *testing.T) signaling.Signal {
	t.Helper()
	sig, err := signaling.CandidateSignal(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 9 typ host"})
	if err != nil {
		t.Fatal(err)
	}
	return sig
}

func kindOf(t *testing.T, sig signaling.Signal) signaling.Kind {
	t.Helper()
	k, err := sig.Kind()
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
