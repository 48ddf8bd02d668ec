package transport

import (
	"github.com/pion/webrtc/v4"
)

// dataChannel is the subset of *webrtc.DataChannel a Peer uses.
type dataChannel interface {
	Label() string
	ReadyState() webrtc.DataChannelState
	Send(data []byte) error
	SendText(s string) error
	BufferedAmount() uint64
	SetBufferedAmountLowThreshold(th uint64)
	OnBufferedAmountLow(f func())
	OnOpen(f func())
	OnClose(f func())
	OnMessage(f func(msg webrtc.DataChannelMessage))
	Close() error
}

// rtcConn is the subset of a peer connection a Peer drives. pionConn adapts
// *webrtc.PeerConnection; tests substitute a signaling-state emulator.
type rtcConn interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	SignalingState() webrtc.SignalingState

	OnNegotiationNeeded(f func())
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnICEConnectionStateChange(f func(webrtc.ICEConnectionState))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))

	CreateDataChannel(label string, init *webrtc.DataChannelInit) (dataChannel, error)
	OnDataChannel(f func(dataChannel))

	// MaxMessageSize is the negotiated SCTP limit, or false before the
	// association is up.
	MaxMessageSize() (int, bool)

	Close() error
}

// connFactory builds a fresh connection for a new Peer.
type connFactory func() (rtcConn, error)

// pionConn adapts *webrtc.PeerConnection to rtcConn.
type pionConn struct {
	*webrtc.PeerConnection
}

func (c *pionConn) CreateDataChannel(label string, init *webrtc.DataChannelInit) (dataChannel, error) {
	dc, err := c.PeerConnection.CreateDataChannel(label, init)
	if err != nil {
		return nil, err
	}
	return dc, nil
}

func (c *pionConn) OnDataChannel(f func(dataChannel)) {
	c.PeerConnection.OnDataChannel(func(dc *webrtc.DataChannel) { f(dc) })
}

func (c *pionConn) MaxMessageSize() (int, bool) {
	sctp := c.PeerConnection.SCTP()
	if sctp == nil || sctp.State() != webrtc.SCTPTransportStateConnected {
		return 0, false
	}
	size := sctp.GetCapabilities().MaxMessageSize
	if size <= 0 {
		return 0, false
	}
	return int(size), true
}

// Config selects ICE servers for new peer connections.
type Config struct {
	STUNServers []string

	// IncludeLoopback gathers loopback candidates, needed when both peers run
	// on one machine without another usable interface.
	IncludeLoopback bool
}

// pionFactory returns a connFactory creating pion peer connections. No TURN:
// connectivity is direct or not at all.
func pionFactory(cfg Config) connFactory {
	return func() (rtcConn, error) {
		settingEngine := webrtc.SettingEngine{}
		if cfg.IncludeLoopback {
			settingEngine.SetIncludeLoopbackCandidate(true)
		}
		api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))

		var servers []webrtc.ICEServer
		if len(cfg.STUNServers) > 0 {
			servers = []webrtc.ICEServer{{URLs: cfg.STUNServers}}
		}

		pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
		if err != nil {
			return nil, err
		}
		return &pionConn{PeerConnection: pc}, nil
	}
}

// newDataChannel opens the single application channel on the offering side.
// Unordered delivery avoids head-of-line blocking between chunks; the
// transfer layer reassembles by index.
func newDataChannel(conn rtcConn) (dataChannel, error) {
	ordered := false
	return conn.CreateDataChannel(channelLabel, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
}

const channelLabel = "quicksync"
