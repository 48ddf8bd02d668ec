// Package signaling carries WebRTC handshake payloads (SDP descriptions and
// ICE candidates) between devices of a session. Variants share the Signaler
// interface: a persistent WebSocket to a relay, a polled record store, and an
// in-process hub.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Kind identifies the role of a signal in the handshake.
type Kind string

const (
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"
)

// Payload type tags, named after the browser dictionaries they carry.
const (
	TypeDescription = "RTCSessionDescriptionInit"
	TypeCandidate   = "RTCIceCandidateInit"
)

// ErrNotConnected is returned by SendSignal when the transport has no live
// connection. Signals are never buffered.
var ErrNotConnected = errors.New("signaling transport not connected")

// Signal is a handshake payload: a session description or an ICE candidate,
// kept as raw JSON.
type Signal struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"signal"`
}

// DescriptionSignal wraps a session description.
func DescriptionSignal(desc webrtc.SessionDescription) (Signal, error) {
	raw, err := json.Marshal(desc)
	if err != nil {
		return Signal{}, fmt.Errorf("failed to encode description: %w", err)
	}
	return Signal{Type: TypeDescription, Payload: raw}, nil
}

// CandidateSignal wraps an ICE candidate.
func CandidateSignal(c webrtc.ICECandidateInit) (Signal, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return Signal{}, fmt.Errorf("failed to encode candidate: %w", err)
	}
	return Signal{Type: TypeCandidate, Payload: raw}, nil
}

// Kind derives the handshake role: an "offer" description is an offer, any
// other description an answer.
func (s Signal) Kind() (Kind, error) {
	switch s.Type {
	case TypeCandidate:
		return KindCandidate, nil
	case TypeDescription:
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(s.Payload, &head); err != nil {
			return "", fmt.Errorf("malformed description: %w", err)
		}
		if head.Type == "offer" {
			return KindOffer, nil
		}
		return KindAnswer, nil
	default:
		return "", fmt.Errorf("unknown signal type %q", s.Type)
	}
}

// Description decodes a description payload.
func (s Signal) Description() (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if s.Type != TypeDescription {
		return desc, fmt.Errorf("signal type %q is not a description", s.Type)
	}
	if err := json.Unmarshal(s.Payload, &desc); err != nil {
		return desc, fmt.Errorf("malformed description: %w", err)
	}
	return desc, nil
}

// Candidate decodes a candidate payload.
func (s Signal) Candidate() (webrtc.ICECandidateInit, error) {
	var c webrtc.ICECandidateInit
	if s.Type != TypeCandidate {
		return c, fmt.Errorf("signal type %q is not a candidate", s.Type)
	}
	if err := json.Unmarshal(s.Payload, &c); err != nil {
		return c, fmt.Errorf("malformed candidate: %w", err)
	}
	return c, nil
}

// Envelope is the relay wire message: a signal addressed from Sender to
// Receiver within a session.
type Envelope struct {
	SessionID string `json:"sessionId"`
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Type      Kind   `json:"type"`
	Signal    Signal `json:"signal"`
}

// joinMessage registers a device with the relay.
type joinMessage struct {
	Action    string `json:"action"`
	SessionID string `json:"sessionId"`
	DeviceID  string `json:"deviceId"`
}

const actionJoin = "join"

// Handler receives every signal addressed to the local device.
type Handler func(remoteID string, sig Signal)

// Signaler is a best-effort, point-to-point signal transport scoped to one
// session and one local device.
type Signaler interface {
	// SendSignal delivers sig to remoteID. It does not retry.
	SendSignal(ctx context.Context, remoteID string, sig Signal) error

	// OnSignal installs the single handler for inbound signals. Later calls
	// replace the handler.
	OnSignal(h Handler)

	Close() error
}
