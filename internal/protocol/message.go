package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType is the "type" discriminator of every content-transfer message.
const MessageType = "contentTransfer"

const (
	actionRequest  = "request"
	actionResponse = "response"

	statusSuccess         = "success"
	statusError           = "error"
	statusTransferStarted = "transferStarted"
)

// ErrInvalidMessage is wrapped by DecodeMessage for any payload that is not a
// well-formed content-transfer message.
var ErrInvalidMessage = errors.New("invalid content transfer message")

// Message is one of Request, Success, Failure or TransferStarted.
type Message interface {
	ID() string
	isMessage()
}

// Request asks the owner of a message for its content.
type Request struct {
	MessageID string
	Requester string
}

// Success carries text content in a single response.
type Success struct {
	MessageID string
	Text      string
}

// Failure reports that the owner could not provide the content.
type Failure struct {
	MessageID string
	Reason    string
}

// TransferStarted announces a chunked blob transfer.
type TransferStarted struct {
	MessageID   string
	ContentSize int64
	TotalChunks uint32
	ChunkSize   int
}

func (m Request) ID() string         { return m.MessageID }
func (m Success) ID() string         { return m.MessageID }
func (m Failure) ID() string         { return m.MessageID }
func (m TransferStarted) ID() string { return m.MessageID }

func (Request) isMessage()         {}
func (Success) isMessage()         {}
func (Failure) isMessage()         {}
func (TransferStarted) isMessage() {}

// wireMessage is the JSON shape shared by all variants.
type wireMessage struct {
	Type        string  `json:"type"`
	Action      string  `json:"action"`
	MessageID   string  `json:"messageId"`
	Requester   *string `json:"requester,omitempty"`
	Status      string  `json:"status,omitempty"`
	Text        *string `json:"text,omitempty"`
	Error       *string `json:"error,omitempty"`
	ContentSize *int64  `json:"contentSize,omitempty"`
	TotalChunks *uint32 `json:"totalChunks,omitempty"`
	ChunkSize   *int    `json:"chunkSize,omitempty"`
}

// EncodeMessage serializes m to its JSON wire form.
func EncodeMessage(m Message) ([]byte, error) {
	w := wireMessage{Type: MessageType, MessageID: m.ID()}

	switch v := m.(type) {
	case Request:
		w.Action = actionRequest
		w.Requester = &v.Requester
	case Success:
		w.Action = actionResponse
		w.Status = statusSuccess
		w.Text = &v.Text
	case Failure:
		w.Action = actionResponse
		w.Status = statusError
		w.Error = &v.Reason
	case TransferStarted:
		w.Action = actionResponse
		w.Status = statusTransferStarted
		w.ContentSize = &v.ContentSize
		w.TotalChunks = &v.TotalChunks
		w.ChunkSize = &v.ChunkSize
	default:
		return nil, fmt.Errorf("unsupported message %T", m)
	}

	return json.Marshal(w)
}

// DecodeMessage parses and validates a JSON content-transfer message.
func DecodeMessage(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if w.Type != MessageType {
		return nil, fmt.Errorf("%w: type %q", ErrInvalidMessage, w.Type)
	}
	if w.MessageID == "" {
		return nil, fmt.Errorf("%w: missing messageId", ErrInvalidMessage)
	}

	switch w.Action {
	case actionRequest:
		if w.Requester == nil || *w.Requester == "" {
			return nil, fmt.Errorf("%w: request without requester", ErrInvalidMessage)
		}
		return Request{MessageID: w.MessageID, Requester: *w.Requester}, nil

	case actionResponse:
		return decodeResponse(&w)

	default:
		return nil, fmt.Errorf("%w: action %q", ErrInvalidMessage, w.Action)
	}
}

func decodeResponse(w *wireMessage) (Message, error) {
	switch w.Status {
	case statusSuccess:
		if w.Text == nil {
			return nil, fmt.Errorf("%w: success without text", ErrInvalidMessage)
		}
		return Success{MessageID: w.MessageID, Text: *w.Text}, nil

	case statusError:
		reason := ""
		if w.Error != nil {
			reason = *w.Error
		}
		return Failure{MessageID: w.MessageID, Reason: reason}, nil

	case statusTransferStarted:
		if w.ContentSize == nil || w.TotalChunks == nil || w.ChunkSize == nil {
			return nil, fmt.Errorf("%w: transferStarted without sizes", ErrInvalidMessage)
		}
		if *w.ContentSize < 0 || *w.ChunkSize < 0 {
			return nil, fmt.Errorf("%w: negative transfer size", ErrInvalidMessage)
		}
		return TransferStarted{
			MessageID:   w.MessageID,
			ContentSize: *w.ContentSize,
			TotalChunks: *w.TotalChunks,
			ChunkSize:   *w.ChunkSize,
		}, nil

	default:
		return nil, fmt.Errorf("%w: status %q", ErrInvalidMessage, w.Status)
	}
}
