// Package protocol defines the frames exchanged over a peer data channel:
// JSON content-transfer messages sent as text, and binary chunks carrying a
// fixed 24-byte header.
package protocol

// FrameKind distinguishes text frames from binary frames.
type FrameKind uint8

const (
	FrameText   FrameKind = 0x01 // UTF-8 JSON message
	FrameBinary FrameKind = 0x02 // chunk: header + payload
)

func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Frame is the unit sent over a data channel.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// TextFrame wraps data as a text frame.
func TextFrame(data []byte) Frame { return Frame{Kind: FrameText, Data: data} }

// BinaryFrame wraps data as a binary frame.
func BinaryFrame(data []byte) Frame { return Frame{Kind: FrameBinary, Data: data} }

// HeaderSize is the fixed chunk header size: MessageID(16) + Index(4) + Total(4).
const HeaderSize = 24

// Chunk is one slice of a chunked blob transfer.
type Chunk struct {
	MessageID string // canonical hyphenated lowercase UUID
	Index     uint32 // zero-based position within the transfer
	Total     uint32 // number of chunks in the transfer
	Payload   []byte
}
