package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrShortChunk is returned by DecodeChunk when the input cannot hold a header.
var ErrShortChunk = errors.New("chunk shorter than header")

// CanonicalID returns the canonical form of a UUID message id, accepting
// hyphenated or bare hex input. Ids that are not UUIDs are returned unchanged.
func CanonicalID(id string) string {
	u, err := uuid.Parse(id)
	if err != nil {
		return id
	}
	return u.String()
}

// ValidateChunkID reports whether id can be carried in a chunk header.
func ValidateChunkID(id string) error {
	_, err := parseChunkID(id)
	return err
}

func parseChunkID(id string) (uuid.UUID, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid chunk message id %q: %w", id, err)
	}
	return u, nil
}

// EncodeChunk serializes a chunk for transmission. The message id must be a
// UUID; its 16 raw bytes open the header, followed by Index and Total as
// big-endian uint32s.
func EncodeChunk(c *Chunk) ([]byte, error) {
	id, err := parseChunkID(c.MessageID)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, HeaderSize+len(c.Payload))
	copy(buf[0:16], id[:])
	binary.BigEndian.PutUint32(buf[16:20], c.Index)
	binary.BigEndian.PutUint32(buf[20:24], c.Total)
	copy(buf[HeaderSize:], c.Payload)
	return buf, nil
}

// DecodeChunk deserializes a chunk. The payload is copied out of data.
func DecodeChunk(data []byte) (*Chunk, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes (need at least %d)", ErrShortChunk, len(data), HeaderSize)
	}

	var id uuid.UUID
	copy(id[:], data[0:16])

	c := &Chunk{
		MessageID: id.String(),
		Index:     binary.BigEndian.Uint32(data[16:20]),
		Total:     binary.BigEndian.Uint32(data[20:24]),
		Payload:   make([]byte, len(data)-HeaderSize),
	}
	copy(c.Payload, data[HeaderSize:])
	return c, nil
}
