// Package transfer implements the request/response protocol that moves
// message content between devices: text in a single JSON response, blobs as
// a stream of binary chunks reassembled on the requesting side.
package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/1ureka/quicksync/internal/protocol"
	"github.com/1ureka/quicksync/internal/transport"
)

// MIMEOctetStream is the type given to every reassembled blob.
const MIMEOctetStream = "application/octet-stream"

const (
	DefaultMaxTransferSize = 16 * 1024
	DefaultMaxChunkSize    = 64 * 1024
)

// notFoundReason is the error text sent for any request that cannot be served.
const notFoundReason = "Content not found"

var (
	// ErrNotFound is returned by a Fulfiller that has no content for a message.
	ErrNotFound = errors.New("content not found")
	// ErrTimeout is returned when the owner did not answer in time. The
	// connection to the owner is left untouched.
	ErrTimeout = errors.New("content request timed out")
	// ErrDuplicateRequest is returned when a request for the same message is
	// already waiting for its response.
	ErrDuplicateRequest = errors.New("content request already pending")
	// ErrClosed is returned by requests on, or pending at, a closed Service.
	ErrClosed = errors.New("content transfer service closed")
)

// RemoteError is an explicit error response from the content owner.
type RemoteError struct {
	Reason string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error: %s", e.Reason)
}

// Content is either Text or Blob.
type Content interface {
	isContent()
}

// Text is content delivered in a single response.
type Text string

// Blob is content delivered as chunks.
type Blob struct {
	Data     []byte
	MIMEType string
}

func (Text) isContent() {}
func (Blob) isContent() {}

// Fulfiller supplies local content for incoming requests. It returns
// ErrNotFound when the message is unknown.
type Fulfiller interface {
	FulfillContent(ctx context.Context, messageID string) (Content, error)
}

// FulfillerFunc adapts a function to Fulfiller.
type FulfillerFunc func(ctx context.Context, messageID string) (Content, error)

func (f FulfillerFunc) FulfillContent(ctx context.Context, messageID string) (Content, error) {
	return f(ctx, messageID)
}

// DedupPolicy decides what happens to a request that arrives while the same
// request is still being served.
type DedupPolicy int

const (
	// DedupNone serves every request.
	DedupNone DedupPolicy = iota
	// DedupInFlight drops a request for a (requester, message) pair that is
	// already being served.
	DedupInFlight
)

// Options configures a Service. Zero sizes fall back to the defaults.
type Options struct {
	LocalID                string
	DefaultMaxTransferSize int
	MaxChunkSize           int
	Dedup                  DedupPolicy
}

func (o Options) withDefaults() Options {
	if o.DefaultMaxTransferSize <= protocol.HeaderSize {
		o.DefaultMaxTransferSize = DefaultMaxTransferSize
	}
	if o.MaxChunkSize <= 0 {
		o.MaxChunkSize = DefaultMaxChunkSize
	}
	return o
}

// Channel is the subset of transport.Pool the protocol runs over.
type Channel interface {
	SendData(ctx context.Context, remoteID string, f protocol.Frame) error
	MaxMessageSize(remoteID string) (int, bool)
	AddFrameHandler(fn transport.FrameHandler) transport.HandlerID
	RemoveFrameHandler(id transport.HandlerID)
}

var _ Channel = (*transport.Pool)(nil)
