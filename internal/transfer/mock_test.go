package transfer

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/1ureka/quicksync/internal/protocol"
	"github.com/1ureka/quicksync/internal/transport"
	"github.com/1ureka/quicksync/internal/util"
)

func init() {
	util.SetLogOutput(io.Discard)
}

var _ Channel = (*mockChannel)(nil)

// mockChannel implements Channel for in-process testing. Two linked
// instances simulate a data channel between two devices: frames sent by one
// side reach the other side's handlers after a random delay in [0, maxDelay),
// so that with a non-zero delay they may arrive out of order. With a zero
// delay frames are delivered synchronously and in order.
type mockChannel struct {
	id         string
	peer       *mockChannel
	maxDelay   time.Duration
	maxMessage int

	mu       sync.Mutex
	handlers map[transport.HandlerID]transport.FrameHandler
	nextID   transport.HandlerID
	sent     []protocol.Frame
}

// linkedChannels creates a linked pair of mock channels for devices a and b.
func linkedChannels(a, b string, maxDelay time.Duration) (*mockChannel, *mockChannel) {
	ca := &mockChannel{id: a, maxDelay: maxDelay, handlers: make(map[transport.HandlerID]transport.FrameHandler)}
	cb := &mockChannel{id: b, maxDelay: maxDelay, handlers: make(map[transport.HandlerID]transport.FrameHandler)}
	ca.peer = cb
	cb.peer = ca
	return ca, cb
}

func (m *mockChannel) SendData(_ context.Context, remoteID string, f protocol.Frame) error {
	if remoteID != m.peer.id {
		return fmt.Errorf("no route to %s", remoteID)
	}

	m.mu.Lock()
	m.sent = append(m.sent, f)
	m.mu.Unlock()

	if m.maxDelay == 0 {
		m.peer.deliver(m.id, f)
		return nil
	}
	go func() {
		time.Sleep(time.Duration(rand.Int63n(int64(m.maxDelay))))
		m.peer.deliver(m.id, f)
	}()
	return nil
}

func (m *mockChannel) MaxMessageSize(string) (int, bool) {
	return m.maxMessage, m.maxMessage > 0
}

func (m *mockChannel) AddFrameHandler(fn transport.FrameHandler) transport.HandlerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.handlers[m.nextID] = fn
	return m.nextID
}

func (m *mockChannel) RemoveFrameHandler(id transport.HandlerID) {
	m.mu.Lock()
	delete(m.handlers, id)
	m.mu.Unlock()
}

func (m *mockChannel) deliver(from string, f protocol.Frame) {
	m.mu.Lock()
	handlers := make([]transport.FrameHandler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(from, f)
	}
}

// sentChunks returns the decoded binary frames sent so far.
func (m *mockChannel) sentChunks(t *testing.T) []*protocol.Chunk {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	var chunks []*protocol.Chunk
	for _, f := range m.sent {
		if f.Kind != protocol.FrameBinary {
			continue
		}
		c, err := protocol.DecodeChunk(f.Data)
		if err != nil {
			t.Fatalf("sent an undecodable chunk: %v", err)
		}
		chunks = append(chunks, c)
	}
	return chunks
}

// scriptedOwner answers requests arriving on ch by hand. script runs on its
// own goroutine for every request.
func scriptedOwner(ch *mockChannel, script func(req protocol.Request)) {
	ch.AddFrameHandler(func(_ string, f protocol.Frame) {
		if f.Kind != protocol.FrameText {
			return
		}
		msg, err := protocol.DecodeMessage(f.Data)
		if err != nil {
			return
		}
		if req, ok := msg.(protocol.Request); ok {
			go script(req)
		}
	})
}

func sendMessage(t *testing.T, ch *mockChannel, m protocol.Message) {
	t.Helper()
	data, err := protocol.EncodeMessage(m)
	if err != nil {
		t.Errorf("EncodeMessage failed: %v", err)
		return
	}
	ch.SendData(context.Background(), ch.peer.id, protocol.TextFrame(data))
}

func sendChunk(t *testing.T, ch *mockChannel, id string, index, total uint32, payload string) {
	t.Helper()
	data, err := protocol.EncodeChunk(&protocol.Chunk{MessageID: id, Index: index, Total: total, Payload: []byte(payload)})
	if err != nil {
		t.Errorf("EncodeChunk failed: %v", err)
		return
	}
	ch.SendData(context.Background(), ch.peer.id, protocol.BinaryFrame(data))
}

// progressLog records progress callbacks.
type progressLog struct {
	mu     sync.Mutex
	values []float64
}

func (p *progressLog) record(v float64) {
	p.mu.Lock()
	p.values = append(p.values, v)
	p.mu.Unlock()
}

func (p *progressLog) all() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.values...)
}

// tableSizes reports the sizes of the pending and incoming tables.
func (s *Service) tableSizes() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending), len(s.incoming)
}

func staticContent(items map[string]Content) Fulfiller {
	return FulfillerFunc(func(_ context.Context, messageID string) (Content, error) {
		c, ok := items[messageID]
		if !ok {
			return nil, ErrNotFound
		}
		return c, nil
	})
}
