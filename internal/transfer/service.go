package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/1ureka/quicksync/internal/protocol"
	"github.com/1ureka/quicksync/internal/transport"
	"github.com/1ureka/quicksync/internal/util"
)

type result struct {
	content Content
	err     error
}

// pending is one outstanding request. done is written exactly once, by
// whoever removes the entry from the pending table.
type pending struct {
	owner      string
	onProgress func(float64)
	started    chan struct{} // closed on the first sign of a blob transfer
	isStarted  bool
	done       chan result
}

func (p *pending) markStarted() {
	if !p.isStarted {
		p.isStarted = true
		close(p.started)
	}
}

type servingKey struct {
	requester string
	messageID string
}

// Service requests content from remote devices and serves local content to
// them over a Channel. Pending requests and incoming transfers are owned by
// the Service and guarded by mu.
type Service struct {
	ch        Channel
	fulfiller Fulfiller
	opts      Options
	handlerID transport.HandlerID

	ctx    context.Context // cancelled on Close; parent of all fulfilments
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	pending  map[string]*pending
	incoming map[string]*incoming
	serving  map[servingKey]struct{}
}

// NewService starts handling content frames arriving on ch. f may be nil,
// in which case every request is answered with a not-found error.
func NewService(ch Channel, f Fulfiller, opts Options) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		ch:        ch,
		fulfiller: f,
		opts:      opts.withDefaults(),
		ctx:       ctx,
		cancel:    cancel,
		pending:   make(map[string]*pending),
		incoming:  make(map[string]*incoming),
		serving:   make(map[servingKey]struct{}),
	}
	s.handlerID = ch.AddFrameHandler(s.handleFrame)
	return s
}

// RequestContent asks ownerID for the content of messageID.
//
// For text, timeout bounds the whole exchange. For files (isFile), timeout
// only bounds the wait for the transfer to start; once the owner announces
// the transfer or the first chunk arrives, the request waits for completion
// or ctx. onProgress, if set, receives the percentage of chunks received;
// it is called in arrival order with the Service locked and must not call
// back into the Service.
//
// A timeout yields ErrTimeout, an explicit error response *RemoteError.
// A timeout <= 0 waits on ctx alone.
func (s *Service) RequestContent(
	ctx context.Context,
	messageID string,
	isFile bool,
	ownerID string,
	timeout time.Duration,
	onProgress func(float64),
) (Content, error) {
	key := protocol.CanonicalID(messageID)
	p := &pending{
		owner:      ownerID,
		onProgress: onProgress,
		started:    make(chan struct{}),
		done:       make(chan result, 1),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := s.pending[key]; ok {
		s.mu.Unlock()
		return nil, ErrDuplicateRequest
	}
	s.pending[key] = p
	s.mu.Unlock()
	defer s.forget(key, p)

	data, err := protocol.EncodeMessage(protocol.Request{MessageID: messageID, Requester: s.opts.LocalID})
	if err != nil {
		return nil, err
	}
	if err := s.ch.SendData(ctx, ownerID, protocol.TextFrame(data)); err != nil {
		return nil, fmt.Errorf("failed to send content request: %w", err)
	}
	util.LogDebug("content requested", "message", messageID, "owner", ownerID, "file", isFile)

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	var started <-chan struct{}
	if isFile {
		started = p.started
	}

	for {
		select {
		case r := <-p.done:
			if r.err == nil {
				util.Stats.AddFetched()
			}
			return r.content, r.err
		case <-started:
			started = nil
			timeoutC = nil
		case <-timeoutC:
			util.LogWarning("content request timed out", "message", messageID, "owner", ownerID)
			return nil, ErrTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// forget drops p and its incoming transfer unless p was already consumed.
func (s *Service) forget(key string, p *pending) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending[key] == p {
		delete(s.pending, key)
		delete(s.incoming, key)
	}
}

// Close stops handling frames, fails outstanding requests with ErrClosed and
// waits for running fulfilments to stop.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pendings := s.pending
	s.pending = make(map[string]*pending)
	s.incoming = make(map[string]*incoming)
	s.mu.Unlock()

	s.ch.RemoveFrameHandler(s.handlerID)
	s.cancel()
	for _, p := range pendings {
		p.done <- result{err: ErrClosed}
	}
	s.wg.Wait()
	return nil
}

// ---------------------------------------------------------------------------
// Inbound
// ---------------------------------------------------------------------------

func (s *Service) handleFrame(remoteID string, f protocol.Frame) {
	switch f.Kind {
	case protocol.FrameText:
		msg, err := protocol.DecodeMessage(f.Data)
		if err != nil {
			util.LogWarning("dropping malformed content message", "from", remoteID, "err", err)
			return
		}
		switch m := msg.(type) {
		case protocol.Request:
			s.serve(m)
		case protocol.Success:
			s.resolve(remoteID, m.MessageID, result{content: Text(m.Text)})
		case protocol.Failure:
			util.LogWarning("content request failed remotely", "message", m.MessageID, "from", remoteID, "reason", m.Reason)
			s.resolve(remoteID, m.MessageID, result{err: &RemoteError{Reason: m.Reason}})
		case protocol.TransferStarted:
			s.handleTransferStarted(remoteID, m)
		}

	case protocol.FrameBinary:
		c, err := protocol.DecodeChunk(f.Data)
		if err != nil {
			util.LogWarning("dropping malformed chunk", "from", remoteID, "err", err)
			return
		}
		s.handleChunk(remoteID, c)
	}
}

// take removes and returns the pending request for key if it was sent to
// remoteID. Caller holds mu.
func (s *Service) take(remoteID, key string) *pending {
	p := s.pending[key]
	if p == nil || p.owner != remoteID {
		return nil
	}
	delete(s.pending, key)
	delete(s.incoming, key)
	return p
}

func (s *Service) resolve(remoteID, messageID string, r result) {
	s.mu.Lock()
	p := s.take(remoteID, protocol.CanonicalID(messageID))
	s.mu.Unlock()

	if p == nil {
		util.LogWarning("no pending content request", "message", messageID, "from", remoteID)
		return
	}
	p.done <- r
}

func (s *Service) handleTransferStarted(remoteID string, m protocol.TransferStarted) {
	key := protocol.CanonicalID(m.MessageID)

	s.mu.Lock()
	p := s.pending[key]
	if p == nil || p.owner != remoteID {
		s.mu.Unlock()
		util.LogWarning("no pending content request", "message", m.MessageID, "from", remoteID)
		return
	}
	p.markStarted()

	if m.TotalChunks == 0 {
		s.take(remoteID, key)
		if p.onProgress != nil {
			p.onProgress(100)
		}
		s.mu.Unlock()
		p.done <- result{content: Blob{Data: []byte{}, MIMEType: MIMEOctetStream}}
		return
	}

	// Chunks may overtake the announcement on an unordered channel.
	if in, ok := s.incoming[key]; !ok || in.total != m.TotalChunks {
		s.incoming[key] = newIncoming(m.TotalChunks)
	}
	s.mu.Unlock()

	util.LogDebug("file transfer started", "message", m.MessageID, "size", util.FormatBytes(float64(m.ContentSize)), "chunks", m.TotalChunks)
}

func (s *Service) handleChunk(remoteID string, c *protocol.Chunk) {
	key := c.MessageID

	s.mu.Lock()
	p := s.pending[key]
	if p == nil || p.owner != remoteID {
		s.mu.Unlock()
		util.LogDebug("dropping chunk without pending request", "message", key, "from", remoteID)
		return
	}

	in := s.incoming[key]
	if in == nil && c.Index < c.Total {
		in = newIncoming(c.Total)
		s.incoming[key] = in
	}
	if in == nil || !in.accepts(c.Index, c.Total) {
		s.mu.Unlock()
		util.LogWarning("dropping chunk outside transfer", "message", key, "index", c.Index, "total", c.Total)
		return
	}

	in.put(c.Index, c.Payload)
	p.markStarted()
	if p.onProgress != nil {
		p.onProgress(in.progress())
	}

	var blob Blob
	done := in.complete()
	if done {
		blob = in.assemble()
		s.take(remoteID, key)
	}
	s.mu.Unlock()

	if done {
		util.LogDebug("file transfer complete", "message", key, "size", util.FormatBytes(float64(len(blob.Data))))
		p.done <- result{content: blob}
	}
}
