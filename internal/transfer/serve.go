package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/1ureka/quicksync/internal/protocol"
	"github.com/1ureka/quicksync/internal/util"
)

// serve fulfils req on its own goroutine so that large transfers never block
// the frame handler.
func (s *Service) serve(req protocol.Request) {
	key := servingKey{requester: req.Requester, messageID: protocol.CanonicalID(req.MessageID)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.opts.Dedup == DedupInFlight {
		if _, busy := s.serving[key]; busy {
			s.mu.Unlock()
			util.LogDebug("dropping duplicate content request", "message", req.MessageID, "from", req.Requester)
			return
		}
		s.serving[key] = struct{}{}
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.serving, key)
			s.mu.Unlock()
		}()

		if err := s.fulfil(s.ctx, req); err != nil {
			util.LogError("failed to serve content", "message", req.MessageID, "to", req.Requester, "err", err)
		}
	}()
}

func (s *Service) fulfil(ctx context.Context, req protocol.Request) error {
	var content Content
	err := ErrNotFound
	if s.fulfiller != nil {
		content, err = s.fulfiller.FulfillContent(ctx, req.MessageID)
	}
	if err == nil && content == nil {
		err = ErrNotFound
	}
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			util.LogWarning("fulfiller failed", "message", req.MessageID, "err", err)
		}
		return s.sendMessage(ctx, req.Requester, protocol.Failure{MessageID: req.MessageID, Reason: notFoundReason})
	}

	switch c := content.(type) {
	case Text:
		if err := s.sendMessage(ctx, req.Requester, protocol.Success{MessageID: req.MessageID, Text: string(c)}); err != nil {
			return err
		}
	case Blob:
		if err := s.sendBlob(ctx, req.Requester, req.MessageID, c.Data); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported content %T", content)
	}

	util.Stats.AddServed()
	return nil
}

// chunkSize is the payload size of every chunk sent to remoteID: the
// negotiated message size minus the header, or the configured default when
// the size is not known yet, capped at MaxChunkSize.
func (s *Service) chunkSize(remoteID string) int {
	size := s.opts.DefaultMaxTransferSize - protocol.HeaderSize
	if limit, ok := s.ch.MaxMessageSize(remoteID); ok && limit > protocol.HeaderSize {
		size = limit - protocol.HeaderSize
	}
	return min(size, s.opts.MaxChunkSize)
}

func (s *Service) sendBlob(ctx context.Context, to, messageID string, data []byte) error {
	// Chunk headers carry the id as 16 raw bytes.
	if err := protocol.ValidateChunkID(messageID); err != nil {
		if sendErr := s.sendMessage(ctx, to, protocol.Failure{MessageID: messageID, Reason: notFoundReason}); sendErr != nil {
			util.LogWarning("failed to report unsendable file", "message", messageID, "to", to, "err", sendErr)
		}
		return err
	}

	size := s.chunkSize(to)
	total := uint32((len(data) + size - 1) / size)

	err := s.sendMessage(ctx, to, protocol.TransferStarted{
		MessageID:   messageID,
		ContentSize: int64(len(data)),
		TotalChunks: total,
		ChunkSize:   size,
	})
	if err != nil {
		return err
	}

	for i := uint32(0); i < total; i++ {
		start := int(i) * size
		end := min(start+size, len(data))

		buf, err := protocol.EncodeChunk(&protocol.Chunk{
			MessageID: messageID,
			Index:     i,
			Total:     total,
			Payload:   data[start:end],
		})
		if err != nil {
			return err
		}
		if err := s.ch.SendData(ctx, to, protocol.BinaryFrame(buf)); err != nil {
			return fmt.Errorf("failed to send chunk %d/%d: %w", i+1, total, err)
		}
	}

	util.LogInfo("file served", "message", messageID, "to", to, "size", util.FormatBytes(float64(len(data))), "chunks", total)
	return nil
}

func (s *Service) sendMessage(ctx context.Context, to string, m protocol.Message) error {
	data, err := protocol.EncodeMessage(m)
	if err != nil {
		return err
	}
	if err := s.ch.SendData(ctx, to, protocol.TextFrame(data)); err != nil {
		return fmt.Errorf("failed to send %T response: %w", m, err)
	}
	return nil
}
