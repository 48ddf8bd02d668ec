package transport

import (
	"context"
	"fmt"

	"github.com/1ureka/quicksync/internal/protocol"
	"github.com/1ureka/quicksync/internal/util"
)

const (
	highWaterMark = 256 * 1024 // pause sending when bufferedAmount exceeds this
	lowWaterMark  = 64 * 1024  // resume sending when bufferedAmount drops below this
)

// sender writes frames to one data channel with backpressure: a write waits
// while the channel's buffered amount is above highWaterMark.
type sender struct {
	dc          dataChannel
	drainSignal chan struct{}
	closed      <-chan struct{}
}

// newSender wires the backpressure callbacks on dc. Waits are abandoned once
// closed is closed.
func newSender(dc dataChannel, closed <-chan struct{}) *sender {
	s := &sender{
		dc:          dc,
		drainSignal: make(chan struct{}, 1),
		closed:      closed,
	}

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case s.drainSignal <- struct{}{}:
		default:
		}
	})

	return s
}

// write sends one frame, blocking while the channel is saturated.
func (s *sender) write(ctx context.Context, f protocol.Frame) error {
	for s.dc.BufferedAmount() > uint64(highWaterMark) {
		select {
		case <-s.drainSignal:
		case <-s.closed:
			return ErrPeerClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var err error
	switch f.Kind {
	case protocol.FrameText:
		err = s.dc.SendText(string(f.Data))
	case protocol.FrameBinary:
		err = s.dc.Send(f.Data)
	default:
		return fmt.Errorf("unknown frame kind %d", f.Kind)
	}
	if err != nil {
		return fmt.Errorf("failed to send %s frame: %w", f.Kind, err)
	}

	util.Stats.AddSent(len(f.Data))
	return nil
}
