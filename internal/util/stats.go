package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide peer/transfer counter.
var Stats = &stats{}

type stats struct {
	PeersOpened     atomic.Int64 // data channels that reached the open state
	PeersClosed     atomic.Int64 // peer connections torn down
	BytesSent       atomic.Int64 // bytes written to data channels
	BytesRecv       atomic.Int64 // bytes read from data channels
	TransfersDone   atomic.Int64 // content requests resolved with content
	TransfersServed atomic.Int64 // content requests served to remote peers
}

func (s *stats) AddPeer()      { s.PeersOpened.Add(1) }
func (s *stats) RemovePeer()   { s.PeersClosed.Add(1) }
func (s *stats) AddSent(n int) { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int) { s.BytesRecv.Add(int64(n)) }
func (s *stats) AddFetched()   { s.TransfersDone.Add(1) }
func (s *stats) AddServed()    { s.TransfersServed.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs traffic statistics
// every interval while anything changed. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		secs := interval.Seconds()
		var prevSent, prevRecv, prevOpened, prevClosed, prevServed int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()
				opened := Stats.PeersOpened.Load()
				closed := Stats.PeersClosed.Load()
				served := Stats.TransfersServed.Load()

				if sent != prevSent || recv != prevRecv || opened != prevOpened || closed != prevClosed {
					pterm.DefaultLogger.Info(formatStats(
						float64(sent-prevSent)/secs,
						float64(recv-prevRecv)/secs,
						opened-closed,
						served-prevServed,
					))
				}

				prevSent, prevRecv = sent, recv
				prevOpened, prevClosed = opened, closed
				prevServed = served

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// FormatBytes formats a byte count into a fixed width (8 chars) string,
// for example "99.0   B", " 1.5 KiB", "98.9 GiB".
func FormatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < len(byteUnits)-1 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

func formatStats(outS, inS float64, peers, served int64) string {
	return fmt.Sprintf("Out: %s/s | In: %s/s | Peers: %2d | Served: %2d",
		FormatBytes(outS),
		FormatBytes(inS),
		peers,
		served,
	)
}
