package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/1ureka/quicksync/internal/store"
	"github.com/1ureka/quicksync/internal/util"
)

// RecordStore is an append-only, per-session log of signal records.
// *store.SQLStore implements it.
type RecordStore interface {
	Append(ctx context.Context, sessionID string, rec *store.Record) error
	Since(ctx context.Context, sessionID, receiver string, afterID uint64) ([]store.Record, error)
	Delete(ctx context.Context, sessionID string, id uint64) error
}

// StoreSignaler exchanges signals by appending records to a shared store and
// polling it for records addressed to the local device. Delivered records are
// deleted.
type StoreSignaler struct {
	st        RecordStore
	sessionID string
	deviceID  string
	interval  time.Duration

	mu      sync.RWMutex
	handler Handler

	lastID uint64 // touched only by the poll goroutine

	cancel context.CancelFunc
	done   chan struct{}
}

var _ Signaler = (*StoreSignaler)(nil)

func NewStoreSignaler(st RecordStore, sessionID, deviceID string, interval time.Duration) *StoreSignaler {
	return &StoreSignaler{
		st:        st,
		sessionID: sessionID,
		deviceID:  deviceID,
		interval:  interval,
	}
}

// Start begins watching the store. Records already present for this device
// are delivered first.
func (s *StoreSignaler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.watch(ctx)
}

func (s *StoreSignaler) OnSignal(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *StoreSignaler) SendSignal(ctx context.Context, remoteID string, sig Signal) error {
	if _, err := sig.Kind(); err != nil {
		return err
	}

	raw, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("failed to encode signal: %w", err)
	}

	return s.st.Append(ctx, s.sessionID, &store.Record{
		Sender:   s.deviceID,
		Receiver: remoteID,
		Signal:   string(raw),
		SentAt:   time.Now().UTC(),
	})
}

// Close stops the watcher. The store itself is owned by the caller.
func (s *StoreSignaler) Close() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	return nil
}

func (s *StoreSignaler) watch(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.poll(ctx)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (s *StoreSignaler) poll(ctx context.Context) {
	records, err := s.st.Since(ctx, s.sessionID, s.deviceID, s.lastID)
	if err != nil {
		if ctx.Err() == nil {
			util.LogWarning("signal store poll failed", "err", err)
		}
		return
	}

	for _, rec := range records {
		if rec.ID > s.lastID {
			s.lastID = rec.ID
		}
		s.deliver(rec)

		if err := s.st.Delete(ctx, s.sessionID, rec.ID); err != nil {
			util.LogWarning("failed to delete consumed signal", "id", rec.ID, "err", err)
		}
	}
}

func (s *StoreSignaler) deliver(rec store.Record) {
	var sig Signal
	if err := json.Unmarshal([]byte(rec.Signal), &sig); err != nil {
		util.LogWarning("dropping malformed signal record", "id", rec.ID, "from", rec.Sender, "err", err)
		return
	}
	if _, err := sig.Kind(); err != nil {
		util.LogWarning("dropping malformed signal record", "id", rec.ID, "from", rec.Sender, "err", err)
		return
	}

	s.mu.RLock()
	h := s.handler
	s.mu.RUnlock()
	if h != nil {
		h(rec.Sender, sig)
	}
}
