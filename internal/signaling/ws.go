package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/1ureka/quicksync/internal/util"
)

// WSSignaler exchanges signals through a relay over a persistent WebSocket.
// It joins the session on every (re)connect and reconnects with exponential
// backoff until closed.
type WSSignaler struct {
	url       string
	sessionID string
	deviceID  string
	dialer    *websocket.Dialer

	mu   sync.Mutex // guards conn and serializes writes
	conn *websocket.Conn

	handlerMu sync.RWMutex
	handler   Handler

	ready     chan struct{}
	readyOnce sync.Once

	cancel context.CancelFunc
	done   chan struct{}
}

var _ Signaler = (*WSSignaler)(nil)

// NewWSSignaler creates a signaler for deviceID in sessionID. Call Start to
// connect.
func NewWSSignaler(url, sessionID, deviceID string) *WSSignaler {
	return &WSSignaler{
		url:       url,
		sessionID: sessionID,
		deviceID:  deviceID,
		dialer:    websocket.DefaultDialer,
		ready:     make(chan struct{}),
	}
}

// Start connects in the background. The connection is kept alive until ctx
// is cancelled or Close is called.
func (s *WSSignaler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Ready returns a channel that is closed after the first successful join.
func (s *WSSignaler) Ready() <-chan struct{} {
	return s.ready
}

// Connected reports whether a relay connection is currently live.
func (s *WSSignaler) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *WSSignaler) OnSignal(h Handler) {
	s.handlerMu.Lock()
	s.handler = h
	s.handlerMu.Unlock()
}

// SendSignal writes an envelope to the relay. It fails fast with
// ErrNotConnected while the socket is down.
func (s *WSSignaler) SendSignal(ctx context.Context, remoteID string, sig Signal) error {
	kind, err := sig.Kind()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrNotConnected
	}
	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetWriteDeadline(deadline)
		defer s.conn.SetWriteDeadline(time.Time{})
	}

	return s.conn.WriteJSON(Envelope{
		SessionID: s.sessionID,
		Sender:    s.deviceID,
		Receiver:  remoteID,
		Type:      kind,
		Signal:    sig,
	})
}

// Close stops reconnecting and closes the socket.
func (s *WSSignaler) Close() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	return nil
}

// run is the connection supervisor: connect, watch until the socket drops,
// repeat.
func (s *WSSignaler) run(ctx context.Context) {
	defer close(s.done)

	for {
		conn, err := s.connect(ctx)
		if err != nil {
			return
		}

		err = s.watch(ctx, conn)

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		util.LogWarning("signaling connection lost, reconnecting", "url", s.url, "err", err)
	}
}

// connect dials and joins, retrying with exponential backoff. It only fails
// once ctx is done.
func (s *WSSignaler) connect(ctx context.Context) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0

	var conn *websocket.Conn
	dial := func() error {
		c, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			return fmt.Errorf("failed to connect to relay: %w", err)
		}
		join := joinMessage{Action: actionJoin, SessionID: s.sessionID, DeviceID: s.deviceID}
		if err := c.WriteJSON(join); err != nil {
			c.Close()
			return fmt.Errorf("failed to join session: %w", err)
		}
		conn = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		util.LogWarning("signaling connect failed", "url", s.url, "retry", wait, "err", err)
	}

	if err := backoff.RetryNotify(dial, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		conn.Close()
		return nil, ctx.Err()
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })

	util.LogDebug("joined signaling session", "session", s.sessionID, "device", s.deviceID)
	return conn, nil
}

// watch reads envelopes until the socket fails or ctx is cancelled.
func (s *WSSignaler) watch(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			util.LogWarning("dropping malformed envelope", "err", err)
			continue
		}
		if env.SessionID != s.sessionID || env.Receiver != s.deviceID {
			continue
		}
		if _, err := env.Signal.Kind(); err != nil {
			util.LogWarning("dropping malformed signal", "from", env.Sender, "err", err)
			continue
		}

		s.handlerMu.RLock()
		h := s.handler
		s.handlerMu.RUnlock()
		if h != nil {
			h(env.Sender, env.Signal)
		}
	}
}
