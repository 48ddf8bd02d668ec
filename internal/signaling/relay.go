package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/quicksync/internal/util"
)

// Relay is a WebSocket fan-out server for WSSignaler clients. Devices join a
// session; every other message is forwarded verbatim to the connected socket
// of (sessionId, receiver), or dropped when that device is not connected.
type Relay struct {
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]map[string]*relayPeer // sessionId → deviceId → socket
}

type relayPeer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *relayPeer) write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// relayHeader is the subset of fields the relay routes on.
type relayHeader struct {
	Action    string `json:"action"`
	SessionID string `json:"sessionId"`
	DeviceID  string `json:"deviceId"`
	Receiver  string `json:"receiver"`
}

func NewRelay() *Relay {
	return &Relay{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]map[string]*relayPeer),
	}
}

func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}

	peer := &relayPeer{conn: conn}
	var sessionID, deviceID string
	defer func() {
		r.leave(sessionID, deviceID, peer)
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var head relayHeader
		if err := json.Unmarshal(data, &head); err != nil {
			util.LogWarning("relay: dropping malformed message", "err", err)
			continue
		}

		if head.Action == actionJoin {
			if head.SessionID == "" || head.DeviceID == "" {
				util.LogWarning("relay: join without session or device")
				continue
			}
			r.leave(sessionID, deviceID, peer)
			sessionID, deviceID = head.SessionID, head.DeviceID
			r.join(sessionID, deviceID, peer)
			continue
		}

		r.forward(head.SessionID, head.Receiver, data)
	}
}

// Devices lists the devices currently joined to sessionID.
func (r *Relay) Devices(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	devices := make([]string, 0, len(r.sessions[sessionID]))
	for id := range r.sessions[sessionID] {
		devices = append(devices, id)
	}
	return devices
}

func (r *Relay) join(sessionID, deviceID string, peer *relayPeer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	devices, ok := r.sessions[sessionID]
	if !ok {
		devices = make(map[string]*relayPeer)
		r.sessions[sessionID] = devices
	}
	devices[deviceID] = peer
	util.LogDebug("relay: device joined", "session", sessionID, "device", deviceID)
}

// leave removes the device only if peer is still its registered socket.
func (r *Relay) leave(sessionID, deviceID string, peer *relayPeer) {
	if sessionID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	devices := r.sessions[sessionID]
	if devices[deviceID] != peer {
		return
	}
	delete(devices, deviceID)
	if len(devices) == 0 {
		delete(r.sessions, sessionID)
	}
}

func (r *Relay) forward(sessionID, receiver string, data []byte) {
	r.mu.Lock()
	target := r.sessions[sessionID][receiver]
	r.mu.Unlock()

	if target == nil {
		util.LogWarning("relay: receiver not connected", "session", sessionID, "receiver", receiver)
		return
	}
	if err := target.write(data); err != nil {
		util.LogWarning("relay: forward failed", "receiver", receiver, "err", err)
	}
}

// ListenAndServe serves the relay at /ws on addr until ctx is cancelled.
func (r *Relay) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", r)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	util.LogInfo("relay listening", "addr", listener.Addr().String())
	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
