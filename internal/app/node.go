// Package app wires the layers of a quicksync device together: a signaling
// transport chosen by configuration, the peer connection pool on top of it,
// and the content transfer service serving a local catalog.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/quicksync/internal/config"
	"github.com/1ureka/quicksync/internal/signaling"
	"github.com/1ureka/quicksync/internal/store"
	"github.com/1ureka/quicksync/internal/transfer"
	"github.com/1ureka/quicksync/internal/transport"
	"github.com/1ureka/quicksync/internal/util"
)

// Node is one device taking part in a session.
type Node struct {
	sessionID string
	deviceID  string
	timeout   time.Duration

	catalog  *Catalog
	pool     *transport.Pool
	transfer *transfer.Service

	closers []func() error // run in reverse order on Close
}

// NewNode joins sessionID as deviceID using the signaling backend selected
// by cfg and serves catalog to other devices. A nil catalog serves nothing.
// For websocket signaling NewNode waits until the relay accepted the join.
// The signaler stops when ctx is cancelled.
func NewNode(ctx context.Context, cfg config.Config, sessionID, deviceID string, catalog *Catalog) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		sig     signaling.Signaler
		start   func()
		ready   <-chan struct{}
		closers []func() error
	)

	switch cfg.Signaling {
	case config.SignalingWebSocket:
		ws := signaling.NewWSSignaler(cfg.WSURL, sessionID, deviceID)
		sig, ready = ws, ws.Ready()
		start = func() { ws.Start(ctx) }
		closers = append(closers, ws.Close)

	case config.SignalingStore:
		st, err := store.Open(cfg.StorePath)
		if err != nil {
			return nil, err
		}
		ss := signaling.NewStoreSignaler(st, sessionID, deviceID, cfg.StorePollInterval)
		sig = ss
		start = func() { ss.Start(ctx) }
		closers = append(closers, st.Close, ss.Close)

	default:
		return nil, fmt.Errorf("unknown signaling kind %q", cfg.Signaling)
	}

	// The pool installs its signal handler before the signaler starts so
	// that no early signal is dropped.
	n := newNode(cfg, sessionID, deviceID, sig, transport.Config{STUNServers: cfg.STUNServers, IncludeLoopback: cfg.IncludeLoopback}, catalog)
	n.closers = append(closers, n.closers...)
	start()

	if ready != nil {
		util.LogInfo("connecting to signaling relay", "url", cfg.WSURL)
		select {
		case <-ready:
		case <-ctx.Done():
			n.Close()
			return nil, fmt.Errorf("failed to join session %s: %w", sessionID, ctx.Err())
		}
	}

	util.LogSuccess("joined session", "session", sessionID, "device", deviceID)
	return n, nil
}

// newNode builds the pool and transfer service over sig. The caller owns sig
// unless it registers its Close in closers.
func newNode(cfg config.Config, sessionID, deviceID string, sig signaling.Signaler, tcfg transport.Config, catalog *Catalog) *Node {
	if catalog == nil {
		catalog = NewCatalog()
	}

	dedup := transfer.DedupNone
	if cfg.DedupRequests {
		dedup = transfer.DedupInFlight
	}

	pool := transport.NewPool(deviceID, sig, tcfg)
	svc := transfer.NewService(pool, catalog, transfer.Options{
		LocalID:                deviceID,
		DefaultMaxTransferSize: cfg.DefaultMaxTransferSize,
		MaxChunkSize:           cfg.MaxMessageChunkSize,
		Dedup:                  dedup,
	})

	return &Node{
		sessionID: sessionID,
		deviceID:  deviceID,
		timeout:   cfg.MessageLoadTimeout,
		catalog:   catalog,
		pool:      pool,
		transfer:  svc,
		closers:   []func() error{pool.Close, svc.Close},
	}
}

func (n *Node) SessionID() string { return n.sessionID }
func (n *Node) DeviceID() string  { return n.deviceID }
func (n *Node) Catalog() *Catalog { return n.catalog }

// State reports the connection state towards remoteID, if a connection exists.
func (n *Node) State(remoteID string) (transport.State, bool) {
	return n.pool.State(remoteID)
}

// Fetch requests messageID from ownerID with the configured load timeout.
func (n *Node) Fetch(ctx context.Context, ownerID, messageID string, isFile bool, onProgress func(float64)) (transfer.Content, error) {
	return n.transfer.RequestContent(ctx, messageID, isFile, ownerID, n.timeout, onProgress)
}

// Disconnect closes the connection to remoteID; the next Fetch reconnects.
func (n *Node) Disconnect(remoteID string) error {
	return n.pool.CloseConnection(remoteID)
}

// Close leaves the session and releases every resource.
func (n *Node) Close() error {
	var errs []error
	for i := len(n.closers) - 1; i >= 0; i-- {
		errs = append(errs, n.closers[i]())
	}
	util.LogInfo("left session", "session", n.sessionID)
	return errors.Join(errs...)
}
