// Package config holds the node configuration: signaling backend, ICE
// servers and content-transfer limits. Values come from defaults, an optional
// YAML file, then CLI flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SignalingKind selects the signaling transport variant.
type SignalingKind string

const (
	SignalingWebSocket SignalingKind = "websocket"
	SignalingStore     SignalingKind = "store"
)

// chunkHeaderSize mirrors protocol.HeaderSize; config stays dependency free.
const chunkHeaderSize = 24

// Config stores all parameters of a node.
type Config struct {
	Signaling         SignalingKind `yaml:"signaling"`
	WSURL             string        `yaml:"wsUrl"`             // websocket: relay endpoint
	StorePath         string        `yaml:"storePath"`         // store: SQLite file shared by the session
	StorePollInterval time.Duration `yaml:"storePollInterval"` // store: watch interval
	STUNServers       []string      `yaml:"stunServers"`
	IncludeLoopback   bool          `yaml:"includeLoopback"` // gather 127.0.0.1 candidates, for same-host sessions

	DefaultMaxTransferSize int           `yaml:"defaultMaxTransferSize"` // frame size when the channel does not report one
	MaxMessageChunkSize    int           `yaml:"maxMessageChunkSize"`    // upper bound on a chunk payload
	MessageLoadTimeout     time.Duration `yaml:"messageLoadTimeout"`
	DedupRequests          bool          `yaml:"dedupRequests"` // drop requests already being served

	Debug bool `yaml:"debug"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Signaling:         SignalingWebSocket,
		WSURL:             "ws://127.0.0.1:3000/ws",
		StorePath:         "quicksync.db",
		StorePollInterval: 250 * time.Millisecond,
		STUNServers: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
		},
		DefaultMaxTransferSize: 16 * 1024,
		MaxMessageChunkSize:    64 * 1024,
		MessageLoadTimeout:     10 * time.Second,
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch c.Signaling {
	case SignalingWebSocket:
		if c.WSURL == "" {
			return errors.New("wsUrl is required for websocket signaling")
		}
	case SignalingStore:
		if c.StorePath == "" {
			return errors.New("storePath is required for store signaling")
		}
		if c.StorePollInterval <= 0 {
			return errors.New("storePollInterval must be positive")
		}
	default:
		return fmt.Errorf("unknown signaling kind %q", c.Signaling)
	}

	if c.DefaultMaxTransferSize <= chunkHeaderSize {
		return fmt.Errorf("defaultMaxTransferSize must exceed %d bytes", chunkHeaderSize)
	}
	if c.MaxMessageChunkSize <= 0 {
		return errors.New("maxMessageChunkSize must be positive")
	}
	if c.MessageLoadTimeout <= 0 {
		return errors.New("messageLoadTimeout must be positive")
	}
	return nil
}
