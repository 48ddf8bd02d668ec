package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MessageLoadTimeout != 10*time.Second {
		t.Errorf("MessageLoadTimeout: got %v", cfg.MessageLoadTimeout)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quicksync.yaml")
	data := []byte(`
signaling: store
storePath: /tmp/session.db
storePollInterval: 100ms
messageLoadTimeout: 3s
maxMessageChunkSize: 1024
dedupRequests: true
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Signaling != SignalingStore || cfg.StorePath != "/tmp/session.db" {
		t.Errorf("signaling fields not applied: %+v", cfg)
	}
	if cfg.StorePollInterval != 100*time.Millisecond || cfg.MessageLoadTimeout != 3*time.Second {
		t.Errorf("durations not applied: %v %v", cfg.StorePollInterval, cfg.MessageLoadTimeout)
	}
	if cfg.MaxMessageChunkSize != 1024 || !cfg.DedupRequests {
		t.Errorf("transfer fields not applied: %+v", cfg)
	}
	if cfg.DefaultMaxTransferSize != 16*1024 {
		t.Errorf("unset field lost its default: %d", cfg.DefaultMaxTransferSize)
	}
}

func TestValidateRejects(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown signaling", func(c *Config) { c.Signaling = "carrier-pigeon" }},
		{"empty ws url", func(c *Config) { c.WSURL = "" }},
		{"store without path", func(c *Config) { c.Signaling = SignalingStore; c.StorePath = "" }},
		{"transfer size not above header", func(c *Config) { c.DefaultMaxTransferSize = 24 }},
		{"zero chunk size", func(c *Config) { c.MaxMessageChunkSize = 0 }},
		{"zero timeout", func(c *Config) { c.MessageLoadTimeout = 0 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
