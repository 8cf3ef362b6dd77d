package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/courier/internal/config"
	"github.com/danmuck/courier/internal/stack"
)

func TestLoadConfigFromExample(t *testing.T) {
	cfg, err := loadConfig("ex.config.toml", overrides{})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Name != "courier.left" {
		t.Fatalf("unexpected name: %q", cfg.Name)
	}
	if cfg.Transport != config.TransportUDP {
		t.Fatalf("unexpected transport: %q", cfg.Transport)
	}
	if cfg.Codec != "application/cbor" {
		t.Fatalf("unexpected codec: %q", cfg.Codec)
	}
	if len(cfg.Layers) != 3 || cfg.Layers[2] != stack.LayerOrdered {
		t.Fatalf("unexpected layers: %v", cfg.Layers)
	}
	if cfg.Stack.RetryInterval != 250*time.Millisecond || cfg.Stack.MaxRetries != 8 || cfg.Stack.Origin != 1 {
		t.Fatalf("unexpected stack config: %+v", cfg.Stack)
	}
	if !cfg.Stack.Backoff.Jitter || cfg.Stack.Backoff.Multiplier != 2.0 {
		t.Fatalf("unexpected backoff: %+v", cfg.Stack.Backoff)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")
	cfg, err := loadConfig(path, overrides{})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	def := config.Default()
	if cfg.Transport != def.Transport || cfg.Listen != def.Listen || cfg.AdminAddr != def.AdminAddr {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadConfigAppliesOverrides(t *testing.T) {
	cfg, err := loadConfig("ex.config.toml", overrides{
		name:      "courier.right",
		transport: "TCP",
		listen:    "127.0.0.1:7501",
		peer:      "127.0.0.1:7500",
		layers:    "numbered, lastonly",
		admin:     "off",
	})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Name != "courier.right" || cfg.Transport != config.TransportTCP {
		t.Fatalf("unexpected identity: %q %q", cfg.Name, cfg.Transport)
	}
	if cfg.Listen != "127.0.0.1:7501" || cfg.Peer != "127.0.0.1:7500" {
		t.Fatalf("unexpected addresses: %q %q", cfg.Listen, cfg.Peer)
	}
	if len(cfg.Layers) != 2 || cfg.Layers[1] != stack.LayerLastOnly {
		t.Fatalf("unexpected layers: %v", cfg.Layers)
	}
	if cfg.AdminAddr != "" {
		t.Fatalf("expected admin disabled, got %q", cfg.AdminAddr)
	}
}

func TestLoadConfigRejectsBadLayers(t *testing.T) {
	if _, err := loadConfig("ex.config.toml", overrides{layers: "ordered"}); err == nil {
		t.Fatalf("expected ordered without reliable to fail")
	}
	if _, err := loadConfig("ex.config.toml", overrides{layers: "bogus"}); err == nil {
		t.Fatalf("expected unknown layer to fail")
	}
}
