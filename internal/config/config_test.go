package config

import (
	"crypto/tls"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/danmuck/courier/internal/codec"
	"github.com/danmuck/courier/internal/stack"
	"github.com/danmuck/courier/internal/testutil/testlog"
	"github.com/danmuck/courier/internal/testutil/tlstest"
)

func TestParseOverlaysDefaults(t *testing.T) {
	testlog.Start(t)

	cfg, err := Parse(`
name = "alpha"
transport = "tcp"
listen = "127.0.0.1:9500"
layers = ["numbered", "reliable"]

[stack]
retry_interval = "40ms"
max_retries = 3

[stack.backoff]
multiplier = 2.0
max_delay = "1s"
`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Name != "alpha" || cfg.Stack.Name != "alpha" || cfg.Transport != TransportTCP {
		t.Fatalf("unexpected identity: %+v", cfg)
	}
	if cfg.Peer != Default().Peer || cfg.AdminAddr != Default().AdminAddr {
		t.Fatalf("unset keys must keep defaults: %+v", cfg)
	}
	if !slices.Equal(cfg.Layers, []stack.Layer{stack.LayerNumbered, stack.LayerReliable}) {
		t.Fatalf("layers=%v", cfg.Layers)
	}
	if cfg.Stack.RetryInterval != 40*time.Millisecond || cfg.Stack.MaxRetries != 3 {
		t.Fatalf("stack=%+v", cfg.Stack)
	}
	if got := cfg.Stack.WithDefaults().CheckInterval; got != 10*time.Millisecond {
		t.Fatalf("check interval should follow retry interval, got %v", got)
	}
	if cfg.Stack.Backoff.Multiplier != 2 || cfg.Stack.Backoff.MaxDelay != time.Second {
		t.Fatalf("backoff=%+v", cfg.Stack.Backoff)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	testlog.Start(t)

	cases := map[string]struct {
		doc  string
		want error
	}{
		"transport":  {`transport = "carrier-pigeon"`, ErrInvalid},
		"layers":     {`layers = ["lastonly", "reliable"]`, stack.ErrInvalidLayers},
		"unknown":    {`layers = ["turbo"]`, stack.ErrInvalidLayers},
		"duration":   {"[stack]\nretry_interval = \"soon\"", ErrInvalid},
		"codec":      {`codec = "text/plain"`, codec.ErrUnknownContentType},
		"fault rate": {"[faults]\ndrop_rate = 1.5", ErrInvalid},
		"udp peer":   {`peer = ""`, ErrInvalid},
		"nats":       {"transport = \"nats\"\n[nats]\ninbound = \"courier.a\"", ErrInvalid},
		"check":      {"[stack]\nretry_interval = \"10ms\"\ncheck_interval = \"1s\"", stack.ErrInvalidConfig},
		"tls udp":    {"[tls]\nenabled = true\ncert_file = \"a.crt\"\nkey_file = \"a.key\"", ErrInvalid},
		"tls cert":   {"transport = \"tcp\"\npeer = \"\"\n[tls]\nenabled = true", ErrInvalid},
	}
	for name, tc := range cases {
		if _, err := Parse(tc.doc); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", name, tc.want, err)
		}
	}
}

func TestTemplatesLoadBack(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()

	for _, kind := range []string{"udp", "tcp", "websocket", "nats", "mem"} {
		path := filepath.Join(dir, kind+".toml")
		if err := WriteTemplate(path, kind, false); err != nil {
			t.Fatalf("write %s: %v", kind, err)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("load %s: %v", kind, err)
		}
		if string(cfg.Transport) != kind {
			t.Fatalf("%s: transport=%s", kind, cfg.Transport)
		}
		if kind == "mem" && !cfg.HasFaults() {
			t.Fatalf("mem template should inject faults")
		}
	}

	path := filepath.Join(dir, "udp.toml")
	if err := WriteTemplate(path, "udp", false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if err := WriteTemplate(path, "udp", true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if _, err := Template("smoke-signal"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestRenderRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := Default()
	in.Name = "beta"
	in.Stack.Name = "beta"
	in.Stack.Origin = 9
	in.CorsOrigins = []string{"http://localhost:5173"}

	data, err := Render(in)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out.Name != "beta" || out.Stack.Origin != 9 || !slices.Equal(out.CorsOrigins, in.CorsOrigins) {
		t.Fatalf("round trip mismatch: %+v", out)
	}
	if !slices.Equal(out.Layers, in.Layers) {
		t.Fatalf("layers=%v want=%v", out.Layers, in.Layers)
	}
}

func TestTLSConfigBuildsMutualPair(t *testing.T) {
	testlog.Start(t)
	bundle := tlstest.NewBundle(t)

	cfg, err := Parse(`
transport = "tcp"
peer = "127.0.0.1:7500"

[tls]
enabled = true
mutual = true
cert_file = "` + bundle.ClientCert + `"
key_file = "` + bundle.ClientKey + `"
ca_file = "` + bundle.CAFile + `"
`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	client, err := cfg.TLS.ClientTLS(cfg.Peer)
	if err != nil {
		t.Fatalf("client tls: %v", err)
	}
	if client.ServerName != "127.0.0.1" || client.RootCAs == nil || len(client.Certificates) != 1 {
		t.Fatalf("unexpected client tls: name=%q roots=%v certs=%d", client.ServerName, client.RootCAs != nil, len(client.Certificates))
	}

	listener := TLSConfig{Enabled: true, Mutual: true, CertFile: bundle.ServerCert, KeyFile: bundle.ServerKey, CAFile: bundle.CAFile}
	server, err := listener.ServerTLS()
	if err != nil {
		t.Fatalf("server tls: %v", err)
	}
	if server.ClientAuth != tls.RequireAndVerifyClientCert || server.ClientCAs == nil {
		t.Fatalf("mutual server must verify clients: %v", server.ClientAuth)
	}

	listener.CAFile = filepath.Join(t.TempDir(), "missing.crt")
	if _, err := listener.ServerTLS(); err == nil {
		t.Fatalf("expected missing ca error")
	}
}
