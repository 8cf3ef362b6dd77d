package peer

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/courier/internal/channel/mem"
	"github.com/danmuck/courier/internal/config"
	"github.com/danmuck/courier/internal/testutil/testlog"
	"github.com/danmuck/courier/internal/testutil/tlstest"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, ctx context.Context, cond func() bool) {
	t.Helper()
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for !cond() {
		select {
		case <-ctx.Done():
			t.Fatalf("condition not met: %v", ctx.Err())
		case <-tick.C:
		}
	}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.AdminAddr = ""
	cfg.Stack.RetryInterval = 20 * time.Millisecond
	cfg.Stack.CheckInterval = 5 * time.Millisecond
	return cfg
}

func freeUDPPort(t *testing.T) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := pc.LocalAddr().String()
	_ = pc.Close()
	return addr
}

func TestServiceEchoOverLossyMem(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.Transport = config.TransportMem
	cfg.Faults = mem.Faults{DropRate: 0.2, DuplicateRate: 0.1, ReorderRate: 0.2, Seed: 7}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out := &syncBuffer{}
	svc := NewService(cfg, strings.NewReader("hello\n\n  world  \n"), out)
	done := make(chan error, 1)
	go func() { done <- svc.RunContext(ctx) }()

	waitFor(t, ctx, func() bool { return strings.Count(out.String(), "[echo]") == 2 })
	if got := out.String(); got != "[echo] hello\n[echo] world\n" {
		t.Fatalf("unexpected output: %q", got)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestServicePairOverUDP(t *testing.T) {
	testlog.Start(t)
	leftAddr, rightAddr := freeUDPPort(t), freeUDPPort(t)

	left := testConfig()
	left.Name = "left"
	left.Listen, left.Peer = leftAddr, rightAddr
	right := testConfig()
	right.Name = "right"
	right.Listen, right.Peer = rightAddr, leftAddr
	right.Codec = left.Codec

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rightOut := &syncBuffer{}
	rightDone := make(chan error, 1)
	go func() { rightDone <- NewService(right, strings.NewReader(""), rightOut).RunContext(ctx) }()
	leftDone := make(chan error, 1)
	go func() {
		leftDone <- NewService(left, strings.NewReader("one\ntwo\nthree\n"), &syncBuffer{}).RunContext(ctx)
	}()

	waitFor(t, ctx, func() bool { return strings.Count(rightOut.String(), "[left]") == 3 })
	if got := rightOut.String(); got != "[left] one\n[left] two\n[left] three\n" {
		t.Fatalf("unexpected output: %q", got)
	}
	cancel()
	for _, done := range []chan error{leftDone, rightDone} {
		if err := <-done; err != nil {
			t.Fatalf("run: %v", err)
		}
	}
}

func freeTCPPort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestServicePairOverMutualTLS(t *testing.T) {
	testlog.Start(t)
	bundle := tlstest.NewBundle(t)
	addr := freeTCPPort(t)

	server := testConfig()
	server.Name = "server"
	server.Transport = config.TransportTCP
	server.Listen, server.Peer = addr, ""
	server.TLS = config.TLSConfig{Enabled: true, Mutual: true, CertFile: bundle.ServerCert, KeyFile: bundle.ServerKey, CAFile: bundle.CAFile}

	client := testConfig()
	client.Name = "client"
	client.Transport = config.TransportTCP
	client.Listen, client.Peer = "", addr
	client.ConnectAttempts = 0
	client.TLS = config.TLSConfig{Enabled: true, Mutual: true, CertFile: bundle.ClientCert, KeyFile: bundle.ClientKey, CAFile: bundle.CAFile}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	serverOut := &syncBuffer{}
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- NewService(server, strings.NewReader("welcome\n"), serverOut).RunContext(ctx)
	}()
	clientOut := &syncBuffer{}
	clientDone := make(chan error, 1)
	go func() {
		clientDone <- NewService(client, strings.NewReader("hi\n"), clientOut).RunContext(ctx)
	}()

	waitFor(t, ctx, func() bool {
		return serverOut.String() == "[client] hi\n" && clientOut.String() == "[server] welcome\n"
	})
	cancel()
	for _, done := range []chan error{serverDone, clientDone} {
		if err := <-done; err != nil {
			t.Fatalf("run: %v", err)
		}
	}
}

func TestServiceRejectsInvalidConfig(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.Transport = "pigeon"
	err := NewService(cfg, strings.NewReader(""), &syncBuffer{}).RunContext(context.Background())
	if !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestWebSocketURL(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"127.0.0.1:7401":          "ws://127.0.0.1:7401/courier",
		"ws://example.test/chat":  "ws://example.test/chat",
		"wss://example.test/chat": "wss://example.test/chat",
	}
	for peer, want := range cases {
		if got := websocketURL(peer, "/courier"); got != want {
			t.Fatalf("websocketURL(%q) = %q, want %q", peer, got, want)
		}
	}
}
