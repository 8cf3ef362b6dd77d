package stack

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/danmuck/courier/internal/channel"
	"github.com/danmuck/courier/internal/channel/mem"
	"github.com/danmuck/courier/internal/protocol"
	"github.com/danmuck/courier/internal/testutil/testlog"
)

func TestNumberedAssignsConsecutiveSequencesEvenOnFailure(t *testing.T) {
	testlog.Start(t)
	ctx := testContext(t)

	n := NewNumbered(&brokenChannel{err: io.ErrClosedPipe}, Config{Name: "numbered.fail", Origin: 5})
	for _, want := range []uint64{5, 6, 7} {
		seq, err := n.SendNumbered(ctx, []byte("x"))
		if seq != want {
			t.Fatalf("seq=%d want=%d", seq, want)
		}
		if !errors.Is(err, channel.ErrFailed) || !errors.Is(err, io.ErrClosedPipe) {
			t.Fatalf("expected wrapped binding failure, got %v", err)
		}
	}
	if got := n.Next(); got != 8 {
		t.Fatalf("next=%d want=8", got)
	}
	if s := n.Stats(); s.Sent != 0 {
		t.Fatalf("failed sends must not count as sent: %+v", s)
	}
}

func TestNumberedRoundTripOverPair(t *testing.T) {
	testlog.Start(t)
	ctx := testContext(t)

	a, b := mem.Pair()
	cfg := Config{Name: "numbered.pair"}
	left := NewNumbered(a, cfg)
	right := NewNumbered(b, cfg)
	defer left.Close()
	defer right.Close()

	for i, msg := range []string{"alpha", "beta", "gamma"} {
		if err := left.Send(ctx, []byte(msg)); err != nil {
			t.Fatalf("send %q: %v", msg, err)
		}
		seq, payload, err := right.ReceiveNumbered(ctx)
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		if seq != uint64(i) || string(payload) != msg {
			t.Fatalf("got seq=%d payload=%q want seq=%d payload=%q", seq, payload, i, msg)
		}
	}
	if s := right.Stats(); s.Received != 3 || s.Layer != LayerNumbered {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestNumberedSkipsAcksAndSurfacesProtocolErrors(t *testing.T) {
	testlog.Start(t)
	ctx := testContext(t)

	a, b := mem.Pair()
	n := NewNumbered(b, Config{Name: "numbered.proto"})
	defer n.Close()

	sendRaw(t, a, protocol.Ack(4))
	if err := a.Send(ctx, []byte("not an envelope")); err != nil {
		t.Fatalf("send garbage: %v", err)
	}
	sendRaw(t, a, protocol.Data(9, []byte("ok")))

	if _, err := n.Receive(ctx); !errors.Is(err, protocol.ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
	seq, payload, err := n.ReceiveNumbered(ctx)
	if err != nil || seq != 9 || string(payload) != "ok" {
		t.Fatalf("got seq=%d payload=%q err=%v", seq, payload, err)
	}
	if s := n.Stats(); s.ProtocolErrors != 1 {
		t.Fatalf("protocol errors=%d want=1", s.ProtocolErrors)
	}
}

func TestNumberedCloseIsIdempotent(t *testing.T) {
	testlog.Start(t)
	a, _ := mem.Pair()
	n := NewNumbered(a, Config{})
	if err := n.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := n.Send(testContext(t), []byte("late")); !channel.IsClosed(err) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func TestNumberedCloseReleasesReceiver(t *testing.T) {
	testlog.Start(t)
	ctx := testContext(t)

	a, _ := mem.Pair()
	n := NewNumbered(a, Config{Name: "numbered.close"})

	done := make(chan error, 1)
	go func() {
		_, err := n.Receive(ctx)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	if err := n.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case err := <-done:
		if !channel.IsClosed(err) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("receiver still blocked after close")
	}
}
