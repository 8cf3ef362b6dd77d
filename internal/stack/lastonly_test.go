package stack

import (
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/danmuck/courier/internal/channel"
	"github.com/danmuck/courier/internal/channel/mem"
	"github.com/danmuck/courier/internal/protocol"
	"github.com/danmuck/courier/internal/testutil/testlog"
)

func TestLastOnlyDropsStaleArrivals(t *testing.T) {
	testlog.Start(t)
	ctx := testContext(t)

	a, b := mem.Pair()
	cfg := Config{Name: "lastonly"}
	last := NewLastOnly(NewNumbered(b, cfg), cfg)
	defer last.Close()

	for _, seq := range []uint64{3, 1, 5, 2, 4} {
		sendRaw(t, a, protocol.Data(seq, []byte(fmt.Sprintf("state-%d", seq))))
	}
	_ = a.Close()

	var got []uint64
	for {
		seq, payload, err := last.ReceiveNumbered(ctx)
		if channel.IsClosed(err) {
			break
		}
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		if want := fmt.Sprintf("state-%d", seq); string(payload) != want {
			t.Fatalf("payload=%q want=%q", payload, want)
		}
		got = append(got, seq)
	}
	if !slices.Equal(got, []uint64{3, 5}) {
		t.Fatalf("delivered=%v want=[3 5]", got)
	}
	if h, ok := last.Highest(); !ok || h != 5 {
		t.Fatalf("highest=%d ok=%v", h, ok)
	}
	if s := last.Stats(); s.StaleDropped != 3 || s.Received != 2 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestLastOnlyDeliversFirstArrivalAtOrigin(t *testing.T) {
	testlog.Start(t)
	ctx := testContext(t)

	a, b := mem.Pair()
	cfg := Config{Name: "lastonly.origin"}
	sender := NewLastOnly(NewNumbered(a, cfg), cfg)
	receiver := NewLastOnly(NewNumbered(b, cfg), cfg)
	defer sender.Close()
	defer receiver.Close()

	if err := sender.Send(ctx, []byte("first")); err != nil {
		t.Fatalf("send: %v", err)
	}
	seq, payload, err := receiver.ReceiveNumbered(ctx)
	if err != nil || seq != 0 || string(payload) != "first" {
		t.Fatalf("got seq=%d payload=%q err=%v", seq, payload, err)
	}
}

func TestLastOnlyCloseReleasesReceiver(t *testing.T) {
	testlog.Start(t)
	ctx := testContext(t)

	a, _ := mem.Pair()
	cfg := Config{Name: "lastonly.close"}
	last := NewLastOnly(NewNumbered(a, cfg), cfg)

	done := make(chan error, 1)
	go func() {
		_, err := last.Receive(ctx)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	if err := last.Close(); err != nil {
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
	if _, err := last.Receive(ctx); !channel.IsClosed(err) {
		t.Fatalf("receive after close: %v", err)
	}
}
