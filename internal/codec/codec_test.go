package codec

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/danmuck/courier/internal/channel"
	"github.com/danmuck/courier/internal/testutil/testlog"
)

type note struct {
	From string `json:"from" cbor:"from"`
	Text string `json:"text" cbor:"text"`
	Seq  uint64 `json:"seq" cbor:"seq"`
}

func TestCodecsRoundTripStructs(t *testing.T) {
	testlog.Start(t)
	in := note{From: "a", Text: "hello", Seq: 7}
	for _, c := range []Codec{JSON(), CBOR()} {
		b, err := c.Marshal(in)
		if err != nil {
			t.Fatalf("%s marshal: %v", c.ContentType(), err)
		}
		var out note
		if err := c.Unmarshal(b, &out); err != nil {
			t.Fatalf("%s unmarshal: %v", c.ContentType(), err)
		}
		if out != in {
			t.Fatalf("%s mismatch: %+v", c.ContentType(), out)
		}
	}
}

func TestCBORIsCanonical(t *testing.T) {
	testlog.Start(t)
	c := CBOR()
	a, err := c.Marshal(map[string]int{"b": 2, "a": 1, "c": 3})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b, err := c.Marshal(map[string]int{"c": 3, "a": 1, "b": 2})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("encoding depends on map order: %x vs %x", a, b)
	}
}

func TestRegistryLookup(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	if got := r.ContentTypes(); !slices.Equal(got, []string{"application/cbor", "application/json"}) {
		t.Fatalf("content types=%v", got)
	}
	c, err := r.Lookup(" Application/JSON ")
	if err != nil || c.ContentType() != "application/json" {
		t.Fatalf("lookup json: %v %v", c, err)
	}
	if _, err := r.Lookup("application/x-protobuf"); !errors.Is(err, ErrUnknownContentType) {
		t.Fatalf("expected ErrUnknownContentType, got %v", err)
	}
}

func TestTypedOverLoopback(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lb := channel.NewLoopback()
	typed := NewTyped[note](lb, CBOR())
	defer typed.Close()

	if err := typed.Send(ctx, note{From: "x", Text: "y", Seq: 1}); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := typed.Receive(ctx)
	if err != nil || got.Text != "y" {
		t.Fatalf("receive got=%+v err=%v", got, err)
	}

	if err := lb.Send(ctx, []byte{0xff, 0x00}); err != nil {
		t.Fatalf("raw send: %v", err)
	}
	if _, err := typed.Receive(ctx); !errors.Is(err, ErrFormat) {
		t.Fatalf("expected ErrFormat, got %v", err)
	}
	if err := typed.Send(ctx, note{Text: "still usable"}); err != nil {
		t.Fatalf("send after format error: %v", err)
	}
	if got, err := typed.Receive(ctx); err != nil || got.Text != "still usable" {
		t.Fatalf("receive got=%+v err=%v", got, err)
	}
}
