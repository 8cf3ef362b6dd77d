package stack

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/courier/internal/channel"
	"github.com/danmuck/courier/internal/protocol"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1760000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// wireLog decodes every payload leaving a channel.
type wireLog struct {
	mu   sync.Mutex
	envs []protocol.Envelope
}

func (w *wireLog) hooks() channel.Hooks {
	return channel.Hooks{OnSend: func(payload []byte) {
		env, err := protocol.Decode(payload)
		if err != nil {
			return
		}
		w.mu.Lock()
		w.envs = append(w.envs, env)
		w.mu.Unlock()
	}}
}

func (w *wireLog) count(kind protocol.Kind, seq uint64) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, env := range w.envs {
		if env.Kind == kind && env.Sequence == seq {
			n++
		}
	}
	return n
}

// flakyChannel fails the first failures sends, then passes through.
type flakyChannel struct {
	channel.Channel
	mu       sync.Mutex
	failures int
	err      error
}

func (f *flakyChannel) Send(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return f.err
	}
	f.mu.Unlock()
	return f.Channel.Send(ctx, payload)
}

// brokenChannel fails every send and never delivers.
type brokenChannel struct {
	err error
}

func (b *brokenChannel) Send(context.Context, []byte) error {
	return b.err
}

func (b *brokenChannel) Receive(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *brokenChannel) Close() error {
	return nil
}

func sendRaw(t *testing.T, ch channel.Channel, env protocol.Envelope) {
	t.Helper()
	buf, err := protocol.Encode(env)
	if err != nil {
		t.Fatalf("encode %v: %v", env, err)
	}
	if err := ch.Send(context.Background(), buf); err != nil {
		t.Fatalf("send %v: %v", env, err)
	}
}
