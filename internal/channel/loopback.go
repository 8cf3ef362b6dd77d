package channel

import (
	"context"
	"sync/atomic"
)

// Loopback is a local channel whose receives yield its own sends in order.
// After Close, sends fail and receives drain what was queued before closing.
type Loopback struct {
	queue  *Queue[[]byte]
	closed atomic.Bool
}

func NewLoopback() *Loopback {
	return &Loopback{queue: NewQueue[[]byte]()}
}

func (l *Loopback) Send(_ context.Context, payload []byte) error {
	if l.closed.Load() {
		return ErrClosed
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	if !l.queue.Push(buf) {
		return ErrClosed
	}
	return nil
}

func (l *Loopback) Receive(ctx context.Context) ([]byte, error) {
	return l.queue.Pop(ctx)
}

func (l *Loopback) Close() error {
	if l.closed.CompareAndSwap(false, true) {
		l.queue.Fail(ErrClosed)
	}
	return nil
}

// IsClosed reports whether Close has been called.
func (l *Loopback) IsClosed() bool {
	return l.closed.Load()
}
