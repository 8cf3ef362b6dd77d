// Package mem provides in-process channel bindings for tests and
// single-process wiring.
package mem

import (
	"context"
	"sync"

	"github.com/danmuck/courier/internal/channel"
)

// Endpoint is one side of an in-process pair. Delivery is reliable and
// ordered; wrap it with Faulty to simulate a lossy link.
type Endpoint struct {
	inbox *channel.Queue[[]byte]
	peer  *Endpoint
	link  *link
}

type link struct {
	mu     sync.Mutex
	closed bool
}

// Pair returns two connected endpoints.
func Pair() (*Endpoint, *Endpoint) {
	l := &link{}
	a := &Endpoint{inbox: channel.NewQueue[[]byte](), link: l}
	b := &Endpoint{inbox: channel.NewQueue[[]byte](), link: l}
	a.peer = b
	b.peer = a
	return a, b
}

func (e *Endpoint) Send(_ context.Context, payload []byte) error {
	e.link.mu.Lock()
	closed := e.link.closed
	e.link.mu.Unlock()
	if closed {
		return channel.ErrClosed
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	if !e.peer.inbox.Push(buf) {
		return channel.ErrClosed
	}
	return nil
}

func (e *Endpoint) Receive(ctx context.Context) ([]byte, error) {
	return e.inbox.Pop(ctx)
}

// Close tears the link down. The local side stops immediately; the peer
// drains what was already delivered and then observes ErrClosed.
func (e *Endpoint) Close() error {
	e.link.mu.Lock()
	e.link.closed = true
	e.link.mu.Unlock()
	e.inbox.Abort(channel.ErrClosed)
	e.peer.inbox.Fail(channel.ErrClosed)
	return nil
}
