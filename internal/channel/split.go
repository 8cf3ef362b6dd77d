package channel

import (
	"context"
	"fmt"
	"sync"
)

const (
	tagLeft  byte = 0
	tagRight byte = 1
)

// Sub is one half of a split channel.
type Sub struct {
	parent *splitter
	tag    byte
	inbox  *Queue[[]byte]

	closeOnce sync.Once
}

type splitter struct {
	inner  Channel
	cancel context.CancelFunc
	subs   [2]*Sub

	mu     sync.Mutex
	closed int
	done   chan struct{}
}

// Split multiplexes two sub-channels over ch by prefixing every payload with
// a one-byte tag. A background pump owns ch's receive side. The parent is
// closed once both halves are closed.
func Split(ch Channel) (left, right *Sub) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &splitter{inner: ch, cancel: cancel, done: make(chan struct{})}
	s.subs[tagLeft] = &Sub{parent: s, tag: tagLeft, inbox: NewQueue[[]byte]()}
	s.subs[tagRight] = &Sub{parent: s, tag: tagRight, inbox: NewQueue[[]byte]()}
	go s.pump(ctx)
	return s.subs[tagLeft], s.subs[tagRight]
}

func (s *splitter) pump(ctx context.Context) {
	defer close(s.done)
	for {
		msg, err := s.inner.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				err = ErrClosed
			}
			s.fail(err)
			return
		}
		if len(msg) == 0 || int(msg[0]) >= len(s.subs) {
			s.fail(fmt.Errorf("%w: len=%d", ErrUnknownTag, len(msg)))
			return
		}
		s.subs[msg[0]].inbox.Push(msg[1:])
	}
}

func (s *splitter) fail(err error) {
	for _, sub := range s.subs {
		sub.inbox.Fail(err)
	}
}

func (s *splitter) release() error {
	s.mu.Lock()
	s.closed++
	last := s.closed == len(s.subs)
	s.mu.Unlock()
	if !last {
		return nil
	}
	s.cancel()
	err := s.inner.Close()
	<-s.done
	return err
}

func (c *Sub) Send(ctx context.Context, payload []byte) error {
	if c.isClosed() {
		return ErrClosed
	}
	buf := make([]byte, 1+len(payload))
	buf[0] = c.tag
	copy(buf[1:], payload)
	return c.parent.inner.Send(ctx, buf)
}

func (c *Sub) Receive(ctx context.Context) ([]byte, error) {
	return c.inbox.Pop(ctx)
}

// Close closes this half. Pending receives on it end with ErrClosed.
func (c *Sub) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.inbox.Abort(ErrClosed)
		err = c.parent.release()
	})
	return err
}

func (c *Sub) isClosed() bool {
	return IsClosed(c.inbox.Err())
}
