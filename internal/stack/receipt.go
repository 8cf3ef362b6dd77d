package stack

import (
	"context"
	"sync"
)

// Receipt tracks the outcome of one reliable send.
type Receipt struct {
	seq  uint64
	once sync.Once
	done chan struct{}
	err  error
}

func newReceipt(seq uint64) *Receipt {
	return &Receipt{seq: seq, done: make(chan struct{})}
}

func (r *Receipt) Sequence() uint64 {
	return r.seq
}

// Done is closed once the send is acknowledged, failed, or abandoned.
func (r *Receipt) Done() <-chan struct{} {
	return r.done
}

// Err is nil while pending and after acknowledgment; otherwise it holds a
// *DeliveryError, channel.ErrClosed, or the channel failure that ended the
// wrapper.
func (r *Receipt) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Wait blocks until the receipt resolves or ctx ends.
func (r *Receipt) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return r.err
	}
}

func (r *Receipt) resolve(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}
