package stack

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/danmuck/courier/internal/channel"
	logs "github.com/danmuck/courier/internal/logging"
	"github.com/danmuck/courier/internal/observability"
)

type released struct {
	seq     uint64
	payload []byte
}

// Ordered hands payloads to the application in strictly increasing,
// gap-free sequence order, holding early arrivals until the gap before them
// is filled.
type Ordered struct {
	inner *Reliable
	stats *counters

	// mu serializes receivers and guards the reorder state.
	mu      sync.Mutex
	pending map[uint64][]byte
	ready   []released

	// next is written under mu and published for Next.
	next     atomic.Uint64
	buffered atomic.Int64
	closed   atomic.Bool
}

func NewOrdered(inner *Reliable, cfg Config) *Ordered {
	cfg = cfg.WithDefaults()
	o := &Ordered{
		inner:   inner,
		stats:   newCounters(cfg.Name, LayerOrdered),
		pending: make(map[uint64][]byte),
	}
	o.next.Store(inner.Origin())
	return o
}

func (o *Ordered) Send(ctx context.Context, payload []byte) error {
	_, err := o.SendTracked(ctx, payload)
	return err
}

func (o *Ordered) SendNumbered(ctx context.Context, payload []byte) (uint64, error) {
	rc, err := o.SendTracked(ctx, payload)
	if rc == nil {
		return 0, err
	}
	return rc.Sequence(), err
}

func (o *Ordered) SendTracked(ctx context.Context, payload []byte) (*Receipt, error) {
	rc, err := o.inner.SendTracked(ctx, payload)
	if err == nil {
		o.stats.add(&o.stats.sent, observability.EventSent)
	}
	return rc, err
}

// ReceiveNumbered returns the next in-order sequence and payload.
func (o *Ordered) ReceiveNumbered(ctx context.Context) (uint64, []byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for {
		if o.closed.Load() {
			return 0, nil, channel.ErrClosed
		}
		if len(o.ready) > 0 {
			r := o.ready[0]
			o.ready[0] = released{}
			o.ready = o.ready[1:]
			o.stats.add(&o.stats.received, observability.EventReceived)
			return r.seq, r.payload, nil
		}
		seq, payload, err := o.inner.ReceiveNumbered(ctx)
		if err != nil {
			return 0, nil, err
		}
		o.acceptLocked(seq, payload)
	}
}

func (o *Ordered) acceptLocked(seq uint64, payload []byte) {
	next := o.next.Load()
	switch {
	case seq < next:
		o.stats.add(&o.stats.staleDropped, observability.EventStaleDropped)
		logs.Tracef("stack.Ordered stale name=%s seq=%d next=%d", o.stats.name, seq, next)
		return
	case seq > next:
		if _, ok := o.pending[seq]; ok {
			o.stats.add(&o.stats.duplicates, observability.EventDuplicate)
			return
		}
		o.pending[seq] = payload
		o.setBufferedLocked()
		logs.Tracef("stack.Ordered buffered name=%s seq=%d next=%d", o.stats.name, seq, next)
		return
	}

	o.ready = append(o.ready, released{seq: seq, payload: payload})
	next++
	for {
		p, ok := o.pending[next]
		if !ok {
			break
		}
		delete(o.pending, next)
		o.ready = append(o.ready, released{seq: next, payload: p})
		next++
	}
	o.next.Store(next)
	o.setBufferedLocked()
}

func (o *Ordered) setBufferedLocked() {
	o.buffered.Store(int64(len(o.pending)))
	o.stats.rec.Buffered(len(o.pending))
}

func (o *Ordered) Receive(ctx context.Context) ([]byte, error) {
	_, payload, err := o.ReceiveNumbered(ctx)
	return payload, err
}

// Buffered reports how many early arrivals wait for a gap to fill.
func (o *Ordered) Buffered() int {
	return int(o.buffered.Load())
}

// Next reports the sequence the next released payload will carry.
func (o *Ordered) Next() uint64 {
	return o.next.Load()
}

func (o *Ordered) Close() error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}
	// Closing the reliable layer releases a receiver blocked while holding mu.
	err := o.inner.Close()
	o.mu.Lock()
	clear(o.pending)
	o.ready = nil
	o.setBufferedLocked()
	o.mu.Unlock()
	return err
}

func (o *Ordered) Stats() Stats {
	s := o.stats.snapshot()
	s.Window = o.inner.Pending()
	s.Buffered = o.Buffered()
	return s
}
