package stack

import (
	"context"
	"sync"

	"github.com/danmuck/courier/internal/observability"
)

// LastOnly delivers only payloads newer than everything it has already
// delivered. Older arrivals are dropped, so receivers always see the most
// current state with O(1) memory.
type LastOnly struct {
	inner Sequenced
	stats *counters

	mu      sync.Mutex
	highest uint64
	seen    bool
}

func NewLastOnly(inner Sequenced, cfg Config) *LastOnly {
	cfg = cfg.WithDefaults()
	return &LastOnly{
		inner: inner,
		stats: newCounters(cfg.Name, LayerLastOnly),
	}
}

func (l *LastOnly) Send(ctx context.Context, payload []byte) error {
	if err := l.inner.Send(ctx, payload); err != nil {
		return err
	}
	l.stats.add(&l.stats.sent, observability.EventSent)
	return nil
}

// ReceiveNumbered blocks until a strictly newer message arrives or the
// underlying channel fails.
func (l *LastOnly) ReceiveNumbered(ctx context.Context) (uint64, []byte, error) {
	for {
		seq, payload, err := l.inner.ReceiveNumbered(ctx)
		if err != nil {
			return 0, nil, err
		}
		if l.accept(seq) {
			l.stats.add(&l.stats.received, observability.EventReceived)
			return seq, payload, nil
		}
		l.stats.add(&l.stats.staleDropped, observability.EventStaleDropped)
	}
}

func (l *LastOnly) accept(seq uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen && seq <= l.highest {
		return false
	}
	l.highest = seq
	l.seen = true
	return true
}

func (l *LastOnly) Receive(ctx context.Context) ([]byte, error) {
	_, payload, err := l.ReceiveNumbered(ctx)
	return payload, err
}

// Highest returns the newest delivered sequence, if any.
func (l *LastOnly) Highest() (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.highest, l.seen
}

func (l *LastOnly) Close() error {
	return l.inner.Close()
}

func (l *LastOnly) Stats() Stats {
	return l.stats.snapshot()
}
