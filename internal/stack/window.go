package stack

import (
	"sort"
	"time"
)

// pending tracks one sequence awaiting acknowledgment.
type pending struct {
	Sequence uint64
	Payload  []byte
	SentAt   time.Time
	// Wait is how long after SentAt the next retransmission becomes due.
	Wait    time.Duration
	Retries int
	receipt *Receipt
}

func (p *pending) due(now time.Time) bool {
	return now.Sub(p.SentAt) >= p.Wait
}

// sendWindow stores unacknowledged sends by sequence. Callers hold the
// owning Reliable's mutex.
type sendWindow struct {
	items map[uint64]*pending
}

func newSendWindow() *sendWindow {
	return &sendWindow{items: make(map[uint64]*pending)}
}

func (w *sendWindow) Put(p *pending) {
	w.items[p.Sequence] = p
}

// Remove deletes seq and returns the entry it held. Unknown sequences are a
// no-op, which keeps duplicate and late acks idempotent.
func (w *sendWindow) Remove(seq uint64) (*pending, bool) {
	p, ok := w.items[seq]
	if !ok {
		return nil, false
	}
	delete(w.items, seq)
	return p, true
}

func (w *sendWindow) Len() int {
	return len(w.items)
}

// List returns entries ordered by sequence.
func (w *sendWindow) List() []*pending {
	out := make([]*pending, 0, len(w.items))
	for _, p := range w.items {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Sequence < out[j].Sequence
	})
	return out
}

// Drain empties the window and returns what it held.
func (w *sendWindow) Drain() []*pending {
	out := w.List()
	clear(w.items)
	return out
}
