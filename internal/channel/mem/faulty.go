package mem

import (
	"context"
	"math/rand"
	"sync"

	"github.com/danmuck/courier/internal/channel"
)

// Faults configures Faulty. Rates are probabilities in [0, 1).
type Faults struct {
	DropRate      float64
	DuplicateRate float64
	// ReorderRate holds a message back and releases it after the next one.
	ReorderRate float64
	Seed        int64
}

// Stats counts injected faults.
type Stats struct {
	Sent       int
	Dropped    int
	Duplicated int
	Reordered  int
}

// Faulty wraps a channel and injects loss, duplication and reordering on the
// send path.
type Faulty struct {
	inner  channel.Channel
	faults Faults

	mu    sync.Mutex
	rng   *rand.Rand
	held  []byte
	stats Stats
}

func NewFaulty(inner channel.Channel, faults Faults) *Faulty {
	return &Faulty{
		inner:  inner,
		faults: faults,
		rng:    rand.New(rand.NewSource(faults.Seed)),
	}
}

func (f *Faulty) Send(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stats.Sent++
	if f.roll(f.faults.DropRate) {
		f.stats.Dropped++
		return nil
	}

	out := make([][]byte, 0, 3)
	if f.held == nil && f.roll(f.faults.ReorderRate) {
		f.stats.Reordered++
		f.held = append([]byte(nil), payload...)
	} else {
		out = append(out, payload)
		if f.held != nil {
			out = append(out, f.held)
			f.held = nil
		}
	}
	if len(out) > 0 && f.roll(f.faults.DuplicateRate) {
		f.stats.Duplicated++
		out = append(out, out[0])
	}

	for _, msg := range out {
		if err := f.inner.Send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (f *Faulty) Receive(ctx context.Context) ([]byte, error) {
	return f.inner.Receive(ctx)
}

func (f *Faulty) Close() error {
	f.mu.Lock()
	f.held = nil
	f.mu.Unlock()
	return f.inner.Close()
}

func (f *Faulty) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *Faulty) roll(rate float64) bool {
	return rate > 0 && f.rng.Float64() < rate
}
