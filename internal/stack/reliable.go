package stack

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/courier/internal/channel"
	logs "github.com/danmuck/courier/internal/logging"
	"github.com/danmuck/courier/internal/observability"
	"github.com/danmuck/courier/internal/protocol"
	"golang.org/x/sync/errgroup"
)

// inbound is one item handed to the application: a fresh data envelope or a
// non-terminal receive error.
type inbound struct {
	env protocol.Envelope
	err error
}

// Reliable delivers every sent payload to the peer at least once by
// acknowledgment and retransmission, and hands each sequence to the local
// application at most once. It does not reorder.
type Reliable struct {
	cfg   Config
	inner *Numbered
	stats *counters
	now   func() time.Time

	// sendMu orders sequence assignment with window insertion.
	sendMu sync.Mutex

	// mu guards the window, dedup set, rng and terminal state. Send, ack
	// handling and the retransmit scan all go through it.
	mu      sync.Mutex
	window  *sendWindow
	seen    *dedupSet
	rng     *rand.Rand
	closed  bool
	failure error

	inbox *channel.Queue[inbound]

	cancel    context.CancelFunc
	group     *errgroup.Group
	closeOnce sync.Once
	closeErr  error
}

// NewReliable wraps inner and starts its read and retransmit loops. The
// wrapper owns inner from here on.
func NewReliable(inner *Numbered, cfg Config) *Reliable {
	return newReliable(inner, cfg, time.Now, true)
}

func newReliable(inner *Numbered, cfg Config, now func() time.Time, retransmitTimer bool) *Reliable {
	cfg = cfg.WithDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	r := &Reliable{
		cfg:    cfg,
		inner:  inner,
		stats:  newCounters(cfg.Name, LayerReliable),
		now:    now,
		window: newSendWindow(),
		seen:   newDedupSet(inner.Origin()),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		inbox:  channel.NewQueue[inbound](),
		cancel: cancel,
		group:  group,
	}
	group.Go(func() error { return r.readLoop(ctx) })
	if retransmitTimer {
		group.Go(func() error { return r.retransmitLoop(ctx) })
	}
	return r
}

// Origin is the first sequence number used in each direction.
func (r *Reliable) Origin() uint64 {
	return r.inner.Origin()
}

func (r *Reliable) Send(ctx context.Context, payload []byte) error {
	_, err := r.SendTracked(ctx, payload)
	return err
}

func (r *Reliable) SendNumbered(ctx context.Context, payload []byte) (uint64, error) {
	rc, err := r.SendTracked(ctx, payload)
	if rc == nil {
		return 0, err
	}
	return rc.Sequence(), err
}

// SendTracked transmits payload and returns a receipt that resolves when the
// peer acknowledges it or its retries run out. A first transmission that
// fails on a live channel counts as a lost message: the entry stays in the
// window, retransmission repairs it and the caller sees no error. Closure
// and protocol errors resolve the receipt and are returned.
func (r *Reliable) SendTracked(ctx context.Context, payload []byte) (*Receipt, error) {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	if err := r.terminalErr(); err != nil {
		return nil, err
	}

	seq := r.inner.assign()
	rc := newReceipt(seq)
	body := make([]byte, len(payload))
	copy(body, payload)

	r.mu.Lock()
	r.window.Put(&pending{
		Sequence: seq,
		Payload:  body,
		SentAt:   r.now(),
		Wait:     r.retryDelayLocked(0),
		receipt:  rc,
	})
	r.stats.rec.Window(r.window.Len())
	r.mu.Unlock()

	err := r.inner.Transmit(ctx, protocol.Data(seq, body))
	if err == nil {
		r.stats.add(&r.stats.sent, observability.EventSent)
		return rc, nil
	}
	if !channel.IsClosed(err) && !errors.Is(err, protocol.ErrProtocol) {
		logs.Warnf("stack.Reliable send lost name=%s seq=%d err=%v", r.cfg.Name, seq, err)
		return rc, nil
	}
	r.mu.Lock()
	r.window.Remove(seq)
	r.stats.rec.Window(r.window.Len())
	r.mu.Unlock()
	rc.resolve(err)
	logs.Debugf("stack.Reliable send name=%s seq=%d err=%v", r.cfg.Name, seq, err)
	return rc, err
}

func (r *Reliable) terminalErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return channel.ErrClosed
	}
	return r.failure
}

// ReceiveNumbered returns the next newly delivered sequence and payload.
// Protocol errors from the peer are surfaced here one at a time; channel
// failures end the wrapper once already delivered messages are drained.
func (r *Reliable) ReceiveNumbered(ctx context.Context) (uint64, []byte, error) {
	in, err := r.inbox.Pop(ctx)
	if err != nil {
		return 0, nil, err
	}
	if in.err != nil {
		return 0, nil, in.err
	}
	return in.env.Sequence, in.env.Payload, nil
}

func (r *Reliable) Receive(ctx context.Context) ([]byte, error) {
	_, payload, err := r.ReceiveNumbered(ctx)
	return payload, err
}

func (r *Reliable) readLoop(ctx context.Context) error {
	for {
		env, err := r.inner.ReceiveEnvelope(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, protocol.ErrProtocol) {
				r.inbox.Push(inbound{err: err})
				continue
			}
			r.terminate(err)
			return err
		}
		switch env.Kind {
		case protocol.KindAck:
			r.handleAck(env.Sequence)
		case protocol.KindData:
			r.handleData(ctx, env)
		}
	}
}

func (r *Reliable) handleAck(seq uint64) {
	r.mu.Lock()
	p, ok := r.window.Remove(seq)
	r.stats.rec.Window(r.window.Len())
	r.mu.Unlock()
	if !ok {
		logs.Tracef("stack.Reliable stale ack name=%s seq=%d", r.cfg.Name, seq)
		return
	}
	r.stats.add(&r.stats.acksReceived, observability.EventAckReceived)
	p.receipt.resolve(nil)
}

func (r *Reliable) handleData(ctx context.Context, env protocol.Envelope) {
	// The ack is fire-and-forget; a lost ack is repaired by the sender
	// retransmitting and this side acking the duplicate.
	if err := r.inner.Transmit(ctx, protocol.Ack(env.Sequence)); err != nil {
		logs.Debugf("stack.Reliable ack name=%s seq=%d err=%v", r.cfg.Name, env.Sequence, err)
	} else {
		r.stats.add(&r.stats.acksSent, observability.EventAckSent)
	}

	r.mu.Lock()
	fresh := r.seen.Add(env.Sequence)
	r.mu.Unlock()
	if !fresh {
		r.stats.add(&r.stats.duplicates, observability.EventDuplicate)
		return
	}
	r.stats.add(&r.stats.received, observability.EventReceived)
	r.inbox.Push(inbound{env: env})
}

func (r *Reliable) retransmitLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.tick(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.terminate(err)
				return err
			}
		}
	}
}

// tick retransmits every overdue entry and fails those out of retries.
// Only a closed channel is returned as an error.
func (r *Reliable) tick(ctx context.Context) error {
	now := r.now()
	var resend []protocol.Envelope
	var failed []*pending

	r.mu.Lock()
	for _, p := range r.window.List() {
		if !p.due(now) {
			continue
		}
		if p.Retries >= r.cfg.MaxRetries {
			r.window.Remove(p.Sequence)
			failed = append(failed, p)
			continue
		}
		p.Retries++
		p.SentAt = now
		p.Wait = r.retryDelayLocked(p.Retries)
		resend = append(resend, protocol.Data(p.Sequence, p.Payload))
	}
	r.stats.rec.Window(r.window.Len())
	r.mu.Unlock()

	for _, p := range failed {
		err := &DeliveryError{Sequence: p.Sequence, Retries: p.Retries}
		r.stats.add(&r.stats.deliveryFailures, observability.EventDeliveryFailure)
		logs.Warnf("stack.Reliable delivery failed name=%s seq=%d retries=%d", r.cfg.Name, p.Sequence, p.Retries)
		p.receipt.resolve(err)
		if r.cfg.OnFailure != nil {
			r.cfg.OnFailure(err)
		}
	}

	for _, env := range resend {
		err := r.inner.Transmit(ctx, env)
		if err == nil {
			r.stats.add(&r.stats.retransmits, observability.EventRetransmit)
			logs.Debugf("stack.Reliable retransmit name=%s seq=%d", r.cfg.Name, env.Sequence)
			continue
		}
		if channel.IsClosed(err) {
			return err
		}
		logs.Warnf("stack.Reliable retransmit name=%s seq=%d err=%v", r.cfg.Name, env.Sequence, err)
	}
	return nil
}

func (r *Reliable) retryDelayLocked(attempt int) time.Duration {
	return NextRetryDelay(r.cfg.Backoff, r.cfg.RetryInterval, attempt, r.rng)
}

// terminate discards all state after the underlying channel failed.
func (r *Reliable) terminate(err error) {
	r.mu.Lock()
	if r.closed || r.failure != nil {
		r.mu.Unlock()
		return
	}
	r.failure = err
	abandoned := r.window.Drain()
	r.stats.rec.Window(0)
	r.mu.Unlock()

	logs.Warnf("stack.Reliable terminal name=%s abandoned=%d err=%v", r.cfg.Name, len(abandoned), err)
	for _, p := range abandoned {
		p.receipt.resolve(err)
	}
	r.inbox.Fail(err)
}

// Pending reports how many sends await acknowledgment.
func (r *Reliable) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.window.Len()
}

// Close abandons unacknowledged sends without reporting them as failures,
// releases blocked receivers with channel.ErrClosed and closes the wrapped
// channel.
func (r *Reliable) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		abandoned := r.window.Drain()
		r.stats.rec.Window(0)
		r.mu.Unlock()

		for _, p := range abandoned {
			p.receipt.resolve(channel.ErrClosed)
		}
		r.inbox.Abort(channel.ErrClosed)
		r.cancel()
		r.closeErr = r.inner.Close()
		_ = r.group.Wait()
	})
	return r.closeErr
}

func (r *Reliable) Stats() Stats {
	s := r.stats.snapshot()
	s.Window = r.Pending()
	return s
}
