package stack

import (
	"context"
	"errors"
	"sync"

	"github.com/danmuck/courier/internal/channel"
	logs "github.com/danmuck/courier/internal/logging"
	"github.com/danmuck/courier/internal/observability"
	"github.com/danmuck/courier/internal/protocol"
)

// Sequenced is a channel that exposes sequence metadata.
type Sequenced interface {
	channel.Channel
	SendNumbered(ctx context.Context, payload []byte) (uint64, error)
	ReceiveNumbered(ctx context.Context) (uint64, []byte, error)
}

// Numbered stamps every outgoing payload with the next sequence number and
// exposes the sequence of every incoming one. It neither reorders nor
// deduplicates.
type Numbered struct {
	inner  channel.Channel
	origin uint64
	stats  *counters

	// mu serializes assignment and transmission so wire order follows
	// assignment order for a single sender.
	mu   sync.Mutex
	next uint64

	closeOnce sync.Once
	closeErr  error
}

func NewNumbered(inner channel.Channel, cfg Config) *Numbered {
	cfg = cfg.WithDefaults()
	return &Numbered{
		inner:  inner,
		origin: cfg.Origin,
		next:   cfg.Origin,
		stats:  newCounters(cfg.Name, LayerNumbered),
	}
}

// Origin is the first sequence number this channel assigns.
func (n *Numbered) Origin() uint64 {
	return n.origin
}

// Next reports the number the next send will use.
func (n *Numbered) Next() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.next
}

func (n *Numbered) Send(ctx context.Context, payload []byte) error {
	_, err := n.SendNumbered(ctx, payload)
	return err
}

// SendNumbered assigns a sequence and transmits payload under it. The
// sequence is consumed even when the transmission fails.
func (n *Numbered) SendNumbered(ctx context.Context, payload []byte) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	seq := n.next
	n.next++
	return seq, n.transmitLocked(ctx, protocol.Data(seq, payload))
}

// assign reserves the next sequence without transmitting.
func (n *Numbered) assign() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	seq := n.next
	n.next++
	return seq
}

// Transmit forwards an already numbered envelope. Retransmissions and
// acknowledgments use it so they do not consume sequence numbers.
func (n *Numbered) Transmit(ctx context.Context, env protocol.Envelope) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.transmitLocked(ctx, env)
}

func (n *Numbered) transmitLocked(ctx context.Context, env protocol.Envelope) error {
	buf, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	if err := n.inner.Send(ctx, buf); err != nil {
		return channel.Wrap("send", err)
	}
	if env.Kind == protocol.KindData {
		n.stats.add(&n.stats.sent, observability.EventSent)
	}
	return nil
}

// ReceiveEnvelope returns the next envelope of any kind. Bytes that do not
// parse are reported as a protocol error.
func (n *Numbered) ReceiveEnvelope(ctx context.Context) (protocol.Envelope, error) {
	raw, err := n.inner.Receive(ctx)
	if err != nil {
		return protocol.Envelope{}, channel.Wrap("receive", err)
	}
	env, err := protocol.Decode(raw)
	if err != nil {
		n.stats.add(&n.stats.protocolErrors, observability.EventProtocolError)
		logs.Debugf("stack.Numbered decode name=%s len=%d err=%v", n.stats.name, len(raw), err)
		return protocol.Envelope{}, err
	}
	if env.Kind == protocol.KindData {
		n.stats.add(&n.stats.received, observability.EventReceived)
	}
	return env, nil
}

// ReceiveNumbered returns the next data envelope's sequence and payload.
// Acknowledgments addressed to a reliable peer are skipped.
func (n *Numbered) ReceiveNumbered(ctx context.Context) (uint64, []byte, error) {
	for {
		env, err := n.ReceiveEnvelope(ctx)
		if err != nil {
			return 0, nil, err
		}
		if env.Kind != protocol.KindData {
			continue
		}
		return env.Sequence, env.Payload, nil
	}
}

func (n *Numbered) Receive(ctx context.Context) ([]byte, error) {
	_, payload, err := n.ReceiveNumbered(ctx)
	return payload, err
}

func (n *Numbered) Close() error {
	n.closeOnce.Do(func() {
		n.closeErr = n.inner.Close()
		if errors.Is(n.closeErr, channel.ErrClosed) {
			n.closeErr = nil
		}
	})
	return n.closeErr
}

func (n *Numbered) Stats() Stats {
	return n.stats.snapshot()
}
