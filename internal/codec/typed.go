package codec

import (
	"context"
	"fmt"

	"github.com/danmuck/courier/internal/channel"
)

// Typed exchanges values of T over a byte channel.
type Typed[T any] struct {
	ch    channel.Channel
	codec Codec
}

func NewTyped[T any](ch channel.Channel, c Codec) *Typed[T] {
	return &Typed[T]{ch: ch, codec: c}
}

func (t *Typed[T]) Send(ctx context.Context, v T) error {
	payload, err := t.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("codec: marshal %s: %w", t.codec.ContentType(), err)
	}
	return t.ch.Send(ctx, payload)
}

// Receive returns the next value. A payload that does not decode is reported
// as ErrFormat and the channel stays usable.
func (t *Typed[T]) Receive(ctx context.Context) (T, error) {
	var v T
	payload, err := t.ch.Receive(ctx)
	if err != nil {
		return v, err
	}
	if err := t.codec.Unmarshal(payload, &v); err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %s: %v", ErrFormat, t.codec.ContentType(), err)
	}
	return v, nil
}

// Channel returns the underlying byte channel.
func (t *Typed[T]) Channel() channel.Channel {
	return t.ch
}

func (t *Typed[T]) Close() error {
	return t.ch.Close()
}
