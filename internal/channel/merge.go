package channel

import (
	"context"
	"errors"
	"io"
	"sync"
)

type merged struct {
	sender   Sender
	receiver Receiver

	closeOnce sync.Once
	closeErr  error
}

// Merge joins an independent send primitive and receive primitive into one
// Channel. Close closes each half that implements io.Closer.
func Merge(s Sender, r Receiver) Channel {
	return &merged{sender: s, receiver: r}
}

func (m *merged) Send(ctx context.Context, payload []byte) error {
	return m.sender.Send(ctx, payload)
}

func (m *merged) Receive(ctx context.Context) ([]byte, error) {
	return m.receiver.Receive(ctx)
}

func (m *merged) Close() error {
	m.closeOnce.Do(func() {
		var errs []error
		if c, ok := m.sender.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
		if c, ok := m.receiver.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
		m.closeErr = errors.Join(errs...)
	})
	return m.closeErr
}
