package channel

import "context"

// Hooks observe traffic at a channel boundary. Both are optional and run
// synchronously on the caller's goroutine.
type Hooks struct {
	// OnSend sees every payload handed to Send, before it is forwarded.
	OnSend func(payload []byte)
	// OnReceive sees every payload successfully received.
	OnReceive func(payload []byte)
}

type inspected struct {
	inner Channel
	hooks Hooks
}

// Inspect wraps ch so hooks observe its traffic.
func Inspect(ch Channel, hooks Hooks) Channel {
	return &inspected{inner: ch, hooks: hooks}
}

func (c *inspected) Send(ctx context.Context, payload []byte) error {
	if c.hooks.OnSend != nil {
		c.hooks.OnSend(payload)
	}
	return c.inner.Send(ctx, payload)
}

func (c *inspected) Receive(ctx context.Context) ([]byte, error) {
	payload, err := c.inner.Receive(ctx)
	if err != nil {
		return nil, err
	}
	if c.hooks.OnReceive != nil {
		c.hooks.OnReceive(payload)
	}
	return payload, nil
}

func (c *inspected) Close() error {
	return c.inner.Close()
}
