// Package natsbus binds a channel.Channel to a pair of NATS subjects: sends
// publish on the outbound subject and receives drain the inbound one. Core
// NATS is at-most-once, so the binding may lose messages.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/courier/internal/channel"
	logs "github.com/danmuck/courier/internal/logging"
	"github.com/nats-io/nats.go"
)

var ErrInvalidOptions = errors.New("natsbus: invalid options")

// Options name the server and the subject pair. Peers use mirrored subjects.
type Options struct {
	URL      string
	Name     string
	Outbound string
	Inbound  string
	Timeout  time.Duration
}

func (o Options) validate() error {
	if strings.TrimSpace(o.Outbound) == "" || strings.TrimSpace(o.Inbound) == "" {
		return fmt.Errorf("%w: outbound and inbound subjects are required", ErrInvalidOptions)
	}
	if o.Outbound == o.Inbound {
		return fmt.Errorf("%w: outbound and inbound must differ", ErrInvalidOptions)
	}
	return nil
}

// Conn is a message channel over a NATS subject pair.
type Conn struct {
	nc       *nats.Conn
	ownsConn bool
	opts     Options
	sub      *nats.Subscription
	inbox    *channel.Queue[[]byte]

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// Connect dials the server in opts.URL and subscribes to opts.Inbound.
func Connect(ctx context.Context, opts Options) (*Conn, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	url := opts.URL
	if strings.TrimSpace(url) == "" {
		url = nats.DefaultURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	c := newConn(opts)
	nc, err := nats.Connect(url,
		nats.Name(opts.Name),
		nats.Timeout(timeout),
		nats.ClosedHandler(func(*nats.Conn) {
			c.inbox.Fail(channel.ErrClosed)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logs.Warnf("natsbus disconnected name=%s err=%v", opts.Name, err)
		}),
	)
	if err != nil {
		return nil, channel.Wrap("connect", err)
	}
	c.nc = nc
	c.ownsConn = true
	if err := c.subscribe(); err != nil {
		nc.Close()
		return nil, err
	}
	logs.Debugf("natsbus.Connect url=%s out=%s in=%s", nc.ConnectedUrl(), opts.Outbound, opts.Inbound)
	return c, nil
}

// New binds an existing connection. Closing the Conn leaves nc open.
func New(nc *nats.Conn, opts Options) (*Conn, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	c := newConn(opts)
	c.nc = nc
	if err := c.subscribe(); err != nil {
		return nil, err
	}
	return c, nil
}

func newConn(opts Options) *Conn {
	return &Conn{
		opts:   opts,
		inbox:  channel.NewQueue[[]byte](),
		closed: make(chan struct{}),
	}
}

func (c *Conn) subscribe() error {
	sub, err := c.nc.Subscribe(c.opts.Inbound, func(msg *nats.Msg) {
		data := make([]byte, len(msg.Data))
		copy(data, msg.Data)
		c.inbox.Push(data)
	})
	if err != nil {
		return channel.Wrap("subscribe", err)
	}
	if err := c.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return channel.Wrap("subscribe", err)
	}
	c.sub = sub
	return nil
}

func (c *Conn) Send(ctx context.Context, payload []byte) error {
	if c.isClosed() {
		return channel.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.nc.Publish(c.opts.Outbound, payload); err != nil {
		return c.mapErr("send", err)
	}
	return nil
}

func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	return c.inbox.Pop(ctx)
}

// Flush waits until the server has processed every published message. ctx
// must carry a deadline.
func (c *Conn) Flush(ctx context.Context) error {
	if err := c.nc.FlushWithContext(ctx); err != nil {
		return c.mapErr("flush", err)
	}
	return nil
}

func (c *Conn) mapErr(op string, err error) error {
	if c.isClosed() || errors.Is(err, nats.ErrConnectionClosed) {
		return channel.ErrClosed
	}
	return channel.Wrap(op, err)
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.inbox.Abort(channel.ErrClosed)
		if c.sub != nil {
			if err := c.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
				c.closeErr = err
			}
		}
		if c.ownsConn {
			c.nc.Close()
		}
	})
	return c.closeErr
}
