// Package udp binds a channel.Channel to a connected UDP socket. Each message
// is one datagram, so the binding inherits UDP's loss, duplication and
// reordering.
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/courier/internal/channel"
	logs "github.com/danmuck/courier/internal/logging"
)

// MaxDatagram is the largest payload a single IPv4 datagram can carry.
const MaxDatagram = 65507

var ErrDatagramTooLarge = errors.New("udp: datagram too large")

// Conn is a message channel over a UDP socket connected to one peer.
type Conn struct {
	conn  *net.UDPConn
	inbox *channel.Queue[[]byte]

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
	done      chan struct{}
}

// Dial binds local (empty for any port) and connects it to peer.
func Dial(ctx context.Context, local, peer string) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raddr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		return nil, fmt.Errorf("udp: peer %q: %w", peer, err)
	}
	var laddr *net.UDPAddr
	if local != "" {
		if laddr, err = net.ResolveUDPAddr("udp", local); err != nil {
			return nil, fmt.Errorf("udp: local %q: %w", local, err)
		}
	}
	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return nil, channel.Wrap("dial", err)
	}
	logs.Debugf("udp.Dial local=%s peer=%s", conn.LocalAddr(), raddr)
	return New(conn), nil
}

// New wraps a connected socket. The Conn owns conn from here on.
func New(conn *net.UDPConn) *Conn {
	c := &Conn{
		conn:   conn,
		inbox:  channel.NewQueue[[]byte](),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Conn) Send(ctx context.Context, payload []byte) error {
	if c.isClosed() {
		return channel.ErrClosed
	}
	if len(payload) > MaxDatagram {
		return channel.Wrap("send", fmt.Errorf("%w: %d bytes", ErrDatagramTooLarge, len(payload)))
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	} else {
		_ = c.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := c.conn.Write(payload); err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			// The peer is not listening yet; the datagram is lost.
			logs.Debugf("udp.Send peer=%s refused", c.conn.RemoteAddr())
			return nil
		}
		return c.mapErr("send", err)
	}
	return nil
}

func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	return c.inbox.Pop(ctx)
}

func (c *Conn) readLoop() {
	defer close(c.done)
	buf := make([]byte, MaxDatagram+1)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			if errors.Is(err, syscall.ECONNREFUSED) {
				continue
			}
			c.inbox.Fail(c.mapErr("receive", err))
			return
		}
		msg := make([]byte, n)
		copy(msg, buf[:n])
		c.inbox.Push(msg)
	}
}

func (c *Conn) mapErr(op string, err error) error {
	if c.isClosed() || errors.Is(err, net.ErrClosed) {
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

func (c *Conn) LocalAddr() net.Addr { return c.conn.LocalAddr() }

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.inbox.Abort(channel.ErrClosed)
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.closeErr = err
		}
		<-c.done
	})
	return c.closeErr
}
