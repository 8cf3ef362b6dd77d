// Package stream binds a channel.Channel to a byte stream such as a TCP
// connection, delimiting messages with length-prefixed frames.
package stream

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/danmuck/courier/internal/channel"
	logs "github.com/danmuck/courier/internal/logging"
	"github.com/danmuck/courier/internal/protocol/frame"
)

// Options tune one stream connection.
type Options struct {
	Limits         frame.Limits
	WriteTimeout   time.Duration
	ConnectTimeout time.Duration
	// TLS, when set, wraps the connection: Dial acts as a client and Accept
	// as a server. The handshake completes before the Conn is returned.
	TLS              *tls.Config
	HandshakeTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		Limits:           frame.DefaultLimits(),
		WriteTimeout:     5 * time.Second,
		ConnectTimeout:   3 * time.Second,
		HandshakeTimeout: 5 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Limits.MaxPayloadBytes == 0 {
		o.Limits = def.Limits
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = def.WriteTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = def.HandshakeTimeout
	}
	return o
}

// Conn is a message channel over one stream connection. A background reader
// decodes frames so Receive can honour its context.
type Conn struct {
	conn  net.Conn
	opts  Options
	inbox *channel.Queue[[]byte]

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
	done      chan struct{}
}

// New wraps an established connection. The Conn owns conn from here on.
func New(conn net.Conn, opts Options) *Conn {
	c := &Conn{
		conn:   conn,
		opts:   opts.withDefaults(),
		inbox:  channel.NewQueue[[]byte](),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Dial connects to addr over TCP.
func Dial(ctx context.Context, addr string, opts Options) (*Conn, error) {
	opts = opts.withDefaults()
	dialer := net.Dialer{Timeout: opts.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, channel.Wrap("dial", err)
	}
	conn := rawConn
	if opts.TLS != nil {
		tlsConn := tls.Client(rawConn, opts.TLS)
		if err := handshake(ctx, tlsConn, opts.HandshakeTimeout); err != nil {
			_ = rawConn.Close()
			return nil, channel.Wrap("handshake", err)
		}
		conn = tlsConn
	}
	logs.Debugf("stream.Dial addr=%s local=%s tls=%t", addr, conn.LocalAddr(), opts.TLS != nil)
	return New(conn, opts), nil
}

func handshake(ctx context.Context, conn *tls.Conn, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return conn.HandshakeContext(ctx)
}

// Accept waits for one inbound connection on ln.
func Accept(ctx context.Context, ln net.Listener, opts Options) (*Conn, error) {
	opts = opts.withDefaults()
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		ch <- result{conn: conn, err: err}
	}()
	select {
	case <-ctx.Done():
		_ = ln.Close()
		r := <-ch
		if r.conn != nil {
			_ = r.conn.Close()
		}
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, channel.Wrap("accept", r.err)
		}
		conn := r.conn
		if opts.TLS != nil {
			tlsConn := tls.Server(r.conn, opts.TLS)
			if err := handshake(ctx, tlsConn, opts.HandshakeTimeout); err != nil {
				_ = r.conn.Close()
				return nil, channel.Wrap("handshake", err)
			}
			conn = tlsConn
		}
		logs.Debugf("stream.Accept remote=%s tls=%t", conn.RemoteAddr(), opts.TLS != nil)
		return New(conn, opts), nil
	}
}

func (c *Conn) Send(ctx context.Context, payload []byte) error {
	if c.isClosed() {
		return channel.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.setWriteDeadline(ctx); err != nil {
		return c.mapErr("send", err)
	}
	if err := frame.WriteFrame(c.conn, payload, c.opts.Limits); err != nil {
		return c.mapErr("send", err)
	}
	return nil
}

func (c *Conn) setWriteDeadline(ctx context.Context) error {
	deadline := time.Now().Add(c.opts.WriteTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	return c.conn.SetWriteDeadline(deadline)
}

func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	return c.inbox.Pop(ctx)
}

func (c *Conn) readLoop() {
	defer close(c.done)
	reader := bufio.NewReader(c.conn)
	for {
		payload, err := frame.ReadFrame(reader, c.opts.Limits)
		if err != nil {
			c.inbox.Fail(c.mapErr("receive", err))
			return
		}
		c.inbox.Push(payload)
	}
}

// mapErr reports an orderly close as channel.ErrClosed and everything else
// as a binding failure.
func (c *Conn) mapErr(op string, err error) error {
	if c.isClosed() || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
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

// LocalAddr and RemoteAddr expose the underlying endpoints.
func (c *Conn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

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
