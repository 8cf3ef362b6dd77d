// Package websocket binds a channel.Channel to a browser-compatible
// WebSocket connection. Each message is one binary WebSocket message.
package websocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/courier/internal/channel"
	logs "github.com/danmuck/courier/internal/logging"
	"nhooyr.io/websocket"
)

// DefaultReadLimit bounds one inbound message.
const DefaultReadLimit = 1 << 20

// Options tune one WebSocket connection.
type Options struct {
	ReadLimit int64
	// OriginPatterns lists extra hosts allowed to open the socket.
	OriginPatterns []string
}

// Conn is a message channel over one WebSocket connection.
type Conn struct {
	ws     *websocket.Conn
	inbox  *channel.Queue[[]byte]
	cancel context.CancelFunc

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// Dial opens a client connection to url.
func Dial(ctx context.Context, url string, opts Options) (*Conn, error) {
	ws, resp, err := websocket.Dial(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, channel.Wrap("dial", err)
	}
	logs.Debugf("websocket.Dial url=%s", url)
	return New(ws, opts), nil
}

// Accept upgrades an HTTP request to a server connection.
func Accept(w http.ResponseWriter, r *http.Request, opts Options) (*Conn, error) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: opts.OriginPatterns,
	})
	if err != nil {
		return nil, channel.Wrap("accept", err)
	}
	logs.Debugf("websocket.Accept remote=%s", r.RemoteAddr)
	return New(ws, opts), nil
}

// Listen serves path on addr and returns the first peer that connects. The
// HTTP server stops once that peer arrives.
func Listen(ctx context.Context, addr, path string, opts Options) (*Conn, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, channel.Wrap("listen", err)
	}
	accepted := make(chan *Conn, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		c, err := Accept(w, r, opts)
		if err != nil {
			logs.Warnf("websocket.Listen accept remote=%s err=%v", r.RemoteAddr, err)
			return
		}
		select {
		case accepted <- c:
		default:
			_ = c.Close()
		}
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	logs.Infof("websocket.Listen addr=%s path=%s", ln.Addr(), path)

	select {
	case <-ctx.Done():
		_ = srv.Close()
		return nil, ctx.Err()
	case c := <-accepted:
		_ = srv.Close()
		return c, nil
	}
}

// New wraps an established connection. The Conn owns ws from here on.
func New(ws *websocket.Conn, opts Options) *Conn {
	limit := opts.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	ws.SetReadLimit(limit)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:     ws,
		inbox:  channel.NewQueue[[]byte](),
		cancel: cancel,
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.readLoop(ctx)
	return c
}

func (c *Conn) Send(ctx context.Context, payload []byte) error {
	if c.isClosed() {
		return channel.ErrClosed
	}
	if err := c.ws.Write(ctx, websocket.MessageBinary, payload); err != nil {
		return c.mapErr("send", err)
	}
	return nil
}

func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	return c.inbox.Pop(ctx)
}

func (c *Conn) readLoop(ctx context.Context) {
	defer close(c.done)
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			c.inbox.Fail(c.mapErr("receive", err))
			return
		}
		if typ != websocket.MessageBinary {
			logs.Debugf("websocket.readLoop skip type=%v len=%d", typ, len(data))
			continue
		}
		c.inbox.Push(data)
	}
}

// mapErr reports a normal close from either side as channel.ErrClosed.
func (c *Conn) mapErr(op string, err error) error {
	if c.isClosed() || errors.Is(err, net.ErrClosed) {
		return channel.ErrClosed
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
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
		err := c.ws.Close(websocket.StatusNormalClosure, "")
		if err != nil && websocket.CloseStatus(err) == -1 && !errors.Is(err, net.ErrClosed) {
			logs.Debugf("websocket.Close err=%v", err)
		}
		c.cancel()
		<-c.done
	})
	return nil
}
