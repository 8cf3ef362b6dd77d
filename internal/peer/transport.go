package peer

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/danmuck/courier/internal/channel"
	"github.com/danmuck/courier/internal/channel/mem"
	"github.com/danmuck/courier/internal/channel/natsbus"
	"github.com/danmuck/courier/internal/channel/stream"
	"github.com/danmuck/courier/internal/channel/udp"
	"github.com/danmuck/courier/internal/channel/websocket"
	"github.com/danmuck/courier/internal/config"
	logs "github.com/danmuck/courier/internal/logging"
	"github.com/danmuck/courier/internal/stack"
)

// Open connects the binding named by cfg.Transport. For tcp and websocket a
// configured peer is dialed; otherwise the first inbound connection on
// listen is accepted.
func Open(ctx context.Context, cfg config.Config) (channel.Channel, error) {
	var (
		ch  channel.Channel
		err error
	)
	switch cfg.Transport {
	case config.TransportUDP:
		ch, err = udp.Dial(ctx, cfg.Listen, cfg.Peer)
	case config.TransportTCP:
		ch, err = openTCP(ctx, cfg)
	case config.TransportWebSocket:
		if cfg.Peer != "" {
			ch, err = dialRetry(ctx, cfg, func(ctx context.Context) (channel.Channel, error) {
				return websocket.Dial(ctx, websocketURL(cfg.Peer, cfg.Path), websocket.Options{})
			})
		} else {
			ch, err = websocket.Listen(ctx, cfg.Listen, cfg.Path, websocket.Options{OriginPatterns: cfg.CorsOrigins})
		}
	case config.TransportNATS:
		ch, err = natsbus.Connect(ctx, natsbus.Options{
			URL:      cfg.NATS.URL,
			Name:     cfg.Name,
			Outbound: cfg.NATS.Outbound,
			Inbound:  cfg.NATS.Inbound,
		})
	case config.TransportMem:
		ch, err = openEcho(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", config.ErrInvalid, cfg.Transport)
	}
	if err != nil {
		return nil, err
	}

	if cfg.HasFaults() {
		logs.Infof("peer.Open faults drop=%.2f dup=%.2f reorder=%.2f", cfg.Faults.DropRate, cfg.Faults.DuplicateRate, cfg.Faults.ReorderRate)
		ch = mem.NewFaulty(ch, cfg.Faults)
	}
	return channel.Inspect(ch, channel.Hooks{
		OnSend: func(p []byte) {
			logs.Tracef("peer.wire send name=%s len=%d", cfg.Name, len(p))
		},
		OnReceive: func(p []byte) {
			logs.Tracef("peer.wire recv name=%s len=%d", cfg.Name, len(p))
		},
	}), nil
}

func openTCP(ctx context.Context, cfg config.Config) (channel.Channel, error) {
	var opts stream.Options
	if cfg.Peer != "" {
		if cfg.TLS.Enabled {
			tlsCfg, err := cfg.TLS.ClientTLS(cfg.Peer)
			if err != nil {
				return nil, err
			}
			opts.TLS = tlsCfg
		}
		return dialRetry(ctx, cfg, func(ctx context.Context) (channel.Channel, error) {
			return stream.Dial(ctx, cfg.Peer, opts)
		})
	}

	if cfg.TLS.Enabled {
		tlsCfg, err := cfg.TLS.ServerTLS()
		if err != nil {
			return nil, err
		}
		opts.TLS = tlsCfg
	}
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, channel.Wrap("listen", err)
	}
	defer ln.Close()
	logs.Infof("peer.Open waiting for tcp peer addr=%s tls=%t", ln.Addr(), cfg.TLS.Enabled)
	return stream.Accept(ctx, ln, opts)
}

// dialRetry repeats dial with the stack backoff until it succeeds, ctx ends
// or cfg.ConnectAttempts is spent.
func dialRetry(ctx context.Context, cfg config.Config, dial func(context.Context) (channel.Channel, error)) (channel.Channel, error) {
	backoff := cfg.Stack.WithDefaults()
	var attempt int
	for {
		attempt++
		ch, err := dial(ctx)
		if err == nil {
			return ch, nil
		}
		logs.Warnf("peer.dial attempt=%d peer=%s err=%v", attempt, cfg.Peer, err)
		if cfg.ConnectAttempts > 0 && attempt >= cfg.ConnectAttempts {
			return nil, err
		}
		timer := time.NewTimer(stack.NextRetryDelay(backoff.Backoff, backoff.RetryInterval, attempt, nil))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func websocketURL(peer, path string) string {
	if strings.HasPrefix(peer, "ws://") || strings.HasPrefix(peer, "wss://") {
		return peer
	}
	return "ws://" + peer + path
}
