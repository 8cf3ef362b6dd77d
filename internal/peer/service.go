package peer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/courier/internal/admin"
	"github.com/danmuck/courier/internal/auth"
	"github.com/danmuck/courier/internal/channel"
	"github.com/danmuck/courier/internal/codec"
	"github.com/danmuck/courier/internal/config"
	logs "github.com/danmuck/courier/internal/logging"
	"github.com/danmuck/courier/internal/stack"
	"golang.org/x/sync/errgroup"
)

// Service is one running courier peer.
type Service struct {
	cfg config.Config
	in  io.Reader
	out io.Writer

	stack *stack.Stack
	chat  *codec.Typed[Message]
	admin *admin.Server
}

// NewService reads chat lines from in and writes received messages to out.
func NewService(cfg config.Config, in io.Reader, out io.Writer) *Service {
	return &Service{cfg: cfg, in: in, out: out}
}

// Run serves until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext serves until ctx ends or the remote peer closes the channel.
func (s *Service) RunContext(ctx context.Context) error {
	if err := s.bootstrap(ctx); err != nil {
		return err
	}
	defer s.shutdown()
	return s.serve(ctx)
}

func (s *Service) bootstrap(ctx context.Context) error {
	if err := config.Validate(s.cfg); err != nil {
		return err
	}
	c, err := codec.NewRegistry().Lookup(s.cfg.Codec)
	if err != nil {
		return err
	}
	ch, err := Open(ctx, s.cfg)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.cfg.Transport, err)
	}

	stCfg := s.cfg.Stack
	stCfg.Name = s.cfg.Name
	stCfg.OnFailure = func(err *stack.DeliveryError) {
		logs.Warnf("peer.delivery name=%s seq=%d retries=%d", s.cfg.Name, err.Sequence, err.Retries)
	}
	st, err := stack.Build(ch, stCfg, s.cfg.Layers...)
	if err != nil {
		_ = ch.Close()
		return err
	}
	s.stack = st
	s.chat = codec.NewTyped[Message](st, c)
	if s.cfg.AdminAddr != "" {
		s.admin = admin.New(s.cfg.Name, s.cfg.AdminAddr, s.cfg.CorsOrigins, st)
		if s.cfg.AdminToken != "" {
			s.admin.Auth = auth.StaticToken{Token: s.cfg.AdminToken}
		}
	}
	logs.Infof("peer.bootstrap name=%s transport=%s layers=%v codec=%s", s.cfg.Name, s.cfg.Transport, st.Layers(), c.ContentType())
	return nil
}

func (s *Service) serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if s.admin != nil {
		g.Go(func() error { return s.admin.Serve(gctx) })
	}
	lines := readLines(gctx, s.in)
	g.Go(func() error { return s.sendLoop(gctx, lines) })
	g.Go(func() error { return s.receiveLoop(gctx) })

	err := g.Wait()
	if errors.Is(err, errPeerClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

var errPeerClosed = errors.New("peer: remote closed")

func (s *Service) sendLoop(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				logs.Debugf("peer.sendLoop input done name=%s", s.cfg.Name)
				return nil
			}
			if err := s.chat.Send(ctx, newMessage(s.cfg.Name, line)); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if channel.IsClosed(err) {
					return errPeerClosed
				}
				return err
			}
		}
	}
}

func (s *Service) receiveLoop(ctx context.Context) error {
	for {
		msg, err := s.chat.Receive(ctx)
		switch {
		case err == nil:
			if _, werr := fmt.Fprintf(s.out, "[%s] %s\n", msg.From, msg.Text); werr != nil {
				return werr
			}
		case ctx.Err() != nil:
			return nil
		case recoverable(err):
			logs.Warnf("peer.receiveLoop skip name=%s err=%v", s.cfg.Name, err)
		case channel.IsClosed(err):
			logs.Infof("peer.receiveLoop remote closed name=%s", s.cfg.Name)
			return errPeerClosed
		default:
			return err
		}
	}
}

func (s *Service) shutdown() {
	if s.stack == nil {
		return
	}
	if err := s.stack.Close(); err != nil {
		logs.Debugf("peer.shutdown name=%s err=%v", s.cfg.Name, err)
	}
	for _, st := range s.stack.Stats() {
		logs.Infof("peer.shutdown name=%s layer=%s sent=%d received=%d retransmits=%d", st.Name, st.Layer, st.Sent, st.Received, st.Retransmits)
	}
}

// readLines forwards non-blank trimmed lines from r. The reader goroutine may
// outlive ctx while blocked on r.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			select {
			case out <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			logs.Warnf("peer.readLines err=%v", err)
		}
	}()
	return out
}
