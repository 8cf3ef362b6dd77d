package peer

import (
	"context"
	"errors"
	"time"

	"github.com/danmuck/courier/internal/channel"
	"github.com/danmuck/courier/internal/channel/mem"
	"github.com/danmuck/courier/internal/codec"
	"github.com/danmuck/courier/internal/config"
	logs "github.com/danmuck/courier/internal/logging"
	"github.com/danmuck/courier/internal/protocol"
	"github.com/danmuck/courier/internal/stack"
)

// Message is one chat line exchanged between peers.
type Message struct {
	From   string `json:"from" cbor:"from"`
	Text   string `json:"text" cbor:"text"`
	SentAt int64  `json:"sent_at" cbor:"sent_at"`
}

func newMessage(from, text string) Message {
	return Message{From: from, Text: text, SentAt: time.Now().UnixMilli()}
}

// recoverable reports receive errors after which the stack stays usable.
func recoverable(err error) bool {
	return errors.Is(err, codec.ErrFormat) || errors.Is(err, protocol.ErrProtocol)
}

// openEcho starts an in-process peer that answers every message with a copy
// of its text, through the same layers and codec as the local side.
func openEcho(cfg config.Config) (channel.Channel, error) {
	near, far := mem.Pair()
	var remote channel.Channel = far
	if cfg.HasFaults() {
		remote = mem.NewFaulty(far, cfg.Faults)
	}
	stCfg := cfg.Stack
	stCfg.Name = cfg.Name + ".echo"
	st, err := stack.Build(remote, stCfg, cfg.Layers...)
	if err != nil {
		_ = near.Close()
		return nil, err
	}
	c, err := codec.NewRegistry().Lookup(cfg.Codec)
	if err != nil {
		_ = st.Close()
		_ = near.Close()
		return nil, err
	}
	go runEcho(codec.NewTyped[Message](st, c))
	return near, nil
}

func runEcho(chat *codec.Typed[Message]) {
	defer chat.Close()
	ctx := context.Background()
	for {
		msg, err := chat.Receive(ctx)
		if err != nil {
			if recoverable(err) {
				logs.Warnf("peer.echo skip err=%v", err)
				continue
			}
			logs.Debugf("peer.echo stop err=%v", err)
			return
		}
		if err := chat.Send(ctx, newMessage("echo", msg.Text)); err != nil {
			logs.Debugf("peer.echo stop err=%v", err)
			return
		}
	}
}
