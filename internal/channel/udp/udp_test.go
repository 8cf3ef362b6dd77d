package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/danmuck/courier/internal/channel"
	"github.com/danmuck/courier/internal/stack"
	"github.com/danmuck/courier/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) string {
	t.Helper()
	spare, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	addr := spare.LocalAddr().String()
	require.NoError(t, spare.Close())
	return addr
}

func udpPair(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	ctx := context.Background()
	bAddr := freePort(t)
	a, err := Dial(ctx, "127.0.0.1:0", bAddr)
	require.NoError(t, err)
	b, err := Dial(ctx, bAddr, a.LocalAddr().String())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func TestUDPExchangesDatagrams(t *testing.T) {
	testlog.Start(t)
	a, b := udpPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, a.Send(ctx, []byte("ping")))
	got, err := b.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "ping", string(got))

	require.NoError(t, b.Send(ctx, []byte("pong")))
	got, err = a.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "pong", string(got))
}

func TestUDPRejectsOversizedDatagram(t *testing.T) {
	testlog.Start(t)
	a, _ := udpPair(t)
	err := a.Send(context.Background(), make([]byte, MaxDatagram+1))
	require.True(t, errors.Is(err, ErrDatagramTooLarge))
	require.True(t, errors.Is(err, channel.ErrFailed))
}

func TestUDPCloseReleasesReceiver(t *testing.T) {
	testlog.Start(t)
	a, _ := udpPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := a.Receive(ctx)
		done <- err
	}()
	require.NoError(t, a.Close())
	require.True(t, channel.IsClosed(<-done))
	require.True(t, channel.IsClosed(a.Send(ctx, []byte("late"))))
}

func TestUDPCarriesOrderedStack(t *testing.T) {
	testlog.Start(t)
	a, b := udpPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := stack.Config{Name: "udp.stack", RetryInterval: 20 * time.Millisecond}
	left, err := stack.Build(a, cfg, stack.LayerReliable, stack.LayerOrdered)
	require.NoError(t, err)
	right, err := stack.Build(b, cfg, stack.LayerReliable, stack.LayerOrdered)
	require.NoError(t, err)
	defer left.Close()
	defer right.Close()

	const total = 50
	for i := range total {
		require.NoError(t, left.Send(ctx, []byte(fmt.Sprintf("u%d", i))))
	}
	for i := range total {
		got, err := right.Receive(ctx)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("u%d", i), string(got))
	}
}
