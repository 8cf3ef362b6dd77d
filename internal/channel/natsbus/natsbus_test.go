package natsbus

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/danmuck/courier/internal/channel"
	"github.com/danmuck/courier/internal/stack"
	"github.com/danmuck/courier/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

const natsURLEnv = "COURIER_TEST_NATS_URL"

func natsPair(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	url := os.Getenv(natsURLEnv)
	if url == "" {
		t.Skipf("%s not set", natsURLEnv)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	subject := "courier.test." + time.Now().Format("150405.000000000")
	a, err := Connect(ctx, Options{URL: url, Name: "a", Outbound: subject + ".ab", Inbound: subject + ".ba"})
	require.NoError(t, err)
	b, err := Connect(ctx, Options{URL: url, Name: "b", Outbound: subject + ".ba", Inbound: subject + ".ab"})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func TestOptionsValidate(t *testing.T) {
	testlog.Start(t)
	cases := []Options{
		{},
		{Outbound: "x"},
		{Outbound: "x", Inbound: "x"},
	}
	for _, opts := range cases {
		_, err := Connect(context.Background(), opts)
		require.True(t, errors.Is(err, ErrInvalidOptions), "opts=%+v err=%v", opts, err)
	}
}

func TestNATSExchangesMessages(t *testing.T) {
	testlog.Start(t)
	a, b := natsPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, a.Send(ctx, []byte("over nats")))
	require.NoError(t, a.Flush(ctx))
	got, err := b.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "over nats", string(got))

	require.NoError(t, b.Close())
	_, err = b.Receive(ctx)
	require.True(t, channel.IsClosed(err))
	require.True(t, channel.IsClosed(b.Send(ctx, []byte("late"))))
}

func TestNATSCarriesOrderedStack(t *testing.T) {
	testlog.Start(t)
	a, b := natsPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := stack.Config{Name: "nats.stack", RetryInterval: 50 * time.Millisecond}
	left, err := stack.Build(a, cfg, stack.LayerReliable, stack.LayerOrdered)
	require.NoError(t, err)
	right, err := stack.Build(b, cfg, stack.LayerReliable, stack.LayerOrdered)
	require.NoError(t, err)
	defer left.Close()
	defer right.Close()

	for _, msg := range []string{"a", "b", "c"} {
		require.NoError(t, left.Send(ctx, []byte(msg)))
	}
	for _, want := range []string{"a", "b", "c"} {
		got, err := right.Receive(ctx)
		require.NoError(t, err)
		require.Equal(t, want, string(got))
	}
}
