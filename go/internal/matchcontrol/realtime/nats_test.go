package realtime

import (
	"context"
	"testing"
	"time"

	natstest "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runNATSServer(t *testing.T, token string) string {
	t.Helper()
	opts := natstest.DefaultTestOptions
	opts.Port = -1
	opts.Authorization = token
	s := natstest.RunServer(&opts)
	t.Cleanup(s.Shutdown)
	return s.ClientURL()
}

func dialNATS(t *testing.T, cfg NATSConfig) Conn {
	t.Helper()
	transport, err := NewNATSTransport(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := transport.Dial(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func publisher(t *testing.T, url string, opts ...nats.Option) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(url, opts...)
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func nextMessage(t *testing.T, sub Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		require.True(t, ok, "messages channel closed")
		return msg
	case <-time.After(waitFor):
		t.Fatal("no message")
	}
	return Message{}
}

func TestNewNATSTransportRequiresURL(t *testing.T) {
	_, err := NewNATSTransport(NATSConfig{})
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestNATSSubscribeAndReceive(t *testing.T) {
	url := runNATSServer(t, "")
	conn := dialNATS(t, NATSConfig{URL: url})

	sub, err := conn.Subscribe(context.Background(), ChannelName("42"))
	require.NoError(t, err)
	assert.Equal(t, "matches.42", sub.Channel())

	pub := publisher(t, url)
	require.NoError(t, pub.Publish("matches.7.MatchEventCreated", []byte(`{"id":"other"}`)))
	require.NoError(t, pub.Publish("matches.42.MatchTimeUpdated", []byte(`{"match_id":"42","current_seconds":61}`)))
	require.NoError(t, pub.Publish("matches.42.MatchEventCreated", []byte(`{"id":"e-1"}`)))
	require.NoError(t, pub.Flush())

	msg := nextMessage(t, sub)
	assert.Equal(t, "matches.42", msg.Channel)
	assert.Equal(t, EventClockUpdated, msg.Event)
	assert.JSONEq(t, `{"match_id":"42","current_seconds":61}`, string(msg.Data))

	msg = nextMessage(t, sub)
	assert.Equal(t, EventCreated, msg.Event)
	assert.JSONEq(t, `{"id":"e-1"}`, string(msg.Data))

	select {
	case msg := <-sub.Messages():
		t.Fatalf("unexpected message %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNATSLeaveUnsubscribes(t *testing.T) {
	url := runNATSServer(t, "")
	conn := dialNATS(t, NATSConfig{URL: url})

	sub, err := conn.Subscribe(context.Background(), ChannelName("42"))
	require.NoError(t, err)
	nc := conn.(*natsConn).nc
	assert.Equal(t, 1, nc.NumSubscriptions())

	require.NoError(t, sub.Leave())
	_, open := <-sub.Messages()
	assert.False(t, open)
	assert.Equal(t, 0, nc.NumSubscriptions())

	pub := publisher(t, url)
	require.NoError(t, pub.Publish("matches.42.MatchEventCreated", []byte(`{"id":"late"}`)))
	require.NoError(t, pub.Flush())
	require.NoError(t, sub.Leave())
}

func TestNATSCloseEndsSubscriptions(t *testing.T) {
	url := runNATSServer(t, "")
	conn := dialNATS(t, NATSConfig{URL: url})

	sub, err := conn.Subscribe(context.Background(), ChannelName("42"))
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	select {
	case <-conn.Done():
	case <-time.After(waitFor):
		t.Fatal("Done not closed after Close")
	}
	assert.Eventually(t, func() bool {
		select {
		case _, open := <-sub.Messages():
			return !open
		default:
			return false
		}
	}, waitFor, 5*time.Millisecond)

	_, err = conn.Subscribe(context.Background(), ChannelName("7"))
	assert.Error(t, err)
}

func TestNATSSubscribeHonorsContext(t *testing.T) {
	url := runNATSServer(t, "")
	conn := dialNATS(t, NATSConfig{URL: url})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := conn.Subscribe(ctx, ChannelName("42"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNATSToken(t *testing.T) {
	url := runNATSServer(t, "s3cret")

	transport, err := NewNATSTransport(NATSConfig{URL: url})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = transport.Dial(ctx)
	assert.Error(t, err)

	conn := dialNATS(t, NATSConfig{URL: url, Token: "s3cret"})
	sub, err := conn.Subscribe(context.Background(), ChannelName("42"))
	require.NoError(t, err)

	pub := publisher(t, url, nats.Token("s3cret"))
	require.NoError(t, pub.Publish("matches.42.MatchTimeUpdated", []byte(`{}`)))
	assert.Equal(t, EventClockUpdated, nextMessage(t, sub).Event)
}
