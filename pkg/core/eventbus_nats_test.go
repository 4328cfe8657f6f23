package core

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runNATSServer(t *testing.T) *server.Server {
	t.Helper()
	s, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go s.Start()
	if !s.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(s.Shutdown)
	return s
}

func newTestClusterBus(t *testing.T, url string) EventBus {
	t.Helper()
	eb, err := NewClusterEventBus(context.Background(), ClusterConfig{URL: url, Prefix: "test", Service: "unit"}, NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = eb.Close() })
	return eb
}

func TestClusterEventBus_SendAndDecode(t *testing.T) {
	s := runNATSServer(t)
	eb := newTestClusterBus(t, s.ClientURL())

	received := make(chan map[string]interface{}, 1)
	eb.Consumer("block.sink.input").Handler(func(ctx context.Context, msg Message) error {
		var body map[string]interface{}
		if err := msg.DecodeBody(&body); err != nil {
			return err
		}
		received <- body
		return nil
	})

	require.NoError(t, eb.Send("block.sink.input", map[string]interface{}{"value": 42}))

	select {
	case body := <-received:
		assert.Equal(t, float64(42), body["value"])
	case <-time.After(2 * time.Second):
		t.Fatal("message not received over nats")
	}
}

func TestClusterEventBus_Request(t *testing.T) {
	s := runNATSServer(t)
	eb := newTestClusterBus(t, s.ClientURL())

	eb.Consumer("echo").Handler(func(ctx context.Context, msg Message) error {
		var in string
		if err := msg.DecodeBody(&in); err != nil {
			return err
		}
		return msg.Reply("re:" + in)
	})

	reply, err := eb.Request("echo", "ping", time.Second)
	require.NoError(t, err)

	var out string
	require.NoError(t, reply.DecodeBody(&out))
	assert.Equal(t, "re:ping", out)
}

func TestClusterEventBus_RequestNoHandlers(t *testing.T) {
	s := runNATSServer(t)
	eb := newTestClusterBus(t, s.ClientURL())

	_, err := eb.Request("nobody", "ping", 500*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoHandlers)
}

func TestClusterEventBus_RejectsEmptyURL(t *testing.T) {
	_, err := NewClusterEventBus(context.Background(), ClusterConfig{}, nil)
	require.Error(t, err)
}

func TestClusterEventBus_ClosedBus(t *testing.T) {
	s := runNATSServer(t)
	eb, err := NewClusterEventBus(context.Background(), ClusterConfig{URL: s.ClientURL()}, nil)
	require.NoError(t, err)
	require.NoError(t, eb.Close())
	assert.ErrorIs(t, eb.Publish("a", "b"), ErrBusClosed)
}
