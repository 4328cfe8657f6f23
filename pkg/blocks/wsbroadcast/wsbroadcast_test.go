package wsbroadcast

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/fluxorio/blockflow/pkg/block"
	"github.com/fluxorio/blockflow/pkg/block/blocktest"
	"github.com/fluxorio/blockflow/pkg/core"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func started(t *testing.T) (*Broadcaster, *blocktest.Recorder) {
	t.Helper()
	rec := blocktest.NewRecorder()
	b := New()
	require.NoError(t, block.Configure(b, rec.Context("ws", Schema, map[string]interface{}{PropAddr: "127.0.0.1:0"})))
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Stop(context.Background()) })
	return b.(*Broadcaster), rec
}

func dial(t *testing.T, b *Broadcaster) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+b.Addr()+"/signals", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestBroadcaster_StreamsBatches(t *testing.T) {
	b, rec := started(t)
	first, second := dial(t, b), dial(t, b)
	require.Eventually(t, func() bool { return b.Clients() == 2 }, 2*time.Second, 10*time.Millisecond)

	signals := blocktest.Signals(2)
	require.NoError(t, b.ProcessSignals(signals, core.DefaultTerminal))

	for _, conn := range []*websocket.Conn{first, second} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		kind, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, kind)
		var batch []map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &batch))
		assert.Equal(t, []map[string]interface{}{{"index": float64(0)}, {"index": float64(1)}}, batch)
	}

	calls := rec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, signals, calls[0].Signals)
}

func TestBroadcaster_ForwardsWithoutClients(t *testing.T) {
	b, rec := started(t)
	require.NoError(t, b.ProcessSignals(blocktest.Signals(1), core.DefaultTerminal))
	assert.Len(t, rec.Calls(), 1)
}

func TestBroadcaster_ClientDisconnect(t *testing.T) {
	b, _ := started(t)
	conn := dial(t, b)
	require.Eventually(t, func() bool { return b.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return b.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcaster_StopClosesClients(t *testing.T) {
	b, _ := started(t)
	conn := dial(t, b)
	require.Eventually(t, func() bool { return b.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, b.Stop(context.Background()))
	assert.Equal(t, 0, b.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestBroadcaster_InvalidBuffer(t *testing.T) {
	err := block.Configure(New(), blocktest.NewRecorder().Context("ws", Schema, map[string]interface{}{PropBuffer: 0}))
	assert.ErrorIs(t, err, core.ErrInvalidProperty)
}
