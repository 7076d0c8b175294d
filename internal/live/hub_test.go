package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/vibehub/internal/events"
	"github.com/sakif/vibehub/internal/logging"
	"github.com/sakif/vibehub/internal/metrics"
	"github.com/sakif/vibehub/internal/model"
)

// testHub serves a websocket endpoint that registers every connection with
// the hub and unregisters it when the read loop ends.
func testHub(t *testing.T, initial []byte) (*Hub, *metrics.LiveMetrics, func() *ws.Conn) {
	t.Helper()

	m := metrics.NewLiveMetrics(prometheus.NewRegistry())
	hub := NewHub(nil, logging.Discard(), m)
	t.Cleanup(hub.Stop)

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if err := hub.Register(conn, initial); err != nil {
			conn.Close()
			return
		}
		go func() {
			defer hub.Unregister(conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(server.Close)

	dial := func() *ws.Conn {
		t.Helper()
		url := "ws" + strings.TrimPrefix(server.URL, "http")
		conn, _, err := ws.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return conn
	}
	return hub, m, dial
}

func waitForClients(hub *Hub, want int) bool {
	for range 200 {
		if hub.ClientCount() == want {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func readMessage(t *testing.T, conn *ws.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_InitialMessageAndBroadcast(t *testing.T) {
	initial, err := Encode(Message{Kind: KindResonance, Data: model.NewResonance(0, 0)})
	require.NoError(t, err)
	hub, m, dial := testHub(t, initial)

	a := dial()
	b := dial()
	require.True(t, waitForClients(hub, 2))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Connections))

	for _, conn := range []*ws.Conn{a, b} {
		msg := readMessage(t, conn)
		assert.Equal(t, KindResonance, msg.Kind)
	}

	require.NoError(t, hub.PublishVoteCast(context.Background(), events.VoteCast{
		VibeID:    "v1",
		Resonance: model.NewResonance(3, 1),
	}))

	for _, conn := range []*ws.Conn{a, b} {
		msg := readMessage(t, conn)
		assert.Equal(t, KindResonance, msg.Kind)
		data := msg.Data.(map[string]any)
		assert.Equal(t, "fire", data["globalVibe"])
		assert.InDelta(t, 75.0, data["percent"], 0.001)
	}
}

func TestHub_ResonanceOutOfCommitOrderIsSkipped(t *testing.T) {
	hub, m, dial := testHub(t, nil)
	conn := dial()
	require.True(t, waitForClients(hub, 1))
	ctx := context.Background()

	// Vote 2 committed after vote 1 but published first.
	require.NoError(t, hub.PublishVoteCast(ctx, events.VoteCast{Seq: 2, Resonance: model.NewResonance(2, 1)}))
	require.NoError(t, hub.PublishVoteCast(ctx, events.VoteCast{Seq: 1, Resonance: model.NewResonance(1, 1)}))
	require.NoError(t, hub.PublishVibeDeleted(ctx, events.VibeDeleted{Seq: 3, Resonance: model.NewResonance(0, 1)}))

	first := readMessage(t, conn).Data.(map[string]any)
	assert.Equal(t, 2.0, first["boostTotal"])
	second := readMessage(t, conn).Data.(map[string]any)
	assert.Equal(t, 0.0, second["boostTotal"])
	assert.Equal(t, "ice", second["globalVibe"])
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Broadcasts))
}

func TestHub_PrivateVibesAreNotBroadcast(t *testing.T) {
	hub, m, dial := testHub(t, nil)
	conn := dial()
	require.True(t, waitForClients(hub, 1))

	require.NoError(t, hub.PublishVibeCreated(context.Background(), events.VibeCreated{
		VibeID: "secret", Visibility: model.VisibilityPrivate,
	}))
	require.NoError(t, hub.PublishVibeCreated(context.Background(), events.VibeCreated{
		VibeID: "open", Visibility: model.VisibilityPublic,
	}))

	msg := readMessage(t, conn)
	assert.Equal(t, KindVibeCreated, msg.Kind)
	assert.Equal(t, "open", msg.Data.(map[string]any)["vibeId"])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Broadcasts))
}

func TestHub_UnregisterOnDisconnect(t *testing.T) {
	hub, m, dial := testHub(t, nil)

	conn := dial()
	require.True(t, waitForClients(hub, 1))

	conn.Close()
	require.True(t, waitForClients(hub, 0))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Connections))
}

func TestHub_StopClosesClients(t *testing.T) {
	hub, _, dial := testHub(t, nil)
	conn := dial()
	require.True(t, waitForClients(hub, 1))

	hub.Stop()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, ws.IsCloseError(err, ws.CloseNormalClosure), "got %v", err)

	assert.ErrorIs(t, hub.Broadcast(Message{Kind: KindResonance}), ErrHubStopped)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHub_StalledClientDoesNotBlockHub(t *testing.T) {
	hub, m, dial := testHub(t, nil)
	stalled := dial() // never reads
	require.True(t, waitForClients(hub, 1))

	// Large enough frames fill the socket buffers, so the writer stalls
	// mid-write and the send buffer overflows.
	payload := strings.Repeat("x", 1<<20)
	for range 64 {
		require.NoError(t, hub.Broadcast(Message{Kind: KindResonance, Data: payload}))
	}

	start := time.Now()
	assert.Equal(t, 0, hub.ClientCount())
	assert.Less(t, time.Since(start), time.Second, "hub stalled behind a slow client")
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.Dropped), 1.0)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Connections))

	// The dropped socket is closed outright, without a close handshake.
	require.NoError(t, stalled.SetReadDeadline(time.Now().Add(5*time.Second)))
	var err error
	for err == nil {
		_, _, err = stalled.ReadMessage()
	}
	assert.False(t, ws.IsCloseError(err, ws.CloseNormalClosure), "got %v", err)
}
