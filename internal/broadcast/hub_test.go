package broadcast

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/livewatch/internal/adapter/metrics"
	"github.com/pscheid92/livewatch/internal/domain"
)

func newTestConnPair(t *testing.T) (server *ws.Conn, client *ws.Conn) {
	t.Helper()
	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	ready := make(chan *ws.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		ready <- conn
	}))
	t.Cleanup(func() { srv.Close() })

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	serverConn := <-ready
	t.Cleanup(func() { serverConn.Close() })

	return serverConn, clientConn
}

func newTestHub(t *testing.T, maxClients int, m *metrics.WebSocketMetrics) *Hub {
	t.Helper()
	hub := NewHub(clockwork.NewRealClock(), maxClients, m)
	t.Cleanup(hub.Stop)
	return hub
}

func readFrame(t *testing.T, conn *ws.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var f Frame
	require.NoError(t, json.Unmarshal(msg, &f))
	return f
}

func snapshotWith(revision uint64, login string, live bool) domain.Snapshot {
	return domain.NewSnapshot(revision, map[string]domain.ChannelRecord{
		login: {ChannelID: "42", DisplayName: "Alice", IsLive: live},
	})
}

func TestHub_RegisterReceivesCurrentSnapshotFirst(t *testing.T) {
	hub := newTestHub(t, 0, nil)
	hub.Broadcast(snapshotWith(1, "alice", true))

	server, client := newTestConnPair(t)
	_, err := hub.Register(server)
	require.NoError(t, err)

	f := readFrame(t, client)
	assert.Equal(t, "full_update", f.Type)
	require.Contains(t, f.Channels, "alice")
	assert.True(t, f.Channels["alice"].IsLive)
}

func TestHub_RegisterBeforeAnyBroadcastGetsEmptyRegistry(t *testing.T) {
	hub := newTestHub(t, 0, nil)

	server, client := newTestConnPair(t)
	_, err := hub.Register(server)
	require.NoError(t, err)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"full_update","channels":{}}`, string(msg))
}

func TestHub_BroadcastReachesAllClients(t *testing.T) {
	hub := newTestHub(t, 0, nil)

	var clients []*ws.Conn
	for range 3 {
		server, client := newTestConnPair(t)
		_, err := hub.Register(server)
		require.NoError(t, err)
		clients = append(clients, client)
	}
	for _, c := range clients {
		readFrame(t, c) // initial
	}

	hub.Broadcast(snapshotWith(2, "alice", false))

	for _, c := range clients {
		f := readFrame(t, c)
		assert.False(t, f.Channels["alice"].IsLive)
	}
	assert.Equal(t, 3, hub.ClientCount())
}

func TestHub_FramesArriveInCommitOrder(t *testing.T) {
	hub := newTestHub(t, 0, nil)
	server, client := newTestConnPair(t)
	_, err := hub.Register(server)
	require.NoError(t, err)
	readFrame(t, client)

	for rev := uint64(1); rev <= 5; rev++ {
		hub.Broadcast(snapshotWith(rev, "alice", rev%2 == 1))
	}
	for rev := uint64(1); rev <= 5; rev++ {
		f := readFrame(t, client)
		assert.Equal(t, rev%2 == 1, f.Channels["alice"].IsLive, "revision %d", rev)
	}
}

func TestHub_StaleSnapshotIgnored(t *testing.T) {
	hub := newTestHub(t, 0, nil)
	hub.Broadcast(snapshotWith(5, "alice", true))
	hub.Broadcast(snapshotWith(3, "alice", false))

	server, client := newTestConnPair(t)
	_, err := hub.Register(server)
	require.NoError(t, err)

	f := readFrame(t, client)
	assert.True(t, f.Channels["alice"].IsLive)
}

func TestHub_UnregisterClosesConnection(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWebSocketMetrics(reg)
	hub := newTestHub(t, 0, m)

	server, client := newTestConnPair(t)
	id, err := hub.Register(server)
	require.NoError(t, err)
	readFrame(t, client)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveConnections))

	hub.Unregister(id)
	hub.Unregister(id)
	hub.Unregister(uuid.New())

	assert.Equal(t, 0, hub.ClientCount())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveConnections))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = client.ReadMessage()
	assert.Error(t, err)
}

func TestHub_MaxClients(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWebSocketMetrics(reg)
	hub := newTestHub(t, 1, m)

	first, _ := newTestConnPair(t)
	_, err := hub.Register(first)
	require.NoError(t, err)

	second, _ := newTestConnPair(t)
	_, err = hub.Register(second)
	assert.ErrorIs(t, err, ErrTooManyClients)

	assert.Equal(t, 1, hub.ClientCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsRejected))
}

func TestHub_SlowClientIsEvicted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWebSocketMetrics(reg)
	hub := newTestHub(t, 0, m)

	// The client never reads, so its writer eventually blocks on the socket
	// and the send buffer fills up.
	server, _ := newTestConnPair(t)
	_, err := hub.Register(server)
	require.NoError(t, err)

	big := map[string]domain.ChannelRecord{}
	for range 2000 {
		big[uuid.NewString()] = domain.ChannelRecord{Title: strings.Repeat("x", 256)}
	}

	require.Eventually(t, func() bool {
		hub.Broadcast(domain.NewSnapshot(1, big))
		return hub.ClientCount() == 0
	}, 10*time.Second, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SlowClientsEvicted))
}

func TestHub_StopSendsCloseFrame(t *testing.T) {
	hub := NewHub(clockwork.NewRealClock(), 0, nil)

	server, client := newTestConnPair(t)
	_, err := hub.Register(server)
	require.NoError(t, err)
	readFrame(t, client)

	hub.Stop()
	hub.Stop()

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = client.ReadMessage()
	var closeErr *ws.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, ws.CloseNormalClosure, closeErr.Code)
	assert.Contains(t, closeErr.Text, "shutting down")
}

func TestHub_OperationsAfterStop(t *testing.T) {
	hub := NewHub(clockwork.NewRealClock(), 0, nil)
	hub.Stop()

	server, _ := newTestConnPair(t)
	_, err := hub.Register(server)
	assert.ErrorIs(t, err, ErrHubStopped)

	assert.NotPanics(t, func() { hub.Broadcast(snapshotWith(1, "alice", true)) })
	assert.Equal(t, 0, hub.ClientCount())
}

func TestEncodeFrame(t *testing.T) {
	data, err := EncodeFrame(domain.NewSnapshot(1, map[string]domain.ChannelRecord{
		"alice": {ChannelID: "42", DisplayName: "Alice", Title: "Hi"},
	}))
	require.NoError(t, err)

	assert.JSONEq(t, `{"type":"full_update","channels":{"alice":{"channel_id":"42","display_name":"Alice","is_live":false,"title":"Hi","category_id":"","category_name":""}}}`, string(data))
}
