package apihttp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"remotestream/internal/domain"
)

// ---- helpers ----

// startTestHub runs a hub in the background and stops it when the test ends.
// Fake clients have no conn; the hub skips the close frame for them.
func startTestHub(t *testing.T) *wsHub {
	t.Helper()
	hub := newWSHub(slog.Default())
	go hub.run()
	t.Cleanup(hub.Close)
	return hub
}

func fakeClient(hub *wsHub, buffer int) *wsClient {
	return &wsClient{hub: hub, send: make(chan []byte, buffer)}
}

func waitForClients(t *testing.T, hub *wsHub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.clientCount() == n },
		time.Second, 5*time.Millisecond, "expected %d clients", n)
}

// dialWS upgrades an httptest.Server to a WebSocket connection.
func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWSMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) wsMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg wsMessage
	require.NoError(t, json.Unmarshal(data, &msg), "raw: %s", data)
	return msg
}

func receive(t *testing.T, c *wsClient) wsMessage {
	t.Helper()
	select {
	case data := <-c.send:
		var msg wsMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return wsMessage{}
	}
}

// ---- wsHub unit tests ----

func TestWSHub_RegisterUnregister(t *testing.T) {
	hub := startTestHub(t)

	clients := []*wsClient{fakeClient(hub, 8), fakeClient(hub, 8), fakeClient(hub, 8)}
	for _, c := range clients {
		hub.register <- c
	}
	waitForClients(t, hub, 3)

	hub.unregister <- clients[0]
	waitForClients(t, hub, 2)

	// Unknown clients are ignored.
	hub.unregister <- fakeClient(hub, 1)
	waitForClients(t, hub, 2)
}

func TestWSHub_BroadcastReachesAllClients(t *testing.T) {
	hub := startTestHub(t)

	c1, c2 := fakeClient(hub, 8), fakeClient(hub, 8)
	hub.register <- c1
	hub.register <- c2
	waitForClients(t, hub, 2)

	hub.Broadcast("source", domain.SourceRecord{ID: "s1", Status: domain.SourceChanged})

	for _, c := range []*wsClient{c1, c2} {
		msg := receive(t, c)
		require.Equal(t, "source", msg.Type)
		data, ok := msg.Data.(map[string]interface{})
		require.True(t, ok, "data is %T", msg.Data)
		require.Equal(t, "s1", data["id"])
		require.Equal(t, "changed", data["status"])
	}
}

func TestWSHub_BroadcastDropsSlowClient(t *testing.T) {
	hub := startTestHub(t)

	slow := fakeClient(hub, 1)
	hub.register <- slow
	waitForClients(t, hub, 1)

	slow.send <- []byte("fill")
	hub.Broadcast("source", map[string]string{"id": "x"})

	waitForClients(t, hub, 0)
}

func TestWSHub_BroadcastWithoutClientsIsNoop(t *testing.T) {
	hub := startTestHub(t)

	hub.Broadcast("source", map[string]string{"id": "x"})
	require.Empty(t, hub.broadcast)
}

func TestWSHub_BroadcastMarshalFailure(t *testing.T) {
	hub := startTestHub(t)

	client := fakeClient(hub, 8)
	hub.register <- client
	waitForClients(t, hub, 1)

	hub.Broadcast("bad", make(chan int))

	select {
	case <-client.send:
		t.Fatal("should not receive message when marshal fails")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWSHub_CloseIsIdempotent(t *testing.T) {
	hub := newWSHub(slog.Default())
	go hub.run()

	client := fakeClient(hub, 1)
	hub.register <- client
	waitForClients(t, hub, 1)

	hub.Close()
	hub.Close()
	waitForClients(t, hub, 0)

	_, open := <-client.send
	require.False(t, open, "client channel should be closed")
}

// ---- WebSocket HTTP handler integration tests ----

func TestWS_RegisterSourceBroadcasts(t *testing.T) {
	uc := &fakeRegisterSource{result: domain.SourceRecord{ID: "s1", Name: "Sintel", Status: domain.SourceReady}}
	s := NewServer(uc)
	defer s.Close()
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn := dialWS(t, srv)
	waitForClients(t, s.wsHub, 1)

	resp, err := http.Post(srv.URL+"/sources", "application/json", strings.NewReader(`{"url":"https://x/y.mp4"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	msg := readWSMessage(t, conn, time.Second)
	require.Equal(t, "source", msg.Type)
}

func TestWS_DeleteSourceBroadcasts(t *testing.T) {
	s := NewServer(&fakeRegisterSource{}, WithDeleteSource(&fakeDeleteSource{}))
	defer s.Close()
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn := dialWS(t, srv)
	waitForClients(t, s.wsHub, 1)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/sources/s1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	msg := readWSMessage(t, conn, time.Second)
	require.Equal(t, "source_deleted", msg.Type)
	require.Equal(t, map[string]interface{}{"id": "s1"}, msg.Data)
}

func TestWS_ServerCloseDisconnectsClients(t *testing.T) {
	s := NewServer(&fakeRegisterSource{})
	srv := httptest.NewServer(s)
	defer srv.Close()

	c1 := dialWS(t, srv)
	c2 := dialWS(t, srv)
	waitForClients(t, s.wsHub, 2)

	s.Close()

	for _, c := range []*websocket.Conn{c1, c2} {
		_ = c.SetReadDeadline(time.Now().Add(time.Second))
		_, _, err := c.ReadMessage()
		require.Error(t, err, "expected error after hub close")
	}
}
