package liveserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"simtrader/pkg/logging"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsFixture struct {
	hub    *Hub
	server *Server
	srv    *httptest.Server
	url    string
}

func newWSFixture(t *testing.T, origins []string) *wsFixture {
	t.Helper()

	hub := NewHub(logging.NopLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := NewServer(hub, logging.NopLogger{}, origins)
	srv := httptest.NewServer(http.HandlerFunc(server.handleWebSocket))

	f := &wsFixture{
		hub:    hub,
		server: server,
		srv:    srv,
		url:    "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return f
}

func (f *wsFixture) dial(t *testing.T, origin string) *websocket.Conn {
	t.Helper()

	header := http.Header{}
	header.Set("Origin", origin)
	conn, _, err := websocket.DefaultDialer.Dial(f.url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServerUpgradeAndBroadcast(t *testing.T) {
	f := newWSFixture(t, []string{"*"})
	conn := f.dial(t, "http://localhost")

	require.Eventually(t, func() bool { return f.hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	f.server.BroadcastMessage(TypeAccount, map[string]string{"cash": "1000000"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, TypeAccount, msg.Type)

	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "1000000", data["cash"])
}

func TestServerBroadcastToMultipleClients(t *testing.T) {
	f := newWSFixture(t, []string{"*"})
	conn1 := f.dial(t, "http://localhost")
	conn2 := f.dial(t, "http://localhost")

	require.Eventually(t, func() bool { return f.hub.ClientCount() == 2 },
		time.Second, 10*time.Millisecond)

	f.server.BroadcastMessage(TypeBenchmark, map[string]float64{"returns": 0.0123})

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, TypeBenchmark, msg.Type)
	}
}

func TestServerClientDisconnectUnregisters(t *testing.T) {
	f := newWSFixture(t, []string{"*"})
	conn := f.dial(t, "http://localhost")

	require.Eventually(t, func() bool { return f.hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	conn.Close()

	assert.Eventually(t, func() bool { return f.hub.ClientCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestServerRejectsMissingOrigin(t *testing.T) {
	f := newWSFixture(t, []string{"*"})

	_, resp, err := websocket.DefaultDialer.Dial(f.url, nil)
	assert.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
}

func TestServerRejectsUnlistedOrigin(t *testing.T) {
	f := newWSFixture(t, []string{"http://dashboard.local"})

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(f.url, header)
	assert.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
}

func TestServerAcceptsWhitelistedOrigin(t *testing.T) {
	f := newWSFixture(t, []string{"http://dashboard.local"})
	f.dial(t, "http://dashboard.local")

	assert.Eventually(t, func() bool { return f.hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)
}

func TestServerHealthEndpoint(t *testing.T) {
	hub := NewHub(logging.NopLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := NewServer(hub, logging.NopLogger{}, []string{"*"})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.handleHealth(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["clients"])
}

func TestServerStartAndStop(t *testing.T) {
	hub := NewHub(logging.NopLogger{})
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go hub.Run(hubCtx)

	server := NewServer(hub, logging.NopLogger{}, []string{"*"})
	assert.False(t, server.IsRunning())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Start(ctx, "127.0.0.1:0")
	}()

	assert.Eventually(t, func() bool { return server.IsRunning() },
		time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServerStopWithoutStart(t *testing.T) {
	hub := NewHub(logging.NopLogger{})
	server := NewServer(hub, logging.NopLogger{}, []string{"*"})
	assert.NoError(t, server.Stop(context.Background()))
}
