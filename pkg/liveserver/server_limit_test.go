package liveserver

import (
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerConnectionLimit(t *testing.T) {
	f := newWSFixture(t, []string{"*"})
	f.server.SetMaxConnections(2)

	f.dial(t, "http://localhost")
	f.dial(t, "http://localhost")
	require.Eventually(t, func() bool { return f.hub.ClientCount() == 2 },
		time.Second, 10*time.Millisecond)

	header := http.Header{}
	header.Set("Origin", "http://localhost")
	conn, resp, err := websocket.DefaultDialer.Dial(f.url, header)
	assert.Error(t, err)
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServerIPRateLimit(t *testing.T) {
	f := newWSFixture(t, []string{"*"})
	f.server.SetRateLimit(1.0, 1)

	f.dial(t, "http://localhost")

	// Burst of one, so the second dial from the same IP is throttled
	header := http.Header{}
	header.Set("Origin", "http://localhost")
	conn, resp, err := websocket.DefaultDialer.Dial(f.url, header)
	assert.Error(t, err)
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestServerProductionRejectsWildcardOrigin(t *testing.T) {
	f := newWSFixture(t, []string{"*"})
	f.server.SetProduction(true)

	header := http.Header{}
	header.Set("Origin", "http://anywhere.example")
	_, resp, err := websocket.DefaultDialer.Dial(f.url, header)
	assert.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
