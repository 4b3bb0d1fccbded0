package alert

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"simtrader/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureChannel struct {
	mu   sync.Mutex
	name string
	sent []Payload
	err  error
}

func (c *captureChannel) Name() string { return c.name }

func (c *captureChannel) Send(_ context.Context, p Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, p)
	return c.err
}

func (c *captureChannel) payloads() []Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Payload(nil), c.sent...)
}

func TestNotifyFansOutToAllChannels(t *testing.T) {
	n := NewNotifier(logging.NopLogger{})
	ch1 := &captureChannel{name: "one"}
	ch2 := &captureChannel{name: "two"}
	n.AddChannel(ch1)
	n.AddChannel(ch2)

	n.Notify("Run finished", "3 trading days", Info, map[string]string{"strategy": "buy_and_hold"})
	n.Wait()

	require.Len(t, ch1.payloads(), 1)
	require.Len(t, ch2.payloads(), 1)

	p := ch1.payloads()[0]
	assert.Equal(t, Info, p.Level)
	assert.Equal(t, "Run finished", p.Title)
	assert.Equal(t, "buy_and_hold", p.Fields["strategy"])
}

func TestNotifyChannelFailureDoesNotPropagate(t *testing.T) {
	n := NewNotifier(logging.NopLogger{})
	failing := &captureChannel{name: "broken", err: assert.AnError}
	healthy := &captureChannel{name: "ok"}
	n.AddChannel(failing)
	n.AddChannel(healthy)

	n.Notify("Run interrupted", "stopped by signal", Warning, nil)
	n.Wait()

	assert.Len(t, healthy.payloads(), 1, "one broken channel must not block the rest")
}

func TestSlackChannelPostsAttachment(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL)
	err := ch.Send(context.Background(), Payload{
		Level:   Warning,
		Title:   "Run interrupted",
		Message: "stopped by signal",
	})
	require.NoError(t, err)

	attachments, ok := got["attachments"].([]any)
	require.True(t, ok)
	require.Len(t, attachments, 1)
	first := attachments[0].(map[string]any)
	assert.Equal(t, "[WARNING] Run interrupted", first["pretext"])
	assert.Equal(t, "#ffcc00", first["color"])
}

func TestSlackChannelNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewSlackChannel(srv.URL).Send(context.Background(), Payload{Title: "x"})
	assert.Error(t, err)
}

func TestSlackChannelUnconfiguredIsNoop(t *testing.T) {
	err := NewSlackChannel("").Send(context.Background(), Payload{Title: "x"})
	assert.NoError(t, err)
}

func TestTelegramChannelUnconfiguredIsNoop(t *testing.T) {
	err := NewTelegramChannel("", "").Send(context.Background(), Payload{Title: "x"})
	assert.NoError(t, err)
}
