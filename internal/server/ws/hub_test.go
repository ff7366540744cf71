package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/treasurechest/internal/cache/memory"
	"github.com/alanyoungcy/treasurechest/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHubHelloAndRelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := memory.NewSignalBus()
	hub := NewHub(bus, Config{
		Mode:     "full",
		Snapshot: func() any { return map[string]string{"phase": "Idle"} },
	}, testLogger())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	conn := dial(t, srv)

	hello := readEnvelope(t, conn)
	require.Equal(t, "hello", hello.Channel)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(hello.Data, &payload))
	require.Equal(t, "full", payload["mode"])
	require.Equal(t, "Idle", payload["session"].(map[string]any)["phase"])

	// The hub subscribes asynchronously, so keep publishing until relayed.
	done := make(chan struct{})
	defer close(done)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				_ = bus.Publish(ctx, domain.ChannelSession, []byte("not json"))
				_ = bus.Publish(ctx, domain.ChannelSession, []byte(`{"phase":"Cooldown"}`))
			}
		}
	}()

	env := readEnvelope(t, conn)
	require.Equal(t, domain.ChannelSession, env.Channel)
	require.JSONEq(t, `{"phase":"Cooldown"}`, string(env.Data))
}

func TestClientSubscription(t *testing.T) {
	c := &client{subs: map[string]bool{domain.ChannelPrice: true, domain.ChannelSession: true}}

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelPrice}})
	require.False(t, c.isSubscribed(domain.ChannelPrice))
	require.True(t, c.isSubscribed(domain.ChannelSession))

	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{domain.ChannelPrice}})
	require.True(t, c.isSubscribed(domain.ChannelPrice))

	c.handleSubscription(subscribeMsg{Action: "bogus", Channels: []string{domain.ChannelSession}})
	require.True(t, c.isSubscribed(domain.ChannelSession))
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://localhost:5173"})

	r := httptest.NewRequest(http.MethodGet, "http://api.local/ws", nil)
	require.True(t, check(r))

	r.Header.Set("Origin", "http://localhost:5173")
	require.True(t, check(r))

	r.Header.Set("Origin", "http://api.local")
	require.True(t, check(r))

	r.Header.Set("Origin", "http://evil.example")
	require.False(t, check(r))

	require.True(t, originChecker([]string{"*"})(r))
}
