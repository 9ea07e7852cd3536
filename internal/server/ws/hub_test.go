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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amadeodlp/cryptara/internal/domain"
	"github.com/amadeodlp/cryptara/internal/server/middleware"
	"github.com/amadeodlp/cryptara/internal/store/memory"
)

// asUser stands in for the JWT middleware: the user id comes from a query
// parameter.
func asUser(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.URL.Query().Get("user"); id != "" {
			r = r.WithContext(middleware.WithUserID(r.Context(), id))
		}
		next(w, r)
	})
}

func startHub(t *testing.T) (*Hub, *memory.SignalBus, *httptest.Server) {
	t.Helper()
	bus := memory.NewSignalBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "Server"})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(asUser(hub.HandleWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, bus, srv
}

func dial(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.clientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHandleWSRequiresUser(t *testing.T) {
	_, _, srv := startHub(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestInitialStatus(t *testing.T) {
	_, _, srv := startHub(t)
	conn := dial(t, srv, "alice")

	msg := readJSON(t, conn)
	assert.Equal(t, "status", msg["type"])
	payload := msg["payload"].(map[string]any)
	assert.Equal(t, "server", payload["mode"])
	assert.Equal(t, "alice", payload["user_id"])
}

func TestUserEventsReachOnlyTheirOwner(t *testing.T) {
	hub, bus, srv := startHub(t)
	alice := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")
	readJSON(t, alice)
	readJSON(t, bob)
	waitClients(t, hub, 2)

	// Give the hub's bus subscriptions time to attach.
	time.Sleep(50 * time.Millisecond)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, domain.StakingChannel, []byte(`{"type":"stake","user_id":"alice","position_id":"p1"}`)))
	require.NoError(t, bus.Publish(ctx, domain.PricesChannel, []byte(`{"event":"price_update","symbol":"ETH"}`)))

	// Channels are forwarded independently, so arrival order is not fixed.
	var got []string
	for range 2 {
		msg := readJSON(t, alice)
		if v, ok := msg["type"].(string); ok {
			got = append(got, v)
		}
		if v, ok := msg["event"].(string); ok {
			got = append(got, v)
		}
	}
	assert.ElementsMatch(t, []string{"stake", "price_update"}, got)

	msg := readJSON(t, bob)
	assert.Equal(t, "price_update", msg["event"], "bob only sees the public price event")
}

func TestUnsubscribe(t *testing.T) {
	hub, bus, srv := startHub(t)
	conn := dial(t, srv, "alice")
	readJSON(t, conn)
	waitClients(t, hub, 1)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.PricesChannel, "orders"}}))
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			if c.wants(broadcastMsg{channel: domain.PricesChannel}) {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, domain.PricesChannel, []byte(`{"event":"price_update"}`)))
	require.NoError(t, bus.Publish(ctx, domain.NotificationsChannel, []byte(`{"event":"notification","user_id":"alice"}`)))

	msg := readJSON(t, conn)
	assert.Equal(t, "notification", msg["event"])
}

func TestCheckOrigin(t *testing.T) {
	check := checkOrigin([]string{"https://app.cryptara.io"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(req), "no Origin header")

	req.Header.Set("Origin", "https://app.cryptara.io")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))
}

func TestAddressee(t *testing.T) {
	assert.Equal(t, "alice", addressee([]byte(`{"user_id":"alice"}`)))
	assert.Empty(t, addressee([]byte(`not json`)))
}
