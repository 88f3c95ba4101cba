package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/costsim/internal/domain"
)

var upgrader = websocket.Upgrader{}

// feedServer is a WebSocket endpoint that records the first client message
// and then streams the given payloads.
func feedServer(t *testing.T, payloads [][]byte, firstMessage chan<- []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if firstMessage != nil {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			firstMessage <- msg
		}
		for _, p := range payloads {
			if err := conn.WriteMessage(websocket.TextMessage, p); err != nil {
				return
			}
		}
		// Hold the connection open until the client closes it.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func bookMessage(t *testing.T) []byte {
	t.Helper()
	msg, err := json.Marshal(map[string]any{
		"exchange":  "okx",
		"symbol":    "BTC-USDT-SWAP",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"bids":      [][]string{{"100.5", "2"}, {"100.0", "1"}},
		"asks":      [][]string{{"101.0", "3"}},
	})
	require.NoError(t, err)
	return msg
}

func TestConnectAndReceive(t *testing.T) {
	sub := make(chan []byte, 1)
	srv := feedServer(t, [][]byte{bookMessage(t)}, sub)

	client := NewClient(wsURL(srv), Options{
		SubscribePayload: SubscribeCommand("BTC-USDT-SWAP"),
	}, slog.Default())

	snapshots := make(chan domain.OrderbookSnapshot, 1)
	client.OnSnapshot(func(snap domain.OrderbookSnapshot) { snapshots <- snap })

	var transitions []State
	client.OnStateChange(func(s State) { transitions = append(transitions, s) })

	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()
	assert.Equal(t, StateConnected, client.State())

	// The server saw the subscription payload first.
	select {
	case msg := <-sub:
		assert.JSONEq(t, string(SubscribeCommand("BTC-USDT-SWAP")), string(msg))
	case <-time.After(time.Second):
		t.Fatal("no subscribe payload received")
	}

	select {
	case snap := <-snapshots:
		assert.Equal(t, "BTC-USDT-SWAP", snap.Symbol)
		require.Len(t, snap.Bids, 2)
		assert.Equal(t, 100.5, snap.Bids[0].Price)
	case <-time.After(time.Second):
		t.Fatal("no snapshot dispatched")
	}

	require.Eventually(t, func() bool {
		return client.Stats().MessageCount == 1
	}, time.Second, 5*time.Millisecond)
	assert.Greater(t, client.Stats().BytesReceived, int64(0))
	assert.Contains(t, transitions, StateConnecting)
	assert.Contains(t, transitions, StateConnected)
}

func TestConnectRetriesInitialFailure(t *testing.T) {
	var connecting atomic.Int64
	client := NewClient("ws://127.0.0.1:1/ws", Options{
		ReconnectDelay:       time.Millisecond,
		MaxReconnectDelay:    2 * time.Millisecond,
		MaxReconnectAttempts: 2,
	}, slog.Default())
	client.OnStateChange(func(s State) {
		if s == StateConnecting {
			connecting.Add(1)
		}
	})

	err := client.Connect(context.Background())
	require.ErrorIs(t, err, domain.ErrConnectionFailed)
	assert.ErrorContains(t, err, "gave up after 2 reconnect attempts")
	assert.Equal(t, StateDisconnected, client.State())
	// The initial dial plus one transition per backoff attempt.
	assert.Equal(t, int64(3), connecting.Load())
}

func TestConnectBackoffHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	client := NewClient("ws://127.0.0.1:1/ws", Options{
		ReconnectDelay:       time.Hour,
		MaxReconnectAttempts: 3,
	}, slog.Default())

	err := client.Connect(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConnectRecoversAfterInitialFailure(t *testing.T) {
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// First request is refused before the upgrade, as if the endpoint
		// were still coming up.
		if attempts.Add(1) == 1 {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	client := NewClient(wsURL(srv), Options{
		ReconnectDelay:       time.Millisecond,
		MaxReconnectDelay:    2 * time.Millisecond,
		MaxReconnectAttempts: 3,
	}, slog.Default())

	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()
	assert.Equal(t, StateConnected, client.State())
	assert.Equal(t, int64(1), client.Stats().ReconnectCount)
	assert.Equal(t, int64(2), attempts.Load())
}

func TestCloseIsIdempotent(t *testing.T) {
	srv := feedServer(t, nil, nil)
	client := NewClient(wsURL(srv), Options{}, slog.Default())
	require.NoError(t, client.Connect(context.Background()))

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	select {
	case <-client.Done():
	default:
		t.Fatal("done channel not closed")
	}

	err := client.Connect(context.Background())
	require.ErrorIs(t, err, domain.ErrConnectionFailed)
}

func TestHandleMessageDropsUndecodable(t *testing.T) {
	client := NewClient("ws://unused", Options{}, slog.Default())
	var calls atomic.Int64
	client.OnSnapshot(func(domain.OrderbookSnapshot) { calls.Add(1) })

	client.handleMessage([]byte(`{"event":"subscribed"}`))
	client.handleMessage([]byte(`not json`))
	assert.Zero(t, calls.Load())

	// Counters still track the raw traffic.
	assert.Equal(t, int64(2), client.Stats().MessageCount)
}

// captureHandler records every log line regardless of level.
type captureHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func (h *captureHandler) count(message string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.records {
		if r.Message == message {
			n++
		}
	}
	return n
}

func TestHandleMessageLogsDroppedMessages(t *testing.T) {
	h := &captureHandler{}
	client := NewClient("ws://unused", Options{}, slog.New(h))

	client.handleMessage([]byte(`{"op":"pong"}`))
	client.handleMessage([]byte(`not json`))
	assert.Equal(t, 2, h.count("feed message dropped"))
}

func TestDispatchRecoversPanic(t *testing.T) {
	client := NewClient("ws://unused", Options{}, slog.Default())
	var after atomic.Bool
	client.OnSnapshot(func(domain.OrderbookSnapshot) { panic("boom") })
	client.OnSnapshot(func(domain.OrderbookSnapshot) { after.Store(true) })

	client.handleMessage(bookMessage(t))
	assert.True(t, after.Load())
}

func TestBackoffDelay(t *testing.T) {
	client := NewClient("ws://unused", Options{
		ReconnectDelay:    5 * time.Second,
		MaxReconnectDelay: 60 * time.Second,
	}, slog.Default())

	want := []time.Duration{
		5 * time.Second, 10 * time.Second, 20 * time.Second,
		40 * time.Second, 60 * time.Second, 60 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, client.backoffDelay(i+1), "attempt %d", i+1)
	}
}

func TestOptionsDefaults(t *testing.T) {
	var opts Options
	opts.applyDefaults()
	assert.Equal(t, DefaultReconnectDelay, opts.ReconnectDelay)
	assert.Equal(t, DefaultMaxReconnectDelay, opts.MaxReconnectDelay)
	assert.Equal(t, DefaultMaxReconnectAttempts, opts.MaxReconnectAttempts)
}

func TestSubscribeCommand(t *testing.T) {
	var cmd struct {
		Op   string `json:"op"`
		Args []struct {
			Channel string `json:"channel"`
			InstID  string `json:"instId"`
		} `json:"args"`
	}
	require.NoError(t, json.Unmarshal(SubscribeCommand("ETH-USDT-SWAP"), &cmd))
	assert.Equal(t, "subscribe", cmd.Op)
	require.Len(t, cmd.Args, 1)
	assert.Equal(t, "books", cmd.Args[0].Channel)
	assert.Equal(t, "ETH-USDT-SWAP", cmd.Args[0].InstID)
}
