package gateway

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selim/orkestra/pkg/run"
)

func setupTestBroker(t *testing.T, token string) (*Server, string) {
	t.Helper()

	broker := NewServer(Config{Token: token, Logger: zerolog.Nop()})
	srv := httptest.NewServer(broker.Handler())
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return broker, wsURL
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func waitForClients(t *testing.T, broker *Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return broker.ClientCount() == n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEmit(t *testing.T) {
	t.Run("should broadcast events to connected clients with sequence numbers", func(t *testing.T) {
		broker, wsURL := setupTestBroker(t, "")
		conn := dial(t, wsURL)
		waitForClients(t, broker, 1)

		ev := run.NewEvent(run.EventNodeStart, "wfr_1")
		ev.NodeID = "fetch"
		broker.Emit(ev)
		broker.Emit(run.NewEvent(run.EventComplete, "wfr_1"))

		first := readEnvelope(t, conn)
		assert.Equal(t, "event", first.Type)
		assert.Equal(t, uint64(1), first.Seq)
		assert.Equal(t, run.EventNodeStart, first.Event.Type)
		assert.Equal(t, "fetch", first.Event.NodeID)

		second := readEnvelope(t, conn)
		assert.Equal(t, uint64(2), second.Seq)
		assert.Equal(t, run.EventComplete, second.Event.Type)
	})

	t.Run("should filter by run subscription", func(t *testing.T) {
		broker, wsURL := setupTestBroker(t, "")
		conn := dial(t, wsURL)
		waitForClients(t, broker, 1)

		require.NoError(t, conn.WriteJSON(clientCommand{Type: "subscribe", RunID: "wfr_mine"}))

		// Subscriptions apply asynchronously; wait until the filter holds.
		require.Eventually(t, func() bool {
			broker.mu.RLock()
			defer broker.mu.RUnlock()
			for c := range broker.clients {
				if c.wants("wfr_mine") && !c.wants("wfr_other") {
					return true
				}
			}
			return false
		}, 2*time.Second, 10*time.Millisecond)

		broker.Emit(run.NewEvent(run.EventComplete, "wfr_other"))
		broker.Emit(run.NewEvent(run.EventComplete, "wfr_mine"))

		env := readEnvelope(t, conn)
		assert.Equal(t, "wfr_mine", env.Event.RunID)
	})

	t.Run("should reject a bad token", func(t *testing.T) {
		_, wsURL := setupTestBroker(t, "sekrit")

		_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, 401, resp.StatusCode)

		conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=sekrit", nil)
		require.NoError(t, err)
		conn.Close()
	})

	t.Run("should track disconnects", func(t *testing.T) {
		broker, wsURL := setupTestBroker(t, "")
		conn := dial(t, wsURL)
		waitForClients(t, broker, 1)

		conn.Close()
		waitForClients(t, broker, 0)
	})
}

func TestHooks(t *testing.T) {
	t.Run("should report client counts and delivered events", func(t *testing.T) {
		var mu sync.Mutex
		var counts []int
		sent := 0

		broker := NewServer(Config{
			Logger: zerolog.Nop(),
			OnClientCount: func(n int) {
				mu.Lock()
				counts = append(counts, n)
				mu.Unlock()
			},
			OnEventSent: func() {
				mu.Lock()
				sent++
				mu.Unlock()
			},
		})
		srv := httptest.NewServer(broker.Handler())
		t.Cleanup(srv.Close)

		conn := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
		waitForClients(t, broker, 1)

		broker.Emit(run.Event{Type: run.EventComplete, RunID: "wfr_1"})
		readEnvelope(t, conn)

		mu.Lock()
		assert.Equal(t, []int{1}, counts)
		assert.Equal(t, 1, sent)
		mu.Unlock()

		conn.Close()
		waitForClients(t, broker, 0)

		mu.Lock()
		assert.Equal(t, []int{1, 0}, counts)
		mu.Unlock()
	})
}
