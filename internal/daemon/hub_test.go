package daemon

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncpkg "github.com/gridops/fieldsync/internal/sync"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, hub *Hub, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// TestHub_Broadcast tests that events reach connected clients in an envelope.
func TestHub_Broadcast(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url)

	hub.OnSyncEvent(syncpkg.SyncEvent{Type: syncpkg.SyncEventConflict, EntityID: "t-1", ConflictID: "c-1"})

	msg := readJSON(t, conn)
	assert.Equal(t, "sync.conflict_detected", msg["type"])
	data := msg["data"].(map[string]interface{})
	assert.Equal(t, "c-1", data["conflict_id"])
	assert.NotZero(t, msg["timestamp"])
}

// TestHub_Subscribe tests that a subscribed client only receives its event types.
func TestHub_Subscribe(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"action": "subscribe",
		"events": []string{"photo.uploaded"},
	}))
	ack := readJSON(t, conn)
	assert.Equal(t, "subscribe_ack", ack["action"])

	hub.OnSyncEvent(syncpkg.SyncEvent{Type: syncpkg.SyncEventStarted})
	hub.OnSyncEvent(syncpkg.SyncEvent{Type: syncpkg.SyncEventPhotoUploaded, EntityID: "p-1"})

	msg := readJSON(t, conn)
	assert.Equal(t, "photo.uploaded", msg["type"])
}

// TestHub_Ping tests the application-level ping.
func TestHub_Ping(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "ping"}))
	assert.Equal(t, "pong", readJSON(t, conn)["action"])
}

// TestHub_Unregister tests that closed connections are dropped.
func TestHub_Unregister(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url)
	require.Equal(t, 1, hub.ClientCount())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

// TestEnvelope tests the wire shape of an event.
func TestEnvelope(t *testing.T) {
	online := false
	ts := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	b, err := json.Marshal(Envelope{
		Type:      string(syncpkg.SyncEventConnectivityChange),
		Data:      syncpkg.SyncEvent{Type: syncpkg.SyncEventConnectivityChange, Online: &online, Timestamp: ts},
		Timestamp: ts.Unix(),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "connectivity.changed",
		"data": {"type": "connectivity.changed", "online": false, "timestamp": "2026-03-10T14:00:00Z"},
		"timestamp": 1773151200
	}`, string(b))
}
