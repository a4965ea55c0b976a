package daemon

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridops/fieldsync/internal/services"
)

// TestDaemon_Serve tests the full lifecycle: API, event stream and shutdown.
func TestDaemon_Serve(t *testing.T) {
	a := newTestApp(t)
	_, err := a.GPS.LogLocation(context.Background(), services.LogLocationInput{TicketID: "t-1", Latitude: 30.1, Longitude: -97.7})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	d := New(nil, a)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return d.Hub().ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	resp, err := http.Post(base+"/api/v1/drain", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var types []string
	for len(types) < 2 {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		types = append(types, msg["type"].(string))
	}
	assert.Equal(t, []string{"sync.started", "sync.completed"}, types)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
	assert.False(t, a.Scheduler.IsRunning())
}
