package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"formsave/internal/answers/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper function to read messages from a WebSocket connection with a timeout.
func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	var msg WSMessage
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, p, err := conn.ReadMessage()
	require.NoError(t, err, "Failed to read message from WebSocket")
	require.NoError(t, json.Unmarshal(p, &msg), "Failed to unmarshal WSMessage JSON")
	return msg
}

func TestHubVersionFeed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r, r.URL.Query().Get("user_id"), r.URL.Query().Get("docId"))
	}))
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	dial := func(docID, userID string) *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/?docId="+docID+"&user_id="+userID, nil)
		require.NoError(t, err)
		return conn
	}

	tab1 := dial("doc-1", "user1")
	defer tab1.Close()
	tab2 := dial("doc-1", "user1")
	defer tab2.Close()
	other := dial("doc-2", "user1")
	defer other.Close()

	require.Eventually(t, func() bool { return hub.Watchers("doc-1") == 2 && hub.Watchers("doc-2") == 1 },
		time.Second, 10*time.Millisecond)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	hub.PublishVersion("doc-1", "user1", model.VersionEvent{Version: 7, UpdatedAt: at})

	for _, conn := range []*websocket.Conn{tab1, tab2} {
		msg := readMessage(t, conn)
		assert.Equal(t, VersionType, msg.Type)
		assert.Equal(t, "doc-1", msg.DocID)
		assert.Equal(t, "user1", msg.UserID)
		assert.JSONEq(t, `{"version":7,"updated_at":"2026-01-02T03:04:05Z"}`, string(msg.Payload))
	}

	// Watchers of another document hear nothing.
	other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := other.ReadMessage()
	assert.Error(t, err)

	tab1.Close()
	require.Eventually(t, func() bool { return hub.Watchers("doc-1") == 1 }, time.Second, 10*time.Millisecond)
}

func TestPublishVersionWithoutWatchers(t *testing.T) {
	hub := NewHub()
	// Nobody runs the hub: publishing fills the buffer and then drops.
	for i := 0; i < cap(hub.Broadcast)+10; i++ {
		hub.PublishVersion("doc-1", "user1", model.VersionEvent{Version: int64(i)})
	}
	assert.Len(t, hub.Broadcast, cap(hub.Broadcast))
}
