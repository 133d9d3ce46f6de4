package socket

import (
	"context"
	"encoding/json"
	"sync"

	"formsave/internal/answers/model"
	"formsave/pkg/logger"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorilla/websocket"
)

const (
	VersionType = "VERSION" // A save was committed
)

type WSMessage struct {
	Type    string          `json:"type"`
	DocID   string          `json:"session_id"`
	UserID  string          `json:"user_id"`
	Payload json.RawMessage `json:"payload"`
}

// Hub fans committed-version notifications out to the websocket clients
// watching each document. It only notifies; clients decide what to do with
// a newer version.
type Hub struct {
	Broadcast  chan WSMessage
	Register   chan *Client
	Unregister chan *Client

	mu    sync.Mutex
	rooms map[string]mapset.Set[*Client]
	done  chan struct{}
}

type Client struct {
	Hub    *Hub
	Conn   *websocket.Conn
	DocID  string
	UserID string
	Send   chan []byte
}

func NewHub() *Hub {
	return &Hub{
		Broadcast:  make(chan WSMessage, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		rooms:      make(map[string]mapset.Set[*Client]),
		done:       make(chan struct{}),
	}
}

// Run is the hub's event loop. It returns when ctx is cancelled, after
// closing every client's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		h.mu.Lock()
		for docID, room := range h.rooms {
			for _, client := range room.ToSlice() {
				close(client.Send)
			}
			delete(h.rooms, docID)
		}
		h.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.Register:
			h.mu.Lock()
			room, ok := h.rooms[client.DocID]
			if !ok {
				room = mapset.NewThreadUnsafeSet[*Client]()
				h.rooms[client.DocID] = room
			}
			room.Add(client)
			h.mu.Unlock()
			logger.Sugar.Debugf("User %s watching answer set %s", client.UserID, client.DocID)

		case client := <-h.Unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()

		case msg := <-h.Broadcast:
			payload, err := json.Marshal(msg)
			if err != nil {
				logger.Sugar.Errorf("Error marshalling broadcast message: %v", err)
				continue
			}

			h.mu.Lock()
			room, ok := h.rooms[msg.DocID]
			if !ok {
				h.mu.Unlock()
				continue
			}
			for _, client := range room.ToSlice() {
				select {
				case client.Send <- payload:
				default:
					// A lagging client must not block the hub.
					logger.Sugar.Warnf("Client %s's send buffer is full. Unregistering.", client.UserID)
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// PublishVersion announces a committed save. It never blocks the caller:
// when the hub is saturated or stopped the notification is dropped.
func (h *Hub) PublishVersion(docID, userID string, event model.VersionEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling version event: %v", err)
		return
	}

	select {
	case h.Broadcast <- WSMessage{Type: VersionType, DocID: docID, UserID: userID, Payload: payload}:
	default:
		logger.Sugar.Warnf("Dropping version event for %s: hub is not keeping up", docID)
	}
}

// Watchers returns the number of clients watching docID.
func (h *Hub) Watchers(docID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[docID]; ok {
		return room.Cardinality()
	}
	return 0
}

func (h *Hub) removeLocked(client *Client) {
	room, ok := h.rooms[client.DocID]
	if !ok || !room.Contains(client) {
		return
	}
	room.Remove(client)
	close(client.Send)
	if room.Cardinality() == 0 {
		delete(h.rooms, client.DocID)
	}
}
