package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// TurnEvent is one message on the turn stream.
type TurnEvent struct {
	Type      string      `json:"type"`
	SubjectID string      `json:"subject_id"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub fans turn events out to connected websocket clients. Slow clients
// are dropped rather than allowed to back up the broadcast.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan TurnEvent
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]chan TurnEvent)}
}

// Broadcast queues an event to every connected client.
func (h *Hub) Broadcast(event TurnEvent) {
	event.Timestamp = time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- event:
		default:
			// Client can't keep up; drop it.
			delete(h.clients, conn)
			close(ch)
		}
	}
}

// Serve registers the connection and pumps events to it until the
// context ends or the client disconnects.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn) {
	ch := make(chan TurnEvent, 16)

	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		if _, ok := h.clients[conn]; ok {
			delete(h.clients, conn)
			close(ch)
		}
		h.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				log.Printf("server: marshal turn event: %v", err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// ClientCount returns the number of connected stream clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
