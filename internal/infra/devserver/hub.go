package devserver

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"chatsync/internal/domain/chat"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

// Hub fans chat events out to the websocket subscribers of each
// conversation.
type Hub struct {
	logger *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan broadcastRequest

	// conversationID -> subscriber set
	clients map[string]map[*wsClient]bool
}

type broadcastRequest struct {
	event chat.Event
	// skipUserID suppresses the echo to the author's own connections.
	skipUserID int64
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan broadcastRequest, 64),
		clients:    make(map[string]map[*wsClient]bool),
	}
}

// Run owns the subscriber map; call it once in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			if h.clients[client.conversationID] == nil {
				h.clients[client.conversationID] = make(map[*wsClient]bool)
			}
			h.clients[client.conversationID][client] = true
		case client := <-h.unregister:
			if set, ok := h.clients[client.conversationID]; ok {
				if set[client] {
					delete(set, client)
					close(client.send)
					if len(set) == 0 {
						delete(h.clients, client.conversationID)
					}
				}
			}
		case req := <-h.broadcast:
			h.fanout(req)
		}
	}
}

// Broadcast queues an event for every subscriber of its conversation except
// the author's own connections.
func (h *Hub) Broadcast(event chat.Event, skipUserID int64) {
	h.broadcast <- broadcastRequest{event: event, skipUserID: skipUserID}
}

func (h *Hub) fanout(req broadcastRequest) {
	payload, err := json.Marshal(req.event)
	if err != nil {
		h.logger.Error("event marshal failed", "type", req.event.Type, "error", err)
		return
	}
	for client := range h.clients[req.event.ConversationID] {
		if client.userID == req.skipUserID {
			continue
		}
		select {
		case client.send <- payload:
		default:
			// Slow subscriber: drop the connection, not the hub.
			close(client.send)
			delete(h.clients[req.event.ConversationID], client)
			h.logger.Warn("dropped slow websocket subscriber", "conversation_id", req.event.ConversationID, "user_id", client.userID)
		}
	}
}

type wsClient struct {
	hub            *Hub
	conn           *websocket.Conn
	send           chan []byte
	conversationID string
	userID         int64
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var event chat.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			continue
		}
		switch event.Type {
		case chat.EventTypingStart, chat.EventTypingStop:
			c.hub.Broadcast(chat.Event{
				Type:           event.Type,
				ConversationID: c.conversationID,
				UserID:         c.userID,
			}, c.userID)
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
