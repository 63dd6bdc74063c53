// Package ws pushes automation events to connected dashboard clients.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"lead-nurture/internal/notify"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const EventAutomationExecuted = "automation_executed"

const (
	writeWait   = 10 * time.Second
	sendBuffer  = 256
	eventBuffer = 256
)

var (
	ErrHubClosed   = errors.New("websocket hub is closed")
	ErrHubBackedUp = errors.New("websocket hub backlog is full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The REST API answers any origin as well.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Event is the frame written to clients.
type Event struct {
	Type     string      `json:"type"`
	ClinicID uint        `json:"clinic_id"`
	Data     interface{} `json:"data"`
}

// Client is one dashboard connection. A zero clinicID receives every clinic.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	clinicID uint
}

// Hub maintains the set of active clients and broadcasts events to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, eventBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run serves registrations and broadcasts until ctx is done, then drops
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		for client := range h.clients {
			delete(h.clients, client)
			close(client.send)
		}
		h.mu.Unlock()
		close(h.done)
		log.Info().Msg("WebSocket hub stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Debug().Uint("clinic_id", client.clinicID).Msg("WebSocket client registered")
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			log.Debug().Uint("clinic_id", client.clinicID).Msg("WebSocket client unregistered")
		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

func (h *Hub) deliver(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("type", event.Type).Msg("Error marshaling WebSocket event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if client.clinicID != 0 && client.clinicID != event.ClinicID {
			continue
		}
		select {
		case client.send <- payload:
		default:
			// slow reader
			close(client.send)
			delete(h.clients, client)
		}
	}
}

// ClientCount reports how many clients are connected.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// BroadcastEvent queues an event for every client watching clinicID. It never
// blocks; a full backlog drops the event.
func (h *Hub) BroadcastEvent(eventType string, clinicID uint, data interface{}) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}

	select {
	case h.broadcast <- Event{Type: eventType, ClinicID: clinicID, Data: data}:
		return nil
	default:
		return ErrHubBackedUp
	}
}

func (h *Hub) PublishExecution(_ context.Context, event notify.ExecutionEvent) error {
	return h.BroadcastEvent(EventAutomationExecuted, event.ClinicID, event)
}

// ServeWs upgrades the request. An optional clinic_id query narrows the
// stream to one clinic.
func (h *Hub) ServeWs(c *gin.Context) {
	var clinicID uint
	if raw := c.Query("clinic_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid clinic_id"})
			return
		}
		clinicID = uint(id)
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	client := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), clinicID: clinicID}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump only watches for the connection closing; clients send nothing.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
