package app

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/grip_recorder/internal/recording"
)

const (
	clientQueue  = 32
	writeTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

type wsClient struct {
	send chan []byte
}

// Hub fans run events out to websocket clients. A slow client loses events
// rather than stalling the run.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	last    recording.Event
	hasLast bool

	done      chan struct{}
	closeOnce sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*wsClient]struct{}),
		done:    make(chan struct{}),
	}
}

// Close ends every websocket stream. http.Server.Shutdown does not touch
// hijacked connections.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Hub) OnEvent(e recording.Event) {
	msg, err := json.Marshal(e)
	if err != nil {
		log.Printf("web: event marshal error: %v", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = e
	h.hasLast = true
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			log.Printf("web: websocket client too slow, event dropped")
		}
	}
}

// Last returns the most recent event.
func (h *Hub) Last() (recording.Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last, h.hasLast
}

// Clients returns the number of connected websocket clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS streams events to one client, starting with the latest one.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	c := &wsClient{send: make(chan []byte, clientQueue)}
	h.mu.Lock()
	if h.hasLast {
		if msg, err := json.Marshal(h.last); err == nil {
			c.send <- msg
		}
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
	}()

	// reader: only used to notice the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-h.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case <-r.Context().Done():
			return
		case msg := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("web: websocket write error: %v", err)
				return
			}
		}
	}
}
