package server

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// hub fans job results out to connected websocket clients.
type hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	quit       chan struct{}
	stopOnce   sync.Once
	log        *slog.Logger
}

func newHub(log *slog.Logger) *hub {
	return &hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		quit:       make(chan struct{}),
		log:        log,
	}
}

// stop ends the run loop and closes every connected client.
func (h *hub) stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

func (h *hub) run() {
	for {
		select {
		case <-h.quit:
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.log.Debug("websocket client connected", "total", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				h.log.Debug("websocket client disconnected", "total", len(h.clients))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					delete(h.clients, client)
					client.Close()
				}
			}
		}
	}
}
