package service

import (
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"github.com/astrogirlnim/Children-of-Singularity-sub003/internal/model"
)

// WSClient is one connected feed subscriber.
type WSClient struct {
	Conn     *websocket.Conn
	PlayerID string
	Send     chan []byte
}

// WSHub fans market events out to connected UI clients. The feed is
// fire-and-forget: a slow client gets dropped, never waited for, and no
// correctness anywhere depends on an event arriving.
type WSHub struct {
	clients    map[*WSClient]bool
	register   chan *WSClient
	unregister chan *WSClient
	broadcast  chan []byte
	done       chan struct{}
	logger     *zap.Logger
	mu         sync.RWMutex
}

func NewWSHub(logger *zap.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("feed client connected",
				zap.String("player_id", client.PlayerID), zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					close(client.Send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.done:
			return
		}
	}
}

func (h *WSHub) Shutdown() {
	close(h.done)
}

func (h *WSHub) Register(client *WSClient) {
	h.register <- client
}

func (h *WSHub) Unregister(client *WSClient) {
	h.unregister <- client
}

// Publish implements EventPublisher.
func (h *WSHub) Publish(eventType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	event, err := json.Marshal(model.WSEvent{Type: eventType, Data: payload})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- event:
	default:
		// Feed saturated; drop rather than block a purchase.
	}
}

func (h *WSHub) OnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
