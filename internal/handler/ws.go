package handler

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/astrogirlnim/Children-of-Singularity-sub003/internal/service"
)

// WSHandler upgrades UI clients onto the market event feed. The feed is
// read-only from the client's perspective; inbound frames only keep the
// connection alive.
type WSHandler struct {
	hub *service.WSHub
}

func NewWSHandler(hub *service.WSHub) *WSHandler {
	return &WSHandler{hub: hub}
}

func (h *WSHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		playerID := c.Query("player_id")
		if playerID == "" {
			return c.Status(400).JSON(fiber.Map{"error": "player_id required"})
		}
		c.Locals("player_id", playerID)
		return websocket.New(h.handleConnection)(c)
	}
	return fiber.ErrUpgradeRequired
}

func (h *WSHandler) handleConnection(c *websocket.Conn) {
	playerID, _ := c.Locals("player_id").(string)

	client := &service.WSClient{
		Conn:     c,
		PlayerID: playerID,
		Send:     make(chan []byte, 256),
	}

	h.hub.Register(client)
	defer h.hub.Unregister(client)

	go func() {
		defer c.Close()
		for msg := range client.Send {
			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	c.SetReadDeadline(time.Now().Add(60 * time.Second))
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
		c.SetReadDeadline(time.Now().Add(60 * time.Second))
	}
}
