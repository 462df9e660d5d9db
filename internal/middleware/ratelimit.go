package middleware

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimit bounds write traffic per acting player. Purchases and postings
// are serialized per player anyway, so the bucket key is the player id named
// in the request body; requests that name no player fall back to the client
// IP.
func RateLimit(max int, window time.Duration) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:          max,
		Expiration:   window,
		KeyGenerator: playerKey,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(429).JSON(fiber.Map{"error": "too many requests"})
		},
	})
}

func playerKey(c *fiber.Ctx) string {
	var body struct {
		BuyerID     string `json:"buyer_id"`
		SellerID    string `json:"seller_id"`
		RequesterID string `json:"requester_id"`
	}
	if err := json.Unmarshal(c.Body(), &body); err == nil {
		switch {
		case body.BuyerID != "":
			return "player:" + body.BuyerID
		case body.SellerID != "":
			return "player:" + body.SellerID
		case body.RequesterID != "":
			return "player:" + body.RequesterID
		}
	}
	return c.IP()
}
