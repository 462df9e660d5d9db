package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/astrogirlnim/Children-of-Singularity-sub003/internal/model"
	"github.com/astrogirlnim/Children-of-Singularity-sub003/internal/repository"
	"github.com/astrogirlnim/Children-of-Singularity-sub003/internal/service"
	"github.com/astrogirlnim/Children-of-Singularity-sub003/internal/store"
)

// MarketHandler is the stateless server boundary: it decodes the request,
// hands it to the coordinator, and maps errors. It keeps nothing between
// calls.
type MarketHandler struct {
	marketSvc *service.MarketService
	logger    *zap.Logger
}

func NewMarketHandler(marketSvc *service.MarketService, logger *zap.Logger) *MarketHandler {
	return &MarketHandler{marketSvc: marketSvc, logger: logger}
}

// GET /api/v1/market/listings
func (h *MarketHandler) Listings(c *fiber.Ctx) error {
	listings, err := h.marketSvc.ActiveListings(c.Context())
	if err != nil {
		return h.marketError(c, err)
	}
	return c.JSON(fiber.Map{"listings": listings, "total": len(listings)})
}

// POST /api/v1/market/listings
func (h *MarketHandler) Create(c *fiber.Ctx) error {
	var req model.CreateListingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	listing, err := h.marketSvc.PostListing(c.Context(), &req)
	if err != nil {
		return h.marketError(c, err)
	}
	return c.Status(201).JSON(fiber.Map{"listing_id": listing.ID, "listing": listing})
}

// POST /api/v1/market/listings/:id/buy
func (h *MarketHandler) Buy(c *fiber.Ctx) error {
	listingID := c.Params("id")

	var req model.BuyListingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	trade, err := h.marketSvc.Buy(c.Context(), listingID, &req)
	if err != nil {
		return h.marketError(c, err)
	}
	return c.JSON(fiber.Map{"trade": trade})
}

// DELETE /api/v1/market/listings/:id
func (h *MarketHandler) Cancel(c *fiber.Ctx) error {
	listingID := c.Params("id")

	var req struct {
		RequesterID string `json:"requester_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	listing, err := h.marketSvc.CancelListing(c.Context(), listingID, req.RequesterID)
	if err != nil {
		return h.marketError(c, err)
	}
	return c.JSON(fiber.Map{"listing": listing})
}

// GET /api/v1/market/credits/:player_id
func (h *MarketHandler) Credits(c *fiber.Ctx) error {
	playerID := c.Params("player_id")

	credits, err := h.marketSvc.Balance(c.Context(), playerID)
	if err != nil {
		return h.marketError(c, err)
	}
	return c.JSON(fiber.Map{"player_id": playerID, "credits": credits})
}

// GET /api/v1/market/notifications/:player_id
func (h *MarketHandler) Notifications(c *fiber.Ctx) error {
	playerID := c.Params("player_id")

	notifications, err := h.marketSvc.Notifications(c.Context(), playerID)
	if err != nil {
		return h.marketError(c, err)
	}
	return c.JSON(fiber.Map{"notifications": notifications})
}

// POST /api/v1/market/notifications/:player_id/mark-read
func (h *MarketHandler) MarkRead(c *fiber.Ctx) error {
	playerID := c.Params("player_id")

	var req struct {
		NotificationID string `json:"notification_id"`
	}
	if err := c.BodyParser(&req); err != nil || req.NotificationID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "notification_id is required"})
	}

	if err := h.marketSvc.MarkNotificationRead(c.Context(), playerID, req.NotificationID); err != nil {
		return h.marketError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

// GET /api/v1/market/history/:player_id
func (h *MarketHandler) History(c *fiber.Ctx) error {
	playerID := c.Params("player_id")

	trades, err := h.marketSvc.TradeHistory(c.Context(), playerID)
	if err != nil {
		return h.marketError(c, err)
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	return c.JSON(fiber.Map{"trades": trades, "total": len(trades)})
}

// marketError translates the error taxonomy to HTTP. Conflict-class errors
// (lost races, stale prices) are 409: the client must refresh before acting
// again. Contention is 503: safe to retry the whole operation after backoff.
func (h *MarketHandler) marketError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrValidation):
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, service.ErrItemNotOwned):
		return c.Status(400).JSON(fiber.Map{"error": "item not owned in sufficient quantity"})
	case errors.Is(err, service.ErrCannotBuyOwnListing):
		return c.Status(400).JSON(fiber.Map{"error": "cannot buy your own listing"})
	case errors.Is(err, repository.ErrInsufficientCredits):
		return c.Status(400).JSON(fiber.Map{"error": "insufficient credits"})
	case errors.Is(err, repository.ErrTooManyListings):
		return c.Status(400).JSON(fiber.Map{"error": "too many outstanding listings"})
	case errors.Is(err, repository.ErrListingNotFound):
		return c.Status(404).JSON(fiber.Map{"error": "listing not found"})
	case errors.Is(err, repository.ErrNotificationNotFound):
		return c.Status(404).JSON(fiber.Map{"error": "notification not found"})
	case errors.Is(err, repository.ErrNotListingOwner):
		return c.Status(403).JSON(fiber.Map{"error": "not the listing owner"})
	case errors.Is(err, repository.ErrAlreadySold):
		return c.Status(409).JSON(fiber.Map{"error": "listing already sold"})
	case errors.Is(err, repository.ErrAlreadyCancelled):
		return c.Status(409).JSON(fiber.Map{"error": "listing already cancelled"})
	case errors.Is(err, service.ErrPriceChanged):
		return c.Status(409).JSON(fiber.Map{"error": "listing price changed, refresh and retry"})
	case errors.Is(err, store.ErrContention):
		return c.Status(503).JSON(fiber.Map{"error": "storage contention, retry after backoff"})
	default:
		h.logger.Error("market handler internal error", zap.Error(err))
		return c.Status(500).JSON(fiber.Map{"error": "internal server error"})
	}
}
