package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/astrogirlnim/Children-of-Singularity-sub003/internal/inventory"
	"github.com/astrogirlnim/Children-of-Singularity-sub003/internal/model"
	"github.com/astrogirlnim/Children-of-Singularity-sub003/internal/repository"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrCannotBuyOwnListing = errors.New("cannot buy your own listing")
	ErrPriceChanged        = errors.New("listing price changed")
	ErrItemNotOwned        = errors.New("item not owned in sufficient quantity")
)

// Purchase states, in commit order. Logged at each transition so a stuck
// purchase can be reconstructed from the log alone.
const (
	stateValidating      = "validating"
	stateDebitingBuyer   = "debiting_buyer"
	stateMarkingListing  = "marking_listing_sold"
	stateCreditingSeller = "crediting_seller"
	stateNotifyingSeller = "notifying_seller"
	stateCompleted       = "completed"
	stateFailed          = "failed"
)

// creditRetries bounds the post-commit seller credit loop. Once the listing
// is marked sold the sale is committed; crediting the seller is retried, not
// compensated.
const creditRetries = 10

// EventPublisher pushes market events to whoever is watching the feed.
// Registered exactly once at construction, never re-attached per operation.
type EventPublisher interface {
	Publish(eventType string, data any)
}

// MarketService is the transaction coordinator. It owns no state across
// calls; every operation re-reads authoritative documents from the store.
type MarketService struct {
	listings      *repository.ListingRepository
	ledger        *repository.CreditLedger
	notifications *repository.NotificationStore
	trades        *repository.TradeLog
	inventory     inventory.Client
	events        EventPublisher
	logger        *zap.Logger
	feeBps        int
}

func NewMarketService(
	listings *repository.ListingRepository,
	ledger *repository.CreditLedger,
	notifications *repository.NotificationStore,
	trades *repository.TradeLog,
	inv inventory.Client,
	events EventPublisher,
	logger *zap.Logger,
	feeBps int,
) *MarketService {
	return &MarketService{
		listings:      listings,
		ledger:        ledger,
		notifications: notifications,
		trades:        trades,
		inventory:     inv,
		events:        events,
		logger:        logger,
		feeBps:        feeBps,
	}
}

// PostListing validates the item against the inventory collaborator, escrows
// it, and appends the listing.
func (s *MarketService) PostListing(ctx context.Context, req *model.CreateListingRequest) (*model.Listing, error) {
	if req.SellerID == "" {
		return nil, fmt.Errorf("%w: seller_id is required", ErrValidation)
	}
	if req.AskingPrice <= 0 {
		return nil, fmt.Errorf("%w: asking_price must be greater than 0", ErrValidation)
	}
	if err := model.ValidateItem(req.ItemType, req.ItemName, req.Quantity); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	// Escrow the item. This is also the ownership/quantity check.
	if err := s.inventory.RemoveItem(ctx, req.SellerID, req.ItemType, req.ItemName, req.Quantity); err != nil {
		s.logger.Warn("listing escrow refused",
			zap.String("seller_id", req.SellerID),
			zap.String("item_name", req.ItemName),
			zap.Error(err))
		return nil, ErrItemNotOwned
	}

	listing, err := s.listings.Create(ctx, req)
	if err != nil {
		// Return the escrowed item; the listing never existed.
		if restoreErr := s.inventory.AddItem(ctx, req.SellerID, req.ItemType, req.ItemName, req.Quantity); restoreErr != nil {
			s.logger.Error("failed to return escrowed item after create failure",
				zap.String("seller_id", req.SellerID),
				zap.String("item_name", req.ItemName),
				zap.Error(restoreErr))
		}
		return nil, err
	}

	s.publish(model.EventListingPosted, listing)
	return listing, nil
}

// Buy drives the purchase state machine:
//
//	validating -> debiting_buyer -> marking_listing_sold ->
//	crediting_seller -> notifying_seller -> completed
//
// Debit comes before the sold-mark so insufficient funds fail fast without
// contending for the listing, and the single compensating action (rollback
// of the debit) covers the only failure window with a side effect.
func (s *MarketService) Buy(ctx context.Context, listingID string, req *model.BuyListingRequest) (*model.Trade, error) {
	if req.BuyerID == "" || req.TradeID == "" {
		return nil, fmt.Errorf("%w: buyer_id and trade_id are required", ErrValidation)
	}

	log := s.logger.With(
		zap.String("listing_id", listingID),
		zap.String("buyer_id", req.BuyerID),
		zap.String("trade_id", req.TradeID))

	// A retried request recognizes its own prior success before doing
	// anything else. This is what makes a post-timeout retry safe.
	if existing, err := s.trades.FindByTradeID(ctx, req.TradeID); err == nil {
		log.Info("purchase replay detected, returning recorded trade")
		return existing, nil
	} else if !errors.Is(err, repository.ErrTradeNotFound) {
		return nil, err
	}

	log.Debug("purchase state", zap.String("state", stateValidating))

	listing, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	switch listing.Status {
	case model.ListingActive:
	case model.ListingSold:
		return nil, repository.ErrAlreadySold
	case model.ListingCancelled:
		return nil, repository.ErrAlreadyCancelled
	default:
		return nil, repository.ErrListingNotFound
	}
	if listing.SellerID == req.BuyerID {
		return nil, ErrCannotBuyOwnListing
	}
	if req.ExpectedPrice != listing.AskingPrice {
		return nil, ErrPriceChanged
	}

	price := listing.AskingPrice

	// Pre-debit balance check: fail fast before contending for the listing.
	balance, err := s.ledger.Balance(ctx, req.BuyerID)
	if err != nil {
		return nil, err
	}
	if balance < price {
		return nil, repository.ErrInsufficientCredits
	}

	log.Debug("purchase state", zap.String("state", stateDebitingBuyer))
	if err := s.ledger.Debit(ctx, req.BuyerID, price, req.TradeID); err != nil {
		// Nothing to compensate; the debit never landed.
		log.Info("purchase failed before commit",
			zap.String("state", stateFailed), zap.Error(err))
		return nil, err
	}

	log.Debug("purchase state", zap.String("state", stateMarkingListing))
	sold, err := s.listings.MarkSold(ctx, listingID, req.BuyerID, req.BuyerName)
	if err != nil {
		// Lost the race (or drowned in conflicts). Compensate the debit and
		// surface the loss; the buyer's balance must end exactly where it
		// started.
		if rbErr := s.ledger.RollbackDebit(ctx, req.BuyerID, price, req.TradeID); rbErr != nil {
			log.Error("debit rollback failed", zap.Error(rbErr))
		}
		log.Info("purchase lost listing race",
			zap.String("state", stateFailed), zap.Error(err))
		return nil, err
	}

	// The sale is committed from here on. Record the trade first so any
	// replay of this trade id resolves to the recorded outcome, then settle
	// the seller side; neither step may reverse the sale.
	fee := price * int64(s.feeBps) / 10000
	trade := model.Trade{
		TradeID:     req.TradeID,
		ListingID:   sold.ID,
		SellerID:    sold.SellerID,
		SellerName:  sold.SellerName,
		BuyerID:     req.BuyerID,
		BuyerName:   req.BuyerName,
		ItemType:    sold.ItemType,
		ItemName:    sold.ItemName,
		Quantity:    sold.Quantity,
		FinalPrice:  price,
		Fee:         fee,
		CompletedAt: time.Now().UTC(),
	}
	if err := s.trades.Append(ctx, trade); err != nil {
		// The sale stands; the record must eventually exist. Keep trying.
		log.Error("trade record append failed, retrying", zap.Error(err))
		if err := retry(ctx, creditRetries, func() error { return s.trades.Append(ctx, trade) }); err != nil {
			log.Error("trade record still not appended", zap.Error(err))
		}
	}

	log.Debug("purchase state", zap.String("state", stateCreditingSeller))
	payout := price - fee
	if err := retry(ctx, creditRetries, func() error {
		return s.ledger.Credit(ctx, sold.SellerID, payout, req.TradeID)
	}); err != nil {
		// Deliberate asymmetry: the sale is committed, so the payout is an
		// obligation, never a rollback candidate.
		log.Error("seller credit did not land, requires replay",
			zap.String("seller_id", sold.SellerID), zap.Error(err))
	}

	log.Debug("purchase state", zap.String("state", stateNotifyingSeller))
	notif := model.Notification{
		Type:             model.NotificationSale,
		TradeID:          trade.TradeID,
		ItemName:         trade.ItemName,
		Quantity:         trade.Quantity,
		Price:            trade.FinalPrice,
		CounterpartyName: trade.BuyerName,
	}
	if err := s.notifications.Append(ctx, sold.SellerID, notif); err != nil {
		// A missed notification is recoverable; the seller sees the updated
		// balance and listing on the next fetch.
		log.Warn("seller notification not appended", zap.Error(err))
	}

	if err := s.inventory.AddItem(ctx, req.BuyerID, trade.ItemType, trade.ItemName, trade.Quantity); err != nil {
		log.Warn("buyer inventory delivery failed", zap.Error(err))
	}

	s.publish(model.EventTradeCompleted, trade)
	log.Info("purchase completed",
		zap.String("state", stateCompleted),
		zap.Int64("final_price", price),
		zap.Int64("fee", fee))
	return &trade, nil
}

// CancelListing transitions the caller's own active listing to cancelled and
// returns the escrowed item. The status transition happens first, so a
// second cancel attempt fails before any item could be returned twice.
func (s *MarketService) CancelListing(ctx context.Context, listingID, requesterID string) (*model.Listing, error) {
	if requesterID == "" {
		return nil, fmt.Errorf("%w: requester_id is required", ErrValidation)
	}

	cancelled, err := s.listings.Cancel(ctx, listingID, requesterID)
	if err != nil {
		return nil, err
	}

	if err := s.inventory.AddItem(ctx, requesterID, cancelled.ItemType, cancelled.ItemName, cancelled.Quantity); err != nil {
		s.logger.Error("failed to return item after cancellation",
			zap.String("listing_id", listingID),
			zap.String("seller_id", requesterID),
			zap.Error(err))
	}

	s.publish(model.EventListingCancelled, cancelled)
	return cancelled, nil
}

func (s *MarketService) ActiveListings(ctx context.Context) ([]model.Listing, error) {
	return s.listings.ListActive(ctx)
}

func (s *MarketService) Balance(ctx context.Context, playerID string) (int64, error) {
	return s.ledger.Balance(ctx, playerID)
}

func (s *MarketService) Notifications(ctx context.Context, playerID string) ([]model.Notification, error) {
	return s.notifications.List(ctx, playerID)
}

func (s *MarketService) MarkNotificationRead(ctx context.Context, playerID, notificationID string) error {
	return s.notifications.MarkRead(ctx, playerID, notificationID)
}

func (s *MarketService) TradeHistory(ctx context.Context, playerID string) ([]model.Trade, error) {
	return s.trades.HistoryForPlayer(ctx, playerID)
}

func (s *MarketService) publish(eventType string, data any) {
	if s.events != nil {
		s.events.Publish(eventType, data)
	}
}

// NewTradeID mints a client-side idempotency key. Exposed for callers that
// drive purchases server-side (tests, bots).
func NewTradeID() string { return uuid.NewString() }

// retry re-runs fn with growing jitter-free backoff until it succeeds, the
// attempts run out, or the context ends.
func retry(ctx context.Context, attempts int, fn func() error) error {
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i) * 50 * time.Millisecond):
		}
	}
	return err
}
