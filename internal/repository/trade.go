package repository

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/astrogirlnim/Children-of-Singularity-sub003/internal/model"
	"github.com/astrogirlnim/Children-of-Singularity-sub003/internal/store"
)

const tradesKey = "market/trades"

var ErrTradeNotFound = errors.New("trade not found")

type tradesDoc struct {
	Trades []model.Trade `json:"trades"`
}

// TradeLog is the append-only record of completed trades. Appends are
// idempotent on trade id, which is how a retried purchase recognizes its own
// prior success.
type TradeLog struct {
	store         store.VersionedStore
	logger        *zap.Logger
	writeAttempts int
}

func NewTradeLog(s store.VersionedStore, logger *zap.Logger) *TradeLog {
	return &TradeLog{store: s, logger: logger, writeAttempts: store.DefaultAttempts}
}

// Append records a completed trade. Appending a trade id that already exists
// is a no-op.
func (t *TradeLog) Append(ctx context.Context, trade model.Trade) error {
	_, _, err := store.Update(ctx, t.store, tradesKey, t.writeAttempts, func(doc *tradesDoc) error {
		for _, existing := range doc.Trades {
			if existing.TradeID == trade.TradeID {
				return store.ErrNoChange
			}
		}
		doc.Trades = append(doc.Trades, trade)
		return nil
	})
	if err != nil {
		return err
	}

	t.logger.Debug("trade recorded",
		zap.String("trade_id", trade.TradeID),
		zap.String("listing_id", trade.ListingID))
	return nil
}

// FindByTradeID returns the trade with the given id, if one was recorded.
func (t *TradeLog) FindByTradeID(ctx context.Context, tradeID string) (*model.Trade, error) {
	doc, _, err := store.Read[tradesDoc](ctx, t.store, tradesKey)
	if err != nil {
		return nil, err
	}
	for i := range doc.Trades {
		if doc.Trades[i].TradeID == tradeID {
			trade := doc.Trades[i]
			return &trade, nil
		}
	}
	return nil, ErrTradeNotFound
}

// FindByListingID returns the trade that sold the given listing, if any.
func (t *TradeLog) FindByListingID(ctx context.Context, listingID string) (*model.Trade, error) {
	doc, _, err := store.Read[tradesDoc](ctx, t.store, tradesKey)
	if err != nil {
		return nil, err
	}
	for i := range doc.Trades {
		if doc.Trades[i].ListingID == listingID {
			trade := doc.Trades[i]
			return &trade, nil
		}
	}
	return nil, ErrTradeNotFound
}

// HistoryForPlayer returns every trade the player participated in, newest
// first.
func (t *TradeLog) HistoryForPlayer(ctx context.Context, playerID string) ([]model.Trade, error) {
	doc, _, err := store.Read[tradesDoc](ctx, t.store, tradesKey)
	if err != nil {
		return nil, err
	}

	var out []model.Trade
	for i := len(doc.Trades) - 1; i >= 0; i-- {
		tr := doc.Trades[i]
		if tr.BuyerID == playerID || tr.SellerID == playerID {
			out = append(out, tr)
		}
	}
	return out, nil
}
