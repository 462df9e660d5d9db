package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/astrogirlnim/Children-of-Singularity-sub003/internal/model"
	"github.com/astrogirlnim/Children-of-Singularity-sub003/internal/store"
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidAmount       = errors.New("amount must be non-negative")
)

// historyCap bounds the per-balance ledger history used for replay and
// rollback matching. Old entries fall off; by then the trades they belong to
// are long settled.
const historyCap = 50

func creditsKey(playerID string) string { return "credits/" + playerID }

// CreditLedger mutates per-player balance documents through conditional
// writes only. Every mutation is attributed to a trade id, which is what
// makes debits and credits idempotent under client retries.
type CreditLedger struct {
	store         store.VersionedStore
	logger        *zap.Logger
	writeAttempts int
}

func NewCreditLedger(s store.VersionedStore, logger *zap.Logger) *CreditLedger {
	return &CreditLedger{store: s, logger: logger, writeAttempts: store.DefaultAttempts}
}

// Balance returns the player's current credits. A player with no balance
// document has zero credits.
func (l *CreditLedger) Balance(ctx context.Context, playerID string) (int64, error) {
	doc, _, err := store.Read[model.CreditBalance](ctx, l.store, creditsKey(playerID))
	if err != nil {
		return 0, err
	}
	return doc.Credits, nil
}

// Debit removes amount from the player's balance. Replaying a debit whose
// trade id is already in history is a no-op success, not a double charge.
// Fails with ErrInsufficientCredits before writing anything if the balance
// would go negative.
func (l *CreditLedger) Debit(ctx context.Context, playerID string, amount int64, tradeID string) error {
	return l.apply(ctx, playerID, amount, tradeID, model.EntryDebit)
}

// Credit adds amount to the player's balance, idempotent on trade id.
func (l *CreditLedger) Credit(ctx context.Context, playerID string, amount int64, tradeID string) error {
	return l.apply(ctx, playerID, amount, tradeID, model.EntryCredit)
}

func (l *CreditLedger) apply(ctx context.Context, playerID string, amount int64, tradeID, entryType string) error {
	if amount < 0 {
		return ErrInvalidAmount
	}

	_, _, err := store.Update(ctx, l.store, creditsKey(playerID), l.writeAttempts, func(doc *model.CreditBalance) error {
		// A debit only counts as applied while it stands uncompensated: a
		// debit that was rolled back must be re-appliable under the same
		// trade id, or a retried purchase would charge the buyer nothing.
		if entryType == model.EntryDebit {
			if entryCount(doc, tradeID, model.EntryDebit) > entryCount(doc, tradeID, model.EntryRollback) {
				return store.ErrNoChange
			}
		} else if entryCount(doc, tradeID, entryType) > 0 {
			return store.ErrNoChange
		}
		if entryType == model.EntryDebit && doc.Credits < amount {
			return ErrInsufficientCredits
		}

		doc.PlayerID = playerID
		if entryType == model.EntryDebit {
			doc.Credits -= amount
		} else {
			doc.Credits += amount
		}
		record(doc, model.LedgerEntry{
			TradeID:   tradeID,
			Type:      entryType,
			Amount:    amount,
			Timestamp: time.Now().UTC(),
		})
		return nil
	})
	if err != nil {
		return err
	}

	l.logger.Debug("ledger entry applied",
		zap.String("player_id", playerID),
		zap.String("type", entryType),
		zap.Int64("amount", amount),
		zap.String("trade_id", tradeID))
	return nil
}

// RollbackDebit re-credits a previously debited amount. It only applies if
// the matching debit is present in history and has not already been
// reversed, so a rollback can neither invent credits nor run twice.
func (l *CreditLedger) RollbackDebit(ctx context.Context, playerID string, amount int64, tradeID string) error {
	if amount < 0 {
		return ErrInvalidAmount
	}

	_, _, err := store.Update(ctx, l.store, creditsKey(playerID), l.writeAttempts, func(doc *model.CreditBalance) error {
		// Same pairwise counting as the debit side: only an uncompensated
		// debit can be rolled back, and each debit at most once.
		debits := entryCount(doc, tradeID, model.EntryDebit)
		rollbacks := entryCount(doc, tradeID, model.EntryRollback)
		if debits == 0 {
			l.logger.Warn("rollback for debit that never landed",
				zap.String("player_id", playerID),
				zap.String("trade_id", tradeID))
			return store.ErrNoChange
		}
		if rollbacks >= debits {
			return store.ErrNoChange
		}

		doc.Credits += amount
		record(doc, model.LedgerEntry{
			TradeID:   tradeID,
			Type:      model.EntryRollback,
			Amount:    amount,
			Timestamp: time.Now().UTC(),
		})
		return nil
	})
	return err
}

// Deposit provisions credits outside any trade, e.g. for new players. Not
// part of the purchase path.
func (l *CreditLedger) Deposit(ctx context.Context, playerID string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, ErrInvalidAmount
	}

	doc, _, err := store.Update(ctx, l.store, creditsKey(playerID), l.writeAttempts, func(doc *model.CreditBalance) error {
		doc.PlayerID = playerID
		doc.Credits += amount
		return nil
	})
	if err != nil {
		return 0, err
	}
	return doc.Credits, nil
}

func entryCount(doc *model.CreditBalance, tradeID, entryType string) int {
	if tradeID == "" {
		return 0
	}
	n := 0
	for _, e := range doc.History {
		if e.TradeID == tradeID && e.Type == entryType {
			n++
		}
	}
	return n
}

func record(doc *model.CreditBalance, e model.LedgerEntry) {
	doc.LastTransaction = &e
	doc.History = append(doc.History, e)
	if len(doc.History) > historyCap {
		doc.History = doc.History[len(doc.History)-historyCap:]
	}
}
