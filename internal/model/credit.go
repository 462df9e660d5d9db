package model

import "time"

// Ledger entry types.
const (
	EntryDebit    = "debit"
	EntryCredit   = "credit"
	EntryRollback = "rollback"
)

// LedgerEntry records one balance mutation. Every entry carries the trade id
// that caused it, which is what makes debit/credit replays detectable.
type LedgerEntry struct {
	TradeID   string    `json:"trade_id"`
	Type      string    `json:"type"`
	Amount    int64     `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// CreditBalance is a player's versioned balance document. Credits never go
// negative; any mutation that would do so fails before touching the store.
type CreditBalance struct {
	PlayerID        string        `json:"player_id"`
	Credits         int64         `json:"credits"`
	LastTransaction *LedgerEntry  `json:"last_transaction,omitempty"`
	History         []LedgerEntry `json:"history,omitempty"`
}
