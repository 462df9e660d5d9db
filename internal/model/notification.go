package model

import "time"

// Notification types.
const (
	NotificationSale = "sale"
)

type Notification struct {
	ID               string    `json:"id"`
	Type             string    `json:"type"`
	TradeID          string    `json:"trade_id"`
	ItemName         string    `json:"item_name"`
	Quantity         int       `json:"quantity"`
	Price            int64     `json:"price"`
	CounterpartyName string    `json:"counterparty_name"`
	Read             bool      `json:"read"`
	CreatedAt        time.Time `json:"created_at"`
}
