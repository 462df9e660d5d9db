package model

import "encoding/json"

// Market event types pushed on the websocket feed.
const (
	EventTradeCompleted   = "trade_completed"
	EventListingPosted    = "listing_posted"
	EventListingCancelled = "listing_cancelled"
)

type WSEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}
