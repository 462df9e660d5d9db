package model

import "time"

// Listing statuses. A listing is never deleted; it only transitions
// active -> sold or active -> cancelled and then stays immutable.
const (
	ListingActive    = "active"
	ListingSold      = "sold"
	ListingCancelled = "cancelled"
)

type Listing struct {
	ID          string     `json:"listing_id"`
	SellerID    string     `json:"seller_id"`
	SellerName  string     `json:"seller_name"`
	ItemType    ItemType   `json:"item_type"`
	ItemName    string     `json:"item_name"`
	Quantity    int        `json:"quantity"`
	AskingPrice int64      `json:"asking_price"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	BuyerID     *string    `json:"buyer_id,omitempty"`
	BuyerName   *string    `json:"buyer_name,omitempty"`
	SoldAt      *time.Time `json:"sold_at,omitempty"`
	// Version is the conditional-write token of the listings document at the
	// time this record was read. Opaque to callers.
	Version string `json:"version,omitempty"`
}

type CreateListingRequest struct {
	SellerID    string   `json:"seller_id"`
	SellerName  string   `json:"seller_name"`
	ItemType    ItemType `json:"item_type"`
	ItemName    string   `json:"item_name"`
	Quantity    int      `json:"quantity"`
	AskingPrice int64    `json:"asking_price"`
	Description string   `json:"description,omitempty"`
}

type BuyListingRequest struct {
	BuyerID   string `json:"buyer_id"`
	BuyerName string `json:"buyer_name"`
	// TradeID is client-generated and doubles as the idempotency key: a
	// retried request with the same TradeID recognizes its own prior success.
	TradeID string `json:"trade_id"`
	// ExpectedPrice is the price the buyer saw when deciding to buy. A
	// mismatch means the listing changed under them and the buy is refused.
	ExpectedPrice int64 `json:"expected_price"`
}

// Trade is the immutable record of a completed purchase. Exactly one Trade
// ever exists per sold listing.
type Trade struct {
	TradeID     string    `json:"trade_id"`
	ListingID   string    `json:"listing_id"`
	SellerID    string    `json:"seller_id"`
	SellerName  string    `json:"seller_name"`
	BuyerID     string    `json:"buyer_id"`
	BuyerName   string    `json:"buyer_name"`
	ItemType    ItemType  `json:"item_type"`
	ItemName    string    `json:"item_name"`
	Quantity    int       `json:"quantity"`
	FinalPrice  int64     `json:"final_price"`
	Fee         int64     `json:"fee,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}
