// Package inventory is the boundary to the external player-data service
// that owns item inventories. The marketplace only ever asks it to move
// items in and out of a player's hold; it is not part of the transactional
// core and its failures never roll back credits.
package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/astrogirlnim/Children-of-Singularity-sub003/internal/model"
)

// Client is what the transaction coordinator consumes. RemoveItem validates
// ownership and quantity as a side effect: a seller cannot escrow what they
// do not hold.
type Client interface {
	AddItem(ctx context.Context, playerID string, itemType model.ItemType, itemName string, quantity int) error
	RemoveItem(ctx context.Context, playerID string, itemType model.ItemType, itemName string, quantity int) error
}

type itemPayload struct {
	ItemType model.ItemType `json:"item_type"`
	ItemName string         `json:"item_name"`
	Quantity int            `json:"quantity"`
}

// HTTPClient talks to the player-data API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPClient) AddItem(ctx context.Context, playerID string, itemType model.ItemType, itemName string, quantity int) error {
	return c.call(ctx, http.MethodPost, playerID, itemPayload{ItemType: itemType, ItemName: itemName, Quantity: quantity})
}

func (c *HTTPClient) RemoveItem(ctx context.Context, playerID string, itemType model.ItemType, itemName string, quantity int) error {
	return c.call(ctx, http.MethodDelete, playerID, itemPayload{ItemType: itemType, ItemName: itemName, Quantity: quantity})
}

func (c *HTTPClient) call(ctx context.Context, method, playerID string, payload itemPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/v1/players/%s/inventory", c.baseURL, playerID)
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("inventory service: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("inventory service: player %s not found", playerID)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("inventory service: item not owned or insufficient quantity")
	default:
		return fmt.Errorf("inventory service: unexpected status %d", resp.StatusCode)
	}
}
