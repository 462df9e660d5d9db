package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/astrogirlnim/Children-of-Singularity-sub003/internal/model"
)

// Client-side mirror of the server error taxonomy. The HTTP API maps status
// codes and error bodies onto these so the controller can pick a recovery
// action without string-matching in its own logic.
var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrNotFound            = errors.New("not found")
	ErrAlreadySold         = errors.New("already sold")
	ErrAlreadyCancelled    = errors.New("already cancelled")
	ErrPriceChanged        = errors.New("price changed")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrNotAuthorized       = errors.New("not authorized")
	ErrContention          = errors.New("storage contention")
)

// API is what the purchase controller drives. Implemented over HTTP in
// production and by fakes in tests.
type API interface {
	Buy(ctx context.Context, listingID string, req *model.BuyListingRequest) (*model.Trade, error)
	ActiveListings(ctx context.Context) ([]model.Listing, error)
	Balance(ctx context.Context, playerID string) (int64, error)
}

// HTTPAPI talks to the marketplace server boundary.
type HTTPAPI struct {
	baseURL string
	http    *http.Client
}

func NewHTTPAPI(baseURL string) *HTTPAPI {
	return &HTTPAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No client-level timeout: the controller's watchdog owns timing.
		http: &http.Client{},
	}
}

func (a *HTTPAPI) Buy(ctx context.Context, listingID string, req *model.BuyListingRequest) (*model.Trade, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/v1/market/listings/%s/buy", a.baseURL, listingID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var out struct {
			Trade *model.Trade `json:"trade"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, err
		}
		return out.Trade, nil
	}
	return nil, decodeError(resp)
}

func (a *HTTPAPI) ActiveListings(ctx context.Context) ([]model.Listing, error) {
	url := a.baseURL + "/api/v1/market/listings"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var out struct {
		Listings []model.Listing `json:"listings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Listings, nil
}

func (a *HTTPAPI) Balance(ctx context.Context, playerID string) (int64, error) {
	url := fmt.Sprintf("%s/api/v1/market/credits/%s", a.baseURL, playerID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, decodeError(resp)
	}

	var out struct {
		Credits int64 `json:"credits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.Credits, nil
}

// decodeError maps a non-2xx response onto the client error taxonomy.
func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	msg := body.Error

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrNotAuthorized, msg)
	case http.StatusConflict:
		switch {
		case strings.Contains(msg, "price"):
			return fmt.Errorf("%w: %s", ErrPriceChanged, msg)
		case strings.Contains(msg, "cancelled"):
			return fmt.Errorf("%w: %s", ErrAlreadyCancelled, msg)
		default:
			return fmt.Errorf("%w: %s", ErrAlreadySold, msg)
		}
	case http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s", ErrContention, msg)
	case http.StatusBadRequest:
		if strings.Contains(msg, "insufficient credits") {
			return fmt.Errorf("%w: %s", ErrInsufficientCredits, msg)
		}
		return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
	default:
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, msg)
	}
}
