// Package repository implements the marketplace documents on top of the
// versioned store. Every mutation goes through store.Update: read the
// current version, compute the new document, conditional-write, retry from
// the read on conflict.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/astrogirlnim/Children-of-Singularity-sub003/internal/model"
	"github.com/astrogirlnim/Children-of-Singularity-sub003/internal/store"
)

const listingsKey = "market/listings"

var (
	ErrListingNotFound  = errors.New("listing not found")
	ErrAlreadySold      = errors.New("listing already sold")
	ErrAlreadyCancelled = errors.New("listing already cancelled")
	ErrNotListingOwner  = errors.New("not the listing owner")
	ErrTooManyListings  = errors.New("too many outstanding listings")
)

// listingsDoc is the single shared listings document. Listings are only ever
// appended and status-transitioned, never removed, so the document is also
// the audit history.
type listingsDoc struct {
	Listings []model.Listing `json:"listings"`
}

type ListingRepository struct {
	store         store.VersionedStore
	logger        *zap.Logger
	maxPerSeller  int
	writeAttempts int
}

func NewListingRepository(s store.VersionedStore, logger *zap.Logger, maxPerSeller int) *ListingRepository {
	return &ListingRepository{
		store:         s,
		logger:        logger,
		maxPerSeller:  maxPerSeller,
		writeAttempts: store.DefaultAttempts,
	}
}

// ListActive returns all listings still open for purchase.
func (r *ListingRepository) ListActive(ctx context.Context) ([]model.Listing, error) {
	doc, version, err := store.Read[listingsDoc](ctx, r.store, listingsKey)
	if err != nil {
		return nil, err
	}

	active := make([]model.Listing, 0, len(doc.Listings))
	for _, l := range doc.Listings {
		if l.Status == model.ListingActive {
			l.Version = version
			active = append(active, l)
		}
	}
	return active, nil
}

// ListBySeller returns every listing a seller has ever posted, newest first.
func (r *ListingRepository) ListBySeller(ctx context.Context, sellerID string) ([]model.Listing, error) {
	doc, version, err := store.Read[listingsDoc](ctx, r.store, listingsKey)
	if err != nil {
		return nil, err
	}

	var out []model.Listing
	for i := len(doc.Listings) - 1; i >= 0; i-- {
		if doc.Listings[i].SellerID == sellerID {
			l := doc.Listings[i]
			l.Version = version
			out = append(out, l)
		}
	}
	return out, nil
}

// GetByID fetches one listing regardless of status.
func (r *ListingRepository) GetByID(ctx context.Context, id string) (*model.Listing, error) {
	doc, version, err := store.Read[listingsDoc](ctx, r.store, listingsKey)
	if err != nil {
		return nil, err
	}
	for i := range doc.Listings {
		if doc.Listings[i].ID == id {
			l := doc.Listings[i]
			l.Version = version
			return &l, nil
		}
	}
	return nil, ErrListingNotFound
}

// Create appends a new active listing and returns it with its assigned id.
func (r *ListingRepository) Create(ctx context.Context, req *model.CreateListingRequest) (*model.Listing, error) {
	listing := model.Listing{
		ID:          uuid.NewString(),
		SellerID:    req.SellerID,
		SellerName:  req.SellerName,
		ItemType:    req.ItemType,
		ItemName:    req.ItemName,
		Quantity:    req.Quantity,
		AskingPrice: req.AskingPrice,
		Description: req.Description,
		Status:      model.ListingActive,
		CreatedAt:   time.Now().UTC(),
	}

	_, version, err := store.Update(ctx, r.store, listingsKey, r.writeAttempts, func(doc *listingsDoc) error {
		if r.maxPerSeller > 0 {
			open := 0
			for _, l := range doc.Listings {
				if l.SellerID == req.SellerID && l.Status == model.ListingActive {
					open++
				}
			}
			if open >= r.maxPerSeller {
				return ErrTooManyListings
			}
		}
		doc.Listings = append(doc.Listings, listing)
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("listing created",
		zap.String("listing_id", listing.ID),
		zap.String("seller_id", listing.SellerID),
		zap.String("item_name", listing.ItemName))

	listing.Version = version
	return &listing, nil
}

// MarkSold transitions a listing active -> sold. This is the linchpin of the
// no-double-sell guarantee: of N concurrent callers, exactly one conditional
// write lands; the rest re-read and observe the sold status.
func (r *ListingRepository) MarkSold(ctx context.Context, id, buyerID, buyerName string) (*model.Listing, error) {
	var sold model.Listing

	_, version, err := store.Update(ctx, r.store, listingsKey, r.writeAttempts, func(doc *listingsDoc) error {
		i, err := findListing(doc, id)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		doc.Listings[i].Status = model.ListingSold
		doc.Listings[i].BuyerID = &buyerID
		doc.Listings[i].BuyerName = &buyerName
		doc.Listings[i].SoldAt = &now
		sold = doc.Listings[i]
		return nil
	})
	if err != nil {
		return nil, err
	}

	sold.Version = version
	return &sold, nil
}

// Cancel transitions a listing active -> cancelled. Only the original seller
// may cancel.
func (r *ListingRepository) Cancel(ctx context.Context, id, requesterID string) (*model.Listing, error) {
	var cancelled model.Listing

	_, version, err := store.Update(ctx, r.store, listingsKey, r.writeAttempts, func(doc *listingsDoc) error {
		i, err := findListing(doc, id)
		if err != nil {
			return err
		}
		if doc.Listings[i].SellerID != requesterID {
			return ErrNotListingOwner
		}

		doc.Listings[i].Status = model.ListingCancelled
		cancelled = doc.Listings[i]
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("listing cancelled",
		zap.String("listing_id", id),
		zap.String("seller_id", requesterID))

	cancelled.Version = version
	return &cancelled, nil
}

// findListing locates an active listing or reports why it cannot be mutated.
// Called on every retry of the conditional write, so a caller that lost the
// race discovers the committed status on its re-read.
func findListing(doc *listingsDoc, id string) (int, error) {
	for i := range doc.Listings {
		if doc.Listings[i].ID != id {
			continue
		}
		switch doc.Listings[i].Status {
		case model.ListingActive:
			return i, nil
		case model.ListingSold:
			return 0, ErrAlreadySold
		case model.ListingCancelled:
			return 0, ErrAlreadyCancelled
		default:
			return 0, ErrListingNotFound
		}
	}
	return 0, ErrListingNotFound
}
