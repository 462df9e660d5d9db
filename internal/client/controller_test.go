package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/astrogirlnim/Children-of-Singularity-sub003/internal/model"
)

// fakeAPI scripts server behavior per call and records every trade id it saw.
type fakeAPI struct {
	mu       sync.Mutex
	balance  int64
	listings []model.Listing
	tradeIDs []string

	buy func(call int, req *model.BuyListingRequest) (*model.Trade, error)
}

func (f *fakeAPI) Buy(ctx context.Context, listingID string, req *model.BuyListingRequest) (*model.Trade, error) {
	f.mu.Lock()
	f.tradeIDs = append(f.tradeIDs, req.TradeID)
	call := len(f.tradeIDs)
	f.mu.Unlock()
	return f.buy(call, req)
}

func (f *fakeAPI) ActiveListings(ctx context.Context) ([]model.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listings, nil
}

func (f *fakeAPI) Balance(ctx context.Context, playerID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeAPI) seenTradeIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tradeIDs...)
}

func activeListing(id string, price int64) model.Listing {
	return model.Listing{
		ID:          id,
		SellerID:    "seller",
		SellerName:  "Seller",
		ItemType:    model.ItemDebris,
		ItemName:    "scrap_metal",
		Quantity:    1,
		AskingPrice: price,
		Status:      model.ListingActive,
	}
}

func tradeFor(req *model.BuyListingRequest, listingID string, price int64) *model.Trade {
	return &model.Trade{
		TradeID:     req.TradeID,
		ListingID:   listingID,
		BuyerID:     req.BuyerID,
		FinalPrice:  price,
		CompletedAt: time.Now().UTC(),
	}
}

func newController(t *testing.T, api *fakeAPI, timeout time.Duration) *PurchaseController {
	t.Helper()
	ctrl := NewPurchaseController(api, zaptest.NewLogger(t), "buyer-1", "Buyer One", timeout)
	_, err := ctrl.Refresh(context.Background())
	require.NoError(t, err)
	return ctrl
}

func TestBuyCompletes(t *testing.T) {
	listing := activeListing("L1", 300)
	api := &fakeAPI{balance: 1000, listings: []model.Listing{listing}}
	api.buy = func(call int, req *model.BuyListingRequest) (*model.Trade, error) {
		return tradeFor(req, "L1", 300), nil
	}
	ctrl := newController(t, api, time.Second)

	res := ctrl.Buy(context.Background(), listing)
	require.NoError(t, res.Err)
	assert.Equal(t, StateCompleted, res.State)
	require.NotNil(t, res.Trade)
	assert.Equal(t, "L1", res.Trade.ListingID)

	// The hold became the real debit.
	assert.Equal(t, int64(700), ctrl.Credits())
	assert.False(t, ctrl.Busy())
}

func TestBuyRejectsInactiveListingAndKeepsCredits(t *testing.T) {
	listing := activeListing("L1", 300)
	listing.Status = model.ListingSold
	api := &fakeAPI{balance: 1000}
	ctrl := newController(t, api, time.Second)

	res := ctrl.Buy(context.Background(), listing)
	assert.ErrorIs(t, res.Err, ErrListingInactive)
	assert.Equal(t, RecoveryRefresh, res.Recovery)
	assert.Equal(t, int64(1000), ctrl.Credits())
	assert.Empty(t, api.seenTradeIDs(), "no request may leave the client")
}

func TestBuyRejectsUnaffordableListing(t *testing.T) {
	listing := activeListing("L1", 3000)
	api := &fakeAPI{balance: 1000}
	ctrl := newController(t, api, time.Second)

	res := ctrl.Buy(context.Background(), listing)
	assert.ErrorIs(t, res.Err, ErrNotEnoughCredits)
	assert.Equal(t, RecoveryTerminal, res.Recovery)
	assert.Empty(t, api.seenTradeIDs())
}

func TestWatchdogTimeoutRollsBackHold(t *testing.T) {
	listing := activeListing("L1", 300)
	block := make(chan struct{})
	api := &fakeAPI{balance: 1000, listings: []model.Listing{listing}}
	api.buy = func(call int, req *model.BuyListingRequest) (*model.Trade, error) {
		<-block
		return tradeFor(req, "L1", 300), nil
	}
	ctrl := newController(t, api, 30*time.Millisecond)

	res := ctrl.Buy(context.Background(), listing)
	close(block)

	assert.Equal(t, StateTimedOut, res.State)
	assert.Equal(t, RecoveryRefresh, res.Recovery)
	// The optimistic hold is restored in full.
	assert.Equal(t, int64(1000), ctrl.Credits())
	assert.False(t, ctrl.Busy())
}

func TestRetryAfterTimeoutReusesTradeID(t *testing.T) {
	listing := activeListing("L1", 300)
	block := make(chan struct{})
	api := &fakeAPI{balance: 1000, listings: []model.Listing{listing}}
	api.buy = func(call int, req *model.BuyListingRequest) (*model.Trade, error) {
		if call == 1 {
			<-block
		}
		return tradeFor(req, "L1", 300), nil
	}
	ctrl := newController(t, api, 30*time.Millisecond)

	res := ctrl.Buy(context.Background(), listing)
	require.Equal(t, StateTimedOut, res.State)
	close(block)

	// Mandatory refresh before the retry.
	_, err := ctrl.Refresh(context.Background())
	require.NoError(t, err)

	res = ctrl.Buy(context.Background(), listing)
	require.Equal(t, StateCompleted, res.State)

	seen := api.seenTradeIDs()
	require.Len(t, seen, 2)
	assert.Equal(t, seen[0], seen[1],
		"the retry must carry the timed-out attempt's trade id so the server can detect a replay")
}

func TestRetryAfterServerSideCompletionDoesNotDoubleCharge(t *testing.T) {
	listing := activeListing("L1", 300)
	block := make(chan struct{})
	api := &fakeAPI{balance: 1000, listings: []model.Listing{listing}}
	api.buy = func(call int, req *model.BuyListingRequest) (*model.Trade, error) {
		if call == 1 {
			<-block
		}
		return tradeFor(req, "L1", 300), nil
	}
	ctrl := newController(t, api, 30*time.Millisecond)

	res := ctrl.Buy(context.Background(), listing)
	require.Equal(t, StateTimedOut, res.State)
	close(block)

	// The first request actually landed server-side before the watchdog
	// fired; the authoritative balance already carries the debit.
	api.mu.Lock()
	api.balance = 700
	api.mu.Unlock()

	_, err := ctrl.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(700), ctrl.Credits())

	// The retry is recognized as a replay. The local balance must settle on
	// the authoritative 700, not hold the price a second time.
	res = ctrl.Buy(context.Background(), listing)
	require.Equal(t, StateCompleted, res.State)
	assert.Equal(t, int64(700), ctrl.Credits())
}

func TestFreshListingGetsFreshTradeID(t *testing.T) {
	first := activeListing("L1", 300)
	second := activeListing("L2", 200)
	block := make(chan struct{})
	api := &fakeAPI{balance: 1000, listings: []model.Listing{first, second}}
	api.buy = func(call int, req *model.BuyListingRequest) (*model.Trade, error) {
		if call == 1 {
			<-block
		}
		return tradeFor(req, req.TradeID, 0), nil
	}
	ctrl := newController(t, api, 30*time.Millisecond)

	res := ctrl.Buy(context.Background(), first)
	require.Equal(t, StateTimedOut, res.State)
	close(block)

	_, err := ctrl.Refresh(context.Background())
	require.NoError(t, err)

	res = ctrl.Buy(context.Background(), second)
	require.Equal(t, StateCompleted, res.State)

	seen := api.seenTradeIDs()
	require.Len(t, seen, 2)
	assert.NotEqual(t, seen[0], seen[1],
		"a different listing is a new purchase, never a replay")
}

func TestServerErrorReleasesHoldAndClassifies(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Recovery
	}{
		{"lost race", ErrAlreadySold, RecoveryRefresh},
		{"cancelled under us", ErrAlreadyCancelled, RecoveryRefresh},
		{"stale price", ErrPriceChanged, RecoveryRefresh},
		{"contention", ErrContention, RecoveryRetry},
		{"server-side insufficient", ErrInsufficientCredits, RecoveryTerminal},
		{"vanished listing", ErrNotFound, RecoveryTerminal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			listing := activeListing("L1", 300)
			api := &fakeAPI{balance: 1000, listings: []model.Listing{listing}}
			api.buy = func(call int, req *model.BuyListingRequest) (*model.Trade, error) {
				return nil, tc.err
			}
			ctrl := newController(t, api, time.Second)

			res := ctrl.Buy(context.Background(), listing)
			assert.Equal(t, StateFailed, res.State)
			assert.ErrorIs(t, res.Err, tc.err)
			assert.Equal(t, tc.want, res.Recovery)
			assert.Equal(t, int64(1000), ctrl.Credits(),
				"a definite failure restores the exact original balance")
		})
	}
}

func TestSingleFlight(t *testing.T) {
	listing := activeListing("L1", 300)
	entered := make(chan struct{})
	block := make(chan struct{})
	api := &fakeAPI{balance: 1000, listings: []model.Listing{listing}}
	api.buy = func(call int, req *model.BuyListingRequest) (*model.Trade, error) {
		close(entered)
		<-block
		return tradeFor(req, "L1", 300), nil
	}
	ctrl := newController(t, api, time.Second)

	var first Result
	done := make(chan struct{})
	go func() {
		first = ctrl.Buy(context.Background(), listing)
		close(done)
	}()
	<-entered

	assert.True(t, ctrl.Busy())
	second := ctrl.Buy(context.Background(), listing)
	assert.ErrorIs(t, second.Err, ErrPurchaseInFlight)

	close(block)
	<-done
	require.Equal(t, StateCompleted, first.State)
	require.Len(t, api.seenTradeIDs(), 1)
}

func TestRefreshOverwritesOptimisticBalance(t *testing.T) {
	listing := activeListing("L1", 300)
	api := &fakeAPI{balance: 1000, listings: []model.Listing{listing}}
	api.buy = func(call int, req *model.BuyListingRequest) (*model.Trade, error) {
		return tradeFor(req, "L1", 300), nil
	}
	ctrl := newController(t, api, time.Second)

	res := ctrl.Buy(context.Background(), listing)
	require.Equal(t, StateCompleted, res.State)
	assert.Equal(t, int64(700), ctrl.Credits())

	// Server is authoritative: the debit landed there too.
	api.mu.Lock()
	api.balance = 700
	api.mu.Unlock()

	listings, err := ctrl.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(700), ctrl.Credits())
	assert.Len(t, listings, 1)
}
