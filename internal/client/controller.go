// Package client holds the client-resident purchase controller: the state
// machine that drives one buy attempt end to end, including the watchdog
// timeout and the optimistic-credit rollback. It is the only mutable state
// that lives outside the store, and it never survives a completed, failed,
// or timed-out attempt.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/astrogirlnim/Children-of-Singularity-sub003/internal/model"
)

// Controller states.
type State string

const (
	StateIdle             State = "idle"
	StateValidating       State = "validating"
	StateSending          State = "sending"
	StateAwaitingResponse State = "awaiting_response"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
	StateTimedOut         State = "timed_out"
)

// Recovery tells the UI what a failed attempt allows next. Every error
// category maps to exactly one action, so the machine can never dead-end in
// a stuck "processing" state.
type Recovery int

const (
	RecoveryNone     Recovery = iota
	RecoveryRetry             // same operation, after backoff
	RecoveryRefresh           // re-fetch authoritative state first
	RecoveryTerminal          // give up on this attempt
)

var (
	ErrPurchaseInFlight = errors.New("a purchase is already in flight")
	ErrListingInactive  = errors.New("listing is no longer active")
	ErrNotEnoughCredits = errors.New("not enough credits")
)

// DefaultTimeout is the watchdog bound on awaiting_response.
const DefaultTimeout = 15 * time.Second

// Result is the terminal outcome of one attempt.
type Result struct {
	State    State
	Trade    *model.Trade
	Err      error
	Recovery Recovery
}

// attempt is the ephemeral per-purchase state of spec'd shape: the listing
// snapshot, the optimistic hold, and the balance to restore on rollback.
type attempt struct {
	tradeID         string
	listing         model.Listing
	heldCredits     int64
	originalCredits int64
	startedAt       time.Time
}

// PurchaseController serializes purchase attempts for one player. One flight
// at a time; callers disable the initiating control while Busy() is true.
type PurchaseController struct {
	api      API
	logger   *zap.Logger
	playerID string
	name     string
	timeout  time.Duration

	mu       sync.Mutex
	state    State
	credits  int64 // optimistic local balance, refreshed from the server
	current  *attempt
	timedOut *attempt // kept so a retry reuses the same trade id
}

func NewPurchaseController(api API, logger *zap.Logger, playerID, playerName string, timeout time.Duration) *PurchaseController {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &PurchaseController{
		api:      api,
		logger:   logger,
		playerID: playerID,
		name:     playerName,
		timeout:  timeout,
		state:    StateIdle,
	}
}

func (p *PurchaseController) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *PurchaseController) Busy() bool {
	switch p.State() {
	case StateValidating, StateSending, StateAwaitingResponse:
		return true
	}
	return false
}

// Credits returns the local optimistic balance. After a timeout it is only
// trustworthy again once Refresh has run.
func (p *PurchaseController) Credits() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.credits
}

// Refresh pulls authoritative balance and listings from the server. This is
// the mandatory first action after a timeout: the controller never infers
// the server-side outcome from local state.
func (p *PurchaseController) Refresh(ctx context.Context) ([]model.Listing, error) {
	if p.Busy() {
		return nil, ErrPurchaseInFlight
	}

	credits, err := p.api.Balance(ctx, p.playerID)
	if err != nil {
		return nil, err
	}
	listings, err := p.api.ActiveListings(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.credits = credits
	p.mu.Unlock()
	return listings, nil
}

// Buy runs one purchase attempt against the listing snapshot the UI showed.
// It blocks until the attempt completes, fails, or the watchdog fires.
func (p *PurchaseController) Buy(ctx context.Context, listing model.Listing) Result {
	p.mu.Lock()
	if p.state == StateValidating || p.state == StateSending || p.state == StateAwaitingResponse {
		p.mu.Unlock()
		return Result{State: p.state, Err: ErrPurchaseInFlight, Recovery: RecoveryNone}
	}

	p.state = StateValidating
	if listing.Status != model.ListingActive {
		p.state = StateFailed
		p.mu.Unlock()
		return Result{State: StateFailed, Err: ErrListingInactive, Recovery: RecoveryRefresh}
	}
	if p.credits < listing.AskingPrice {
		p.state = StateFailed
		p.mu.Unlock()
		return Result{State: StateFailed, Err: ErrNotEnoughCredits, Recovery: RecoveryTerminal}
	}

	// Reuse the trade id of a timed-out attempt on the same listing so a
	// late-landing server-side completion is recognized as already done
	// instead of double-charged.
	tradeID := uuid.NewString()
	reused := false
	if p.timedOut != nil && p.timedOut.listing.ID == listing.ID {
		tradeID = p.timedOut.tradeID
		reused = true
	}

	att := &attempt{
		tradeID:         tradeID,
		listing:         listing,
		heldCredits:     listing.AskingPrice,
		originalCredits: p.credits,
		startedAt:       time.Now(),
	}
	p.current = att
	// Optimistic hold: immediate UI feedback and no double-submission.
	p.credits -= listing.AskingPrice
	p.state = StateSending
	p.mu.Unlock()

	req := &model.BuyListingRequest{
		BuyerID:       p.playerID,
		BuyerName:     p.name,
		TradeID:       att.tradeID,
		ExpectedPrice: listing.AskingPrice,
	}

	type outcome struct {
		trade *model.Trade
		err   error
	}
	done := make(chan outcome, 1)

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		trade, err := p.api.Buy(callCtx, listing.ID, req)
		done <- outcome{trade: trade, err: err}
	}()

	p.mu.Lock()
	p.state = StateAwaitingResponse
	p.mu.Unlock()

	watchdog := time.NewTimer(p.timeout)
	defer watchdog.Stop()

	select {
	case out := <-done:
		res := p.finish(att, out.trade, out.err)
		if reused && res.State == StateCompleted {
			// The server may have settled this trade before the earlier
			// timeout, in which case the refreshed balance already carried
			// the debit and the local hold double-counted it. The server is
			// authoritative; ask it.
			if credits, err := p.api.Balance(ctx, p.playerID); err == nil {
				p.mu.Lock()
				p.credits = credits
				p.mu.Unlock()
			}
		}
		return res

	case <-watchdog.C:
		// Server outcome unknown. Roll back the local hold, remember the
		// attempt for trade-id reuse, and force a refresh before anything
		// else trusts local state.
		p.mu.Lock()
		p.credits = att.originalCredits
		p.current = nil
		p.timedOut = att
		p.state = StateTimedOut
		p.mu.Unlock()
		p.logger.Warn("purchase timed out, server outcome unknown",
			zap.String("listing_id", listing.ID),
			zap.String("trade_id", att.tradeID))
		return Result{State: StateTimedOut, Err: context.DeadlineExceeded, Recovery: RecoveryRefresh}

	case <-ctx.Done():
		p.mu.Lock()
		p.credits = att.originalCredits
		p.current = nil
		p.timedOut = att
		p.state = StateTimedOut
		p.mu.Unlock()
		return Result{State: StateTimedOut, Err: ctx.Err(), Recovery: RecoveryRefresh}
	}
}

func (p *PurchaseController) finish(att *attempt, trade *model.Trade, err error) Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = nil

	if err == nil {
		// The hold becomes the real debit; discard any stale timed-out
		// attempt for this listing.
		if p.timedOut != nil && p.timedOut.listing.ID == att.listing.ID {
			p.timedOut = nil
		}
		p.state = StateCompleted
		return Result{State: StateCompleted, Trade: trade}
	}

	// Failed for sure: the hold is released in full.
	p.credits = att.originalCredits
	p.state = StateFailed
	return Result{State: StateFailed, Err: err, Recovery: classify(err)}
}

// classify maps the server error taxonomy to a recovery action.
func classify(err error) Recovery {
	switch {
	case errors.Is(err, ErrContention):
		return RecoveryRetry
	case errors.Is(err, ErrAlreadySold),
		errors.Is(err, ErrAlreadyCancelled),
		errors.Is(err, ErrPriceChanged):
		// Lost the race: refresh and pick a different listing.
		return RecoveryRefresh
	case errors.Is(err, ErrInsufficientCredits),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrNotAuthorized),
		errors.Is(err, ErrInvalidRequest):
		return RecoveryTerminal
	default:
		return RecoveryRefresh
	}
}
