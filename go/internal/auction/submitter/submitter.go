package submitter

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/bidwidget/go/internal/auction/ladder"
	"github.com/mcdev12/bidwidget/go/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// IdentityProvider supplies the signed-in bidder, if any.
type IdentityProvider interface {
	Identity(ctx context.Context) (uuid.UUID, bool)
}

// BidWriter appends a bid row.
type BidWriter interface {
	InsertBid(ctx context.Context, bid models.NewBid) error
}

// Purchaser performs the server-side buy-now transaction.
type Purchaser interface {
	Purchase(ctx context.Context, auctionID, buyerID uuid.UUID) error
}

// Submitter serializes the bid and buy-now actions of one card. At most one
// action is in flight at a time.
type Submitter struct {
	auctionID uuid.UUID
	identity  IdentityProvider
	bids      BidWriter
	purchases Purchaser
	clock     clockwork.Clock

	mu       sync.Mutex
	pending  *models.PendingAction
	onChange func()
}

// New creates a submitter for one auction.
func New(auctionID uuid.UUID, identity IdentityProvider, bids BidWriter, purchases Purchaser, clock clockwork.Clock) *Submitter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Submitter{
		auctionID: auctionID,
		identity:  identity,
		bids:      bids,
		purchases: purchases,
		clock:     clock,
	}
}

// OnChange registers fn to run whenever the pending action appears or
// clears. It must be set before the first submission.
func (s *Submitter) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

func (s *Submitter) changed() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Pending returns the in-flight action, if any.
func (s *Submitter) Pending() (models.PendingAction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return models.PendingAction{}, false
	}
	return *s.pending, true
}

// SubmitBid places a bid for amount, which must be one of offered.
func (s *Submitter) SubmitBid(ctx context.Context, amount decimal.Decimal, offered []models.LadderOption) (models.PendingAction, error) {
	validate := func() error {
		if !ladder.Contains(offered, amount) {
			return &ValidationError{Amount: amount, Reason: "amount is not one of the offered bid options"}
		}
		return nil
	}

	return s.run(ctx, models.ActionKindBid, amount, validate, func(ctx context.Context, bidderID uuid.UUID) error {
		return s.bids.InsertBid(ctx, models.NewBid{
			AuctionID: s.auctionID,
			BidderID:  bidderID,
			Amount:    amount,
		})
	})
}

// BuyNow purchases the auction. price is the amount the user saw at click
// time; the backend computes the final price.
func (s *Submitter) BuyNow(ctx context.Context, price decimal.Decimal) (models.PendingAction, error) {
	return s.run(ctx, models.ActionKindPurchase, price, nil, func(ctx context.Context, buyerID uuid.UUID) error {
		return s.purchases.Purchase(ctx, s.auctionID, buyerID)
	})
}

func (s *Submitter) run(ctx context.Context, kind models.ActionKind, amount decimal.Decimal, validate func() error, call func(context.Context, uuid.UUID) error) (models.PendingAction, error) {
	s.mu.Lock()
	if s.pending != nil {
		s.mu.Unlock()
		log.Debug().
			Str("auction_id", s.auctionID.String()).
			Str("kind", string(kind)).
			Msg("ignoring submission while another is in flight")
		return models.PendingAction{}, ErrActionInFlight
	}

	if validate != nil {
		if err := validate(); err != nil {
			s.mu.Unlock()
			return models.PendingAction{}, err
		}
	}

	userID, ok := s.identity.Identity(ctx)
	if !ok {
		s.mu.Unlock()
		return models.PendingAction{}, &AuthenticationError{}
	}

	action := &models.PendingAction{
		Kind:      kind,
		Amount:    amount,
		Status:    models.ActionStatusInFlight,
		StartedAt: s.clock.Now(),
	}
	s.pending = action
	s.mu.Unlock()
	s.changed()

	log.Info().
		Str("auction_id", s.auctionID.String()).
		Str("user_id", userID.String()).
		Str("kind", string(kind)).
		Str("amount", amount.String()).
		Msg("submitting action")

	err := call(ctx, userID)

	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
	s.changed()

	result := *action
	if err != nil {
		result.Status = models.ActionStatusFailed
		log.Warn().
			Err(err).
			Str("auction_id", s.auctionID.String()).
			Str("kind", string(kind)).
			Msg("action rejected")
		return result, newBackendError(err)
	}

	result.Status = models.ActionStatusSucceeded
	log.Info().
		Str("auction_id", s.auctionID.String()).
		Str("kind", string(kind)).
		Str("amount", amount.String()).
		Msg("action succeeded")
	return result, nil
}
