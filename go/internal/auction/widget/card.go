package widget

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/bidwidget/go/internal/auction/countdown"
	"github.com/mcdev12/bidwidget/go/internal/auction/ladder"
	"github.com/mcdev12/bidwidget/go/internal/auction/pricestate"
	"github.com/mcdev12/bidwidget/go/internal/auction/reconciler"
	"github.com/mcdev12/bidwidget/go/internal/auction/submitter"
	"github.com/mcdev12/bidwidget/go/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ErrTornDown is returned by actions on a card that has been torn down.
var ErrTornDown = errors.New("auction card torn down")

// Policy holds the pricing knobs of a card.
type Policy struct {
	IncrementPercents []int
	BuyNowMarkup      decimal.Decimal
}

// DefaultPolicy returns the 10/20/30 ladder with a 1.5 buy-now markup.
func DefaultPolicy() Policy {
	return Policy{
		IncrementPercents: append([]int(nil), ladder.DefaultPercents...),
		BuyNowMarkup:      ladder.DefaultBuyNowMarkup,
	}
}

// Sink receives everything a card wants to show.
type Sink interface {
	ViewChanged(view View)
	Notify(n models.Notification)
}

// View is a full snapshot of what a card displays.
type View struct {
	AuctionID      uuid.UUID             `json:"auction_id"`
	Title          string                `json:"title"`
	Description    string                `json:"description,omitempty"`
	Location       string                `json:"location,omitempty"`
	InterestType   string                `json:"interest_type,omitempty"`
	LeadScore      *int                  `json:"lead_score,omitempty"`
	TimeRemaining  string                `json:"time_remaining"`
	Ended          bool                  `json:"ended"`
	ReservePrice   decimal.Decimal       `json:"reserve_price"`
	CurrentHighest decimal.NullDecimal   `json:"current_highest"`
	Ladder         []models.LadderOption `json:"ladder"`
	BuyNowPrice    decimal.Decimal       `json:"buy_now_price"`
	Pending        *models.PendingAction `json:"pending,omitempty"`
}

// Deps are the collaborators of a card.
type Deps struct {
	Auction   models.Auction
	Policy    Policy
	Clock     clockwork.Clock
	Fetcher   reconciler.HighestBidFetcher
	Feed      reconciler.ChangeFeed
	Bids      submitter.BidWriter
	Purchases submitter.Purchaser
	Identity  submitter.IdentityProvider
	Sink      Sink
}

// Card is the bidding engine behind one rendered auction card.
type Card struct {
	auction    models.Auction
	policy     Policy
	store      *pricestate.Store
	reconciler *reconciler.Reconciler
	countdown  *countdown.Countdown
	submitter  *submitter.Submitter
	sink       Sink

	mu          sync.Mutex
	label       string
	mounted     bool
	closed      bool
	cancelStore func()

	publishMu sync.Mutex
}

// withDefaults fills each unset knob from DefaultPolicy independently.
func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if len(p.IncrementPercents) == 0 {
		p.IncrementPercents = def.IncrementPercents
	}
	if p.BuyNowMarkup.IsZero() {
		p.BuyNowMarkup = def.BuyNowMarkup
	}
	return p
}

// New wires a card. Nothing runs until Mount.
func New(d Deps) *Card {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	d.Policy = d.Policy.withDefaults()

	c := &Card{
		auction: d.Auction,
		policy:  d.Policy,
		store:   pricestate.New(d.Auction.ID),
		sink:    d.Sink,
	}
	c.reconciler = reconciler.New(d.Auction.ID, d.Feed, d.Fetcher, c.store)
	c.countdown = countdown.New(d.Clock, d.Auction.ClosesAt, c.onTick)
	c.submitter = submitter.New(d.Auction.ID, d.Identity, d.Bids, d.Purchases, d.Clock)
	c.submitter.OnChange(c.publish)
	return c
}

// Mount subscribes to the bid feed, seeds the highest bid and starts the
// countdown.
func (c *Card) Mount(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrTornDown
	}
	if c.mounted {
		c.mu.Unlock()
		return nil
	}
	c.mounted = true
	c.cancelStore = c.store.OnChange(func(models.BidObservation) { c.publish() })
	c.mu.Unlock()

	if err := c.countdown.Start(ctx); err != nil {
		return fmt.Errorf("start countdown: %w", err)
	}
	if err := c.reconciler.Start(ctx); err != nil {
		c.countdown.Stop()
		return fmt.Errorf("start reconciler: %w", err)
	}

	log.Info().
		Str("auction_id", c.auction.ID.String()).
		Msg("auction card mounted")

	c.publish()
	return nil
}

// Teardown stops the countdown and the feed subscription. Results of
// actions that finish afterwards are dropped.
func (c *Card) Teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancelStore := c.cancelStore
	c.mu.Unlock()

	c.countdown.Stop()
	c.reconciler.Stop()
	if cancelStore != nil {
		cancelStore()
	}

	log.Info().
		Str("auction_id", c.auction.ID.String()).
		Msg("auction card torn down")
}

func (c *Card) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Card) onTick(label string) {
	c.mu.Lock()
	c.label = label
	c.mu.Unlock()
	c.publish()
}

// Ladder returns the bid options for the current highest bid.
func (c *Card) Ladder() []models.LadderOption {
	return ladder.Compute(c.base(), c.policy.IncrementPercents)
}

// BuyNowPrice returns the buy-now price for the current highest bid.
func (c *Card) BuyNowPrice() decimal.Decimal {
	return ladder.BuyNowPrice(c.base(), c.policy.BuyNowMarkup)
}

func (c *Card) base() decimal.Decimal {
	return ladder.Base(c.store.Observation(), c.auction.ReservePrice)
}

// Snapshot builds the current view.
func (c *Card) Snapshot() View {
	c.mu.Lock()
	label := c.label
	c.mu.Unlock()

	obs := c.store.Observation()
	base := ladder.Base(obs, c.auction.ReservePrice)

	view := View{
		AuctionID:      c.auction.ID,
		Title:          c.auction.Title,
		Description:    c.auction.Description,
		Location:       c.auction.Location,
		InterestType:   c.auction.InterestType,
		LeadScore:      c.auction.LeadScore,
		TimeRemaining:  label,
		Ended:          label == countdown.EndedLabel,
		ReservePrice:   c.auction.ReservePrice,
		CurrentHighest: obs.Amount,
		Ladder:         ladder.Compute(base, c.policy.IncrementPercents),
		BuyNowPrice:    ladder.BuyNowPrice(base, c.policy.BuyNowMarkup),
	}
	if pending, ok := c.submitter.Pending(); ok {
		view.Pending = &pending
	}
	return view
}

func (c *Card) publish() {
	if c.sink == nil || c.isClosed() {
		return
	}
	c.publishMu.Lock()
	defer c.publishMu.Unlock()
	c.sink.ViewChanged(c.Snapshot())
}

// PlaceBid submits amount, which must be one of the current ladder options.
// A call while another action is in flight is ignored.
func (c *Card) PlaceBid(ctx context.Context, amount decimal.Decimal) error {
	if c.isClosed() {
		return ErrTornDown
	}

	_, err := c.submitter.SubmitBid(ctx, amount, c.Ladder())
	if errors.Is(err, submitter.ErrActionInFlight) {
		return nil
	}
	c.report(err, models.Notification{
		Level:   models.NotificationSuccess,
		Title:   "Bid placed",
		Message: fmt.Sprintf("Your bid of %s has been placed.", amount.StringFixed(0)),
		Amount:  &amount,
	})
	return err
}

// BuyNow purchases the auction at the price shown right now.
func (c *Card) BuyNow(ctx context.Context) error {
	if c.isClosed() {
		return ErrTornDown
	}

	price := c.BuyNowPrice()
	_, err := c.submitter.BuyNow(ctx, price)
	if errors.Is(err, submitter.ErrActionInFlight) {
		return nil
	}
	c.report(err, models.Notification{
		Level:   models.NotificationSuccess,
		Title:   "Purchase submitted",
		Message: fmt.Sprintf("Buy now at %s was accepted.", price.StringFixed(0)),
		Amount:  &price,
	})
	return err
}

// report surfaces the outcome of an action unless the card is gone.
func (c *Card) report(err error, success models.Notification) {
	if c.isClosed() {
		log.Debug().
			Str("auction_id", c.auction.ID.String()).
			Msg("dropping action result after teardown")
		return
	}
	if c.sink == nil {
		return
	}

	if err == nil {
		c.sink.Notify(success)
		return
	}
	c.sink.Notify(models.Notification{
		Level:   models.NotificationError,
		Title:   errorTitle(err),
		Message: err.Error(),
	})
}

func errorTitle(err error) string {
	var (
		verr *submitter.ValidationError
		aerr *submitter.AuthenticationError
		berr *submitter.BackendError
	)
	switch {
	case errors.As(err, &verr):
		return "Invalid bid"
	case errors.As(err, &aerr):
		return "Sign in required"
	case errors.As(err, &berr):
		return "Request rejected"
	default:
		return "Something went wrong"
	}
}
