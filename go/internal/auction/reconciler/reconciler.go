package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mcdev12/bidwidget/go/internal/auction/events"
	"github.com/mcdev12/bidwidget/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ErrTornDown is returned when Start is called after Stop.
var ErrTornDown = errors.New("reconciler torn down")

// HighestBidFetcher runs the one-shot highest-bid query.
type HighestBidFetcher interface {
	HighestBid(ctx context.Context, auctionID uuid.UUID) (models.BidObservation, error)
}

// Applier is the price state the reconciler writes to.
type Applier interface {
	Apply(obs models.BidObservation) bool
}

// ChangeFeed delivers bid insert hints for one auction. Delivery is
// at-least-once and unordered.
type ChangeFeed interface {
	Subscribe(ctx context.Context, auctionID uuid.UUID, handler func(events.BidInserted)) (Subscription, error)
}

// Subscription is the handle a card owns for the lifetime of its feed.
// Done is closed when the underlying connection is lost.
type Subscription interface {
	Unsubscribe() error
	Done() <-chan struct{}
}

// State is the subscription state of a reconciler.
type State int32

const (
	StateDisconnected State = iota
	StateSubscribing
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateSubscribing:
		return "subscribing"
	case StateSubscribed:
		return "subscribed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Reconciler keeps a price store consistent with the bid change feed by
// re-querying the highest bid on every hint.
type Reconciler struct {
	auctionID uuid.UUID
	feed      ChangeFeed
	fetcher   HighestBidFetcher
	store     Applier

	mu     sync.Mutex
	state  State
	sub    Subscription
	cancel context.CancelFunc
	done   chan struct{}

	refreshCh chan struct{}
	tornDown  atomic.Bool
	received  atomic.Uint64
}

// New creates a disconnected reconciler.
func New(auctionID uuid.UUID, feed ChangeFeed, fetcher HighestBidFetcher, store Applier) *Reconciler {
	return &Reconciler{
		auctionID: auctionID,
		feed:      feed,
		fetcher:   fetcher,
		store:     store,
		state:     StateDisconnected,
		refreshCh: make(chan struct{}, 1),
	}
}

// State returns the current subscription state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// EventsReceived returns how many feed events were accepted as hints.
func (r *Reconciler) EventsReceived() uint64 {
	return r.received.Load()
}

// Start subscribes to the feed and then seeds the store with one fetch.
// Subscribing first means no insert between the two can be missed.
func (r *Reconciler) Start(ctx context.Context) error {
	if r.tornDown.Load() {
		return ErrTornDown
	}

	r.mu.Lock()
	// Stop may have run between the check above and taking the lock.
	if r.tornDown.Load() {
		r.mu.Unlock()
		return ErrTornDown
	}
	if r.state != StateDisconnected || r.done != nil {
		r.mu.Unlock()
		return nil
	}
	r.state = StateSubscribing
	log.Debug().Str("auction_id", r.auctionID.String()).Msg("subscribing to bid feed")

	loopCtx, cancel := context.WithCancel(ctx)
	sub, err := r.feed.Subscribe(loopCtx, r.auctionID, r.handleEvent)
	if err != nil {
		r.state = StateDisconnected
		r.mu.Unlock()
		cancel()
		return fmt.Errorf("subscribe to bid feed: %w", err)
	}

	r.sub = sub
	r.cancel = cancel
	r.done = make(chan struct{})
	r.state = StateSubscribed
	done := r.done
	r.mu.Unlock()

	go r.loop(loopCtx, sub, done)

	log.Info().Str("auction_id", r.auctionID.String()).Msg("subscribed to bid feed")

	if err := r.Refresh(loopCtx); err != nil {
		log.Error().
			Err(err).
			Str("auction_id", r.auctionID.String()).
			Msg("initial highest bid fetch failed")
	}
	return nil
}

// handleEvent is the feed callback. The payload is only a hint; events
// after teardown are discarded.
func (r *Reconciler) handleEvent(evt events.BidInserted) {
	if r.tornDown.Load() {
		log.Debug().
			Str("auction_id", r.auctionID.String()).
			Int64("bid_id", evt.BidID).
			Msg("discarding bid event after teardown")
		return
	}
	r.received.Add(1)

	log.Debug().
		Str("auction_id", r.auctionID.String()).
		Int64("bid_id", evt.BidID).
		Msg("bid event received, scheduling refresh")

	// A pending signal already guarantees a fetch that starts after this event.
	select {
	case r.refreshCh <- struct{}{}:
	default:
	}
}

func (r *Reconciler) loop(ctx context.Context, sub Subscription, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			r.mu.Lock()
			r.state = StateDisconnected
			r.mu.Unlock()
			if !r.tornDown.Load() {
				log.Warn().Str("auction_id", r.auctionID.String()).Msg("bid feed connection lost")
			}
			return
		case <-r.refreshCh:
			if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
				log.Error().
					Err(err).
					Str("auction_id", r.auctionID.String()).
					Msg("highest bid refresh failed")
			}
		}
	}
}

// Refresh runs the highest-bid query and applies the result.
func (r *Reconciler) Refresh(ctx context.Context) error {
	obs, err := r.fetcher.HighestBid(ctx, r.auctionID)
	if err != nil {
		return fmt.Errorf("fetch highest bid: %w", err)
	}
	if r.tornDown.Load() {
		return nil
	}

	if r.store.Apply(obs) {
		log.Debug().
			Str("auction_id", r.auctionID.String()).
			Int64("seq", obs.ObservedAtSeq).
			Msg("applied highest bid observation")
	}
	return nil
}

// Stop unsubscribes and waits for the refresh loop to exit. Safe to call
// more than once.
func (r *Reconciler) Stop() {
	r.tornDown.Store(true)

	r.mu.Lock()
	sub, cancel, done := r.sub, r.cancel, r.done
	r.sub = nil
	r.cancel = nil
	r.state = StateDisconnected
	r.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			log.Error().Err(err).Str("auction_id", r.auctionID.String()).Msg("failed to unsubscribe from bid feed")
		}
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	log.Debug().Str("auction_id", r.auctionID.String()).Msg("reconciler stopped")
}
