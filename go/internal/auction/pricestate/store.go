package pricestate

import (
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/bidwidget/go/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Store holds the latest accepted highest-bid observation for one auction.
// Observations are accepted by sequence marker, not arrival order.
type Store struct {
	auctionID uuid.UUID

	mu        sync.RWMutex
	obs       models.BidObservation
	listeners map[int]func(models.BidObservation)
	nextID    int
}

// New creates a store with no observed bid.
func New(auctionID uuid.UUID) *Store {
	return &Store{
		auctionID: auctionID,
		obs:       models.BidObservation{AuctionID: auctionID},
		listeners: make(map[int]func(models.BidObservation)),
	}
}

// CurrentHighest returns the highest known bid, if any.
func (s *Store) CurrentHighest() (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.obs.Amount.Decimal, s.obs.Amount.Valid
}

// Observation returns a copy of the held observation.
func (s *Store) Observation() models.BidObservation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.obs
}

// Apply accepts obs only when its sequence is newer than the held one and
// reports whether it did. An accepted observation never lowers the held
// amount.
func (s *Store) Apply(obs models.BidObservation) bool {
	s.mu.Lock()
	if obs.AuctionID != s.auctionID {
		s.mu.Unlock()
		log.Warn().
			Str("auction_id", s.auctionID.String()).
			Str("observation_auction_id", obs.AuctionID.String()).
			Msg("dropping observation for another auction")
		return false
	}

	if obs.ObservedAtSeq <= s.obs.ObservedAtSeq {
		current := s.obs.ObservedAtSeq
		s.mu.Unlock()
		log.Debug().
			Str("auction_id", s.auctionID.String()).
			Int64("seq", obs.ObservedAtSeq).
			Int64("current_seq", current).
			Msg("dropping stale observation")
		return false
	}

	next := obs
	if s.obs.Amount.Valid && (!obs.Amount.Valid || obs.Amount.Decimal.LessThan(s.obs.Amount.Decimal)) {
		log.Warn().
			Str("auction_id", s.auctionID.String()).
			Int64("seq", obs.ObservedAtSeq).
			Str("held_amount", s.obs.Amount.Decimal.String()).
			Msg("observation would lower highest bid, keeping held amount")
		next.Amount = s.obs.Amount
	}
	s.obs = next

	listeners := make([]func(models.BidObservation), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
	return true
}

// OnChange registers fn to run after every accepted observation. The
// returned func removes it.
func (s *Store) OnChange(fn func(models.BidObservation)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}
