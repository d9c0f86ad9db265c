package feed

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/bidwidget/go/internal/auction/events"
	"github.com/rs/zerolog/log"
)

// subscription is the per-card handle returned by every feed. Done closes
// when the delivery goroutine exits, whether from Unsubscribe or from the
// transport going away.
type subscription struct {
	auctionID uuid.UUID
	handler   func(events.BidInserted)
	release   func() error

	once        sync.Once
	releaseOnce sync.Once
	releaseErr  error
	stop        chan struct{}
	done        chan struct{}
}

func newSubscription(auctionID uuid.UUID, handler func(events.BidInserted)) *subscription {
	return &subscription{
		auctionID: auctionID,
		handler:   handler,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Unsubscribe stops delivery, releases the transport and waits for the
// delivery goroutine. No handler call starts after it returns.
func (s *subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		err = s.releaseTransport()
	})
	<-s.done
	return err
}

// releaseTransport closes the underlying transport at most once, whichever
// of Unsubscribe or the delivery goroutine gets there first.
func (s *subscription) releaseTransport() error {
	s.releaseOnce.Do(func() {
		if s.release != nil {
			s.releaseErr = s.release()
		}
	})
	return s.releaseErr
}

func (s *subscription) Done() <-chan struct{} {
	return s.done
}

func (s *subscription) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// deliver hands a hint to the handler unless the subscription is stopped.
func (s *subscription) deliver(evt events.BidInserted) {
	if s.stopped() {
		return
	}
	s.handler(evt)
}

// finish marks the delivery goroutine as exited.
func (s *subscription) finish() {
	close(s.done)
}

// decodeHint parses a bus message. Messages are either an events.Envelope
// (NATS, Redis) or a bare events.BidInserted (Postgres trigger). A message
// that does not decode is still a hint for the subscribed auction.
func decodeHint(auctionID uuid.UUID, data []byte) events.BidInserted {
	var envelope struct {
		EventType string          `json:"eventType"`
		Payload   json.RawMessage `json:"payload"`
	}
	raw := data
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.EventType != "" {
		raw = envelope.Payload
	}

	var evt events.BidInserted
	if err := json.Unmarshal(raw, &evt); err != nil {
		log.Warn().
			Err(err).
			Str("auction_id", auctionID.String()).
			Msg("undecodable bid event, treating as hint")
		return events.BidInserted{AuctionID: auctionID}
	}
	if evt.AuctionID == uuid.Nil {
		evt.AuctionID = auctionID
	}
	return evt
}
