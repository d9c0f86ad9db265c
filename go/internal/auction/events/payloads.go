package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event payload types shared between the relay, the feeds and the gateway.

const (
	// EventTypeBidInserted is the only event type carried by the bid feeds.
	EventTypeBidInserted = "BidInserted"

	// StreamName is the JetStream stream holding bid insert events.
	StreamName = "AUCTION_BIDS"
)

// BidInserted is the payload for a BidInserted event. Consumers treat it as a
// hint to re-query the highest bid, not as authoritative data.
type BidInserted struct {
	BidID     int64           `json:"bid_id"`
	Seq       int64           `json:"seq,omitempty"`
	AuctionID uuid.UUID       `json:"auction_id"`
	BidderID  uuid.UUID       `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// Envelope wraps a payload on the message bus.
type Envelope struct {
	EventID   string      `json:"eventId"`
	EventType string      `json:"eventType"`
	AuctionID string      `json:"auctionId"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   BidInserted `json:"payload"`
}

// EventID is the deterministic id of the event for a bid row. The NATS
// publisher uses it for duplicate suppression.
func EventID(bidID int64) string {
	return fmt.Sprintf("bid-%d", bidID)
}

// NewEnvelope wraps a BidInserted payload.
func NewEnvelope(evt BidInserted, now time.Time) Envelope {
	return Envelope{
		EventID:   EventID(evt.BidID),
		EventType: EventTypeBidInserted,
		AuctionID: evt.AuctionID.String(),
		Timestamp: now,
		Payload:   evt,
	}
}

// NATSSubject returns the JetStream subject for an auction's bid events.
func NATSSubject(auctionID uuid.UUID) string {
	return fmt.Sprintf("auction.bids.%s", auctionID)
}

// NATSSubjectWildcard matches every auction's bid events.
const NATSSubjectWildcard = "auction.bids.>"

// RedisChannel returns the pub/sub channel for an auction's bid events.
func RedisChannel(auctionID uuid.UUID) string {
	return "auction:bids:" + auctionID.String()
}

// PostgresChannel returns the LISTEN channel the bids trigger notifies for an
// auction. Postgres identifiers cannot contain dashes.
func PostgresChannel(auctionID uuid.UUID) string {
	return "auction_bids_" + strings.ReplaceAll(auctionID.String(), "-", "")
}
