package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuctionStatus defines the lifecycle status of an auction.
type AuctionStatus string

const (
	AuctionStatusOpen   AuctionStatus = "OPEN"
	AuctionStatusClosed AuctionStatus = "CLOSED"
	AuctionStatusSold   AuctionStatus = "SOLD"
)

// Auction is a single item open to bids until ClosesAt.
// It is read-only once loaded by a card.
type Auction struct {
	ID           uuid.UUID       `json:"id"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Location     string          `json:"location,omitempty"`
	InterestType string          `json:"interest_type,omitempty"`
	LeadScore    *int            `json:"lead_score,omitempty"`
	ClosesAt     time.Time       `json:"closes_at"`
	ReservePrice decimal.Decimal `json:"reserve_price"`
	Status       AuctionStatus   `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Bid represents a row in the bids table.
type Bid struct {
	ID        int64           `json:"id"`
	AuctionID uuid.UUID       `json:"auction_id"`
	BidderID  uuid.UUID       `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewBid holds the data needed to insert a bid.
type NewBid struct {
	AuctionID uuid.UUID       `json:"auction_id"`
	BidderID  uuid.UUID       `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// BidObservation is the engine's belief about the current highest bid.
// Amount is invalid until a bid exists.
type BidObservation struct {
	AuctionID     uuid.UUID           `json:"auction_id"`
	Amount        decimal.NullDecimal `json:"amount"`
	ObservedAtSeq int64               `json:"observed_at_seq"`
}

// LadderOption is one suggested next bid.
type LadderOption struct {
	IncrementPercent int             `json:"increment_percent"`
	Amount           decimal.Decimal `json:"amount"`
}
