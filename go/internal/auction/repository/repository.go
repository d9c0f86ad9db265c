package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/bidwidget/go/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ErrAuctionNotFound is returned when no auction matches the id.
var ErrAuctionNotFound = errors.New("auction not found")

// RejectedError is a rejection raised by the database (trigger or
// function). Reason is the server message, unmodified.
type RejectedError struct {
	Code   string
	Reason string
	Err    error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected by database (%s): %s", e.Code, e.Reason)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// RejectionReason returns the user-facing reason.
func (e *RejectedError) RejectionReason() string { return e.Reason }

// DB is the subset of pgxpool.Pool the repository uses.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ DB = (*pgxpool.Pool)(nil)

// Repository implements the backend collaborators on Postgres.
type Repository struct {
	db DB
}

// NewRepository creates a new repository.
func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

// NewPool opens a pgx pool and verifies it.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return pool, nil
}

const getAuctionSQL = `
SELECT id, title, description, location, interest_type, lead_score,
       closes_at, reserve_price::text, status, created_at
FROM auctions
WHERE id = $1`

// GetAuction loads an auction.
func (r *Repository) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	var (
		a       models.Auction
		reserve string
		status  string
	)
	err := r.db.QueryRow(ctx, getAuctionSQL, id).Scan(
		&a.ID, &a.Title, &a.Description, &a.Location, &a.InterestType, &a.LeadScore,
		&a.ClosesAt, &reserve, &status, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAuctionNotFound
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}

	a.ReservePrice, err = decimal.NewFromString(reserve)
	if err != nil {
		return nil, fmt.Errorf("failed to parse reserve price %q: %w", reserve, err)
	}
	a.Status = models.AuctionStatus(status)
	return &a, nil
}

// highestBidSQL returns the maximal amount (NULL when no bids) with the
// auction's bid_seq counter, both from one snapshot. bid_seq is bumped by the
// insert trigger while it holds the auction row lock, so it only ever grows
// in commit order; bids.id does not, since sequence values are handed out
// before the lock is taken.
const highestBidSQL = `
SELECT top.amount::text, a.bid_seq
FROM auctions a
LEFT JOIN LATERAL (
    SELECT amount FROM bids WHERE auction_id = a.id ORDER BY amount DESC, seq DESC LIMIT 1
) top ON true
WHERE a.id = $1`

// HighestBid runs the one-shot highest-bid query.
func (r *Repository) HighestBid(ctx context.Context, auctionID uuid.UUID) (models.BidObservation, error) {
	var (
		amount *string
		seq    int64
	)
	if err := r.db.QueryRow(ctx, highestBidSQL, auctionID).Scan(&amount, &seq); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.BidObservation{}, ErrAuctionNotFound
		}
		return models.BidObservation{}, fmt.Errorf("failed to query highest bid: %w", err)
	}

	obs := models.BidObservation{AuctionID: auctionID, ObservedAtSeq: seq}
	if amount != nil {
		d, err := decimal.NewFromString(*amount)
		if err != nil {
			return models.BidObservation{}, fmt.Errorf("failed to parse bid amount %q: %w", *amount, err)
		}
		obs.Amount = decimal.NewNullDecimal(d)
	}
	return obs, nil
}

const insertBidSQL = `
INSERT INTO bids (auction_id, bidder_id, amount)
VALUES ($1, $2, $3::numeric)`

// InsertBid appends a bid. Trigger rejections come back as *RejectedError.
func (r *Repository) InsertBid(ctx context.Context, bid models.NewBid) error {
	if bid.BidderID == uuid.Nil {
		return &RejectedError{Code: "local", Reason: "bidder identity is required"}
	}

	_, err := r.db.Exec(ctx, insertBidSQL, bid.AuctionID, bid.BidderID, bid.Amount.String())
	if err != nil {
		return translate(err, "failed to insert bid")
	}

	log.Debug().
		Str("auction_id", bid.AuctionID.String()).
		Str("bidder_id", bid.BidderID.String()).
		Str("amount", bid.Amount.String()).
		Msg("bid inserted")
	return nil
}

const purchaseSQL = `SELECT buy_now($1, $2)::text`

// Purchase runs the server-side buy-now transaction.
func (r *Repository) Purchase(ctx context.Context, auctionID, buyerID uuid.UUID) error {
	var price string
	if err := r.db.QueryRow(ctx, purchaseSQL, auctionID, buyerID).Scan(&price); err != nil {
		return translate(err, "failed to purchase auction")
	}

	log.Info().
		Str("auction_id", auctionID.String()).
		Str("buyer_id", buyerID.String()).
		Str("price", price).
		Msg("auction purchased")
	return nil
}

// translate keeps server-raised messages verbatim and wraps everything else.
func translate(err error, msg string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &RejectedError{Code: pgErr.Code, Reason: pgErr.Message, Err: err}
	}
	return fmt.Errorf("%s: %w", msg, err)
}
