package relay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sqlc-dev/pqtype"
)

// ErrBidNotFound is returned when a notified bid id has no row.
var ErrBidNotFound = errors.New("bid not found")

// BidRow is a bids row as read by the relay.
type BidRow struct {
	ID        int64
	Seq       int64
	AuctionID uuid.UUID
	BidderID  uuid.UUID
	Amount    decimal.Decimal
	Metadata  pqtype.NullRawMessage
	CreatedAt time.Time
}

// SQLStore reads bid rows through database/sql with the lib/pq driver.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const bidColumns = `id, seq, auction_id, bidder_id, amount, metadata, created_at`

func scanBid(row interface{ Scan(...any) error }) (BidRow, error) {
	var b BidRow
	err := row.Scan(&b.ID, &b.Seq, &b.AuctionID, &b.BidderID, &b.Amount, &b.Metadata, &b.CreatedAt)
	return b, err
}

// BidByID fetches one bid.
func (s *SQLStore) BidByID(ctx context.Context, id int64) (BidRow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, id)
	b, err := scanBid(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return BidRow{}, ErrBidNotFound
		}
		return BidRow{}, fmt.Errorf("failed to fetch bid %d: %w", id, err)
	}
	return b, nil
}

// BidsAfter fetches up to limit bids with id greater than afterID, oldest first.
func (s *SQLStore) BidsAfter(ctx context.Context, afterID int64, limit int) ([]BidRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE id > $1 ORDER BY id LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bids after %d: %w", afterID, err)
	}
	defer rows.Close()

	var out []BidRow
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// LatestBidID returns the highest bid id, or 0 when the table is empty.
func (s *SQLStore) LatestBidID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM bids`).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to fetch latest bid id: %w", err)
	}
	return id, nil
}
