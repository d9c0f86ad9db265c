package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/bidwidget/go/internal/dbconfig"
	"github.com/mcdev12/bidwidget/go/internal/sqlutil"
	"github.com/mcdev12/bidwidget/go/migrations"
)

// SeedFile mirrors assets/auctions.yaml
type SeedFile struct {
	Auctions []SeedAuction `yaml:"auctions"`
}

type SeedAuction struct {
	Title        string           `yaml:"title"`
	Description  string           `yaml:"description"`
	Location     string           `yaml:"location"`
	InterestType string           `yaml:"interest_type"`
	LeadScore    *int             `yaml:"lead_score"`
	ReservePrice string           `yaml:"reserve_price"`
	ClosesIn     time.Duration    `yaml:"closes_in"`
	Bids         []SeedOpeningBid `yaml:"bids"`
}

type SeedOpeningBid struct {
	Amount   string         `yaml:"amount"`
	Metadata map[string]any `yaml:"metadata"`
}

type seedQueries struct {
	tx *sql.Tx
}

func (q *seedQueries) insertAuction(ctx context.Context, a SeedAuction, closesAt time.Time) (uuid.UUID, error) {
	reserve, err := decimal.NewFromString(a.ReservePrice)
	if err != nil {
		return uuid.Nil, fmt.Errorf("reserve_price %q: %w", a.ReservePrice, err)
	}
	id := uuid.New()
	_, err = q.tx.ExecContext(ctx, `
        INSERT INTO auctions (id, title, description, location, interest_type, lead_score, closes_at, reserve_price)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, a.Title, a.Description, a.Location, a.InterestType, a.LeadScore, closesAt, reserve.String(),
	)
	return id, err
}

func (q *seedQueries) insertBid(ctx context.Context, auctionID uuid.UUID, b SeedOpeningBid) error {
	amount, err := decimal.NewFromString(b.Amount)
	if err != nil {
		return fmt.Errorf("bid amount %q: %w", b.Amount, err)
	}
	metadata, err := sqlutil.ToNullRawMessage(b.Metadata)
	if err != nil {
		return err
	}
	_, err = q.tx.ExecContext(ctx, `
        INSERT INTO bids (auction_id, bidder_id, amount, metadata)
        VALUES ($1, $2, $3, $4)`,
		auctionID, uuid.New(), amount.String(), metadata,
	)
	return err
}

func main() {
	path := "go/internal/assets/auctions.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	// 1) Load the YAML seed file
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read seed file: %v\n", err)
		os.Exit(1)
	}
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal YAML: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	cfg := dbconfig.NewConfigFromEnv()
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	if err := migrations.Apply(ctx, db); err != nil {
		fmt.Fprintf(os.Stderr, "failed to migrate: %v\n", err)
		os.Exit(1)
	}

	// 3) Insert each auction with its opening bids in one transaction
	now := time.Now()
	var inserted, errs int

	for _, a := range seed.Auctions {
		var id uuid.UUID
		err := sqlutil.Run(ctx, db,
			func(tx *sql.Tx) *seedQueries { return &seedQueries{tx: tx} },
			func(q *seedQueries) error {
				var err error
				id, err = q.insertAuction(ctx, a, now.Add(a.ClosesIn))
				if err != nil {
					return err
				}
				for _, b := range a.Bids {
					if err := q.insertBid(ctx, id, b); err != nil {
						return err
					}
				}
				return nil
			},
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting auction %q: %v\n", a.Title, err)
			errs++
			continue
		}
		inserted++
		fmt.Printf("%s  %s\n", id, a.Title)
	}

	// 4) Print summary
	fmt.Printf(
		"Auctions seed complete: %d total, %d inserted, %d errors\n",
		len(seed.Auctions), inserted, errs,
	)
}
