package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/auctiond/internal/domain"
)

// BidStore implements domain.BidStore using PostgreSQL. Amounts travel as
// text so NUMERIC values round-trip through decimal.Decimal exactly.
type BidStore struct {
	pool *pgxpool.Pool
}

// NewBidStore creates a new BidStore backed by the given connection pool.
func NewBidStore(pool *pgxpool.Pool) *BidStore {
	return &BidStore{pool: pool}
}

const bidColumns = `id, auction_id, bidder_id, amount::text, source, created_at`

// Highest returns the highest persisted bid for the auction, or nil.
func (s *BidStore) Highest(ctx context.Context, auctionID string) (*domain.Bid, error) {
	query := `SELECT ` + bidColumns + `
		FROM bids
		WHERE auction_id = $1
		ORDER BY amount DESC, created_at ASC
		LIMIT 1`

	b, err := scanBid(s.pool.QueryRow(ctx, query, auctionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: highest bid %s: %w", auctionID, err)
	}
	return &b, nil
}

// Exists reports whether a row with the same auction, bidder and amount is
// already stored.
func (s *BidStore) Exists(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (bool, error) {
	const query = `
		SELECT EXISTS(
			SELECT 1 FROM bids
			WHERE auction_id = $1 AND bidder_id = $2 AND amount = $3::numeric
		)`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, auctionID, bidderID, amount.String()).Scan(&exists); err != nil {
		return false, fmt.Errorf("postgres: bid exists %s: %w", auctionID, err)
	}
	return exists, nil
}

// Insert stores a bid row. It returns false without error when an identical
// (auction, bidder, amount) row already exists.
func (s *BidStore) Insert(ctx context.Context, b domain.Bid) (bool, error) {
	const query = `
		INSERT INTO bids (id, auction_id, bidder_id, amount, source, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)
		ON CONFLICT (auction_id, bidder_id, amount) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		b.ID, b.AuctionID, b.BidderID, b.Amount.String(), string(b.Source), b.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: insert bid %s: %w", b.AuctionID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByAuction returns bids for an auction, highest first.
func (s *BidStore) ListByAuction(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE auction_id = $1`
	args := []any{auctionID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY amount DESC, created_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids %s: %w", auctionID, err)
	}
	defer rows.Close()

	var bids []domain.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bid: %w", err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bids rows: %w", err)
	}
	return bids, nil
}

func scanBid(row pgx.Row) (domain.Bid, error) {
	var (
		b      domain.Bid
		amount string
		source string
	)
	if err := row.Scan(&b.ID, &b.AuctionID, &b.BidderID, &amount, &source, &b.CreatedAt); err != nil {
		return domain.Bid{}, err
	}
	a, err := parseAmount(amount)
	if err != nil {
		return domain.Bid{}, err
	}
	b.Amount = a
	b.Source = domain.BidSource(source)
	return b, nil
}

// parseAmount converts a NUMERIC rendered as text.
func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d, nil
}

// Compile-time interface check.
var _ domain.BidStore = (*BidStore)(nil)
