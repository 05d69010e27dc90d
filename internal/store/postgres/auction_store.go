package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/auctiond/internal/domain"
)

// AuctionStore implements domain.AuctionStore using PostgreSQL. Auction rows
// are written by the listing API; this store only reads them and applies the
// terminal updates.
type AuctionStore struct {
	pool *pgxpool.Pool
}

// NewAuctionStore creates a new AuctionStore backed by the given connection pool.
func NewAuctionStore(pool *pgxpool.Pool) *AuctionStore {
	return &AuctionStore{pool: pool}
}

// GetByID returns the auction joined with its item's seller and starting
// price. It returns domain.ErrNotFound for an unknown id.
func (s *AuctionStore) GetByID(ctx context.Context, id string) (domain.Auction, error) {
	const query = `
		SELECT a.id, a.item_id, i.seller_id, a.start_time, a.end_time,
		       i.starting_price::text, a.reserve_price::text, a.status, a.created_at
		FROM auctions a
		JOIN items i ON i.id = a.item_id
		WHERE a.id = $1`

	var (
		a                     domain.Auction
		startingPrice, reserve string
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&a.ID, &a.ItemID, &a.SellerID, &a.StartTime, &a.EndTime,
		&startingPrice, &reserve, &a.Status, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Auction{}, domain.ErrNotFound
		}
		return domain.Auction{}, fmt.Errorf("postgres: get auction %s: %w", id, err)
	}

	if a.StartingPrice, err = parseAmount(startingPrice); err != nil {
		return domain.Auction{}, fmt.Errorf("postgres: get auction %s: starting price: %w", id, err)
	}
	if a.ReservePrice, err = parseAmount(reserve); err != nil {
		return domain.Auction{}, fmt.Errorf("postgres: get auction %s: reserve price: %w", id, err)
	}
	return a, nil
}

// MarkEnded sets the terminal status and the final end time. Repeating it is
// harmless.
func (s *AuctionStore) MarkEnded(ctx context.Context, id string, endTime time.Time) error {
	const query = `
		UPDATE auctions
		SET status = $1, end_time = GREATEST(end_time, $2), updated_at = NOW()
		WHERE id = $3`

	tag, err := s.pool.Exec(ctx, query, domain.AuctionRowEnded, endTime, id)
	if err != nil {
		return fmt.Errorf("postgres: mark auction ended %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateEndTime persists an anti-snipe extension. The end time only moves
// forward.
func (s *AuctionStore) UpdateEndTime(ctx context.Context, id string, endTime time.Time) error {
	const query = `
		UPDATE auctions
		SET end_time = $1, updated_at = NOW()
		WHERE id = $2 AND end_time < $1`

	if _, err := s.pool.Exec(ctx, query, endTime, id); err != nil {
		return fmt.Errorf("postgres: update auction end time %s: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.AuctionStore = (*AuctionStore)(nil)
