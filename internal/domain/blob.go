package domain

import (
	"context"
	"io"
	"time"

	"github.com/shopspring/decimal"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// AuctionResult is the resolved outcome of a finalized auction.
type AuctionResult struct {
	AuctionID     string          `json:"auction_id"`
	WinnerID      string          `json:"winner_id,omitempty"`
	WinnerName    string          `json:"winner_name,omitempty"`
	WinningAmount decimal.Decimal `json:"winning_amount"`
	HasWinner     bool            `json:"has_winner"`
	CatchUpInsert bool            `json:"catch_up_insert"`
	EndedAt       time.Time       `json:"ended_at"`
}

// ResultArchiver stores finalized results in cold storage.
type ResultArchiver interface {
	Archive(ctx context.Context, result AuctionResult) error
}

// BidJournal records committed realtime bids durably for the archiver.
type BidJournal interface {
	Append(ctx context.Context, entry BidJournalEntry) error
}
