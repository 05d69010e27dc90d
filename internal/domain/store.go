package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuctionStore is the durable auction collaborator. Auction rows are created
// by the listing CRUD API; this service only reads and terminally updates them.
type AuctionStore interface {
	GetByID(ctx context.Context, id string) (Auction, error)
	MarkEnded(ctx context.Context, id string, endTime time.Time) error
	UpdateEndTime(ctx context.Context, id string, endTime time.Time) error
}

// BidStore persists append-only bid rows.
type BidStore interface {
	// Highest returns the highest persisted bid, or nil when none exists.
	Highest(ctx context.Context, auctionID string) (*Bid, error)
	Exists(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (bool, error)
	// Insert reports false when an identical (auction, bidder, amount) row
	// already exists.
	Insert(ctx context.Context, bid Bid) (bool, error)
	ListByAuction(ctx context.Context, auctionID string, opts ListOpts) ([]Bid, error)
}

// UserStore resolves display names for bidders.
type UserStore interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// Audit event names.
const (
	AuditAuctionFinalized = "auction_finalized"
)

// AuditRecord is one append-only audit row about an auction.
type AuditRecord struct {
	AuctionID string
	Event     string
	Detail    map[string]any
}

// AuditStore persists the audit log.
type AuditStore interface {
	Log(ctx context.Context, rec AuditRecord) error
}
