package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BidSource records which path inserted a durable bid row.
type BidSource string

const (
	BidSourceRealtime BidSource = "realtime"
	BidSourceCatchUp  BidSource = "catchup"
	BidSourceREST     BidSource = "rest"
)

// Bid is an append-only durable bid row.
type Bid struct {
	ID        string
	AuctionID string
	BidderID  string
	Amount    decimal.Decimal
	Source    BidSource
	CreatedAt time.Time
}

// BidSnapshot is the cached highest bid held in runtime state.
type BidSnapshot struct {
	Amount     decimal.Decimal `json:"amount"`
	BidderID   string          `json:"bidderId"`
	BidderName string          `json:"bidderName"`
	PlacedAt   time.Time       `json:"timestamp"`
}

// BidJournalEntry is a committed realtime bid as published to the bid
// journal. The archiver turns each entry into one durable Bid row.
type BidJournalEntry struct {
	EventID    string          `json:"event_id"`
	AuctionID  string          `json:"auction_id"`
	BidderID   string          `json:"bidder_id"`
	BidderName string          `json:"bidder_name"`
	Amount     decimal.Decimal `json:"amount"`
	Previous   decimal.Decimal `json:"previous"`
	PlacedAt   time.Time       `json:"placed_at"`
}
