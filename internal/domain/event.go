package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Outbound event types.
const (
	EventAuctionStarted  = "auctionStarted"
	EventAuctionStatus   = "auctionStatus"
	EventNewBid          = "newBid"
	EventAuctionExtended = "auctionExtended"
	EventAuctionEnded    = "auctionEnded"
	EventError           = "error"
)

// Event is the envelope delivered to observers and carried over the signal
// bus between instances.
type Event struct {
	Type      string          `json:"type"`
	AuctionID string          `json:"auctionId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEvent marshals payload into an Event envelope.
func NewEvent(eventType, auctionID string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("domain: marshal %s payload: %w", eventType, err)
	}
	return Event{Type: eventType, AuctionID: auctionID, Payload: data}, nil
}

// AuctionStarted announces the upcoming to live transition.
type AuctionStarted struct {
	AuctionID     string          `json:"auctionId"`
	StartTime     time.Time       `json:"startTime"`
	EndTime       time.Time       `json:"endTime"`
	StartingPrice decimal.Decimal `json:"startingPrice"`
}

// AuctionStatusSnapshot is sent on join and served to re-querying observers.
type AuctionStatusSnapshot struct {
	AuctionID        string        `json:"auctionId"`
	Status           AuctionStatus `json:"status"`
	HighestBid       *HighestBid   `json:"highestBid"`
	RemainingSeconds int64         `json:"remainingSeconds"`
	EndTime          time.Time     `json:"endTime"`
}

// HighestBid is the wire form of the current highest bid. BidderID is empty
// while only the starting price stands.
type HighestBid struct {
	Amount     decimal.Decimal `json:"amount"`
	BidderID   *string         `json:"bidderId"`
	BidderName *string         `json:"bidderName"`
	Timestamp  *time.Time      `json:"timestamp"`
}

// NewBid announces a committed bid.
type NewBid struct {
	AuctionID  string          `json:"auctionId"`
	Amount     decimal.Decimal `json:"amount"`
	BidderID   string          `json:"bidderId"`
	BidderName string          `json:"bidderName"`
	Timestamp  time.Time       `json:"timestamp"`
}

// AuctionExtended announces an anti-snipe deadline extension.
type AuctionExtended struct {
	AuctionID  string    `json:"auctionId"`
	NewEndTime time.Time `json:"newEndTime"`
	ExtendedBy int64     `json:"extendedBy"`
}

// AuctionEnded announces the finalized result. Message is set instead of a
// result when an observer joins an auction that has already ended.
type AuctionEnded struct {
	AuctionID     string           `json:"auctionId"`
	WinnerID      *string          `json:"winnerId,omitempty"`
	WinningAmount *decimal.Decimal `json:"winningAmount,omitempty"`
	Timestamp     *time.Time       `json:"timestamp,omitempty"`
	Message       string           `json:"message,omitempty"`
}

// ErrorEvent reports a rejected request to the requester only.
type ErrorEvent struct {
	Message   string `json:"message"`
	AuctionID string `json:"auctionId,omitempty"`
}
