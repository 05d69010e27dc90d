package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuctionStatus is the computed lifecycle phase of an auction.
type AuctionStatus string

const (
	AuctionStatusUpcoming AuctionStatus = "upcoming"
	AuctionStatusLive     AuctionStatus = "live"
	AuctionStatusEnded    AuctionStatus = "ended"
)

// Rank orders statuses along the lifecycle. Unknown values rank lowest.
func (s AuctionStatus) Rank() int {
	switch s {
	case AuctionStatusUpcoming:
		return 1
	case AuctionStatusLive:
		return 2
	case AuctionStatusEnded:
		return 3
	default:
		return 0
	}
}

// Advance returns whichever of s and next is later in the lifecycle, so a
// status can only move forward.
func (s AuctionStatus) Advance(next AuctionStatus) AuctionStatus {
	if next.Rank() > s.Rank() {
		return next
	}
	return s
}

// ComputeStatus derives the status of an auction window at now. Both bounds
// are inclusive for the live phase.
func ComputeStatus(start, end, now time.Time) AuctionStatus {
	switch {
	case now.Before(start):
		return AuctionStatusUpcoming
	case !now.After(end):
		return AuctionStatusLive
	default:
		return AuctionStatusEnded
	}
}

// Durable auction row states. The CRUD collaborator writes "scheduled"; only
// Finalize writes "ended".
const (
	AuctionRowScheduled = "scheduled"
	AuctionRowEnded     = "ended"
)

// Auction is the durable auction row joined with its item's seller and
// starting price.
type Auction struct {
	ID            string
	ItemID        string
	SellerID      string
	StartTime     time.Time
	EndTime       time.Time
	StartingPrice decimal.Decimal
	ReservePrice  decimal.Decimal
	Status        string
	CreatedAt     time.Time
}

// Ended reports whether the durable row carries the terminal flag.
func (a Auction) Ended() bool {
	return a.Status == AuctionRowEnded
}

// StatusAt computes the lifecycle phase of the auction at now.
func (a Auction) StatusAt(now time.Time) AuctionStatus {
	return ComputeStatus(a.StartTime, a.EndTime, now)
}

// Role is the capability carried by an authenticated connection.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Identity is the trusted (user, role) pair supplied by the identity provider.
type Identity struct {
	UserID string
	Role   Role
}
