package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RuntimeState is the ephemeral, shared record of a watched auction. It is
// stored as one versioned record so that status, highest bid and deadline
// change together.
type RuntimeState struct {
	AuctionID     string
	Status        AuctionStatus
	StartTime     time.Time
	Deadline      time.Time
	StartingPrice decimal.Decimal
	SellerID      string
	Highest       *BidSnapshot
	Version       int64
}

// MinimumBid is the amount a new bid must strictly exceed.
func (s RuntimeState) MinimumBid() decimal.Decimal {
	if s.Highest != nil {
		return s.Highest.Amount
	}
	return s.StartingPrice
}

// Remaining is the time left until the deadline, never negative.
func (s RuntimeState) Remaining(now time.Time) time.Duration {
	d := s.Deadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// StatusAt combines the stored status with the status computed from the
// window so the result never moves backwards.
func (s RuntimeState) StatusAt(now time.Time) AuctionStatus {
	return s.Status.Advance(ComputeStatus(s.StartTime, s.Deadline, now))
}

// NewRuntimeState seeds runtime state from the durable auction and, if any,
// its highest persisted bid.
func NewRuntimeState(a Auction, highest *Bid, now time.Time) RuntimeState {
	st := RuntimeState{
		AuctionID:     a.ID,
		Status:        a.StatusAt(now),
		StartTime:     a.StartTime,
		Deadline:      a.EndTime,
		StartingPrice: a.StartingPrice,
		SellerID:      a.SellerID,
	}
	if highest != nil {
		st.Highest = &BidSnapshot{
			Amount:   highest.Amount,
			BidderID: highest.BidderID,
			PlacedAt: highest.CreatedAt,
		}
	}
	return st
}
