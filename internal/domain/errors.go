package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrLockHeld        = errors.New("lock already held")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnauthorized    = errors.New("unauthorized")

	// Validation errors: malformed inbound payloads.
	ErrValidation = errors.New("invalid payload")

	// Domain errors: reported to the requesting observer only.
	ErrAuctionNotFound = errors.New("auction not found")
	ErrWrongRole       = errors.New("only buyers can place bids")
	ErrSelfBid         = errors.New("seller cannot bid on own auction")
	ErrNotLive         = errors.New("auction is not live")
	ErrBidTooLow       = errors.New("bid below minimum")

	// ErrBusy is returned when another bid holds the auction lease.
	ErrBusy = errors.New("another bid is being processed")

	// ErrOutbid is returned by a commit that lost to a concurrent winner
	// between validation and commit.
	ErrOutbid = errors.New("outbid during commit")
)

// RejectionError describes why a bid or join request was turned down. It
// wraps one of the sentinel errors above so callers can use errors.Is.
type RejectionError struct {
	Err       error
	AuctionID string
	Status    AuctionStatus
	Minimum   decimal.Decimal
}

func (e *RejectionError) Error() string {
	switch {
	case errors.Is(e.Err, ErrNotLive):
		return fmt.Sprintf("Auction is not live. Current state: %s", e.Status)
	case errors.Is(e.Err, ErrBidTooLow):
		return fmt.Sprintf("Bid must be greater than %s", e.Minimum.String())
	case errors.Is(e.Err, ErrAuctionNotFound):
		return "Auction not found"
	case errors.Is(e.Err, ErrWrongRole):
		return "Only buyers can place bids"
	case errors.Is(e.Err, ErrSelfBid):
		return "Seller cannot bid on own auction"
	case errors.Is(e.Err, ErrBusy):
		return "Another bid is being processed. Please try again."
	default:
		return e.Err.Error()
	}
}

func (e *RejectionError) Unwrap() error { return e.Err }

// Reject builds a RejectionError for the given auction.
func Reject(err error, auctionID string) *RejectionError {
	return &RejectionError{Err: err, AuctionID: auctionID}
}

// IsDomain reports whether err is a rule violation that should be reported
// to the requester rather than treated as an infrastructure failure.
func IsDomain(err error) bool {
	for _, target := range []error{ErrAuctionNotFound, ErrWrongRole, ErrSelfBid, ErrNotLive, ErrBidTooLow} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
