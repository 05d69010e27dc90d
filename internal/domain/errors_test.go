package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func TestRejectionErrorMessages(t *testing.T) {
	tests := []struct {
		name     string
		err      *RejectionError
		expected string
	}{
		{"not found", Reject(ErrAuctionNotFound, "a1"), "Auction not found"},
		{"wrong role", Reject(ErrWrongRole, "a1"), "Only buyers can place bids"},
		{"self bid", Reject(ErrSelfBid, "a1"), "Seller cannot bid on own auction"},
		{"busy", Reject(ErrBusy, "a1"), "Another bid is being processed. Please try again."},
		{"not live", &RejectionError{Err: ErrNotLive, Status: AuctionStatusUpcoming}, "Auction is not live. Current state: upcoming"},
		{"too low", &RejectionError{Err: ErrBidTooLow, Minimum: decimal.NewFromInt(150)}, "Bid must be greater than 150"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestRejectionErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("coordinator: %w", Reject(ErrSelfBid, "a1"))
	check.True(t, errors.Is(err, ErrSelfBid))

	var rej *RejectionError
	check.True(t, errors.As(err, &rej))
	check.Equal(t, "a1", rej.AuctionID)
}

func TestIsDomain(t *testing.T) {
	check.True(t, IsDomain(Reject(ErrNotLive, "a1")))
	check.True(t, IsDomain(ErrBidTooLow))
	check.False(t, IsDomain(ErrBusy))
	check.False(t, IsDomain(errors.New("redis: connection refused")))
	check.False(t, IsDomain(nil))
}
