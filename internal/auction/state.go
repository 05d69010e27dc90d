// Package auction is the real-time coordination core: bid validation and
// commit under a per-auction lease, the anti-snipe policy, the lifecycle
// scheduler, finalization and the inbound event engine.
package auction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/auctiond/internal/domain"
)

// Broadcaster fans an event out to every observer of an auction.
type Broadcaster interface {
	Publish(ctx context.Context, auctionID string, ev domain.Event) error
}

// loader creates runtime records lazily from the durable store.
type loader struct {
	runtime domain.RuntimeStore
	bids    domain.BidStore
	now     func() time.Time
}

// view returns the stored runtime record for a, or an unsaved seed built from
// the durable auction and its highest persisted bid. stored reports which.
func (l loader) view(ctx context.Context, a domain.Auction) (st domain.RuntimeState, stored bool, err error) {
	st, err = l.runtime.Get(ctx, a.ID)
	if err == nil {
		return st, true, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.RuntimeState{}, false, fmt.Errorf("auction: read runtime %s: %w", a.ID, err)
	}

	highest, err := l.bids.Highest(ctx, a.ID)
	if err != nil {
		return domain.RuntimeState{}, false, fmt.Errorf("auction: highest bid %s: %w", a.ID, err)
	}
	return domain.NewRuntimeState(a, highest, l.now()), false, nil
}

// ensure returns the runtime record for a, storing the seed from view when
// absent.
func (l loader) ensure(ctx context.Context, a domain.Auction) (domain.RuntimeState, error) {
	seed, stored, err := l.view(ctx, a)
	if err != nil || stored {
		return seed, err
	}
	if _, err := l.runtime.Create(ctx, seed); err != nil {
		return domain.RuntimeState{}, fmt.Errorf("auction: create runtime %s: %w", a.ID, err)
	}

	// Another caller may have won the create; read back whichever record is
	// stored.
	st, err := l.runtime.Get(ctx, a.ID)
	if err != nil {
		return domain.RuntimeState{}, fmt.Errorf("auction: read runtime %s: %w", a.ID, err)
	}
	return st, nil
}

// Snapshot renders the status snapshot served on join and re-query.
func Snapshot(st domain.RuntimeState, now time.Time) domain.AuctionStatusSnapshot {
	hb := &domain.HighestBid{Amount: st.MinimumBid()}
	if h := st.Highest; h != nil {
		bidder, name, at := h.BidderID, h.BidderName, h.PlacedAt
		hb.BidderID = &bidder
		hb.BidderName = &name
		hb.Timestamp = &at
	}
	return domain.AuctionStatusSnapshot{
		AuctionID:        st.AuctionID,
		Status:           st.StatusAt(now),
		HighestBid:       hb,
		RemainingSeconds: int64(st.Remaining(now) / time.Second),
		EndTime:          st.Deadline,
	}
}

func bidLockKey(auctionID string) string      { return "auction:" + auctionID + ":bid" }
func finalizeLockKey(auctionID string) string { return "auction:" + auctionID + ":finalize" }
