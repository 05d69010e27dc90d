package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/auctiond/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Coordinator defaults.
const (
	DefaultLeaseTTL   = 5 * time.Second
	maxCommitAttempts = 3
)

// Ticket is a validated bid holding the auction's bid lease. It must be
// passed to Commit or released.
type Ticket struct {
	AuctionID string
	Bidder    domain.Identity
	Amount    decimal.Decimal
	Minimum   decimal.Decimal

	once    sync.Once
	release func()
}

// Release gives up the lease. It is idempotent.
func (t *Ticket) Release() {
	t.once.Do(func() {
		if t.release != nil {
			t.release()
		}
	})
}

// CommitResult describes a committed bid.
type CommitResult struct {
	Bid             domain.BidSnapshot
	Extended        bool
	NewDeadline     time.Time
	PreviousMinimum decimal.Decimal
}

// CoordinatorConfig tunes the coordinator.
type CoordinatorConfig struct {
	LeaseTTL time.Duration
	Policy   Policy
	Now      func() time.Time
}

// Coordinator validates bids and commits them against the runtime store.
// Commits for one auction are serialized by a lease; the write itself is a
// single compare-and-swap of the versioned runtime record.
type Coordinator struct {
	auctions domain.AuctionStore
	runtime  domain.RuntimeStore
	locks    domain.LockManager
	hub      Broadcaster
	journal  domain.BidJournal
	load     loader
	leaseTTL time.Duration
	policy   Policy
	now      func() time.Time
	logger   *slog.Logger
}

// NewCoordinator creates a Coordinator. journal may be nil.
func NewCoordinator(
	auctions domain.AuctionStore,
	bids domain.BidStore,
	runtime domain.RuntimeStore,
	locks domain.LockManager,
	hub Broadcaster,
	journal domain.BidJournal,
	cfg CoordinatorConfig,
	logger *slog.Logger,
) *Coordinator {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	if cfg.Policy == (Policy{}) {
		cfg.Policy = DefaultPolicy()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{
		auctions: auctions,
		runtime:  runtime,
		locks:    locks,
		hub:      hub,
		journal:  journal,
		load:     loader{runtime: runtime, bids: bids, now: cfg.Now},
		leaseTTL: cfg.LeaseTTL,
		policy:   cfg.Policy,
		now:      cfg.Now,
		logger:   logger.With(slog.String("component", "coordinator")),
	}
}

// Validate checks a bid against the auction rules, first failure wins, and
// then takes the auction's bid lease. Rule violations are returned as
// *domain.RejectionError; a held lease yields domain.ErrBusy.
func (c *Coordinator) Validate(ctx context.Context, auctionID string, who domain.Identity, amount decimal.Decimal) (*Ticket, error) {
	a, err := c.auctions.GetByID(ctx, auctionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Reject(domain.ErrAuctionNotFound, auctionID)
		}
		return nil, fmt.Errorf("auction: validate %s: %w", auctionID, err)
	}

	if who.Role != domain.RoleBuyer {
		return nil, domain.Reject(domain.ErrWrongRole, auctionID)
	}
	if who.UserID == a.SellerID {
		return nil, domain.Reject(domain.ErrSelfBid, auctionID)
	}
	if a.Ended() {
		rej := domain.Reject(domain.ErrNotLive, auctionID)
		rej.Status = domain.AuctionStatusEnded
		return nil, rej
	}

	// Rejected bids never store a runtime record.
	st, stored, err := c.load.view(ctx, a)
	if err != nil {
		return nil, err
	}
	if status := st.StatusAt(c.now()); status != domain.AuctionStatusLive {
		rej := domain.Reject(domain.ErrNotLive, auctionID)
		rej.Status = status
		return nil, rej
	}

	minimum := st.MinimumBid()
	if !amount.GreaterThan(minimum) {
		rej := domain.Reject(domain.ErrBidTooLow, auctionID)
		rej.Minimum = minimum
		return nil, rej
	}

	if !stored {
		if st, err = c.load.ensure(ctx, a); err != nil {
			return nil, err
		}
		// A concurrent commit may have landed before the record was stored.
		if minimum = st.MinimumBid(); !amount.GreaterThan(minimum) {
			rej := domain.Reject(domain.ErrBidTooLow, auctionID)
			rej.Minimum = minimum
			return nil, rej
		}
	}

	unlock, err := c.locks.Acquire(ctx, bidLockKey(auctionID), c.leaseTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, domain.Reject(domain.ErrBusy, auctionID)
		}
		return nil, fmt.Errorf("auction: acquire lease %s: %w", auctionID, err)
	}

	return &Ticket{
		AuctionID: auctionID,
		Bidder:    who,
		Amount:    amount,
		Minimum:   minimum,
		release:   unlock,
	}, nil
}

// Commit writes the ticket's bid as the new highest bid and applies the
// anti-snipe policy to the deadline read in the same step. It returns
// domain.ErrOutbid when a concurrent winner raised the minimum, or the
// auction stopped being live, after validation. newBid and auctionExtended
// are published before the lease is released. The lease is released on
// every path.
func (c *Coordinator) Commit(ctx context.Context, t *Ticket, displayName string) (CommitResult, error) {
	defer t.Release()

	for attempt := 1; attempt <= maxCommitAttempts; attempt++ {
		st, err := c.runtime.Get(ctx, t.AuctionID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return CommitResult{}, domain.ErrOutbid
			}
			return CommitResult{}, fmt.Errorf("auction: commit %s: %w", t.AuctionID, err)
		}

		now := c.now()
		if st.StatusAt(now) != domain.AuctionStatusLive {
			return CommitResult{}, domain.ErrOutbid
		}
		previous := st.MinimumBid()
		if !t.Amount.GreaterThan(previous) {
			return CommitResult{}, domain.ErrOutbid
		}

		snap := domain.BidSnapshot{
			Amount:     t.Amount,
			BidderID:   t.Bidder.UserID,
			BidderName: displayName,
			PlacedAt:   now.UTC(),
		}
		next := st
		next.Highest = &snap
		deadline, extended := c.policy.Apply(st.Deadline, now)
		next.Deadline = deadline

		err = c.runtime.Swap(ctx, next, st.Version)
		switch {
		case errors.Is(err, domain.ErrVersionConflict):
			c.logger.DebugContext(ctx, "commit version conflict, retrying",
				slog.String("auction_id", t.AuctionID),
				slog.Int("attempt", attempt),
			)
			continue
		case errors.Is(err, domain.ErrNotFound):
			return CommitResult{}, domain.ErrOutbid
		case err != nil:
			return CommitResult{}, fmt.Errorf("auction: commit %s: %w", t.AuctionID, err)
		}

		res := CommitResult{
			Bid:             snap,
			Extended:        extended,
			NewDeadline:     deadline,
			PreviousMinimum: previous,
		}
		c.announce(ctx, t.AuctionID, res)
		c.record(ctx, t.AuctionID, res)
		return res, nil
	}

	return CommitResult{}, fmt.Errorf("auction: commit %s: %w", t.AuctionID, domain.ErrVersionConflict)
}

// announce publishes the commit while the lease is still held.
func (c *Coordinator) announce(ctx context.Context, auctionID string, res CommitResult) {
	c.publish(ctx, auctionID, domain.EventNewBid, domain.NewBid{
		AuctionID:  auctionID,
		Amount:     res.Bid.Amount,
		BidderID:   res.Bid.BidderID,
		BidderName: res.Bid.BidderName,
		Timestamp:  res.Bid.PlacedAt,
	})
	if res.Extended {
		c.publish(ctx, auctionID, domain.EventAuctionExtended, domain.AuctionExtended{
			AuctionID:  auctionID,
			NewEndTime: res.NewDeadline,
			ExtendedBy: int64(c.policy.Extension / time.Second),
		})
	}
}

func (c *Coordinator) publish(ctx context.Context, auctionID, eventType string, payload any) {
	ev, err := domain.NewEvent(eventType, auctionID, payload)
	if err == nil {
		err = c.hub.Publish(ctx, auctionID, ev)
	}
	if err != nil {
		c.logger.WarnContext(ctx, "broadcast failed",
			slog.String("auction_id", auctionID),
			slog.String("event", eventType),
			slog.String("error", err.Error()),
		)
	}
}

// record appends the committed bid to the journal.
func (c *Coordinator) record(ctx context.Context, auctionID string, res CommitResult) {
	if c.journal == nil {
		return
	}
	entry := domain.BidJournalEntry{
		EventID:    uuid.New().String(),
		AuctionID:  auctionID,
		BidderID:   res.Bid.BidderID,
		BidderName: res.Bid.BidderName,
		Amount:     res.Bid.Amount,
		Previous:   res.PreviousMinimum,
		PlacedAt:   res.Bid.PlacedAt,
	}
	if err := c.journal.Append(ctx, entry); err != nil {
		c.logger.WarnContext(ctx, "bid journal append failed",
			slog.String("auction_id", auctionID),
			slog.String("bidder_id", entry.BidderID),
			slog.String("error", err.Error()),
		)
	}
}
