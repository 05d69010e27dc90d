package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/auctiond/internal/domain"
	"github.com/google/uuid"
)

// sideEffectTimeout bounds the best-effort steps after eviction.
const sideEffectTimeout = 10 * time.Second

// errNotDue is returned by Finalize when the cached deadline is still in the
// future, typically because a commit extended it after the caller checked.
var errNotDue = errors.New("auction: deadline not reached")

// ResultNotifier announces finalized auctions to operators.
type ResultNotifier interface {
	AuctionEnded(ctx context.Context, result domain.AuctionResult) error
}

// Result is the outcome of one Finalize call. Finalized is false when the
// auction had already been finalized and the call was a no-op.
type Result struct {
	domain.AuctionResult
	Finalized bool
}

// Finalizer freezes an auction, reconciles the cached winner with the
// durable bid rows and evicts runtime state.
type Finalizer struct {
	auctions domain.AuctionStore
	bids     domain.BidStore
	runtime  domain.RuntimeStore
	schedule domain.ScheduleStore

	// Optional side effects.
	archiver domain.ResultArchiver
	audit    domain.AuditStore
	notifier ResultNotifier

	now    func() time.Time
	logger *slog.Logger
}

// NewFinalizer creates a Finalizer with its required collaborators.
func NewFinalizer(
	auctions domain.AuctionStore,
	bids domain.BidStore,
	runtime domain.RuntimeStore,
	schedule domain.ScheduleStore,
	now func() time.Time,
	logger *slog.Logger,
) *Finalizer {
	if now == nil {
		now = time.Now
	}
	return &Finalizer{
		auctions: auctions,
		bids:     bids,
		runtime:  runtime,
		schedule: schedule,
		now:      now,
		logger:   logger.With(slog.String("component", "finalizer")),
	}
}

// WithArchiver stores every result in cold storage.
func (f *Finalizer) WithArchiver(a domain.ResultArchiver) *Finalizer {
	f.archiver = a
	return f
}

// WithAudit writes an audit row per finalized auction.
func (f *Finalizer) WithAudit(a domain.AuditStore) *Finalizer {
	f.audit = a
	return f
}

// WithNotifier sends operator notifications on auction end.
func (f *Finalizer) WithNotifier(n ResultNotifier) *Finalizer {
	f.notifier = n
	return f
}

// Finalize ends the auction. It is idempotent: once the runtime record has
// been evicted, further calls return a zero Result with Finalized false.
// Any failure before eviction leaves the auction frozen but un-finalized so
// the next call retries from where this one stopped. A record whose deadline
// has not passed is left untouched and errNotDue is returned.
func (f *Finalizer) Finalize(ctx context.Context, auctionID string) (Result, error) {
	st, err := f.freeze(ctx, auctionID)
	if errors.Is(err, domain.ErrNotFound) {
		return Result{AuctionResult: domain.AuctionResult{AuctionID: auctionID}}, nil
	}
	if err != nil {
		return Result{}, err
	}

	if err := f.auctions.MarkEnded(ctx, auctionID, st.Deadline); err != nil {
		return Result{}, fmt.Errorf("auction: finalize %s: mark ended: %w", auctionID, err)
	}

	res := domain.AuctionResult{
		AuctionID:     auctionID,
		WinningAmount: st.StartingPrice,
		EndedAt:       f.now().UTC(),
	}
	if h := st.Highest; h != nil {
		res.HasWinner = true
		res.WinnerID = h.BidderID
		res.WinnerName = h.BidderName
		res.WinningAmount = h.Amount

		inserted, err := f.catchUp(ctx, auctionID, *h)
		if err != nil {
			return Result{}, err
		}
		res.CatchUpInsert = inserted
	}

	if err := f.runtime.Delete(ctx, auctionID); err != nil {
		return Result{}, fmt.Errorf("auction: finalize %s: evict: %w", auctionID, err)
	}
	for _, kind := range []domain.TransitionKind{domain.TransitionPendingStart, domain.TransitionPendingDeadline} {
		if err := f.schedule.Remove(ctx, kind, auctionID); err != nil {
			f.logger.WarnContext(ctx, "schedule cleanup failed",
				slog.String("auction_id", auctionID),
				slog.String("kind", string(kind)),
				slog.String("error", err.Error()),
			)
		}
	}

	f.logger.InfoContext(ctx, "auction finalized",
		slog.String("auction_id", auctionID),
		slog.Bool("has_winner", res.HasWinner),
		slog.String("winner_id", res.WinnerID),
		slog.String("winning_amount", res.WinningAmount.String()),
		slog.Bool("catch_up_insert", res.CatchUpInsert),
	)

	f.sideEffects(ctx, res)
	return Result{AuctionResult: res, Finalized: true}, nil
}

// freeze moves the runtime status to ended so no further commit can land.
// A racing commit makes the swap conflict; the re-read then includes it, and
// a deadline it extended is honoured.
func (f *Finalizer) freeze(ctx context.Context, auctionID string) (domain.RuntimeState, error) {
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		st, err := f.runtime.Get(ctx, auctionID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return st, err
			}
			return st, fmt.Errorf("auction: finalize %s: read runtime: %w", auctionID, err)
		}
		if st.Status == domain.AuctionStatusEnded {
			return st, nil
		}
		if f.now().Before(st.Deadline) {
			return st, errNotDue
		}

		next := st
		next.Status = domain.AuctionStatusEnded
		err = f.runtime.Swap(ctx, next, st.Version)
		switch {
		case err == nil:
			next.Version = st.Version + 1
			return next, nil
		case errors.Is(err, domain.ErrVersionConflict):
			continue
		case errors.Is(err, domain.ErrNotFound):
			return st, err
		default:
			return st, fmt.Errorf("auction: finalize %s: freeze: %w", auctionID, err)
		}
	}
	return domain.RuntimeState{}, fmt.Errorf("auction: finalize %s: freeze: %w", auctionID, domain.ErrVersionConflict)
}

// catchUp inserts the winning bid unless a matching durable row already
// exists. It reports whether a row was inserted.
func (f *Finalizer) catchUp(ctx context.Context, auctionID string, h domain.BidSnapshot) (bool, error) {
	exists, err := f.bids.Exists(ctx, auctionID, h.BidderID, h.Amount)
	if err != nil {
		return false, fmt.Errorf("auction: finalize %s: check bid: %w", auctionID, err)
	}
	if exists {
		return false, nil
	}

	inserted, err := f.bids.Insert(ctx, domain.Bid{
		ID:        uuid.New().String(),
		AuctionID: auctionID,
		BidderID:  h.BidderID,
		Amount:    h.Amount,
		Source:    domain.BidSourceCatchUp,
		CreatedAt: h.PlacedAt,
	})
	if err != nil {
		return false, fmt.Errorf("auction: finalize %s: catch-up insert: %w", auctionID, err)
	}
	return inserted, nil
}

// sideEffects runs the best-effort steps. Failures are logged only.
func (f *Finalizer) sideEffects(ctx context.Context, res domain.AuctionResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	if f.archiver != nil {
		if err := f.archiver.Archive(ctx, res); err != nil {
			f.warn(ctx, "result archive failed", res.AuctionID, err)
		}
	}
	if f.audit != nil {
		rec := domain.AuditRecord{
			AuctionID: res.AuctionID,
			Event:     domain.AuditAuctionFinalized,
			Detail: map[string]any{
				"has_winner":      res.HasWinner,
				"winner_id":       res.WinnerID,
				"winning_amount":  res.WinningAmount.String(),
				"catch_up_insert": res.CatchUpInsert,
				"ended_at":        res.EndedAt,
			},
		}
		if err := f.audit.Log(ctx, rec); err != nil {
			f.warn(ctx, "audit log failed", res.AuctionID, err)
		}
	}
	if f.notifier != nil {
		if err := f.notifier.AuctionEnded(ctx, res); err != nil {
			f.warn(ctx, "notification failed", res.AuctionID, err)
		}
	}
}

func (f *Finalizer) warn(ctx context.Context, msg, auctionID string, err error) {
	f.logger.WarnContext(ctx, msg,
		slog.String("auction_id", auctionID),
		slog.String("error", err.Error()),
	)
}

// EndedEvent renders the auctionEnded broadcast for a finalized result.
func EndedEvent(res domain.AuctionResult) (domain.Event, error) {
	payload := domain.AuctionEnded{AuctionID: res.AuctionID}
	amount := res.WinningAmount
	payload.WinningAmount = &amount
	if res.HasWinner {
		winner := res.WinnerID
		payload.WinnerID = &winner
	}
	ts := res.EndedAt
	payload.Timestamp = &ts
	return domain.NewEvent(domain.EventAuctionEnded, res.AuctionID, payload)
}
