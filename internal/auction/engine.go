package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/auctiond/internal/broadcast"
	"github.com/alanyoungcy/auctiond/internal/domain"
	"github.com/shopspring/decimal"
)

// Requester-facing messages.
const (
	msgAuctionIDRequired = "auctionId is required"
	msgBidFieldsRequired = "auctionId and amount are required"
	msgAmountPositive    = "Amount must be a positive number"
	msgRateLimited       = "Too many bids. Please slow down."
	msgCommitFailed      = "Bid processing failed. Please try again."
	msgJoinFailed        = "Failed to join auction"
	msgBidFailed         = "Failed to place bid"
	msgAlreadyEnded      = "Auction has already ended"
	msgFinalizeFailed    = "Failed to end auction"
	unknownBidderName    = "Unknown"
)

// Channels is the broadcast surface the engine needs.
type Channels interface {
	Broadcaster
	Join(auctionID string, sub broadcast.Subscriber)
	Leave(auctionID string, sub broadcast.Subscriber)
	LeaveAll(sub broadcast.Subscriber) []string
	SendTo(sub broadcast.Subscriber, ev domain.Event)
}

// BidRateLimit caps bid submissions per bidder.
type BidRateLimit struct {
	Limit  int
	Window time.Duration
}

// EngineConfig tunes the engine.
type EngineConfig struct {
	RateLimit BidRateLimit
	Now       func() time.Time
}

// Engine handles the inbound realtime events of an authenticated observer:
// joinAuction, placeBid and leaveAuction. Rejections are reported to the
// requester only.
type Engine struct {
	auctions    domain.AuctionStore
	users       domain.UserStore
	limiter     domain.RateLimiter
	coordinator *Coordinator
	scheduler   *Scheduler
	hub         Channels
	load        loader
	rateLimit   BidRateLimit
	now         func() time.Time
	logger      *slog.Logger
}

// NewEngine creates an Engine. limiter may be nil to disable rate limiting.
func NewEngine(
	auctions domain.AuctionStore,
	bids domain.BidStore,
	users domain.UserStore,
	runtime domain.RuntimeStore,
	limiter domain.RateLimiter,
	coordinator *Coordinator,
	scheduler *Scheduler,
	hub Channels,
	cfg EngineConfig,
	logger *slog.Logger,
) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		auctions:    auctions,
		users:       users,
		limiter:     limiter,
		coordinator: coordinator,
		scheduler:   scheduler,
		hub:         hub,
		load:        loader{runtime: runtime, bids: bids, now: cfg.Now},
		rateLimit:   cfg.RateLimit,
		now:         cfg.Now,
		logger:      logger.With(slog.String("component", "engine")),
	}
}

// Join subscribes sub to an auction, initialises its runtime state if
// needed, arms the matching lifecycle timer and sends the requester the
// current snapshot.
func (e *Engine) Join(ctx context.Context, sub broadcast.Subscriber, who domain.Identity, auctionID string) error {
	if auctionID == "" {
		e.sendError(sub, msgAuctionIDRequired, "")
		return domain.ErrValidation
	}

	a, err := e.auctions.GetByID(ctx, auctionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			e.sendError(sub, domain.Reject(domain.ErrAuctionNotFound, auctionID).Error(), auctionID)
			return domain.ErrAuctionNotFound
		}
		return e.fail(ctx, sub, msgJoinFailed, auctionID, err)
	}

	e.hub.Join(auctionID, sub)
	e.logger.DebugContext(ctx, "observer joined",
		slog.String("auction_id", auctionID),
		slog.String("user_id", who.UserID),
	)

	if a.Ended() {
		e.sendEndedNotice(sub, auctionID)
		return nil
	}

	st, err := e.load.ensure(ctx, a)
	if err != nil {
		return e.fail(ctx, sub, msgJoinFailed, auctionID, err)
	}

	now := e.now()
	switch st.StatusAt(now) {
	case domain.AuctionStatusUpcoming:
		if err := e.scheduler.ScheduleStart(ctx, a); err != nil {
			return e.fail(ctx, sub, msgJoinFailed, auctionID, err)
		}
	case domain.AuctionStatusLive:
		if err := e.ensureWatched(ctx, auctionID); err != nil {
			return e.fail(ctx, sub, msgJoinFailed, auctionID, err)
		}
		e.send(sub, domain.EventAuctionStarted, auctionID, domain.AuctionStarted{
			AuctionID:     auctionID,
			StartTime:     st.StartTime,
			EndTime:       st.Deadline,
			StartingPrice: st.StartingPrice,
		})
	case domain.AuctionStatusEnded:
		e.sendEndedNotice(sub, auctionID)
		// The durable row is not terminal yet: make sure a finalize runs.
		if err := e.ensureWatched(ctx, auctionID); err != nil {
			return e.fail(ctx, sub, msgJoinFailed, auctionID, err)
		}
	}

	e.send(sub, domain.EventAuctionStatus, auctionID, Snapshot(st, now))
	return nil
}

// PlaceBid validates and commits a bid from who. Accepted bids are
// broadcast to the auction's channel by the coordinator.
func (e *Engine) PlaceBid(ctx context.Context, sub broadcast.Subscriber, who domain.Identity, auctionID string, amount decimal.Decimal) error {
	if auctionID == "" || amount.IsZero() {
		e.sendError(sub, msgBidFieldsRequired, auctionID)
		return domain.ErrValidation
	}
	if !amount.IsPositive() {
		e.sendError(sub, msgAmountPositive, auctionID)
		return domain.ErrValidation
	}

	if e.limiter != nil && e.rateLimit.Limit > 0 {
		allowed, err := e.limiter.Allow(ctx, "bids:"+who.UserID, e.rateLimit.Limit, e.rateLimit.Window)
		if err != nil {
			e.logger.WarnContext(ctx, "rate limiter unavailable", slog.String("error", err.Error()))
		} else if !allowed {
			e.sendError(sub, msgRateLimited, auctionID)
			return domain.ErrRateLimited
		}
	}

	ticket, err := e.coordinator.Validate(ctx, auctionID, who, amount)
	if err != nil {
		var rej *domain.RejectionError
		if errors.As(err, &rej) {
			e.sendError(sub, rej.Error(), auctionID)
			e.logger.DebugContext(ctx, "bid rejected",
				slog.String("auction_id", auctionID),
				slog.String("user_id", who.UserID),
				slog.String("reason", rej.Error()),
			)
			return err
		}
		return e.fail(ctx, sub, msgBidFailed, auctionID, err)
	}

	res, err := e.coordinator.Commit(ctx, ticket, e.displayName(ctx, who.UserID))
	if err != nil {
		if errors.Is(err, domain.ErrOutbid) || errors.Is(err, domain.ErrVersionConflict) {
			e.sendError(sub, msgCommitFailed, auctionID)
			e.keepWatched(ctx, auctionID, false)
			return err
		}
		return e.fail(ctx, sub, msgBidFailed, auctionID, err)
	}

	e.logger.InfoContext(ctx, "bid accepted",
		slog.String("auction_id", auctionID),
		slog.String("bidder_id", who.UserID),
		slog.String("amount", amount.String()),
		slog.Bool("extended", res.Extended),
	)

	if res.Extended {
		if err := e.auctions.UpdateEndTime(ctx, auctionID, res.NewDeadline); err != nil {
			e.logger.WarnContext(ctx, "persist extended end time failed",
				slog.String("auction_id", auctionID),
				slog.String("error", err.Error()),
			)
		}
	}
	e.keepWatched(ctx, auctionID, res.Extended)
	return nil
}

// keepWatched arms the deadline timer of a stored record that has none, or
// re-targets it when retarget is set. A record already evicted is ignored.
func (e *Engine) keepWatched(ctx context.Context, auctionID string, retarget bool) {
	if !retarget && e.scheduler.Watching(auctionID) {
		return
	}
	if err := e.scheduler.Watch(ctx, auctionID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		e.logger.WarnContext(ctx, "retarget deadline timer failed",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
	}
}

// Leave unsubscribes sub from an auction.
func (e *Engine) Leave(sub broadcast.Subscriber, auctionID string) {
	if auctionID == "" {
		return
	}
	e.hub.Leave(auctionID, sub)
}

// Disconnect removes sub from every auction it joined.
func (e *Engine) Disconnect(sub broadcast.Subscriber) {
	left := e.hub.LeaveAll(sub)
	e.logger.Debug("observer disconnected",
		slog.String("subscriber", sub.ID()),
		slog.Int("auctions", len(left)),
	)
}

// Status returns the current snapshot of a watched auction. It returns
// domain.ErrNotFound when no runtime state exists, which includes auctions
// that have been finalized.
func (e *Engine) Status(ctx context.Context, auctionID string) (domain.AuctionStatusSnapshot, error) {
	st, err := e.load.runtime.Get(ctx, auctionID)
	if err != nil {
		return domain.AuctionStatusSnapshot{}, err
	}
	return Snapshot(st, e.now()), nil
}

func (e *Engine) ensureWatched(ctx context.Context, auctionID string) error {
	if e.scheduler.Watching(auctionID) {
		return nil
	}
	return e.scheduler.Watch(ctx, auctionID)
}

func (e *Engine) displayName(ctx context.Context, userID string) string {
	if e.users == nil {
		return unknownBidderName
	}
	name, err := e.users.DisplayName(ctx, userID)
	if err != nil || name == "" {
		return unknownBidderName
	}
	return name
}

func (e *Engine) sendEndedNotice(sub broadcast.Subscriber, auctionID string) {
	e.send(sub, domain.EventAuctionEnded, auctionID, domain.AuctionEnded{
		AuctionID: auctionID,
		Message:   msgAlreadyEnded,
	})
}

func (e *Engine) send(sub broadcast.Subscriber, eventType, auctionID string, payload any) {
	ev, err := domain.NewEvent(eventType, auctionID, payload)
	if err != nil {
		e.logger.Error("encode event failed", slog.String("event", eventType), slog.String("error", err.Error()))
		return
	}
	e.hub.SendTo(sub, ev)
}

func (e *Engine) sendError(sub broadcast.Subscriber, message, auctionID string) {
	e.send(sub, domain.EventError, auctionID, domain.ErrorEvent{Message: message, AuctionID: auctionID})
}

// fail reports an infrastructure error to the requester as a generic failure
// and returns it wrapped for the caller.
func (e *Engine) fail(ctx context.Context, sub broadcast.Subscriber, message, auctionID string, err error) error {
	e.logger.ErrorContext(ctx, message,
		slog.String("auction_id", auctionID),
		slog.String("error", err.Error()),
	)
	e.sendError(sub, message, auctionID)
	return fmt.Errorf("auction: %s: %w", auctionID, err)
}
