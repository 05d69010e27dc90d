package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/auctiond/internal/auction"
	"github.com/alanyoungcy/auctiond/internal/domain"
)

// StatusSource returns the live snapshot of a watched auction.
type StatusSource interface {
	Status(ctx context.Context, auctionID string) (domain.AuctionStatusSnapshot, error)
}

// AuctionReader is the durable read surface the handler falls back to for
// auctions that have no runtime state.
type AuctionReader interface {
	GetByID(ctx context.Context, id string) (domain.Auction, error)
}

// BidReader lists persisted bids.
type BidReader interface {
	Highest(ctx context.Context, auctionID string) (*domain.Bid, error)
	ListByAuction(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error)
}

// AuctionHandler serves read-only auction endpoints.
type AuctionHandler struct {
	live     StatusSource
	auctions AuctionReader
	bids     BidReader
	users    domain.UserStore
	now      func() time.Time
	logger   *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler. users may be nil.
func NewAuctionHandler(live StatusSource, auctions AuctionReader, bids BidReader, users domain.UserStore, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{
		live:     live,
		auctions: auctions,
		bids:     bids,
		users:    users,
		now:      time.Now,
		logger:   logHandler(logger, "auction"),
	}
}

// GetStatus returns the auction's status, highest bid and remaining time.
// Watched auctions are served from runtime state; others are computed from
// the durable row and its highest persisted bid.
// GET /api/auctions/{id}/status
func (h *AuctionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	ctx := r.Context()

	snap, err := h.live.Status(ctx, id)
	if err == nil {
		writeJSON(w, http.StatusOK, snap)
		return
	}
	if !errors.Is(err, domain.ErrNotFound) {
		h.logger.ErrorContext(ctx, "runtime status failed", slog.String("auction_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load auction status")
		return
	}

	snap, err = h.durableStatus(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "auction not found")
			return
		}
		h.logger.ErrorContext(ctx, "durable status failed", slog.String("auction_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load auction status")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *AuctionHandler) durableStatus(ctx context.Context, id string) (domain.AuctionStatusSnapshot, error) {
	a, err := h.auctions.GetByID(ctx, id)
	if err != nil {
		return domain.AuctionStatusSnapshot{}, err
	}
	highest, err := h.bids.Highest(ctx, id)
	if err != nil {
		return domain.AuctionStatusSnapshot{}, err
	}

	now := h.now()
	st := domain.NewRuntimeState(a, highest, now)
	if a.Ended() {
		st.Status = st.Status.Advance(domain.AuctionStatusEnded)
	}
	if st.Highest != nil && h.users != nil {
		if name, err := h.users.DisplayName(ctx, st.Highest.BidderID); err == nil {
			st.Highest.BidderName = name
		}
	}
	return auction.Snapshot(st, now), nil
}

type bidResponse struct {
	ID        string          `json:"id"`
	BidderID  string          `json:"bidderId"`
	Amount    decimal.Decimal `json:"amount"`
	Source    string          `json:"source"`
	CreatedAt time.Time       `json:"createdAt"`
}

// ListBids returns persisted bids for an auction, highest first.
// GET /api/auctions/{id}/bids?limit=50&offset=0&since=RFC3339
func (h *AuctionHandler) ListBids(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	ctx := r.Context()

	if _, err := h.auctions.GetByID(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "auction not found")
			return
		}
		h.logger.ErrorContext(ctx, "load auction failed", slog.String("auction_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list bids")
		return
	}

	bids, err := h.bids.ListByAuction(ctx, id, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(ctx, "list bids failed", slog.String("auction_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list bids")
		return
	}

	out := make([]bidResponse, len(bids))
	for i, b := range bids {
		out[i] = bidResponse{
			ID:        b.ID,
			BidderID:  b.BidderID,
			Amount:    b.Amount,
			Source:    string(b.Source),
			CreatedAt: b.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"auctionId": id,
		"bids":      out,
	})
}
