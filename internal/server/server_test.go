package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/peterldowns/testy/check"

	"github.com/alanyoungcy/auctiond/internal/crypto"
	"github.com/alanyoungcy/auctiond/internal/domain"
	"github.com/alanyoungcy/auctiond/internal/server/handler"
)

type noLive struct{}

func (noLive) Status(context.Context, string) (domain.AuctionStatusSnapshot, error) {
	return domain.AuctionStatusSnapshot{}, domain.ErrNotFound
}

type noAuctions struct{}

func (noAuctions) GetByID(context.Context, string) (domain.Auction, error) {
	return domain.Auction{}, domain.ErrNotFound
}

type noBids struct{}

func (noBids) Highest(context.Context, string) (*domain.Bid, error) { return nil, nil }
func (noBids) ListByAuction(context.Context, string, domain.ListOpts) ([]domain.Bid, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, *crypto.TokenAuth) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens := crypto.NewTokenAuth("test-secret", nil)
	srv := NewServer(
		Config{Port: 0},
		Handlers{
			Health:   handler.NewHealthHandler(map[string]handler.Check{"redis": func(context.Context) error { return errors.New("down") }}, logger),
			Auctions: handler.NewAuctionHandler(noLive{}, noAuctions{}, noBids{}, nil, logger),
		},
		Deps{Tokens: tokens},
		logger,
	)
	return srv, tokens
}

func TestRoutes(t *testing.T) {
	t.Parallel()
	srv, tokens := newTestServer(t)
	h := srv.Handler()

	tok, err := tokens.Sign(domain.Identity{UserID: "u1", Role: domain.RoleBuyer}, time.Hour)
	check.Nil(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		auth   string
		status int
	}{
		{"health degraded", http.MethodGet, "/api/health", "", http.StatusServiceUnavailable},
		{"status not found", http.MethodGet, "/api/auctions/a1/status", "", http.StatusNotFound},
		{"bids not found", http.MethodGet, "/api/auctions/a1/bids", "Bearer " + tok, http.StatusNotFound},
		{"bad token", http.MethodGet, "/api/auctions/a1/status", "Bearer forged.token", http.StatusUnauthorized},
		{"wrong method", http.MethodPost, "/api/auctions/a1/status", "", http.StatusMethodNotAllowed},
		{"ws not mounted", http.MethodGet, "/ws", "", http.StatusNotFound},
		{"preflight", http.MethodOptions, "/api/health", "", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			check.Equal(t, tt.status, rec.Code)
		})
	}
	check.Equal(t, ":0", srv.Addr())
}
