package postgres

import (
	"testing"

	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/auctiond/internal/domain"
)

func TestParseAmount(t *testing.T) {
	got, err := parseAmount("200.50")
	check.NoError(t, err)
	check.True(t, got.Equal(decimal.RequireFromString("200.5")))

	_, err = parseAmount("")
	check.Error(t, err)
	_, err = parseAmount("abc")
	check.Error(t, err)
}

func TestDSN(t *testing.T) {
	check.Equal(t, "postgres://u:p@db:5432/auctions?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "auctions"}))
	check.Equal(t, "postgres://override", DSN(ClientConfig{DSN: "postgres://override", Host: "ignored"}))
}

func TestMigrationsEmbedded(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/001_init.sql")
	check.NoError(t, err)
	check.True(t, len(data) > 0)
}

func TestAuditDetail(t *testing.T) {
	got, err := auditDetail(domain.AuditRecord{AuctionID: "a1", Event: domain.AuditAuctionFinalized})
	check.NoError(t, err)
	check.Equal(t, "{}", string(got))

	got, err = auditDetail(domain.AuditRecord{
		AuctionID: "a1",
		Event:     domain.AuditAuctionFinalized,
		Detail:    map[string]any{"has_winner": true, "winning_amount": "150"},
	})
	check.NoError(t, err)
	check.Equal(t, `{"has_winner":true,"winning_amount":"150"}`, string(got))

	_, err = auditDetail(domain.AuditRecord{Event: domain.AuditAuctionFinalized})
	check.Error(t, err)
	_, err = auditDetail(domain.AuditRecord{AuctionID: "a1", Event: "x", Detail: map[string]any{"bad": func() {}}})
	check.Error(t, err)
}
