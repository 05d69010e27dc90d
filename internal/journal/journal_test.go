package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/auctiond/internal/domain"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

type memBids struct {
	mu   sync.Mutex
	rows []domain.Bid
	err  error
}

func (m *memBids) Highest(context.Context, string) (*domain.Bid, error) { return nil, nil }

func (m *memBids) Exists(_ context.Context, auctionID, bidderID string, amount decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.rows {
		if b.AuctionID == auctionID && b.BidderID == bidderID && b.Amount.Equal(amount) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memBids) Insert(ctx context.Context, b domain.Bid) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	exists, _ := m.Exists(ctx, b.AuctionID, b.BidderID, b.Amount)
	if exists {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, b)
	return true, nil
}

func (m *memBids) ListByAuction(context.Context, string, domain.ListOpts) ([]domain.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Bid(nil), m.rows...), nil
}

func entry() domain.BidJournalEntry {
	return domain.BidJournalEntry{
		EventID:    "evt-1",
		AuctionID:  "a1",
		BidderID:   "b1",
		BidderName: "Alice",
		Amount:     decimal.RequireFromString("150.25"),
		Previous:   decimal.RequireFromString("100"),
		PlacedAt:   time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC),
	}
}

func TestSinkPersistIsIdempotent(t *testing.T) {
	ctx := context.Background()
	bids := &memBids{}
	sink := NewSink(bids)

	data, err := Encode(entry())
	assert.NoError(t, err)

	got, err := sink.Persist(ctx, data)
	assert.NoError(t, err)
	check.Equal(t, "evt-1", got.EventID)

	_, err = sink.Persist(ctx, data)
	check.NoError(t, err)

	rows, _ := bids.ListByAuction(ctx, "a1", domain.ListOpts{})
	assert.Equal(t, 1, len(rows))
	check.Equal(t, "evt-1", rows[0].ID)
	check.Equal(t, domain.BidSourceRealtime, rows[0].Source)
	check.True(t, rows[0].Amount.Equal(decimal.RequireFromString("150.25")))
	check.True(t, rows[0].CreatedAt.Equal(entry().PlacedAt))
}

func TestDecodeRejectsMalformed(t *testing.T) {
	_, err := Decode([]byte("{not json"))
	check.True(t, errors.Is(err, ErrMalformed))

	e := entry()
	e.Amount = decimal.Zero
	data, err := Encode(e)
	assert.NoError(t, err)
	_, err = Decode(data)
	check.True(t, errors.Is(err, ErrMalformed))
}

func TestSinkPropagatesStoreErrors(t *testing.T) {
	bids := &memBids{err: errors.New("db down")}
	data, _ := Encode(entry())
	_, err := NewSink(bids).Persist(context.Background(), data)
	check.Error(t, err)
	check.False(t, errors.Is(err, ErrMalformed))
}

func TestDirectAppend(t *testing.T) {
	ctx := context.Background()
	bids := &memBids{}
	d := NewDirect(bids)
	assert.NoError(t, d.Append(ctx, entry()))
	assert.NoError(t, d.Append(ctx, entry()))
	rows, _ := bids.ListByAuction(ctx, "a1", domain.ListOpts{})
	check.Equal(t, 1, len(rows))
}
