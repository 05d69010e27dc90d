// Package journal carries committed realtime bids to the durable bid table.
// Every accepted bid is appended once; the archiver turns each entry into one
// row, and the unique (auction, bidder, amount) index makes replays harmless.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alanyoungcy/auctiond/internal/domain"
)

// ErrMalformed marks an entry that can never be persisted.
var ErrMalformed = errors.New("journal: malformed entry")

// Encode serializes an entry for the wire.
func Encode(e domain.BidJournalEntry) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("journal: encode %s: %w", e.EventID, err)
	}
	return data, nil
}

// Decode parses and checks an entry.
func Decode(data []byte) (domain.BidJournalEntry, error) {
	var e domain.BidJournalEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if e.EventID == "" || e.AuctionID == "" || e.BidderID == "" || !e.Amount.IsPositive() {
		return e, fmt.Errorf("%w: missing fields in %q", ErrMalformed, e.EventID)
	}
	return e, nil
}

// ToBid maps an entry to its durable row. The event id doubles as the row id.
func ToBid(e domain.BidJournalEntry) domain.Bid {
	return domain.Bid{
		ID:        e.EventID,
		AuctionID: e.AuctionID,
		BidderID:  e.BidderID,
		Amount:    e.Amount,
		Source:    domain.BidSourceRealtime,
		CreatedAt: e.PlacedAt,
	}
}

// Sink persists journal entries into a BidStore.
type Sink struct {
	bids domain.BidStore
}

// NewSink creates a Sink writing to bids.
func NewSink(bids domain.BidStore) *Sink {
	return &Sink{bids: bids}
}

// Persist decodes data and inserts the bid row. A duplicate row is success.
func (s *Sink) Persist(ctx context.Context, data []byte) (domain.BidJournalEntry, error) {
	e, err := Decode(data)
	if err != nil {
		return e, err
	}
	if _, err := s.bids.Insert(ctx, ToBid(e)); err != nil {
		return e, fmt.Errorf("journal: persist %s: %w", e.EventID, err)
	}
	return e, nil
}

// Direct is a BidJournal that writes rows synchronously. It serves
// deployments without a message broker.
type Direct struct {
	bids domain.BidStore
}

// NewDirect creates a Direct journal over bids.
func NewDirect(bids domain.BidStore) *Direct {
	return &Direct{bids: bids}
}

// Append inserts the entry's bid row.
func (d *Direct) Append(ctx context.Context, e domain.BidJournalEntry) error {
	if _, err := d.bids.Insert(ctx, ToBid(e)); err != nil {
		return fmt.Errorf("journal: append %s: %w", e.EventID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BidJournal = (*Direct)(nil)
