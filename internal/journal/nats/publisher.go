// Package nats implements the bid journal on NATS JetStream. The server side
// publishes every committed bid; the archiver consumes the stream and writes
// bid rows.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/alanyoungcy/auctiond/internal/domain"
	"github.com/alanyoungcy/auctiond/internal/journal"
)

// Stream layout.
const (
	StreamName    = "BID_EVENTS"
	subjectPrefix = "bids."
	publishWait   = 5 * time.Second
)

// Subject returns the subject bids for one auction are published on.
func Subject(auctionID string) string { return subjectPrefix + auctionID }

// Config holds connection and stream parameters.
type Config struct {
	URL    string
	MaxAge time.Duration
}

// Connect dials NATS and makes sure the bid stream exists.
func Connect(ctx context.Context, cfg Config) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("auctiond"))
	if err != nil {
		return nil, nil, fmt.Errorf("nats: connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("nats: jetstream: %w", err)
	}

	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Committed realtime bids awaiting archival",
		Subjects:    []string{subjectPrefix + "*"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      maxAge,
		Duplicates:  2 * time.Minute,
	})
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("nats: ensure stream %s: %w", StreamName, err)
	}
	return nc, js, nil
}

// Publisher implements domain.BidJournal on a JetStream stream.
type Publisher struct {
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(js jetstream.JetStream, logger *slog.Logger) *Publisher {
	return &Publisher{js: js, logger: logger.With(slog.String("component", "bid_journal"))}
}

// Append publishes the entry and waits for the stream ack. The event id is
// the JetStream message id, so a retried publish is deduplicated.
func (p *Publisher) Append(ctx context.Context, e domain.BidJournalEntry) error {
	data, err := journal.Encode(e)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishWait)
	defer cancel()

	ack, err := p.js.Publish(ctx, Subject(e.AuctionID), data, jetstream.WithMsgID(e.EventID))
	if err != nil {
		return fmt.Errorf("nats: publish bid %s: %w", e.EventID, err)
	}
	p.logger.DebugContext(ctx, "bid journaled",
		slog.String("auction_id", e.AuctionID),
		slog.Uint64("seq", ack.Sequence),
		slog.Bool("duplicate", ack.Duplicate),
	)
	return nil
}

// Compile-time interface check.
var _ domain.BidJournal = (*Publisher)(nil)
