package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/alanyoungcy/auctiond/internal/journal"
)

const (
	consumerName    = "bid-archiver"
	persistTimeout  = 10 * time.Second
	redeliveryDelay = 2 * time.Second
)

// Consumer drains the bid stream into the durable store.
type Consumer struct {
	js     jetstream.JetStream
	sink   *journal.Sink
	logger *slog.Logger
}

// NewConsumer creates a Consumer writing through sink.
func NewConsumer(js jetstream.JetStream, sink *journal.Sink, logger *slog.Logger) *Consumer {
	return &Consumer{
		js:     js,
		sink:   sink,
		logger: logger.With(slog.String("component", "bid_archiver")),
	}
}

// Run consumes until ctx is cancelled. Entries that fail to persist are
// redelivered after a delay; malformed entries are terminated.
func (c *Consumer) Run(ctx context.Context) error {
	cons, err := c.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: subjectPrefix + "*",
		MaxDeliver:    -1,
	})
	if err != nil {
		return fmt.Errorf("nats: create consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		c.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("nats: consume: %w", err)
	}
	defer cc.Stop()

	c.logger.InfoContext(ctx, "consuming bid journal",
		slog.String("stream", StreamName),
		slog.String("consumer", consumerName),
	)
	<-ctx.Done()
	return nil
}

func (c *Consumer) handle(ctx context.Context, msg jetstream.Msg) {
	pctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	e, err := c.sink.Persist(pctx, msg.Data())
	switch {
	case err == nil:
		if ackErr := msg.Ack(); ackErr != nil {
			c.logger.WarnContext(ctx, "ack failed", slog.String("error", ackErr.Error()))
		}
	case errors.Is(err, journal.ErrMalformed):
		c.logger.ErrorContext(ctx, "dropping malformed bid entry",
			slog.String("subject", msg.Subject()),
			slog.String("error", err.Error()),
		)
		_ = msg.Term()
	default:
		c.logger.WarnContext(ctx, "persist bid failed, redelivering",
			slog.String("event_id", e.EventID),
			slog.String("error", err.Error()),
		)
		_ = msg.NakWithDelay(redeliveryDelay)
	}
}
