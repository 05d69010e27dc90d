// Package notify sends operator notifications about auction outcomes to
// webhook channels (Discord, Telegram). Events can be filtered so operators
// receive only the alerts they subscribe to.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/auctiond/internal/domain"
)

// Event types understood by the filter.
const (
	EventAuctionEnded   = "auction_ended"
	EventAuctionNoWin   = "auction_no_winner"
	EventFinalizeFailed = "finalize_failed"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. Notify forwards
// only events in the allowed set; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// AuctionEnded reports a finalized auction. Auctions that closed without
// bids are sent as auction_no_winner so they can be filtered separately.
func (n *Notifier) AuctionEnded(ctx context.Context, res domain.AuctionResult) error {
	if !res.HasWinner {
		return n.Notify(ctx, EventAuctionNoWin,
			"Auction closed without bids",
			fmt.Sprintf("Auction %s ended at %s with no bids (starting price %s).",
				res.AuctionID, res.EndedAt.UTC().Format("2006-01-02 15:04:05 MST"), res.WinningAmount.StringFixed(2)),
		)
	}

	winner := res.WinnerName
	if winner == "" {
		winner = res.WinnerID
	}
	msg := fmt.Sprintf("Auction %s won by %s for %s at %s.",
		res.AuctionID, winner, res.WinningAmount.StringFixed(2), res.EndedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	if res.CatchUpInsert {
		msg += " Winning bid was reconciled at finalize."
	}
	return n.Notify(ctx, EventAuctionEnded, "Auction ended", msg)
}

// Notify sends to all senders if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}

	return n.dispatch(ctx, title, message)
}

// dispatch delivers to every sender. A failing sender does not prevent
// delivery to the others; failures are combined into one error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.WarnContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
