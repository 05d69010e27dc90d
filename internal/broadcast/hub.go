// Package broadcast fans auction events out to subscribed observers. With a
// signal bus configured, events travel through Redis pub/sub so observers
// connected to any instance receive them.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/auctiond/internal/domain"
)

// channelPattern matches every per-auction channel.
const channelPattern = "ch:auction:*"

// ChannelName returns the pub/sub channel for one auction.
func ChannelName(auctionID string) string { return "ch:auction:" + auctionID }

// Subscriber is one observer connection.
type Subscriber interface {
	ID() string
	// Deliver queues ev without blocking. It returns false when the event
	// was dropped.
	Deliver(ev domain.Event) bool
}

// Hub maintains channel membership keyed by auction id. Delivery is
// best-effort and at-most-once; there is no replay.
type Hub struct {
	bus    domain.SignalBus
	mu     sync.RWMutex
	rooms  map[string]map[string]Subscriber
	logger *slog.Logger
}

// NewHub creates a Hub. A nil bus delivers in-process only.
func NewHub(bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		bus:    bus,
		rooms:  make(map[string]map[string]Subscriber),
		logger: logger.With(slog.String("component", "broadcast")),
	}
}

// Join adds sub to the auction's channel. Joining twice is harmless.
func (h *Hub) Join(auctionID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[auctionID]
	if !ok {
		room = make(map[string]Subscriber)
		h.rooms[auctionID] = room
	}
	room[sub.ID()] = sub
}

// Leave removes sub from the auction's channel.
func (h *Hub) Leave(auctionID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(auctionID, sub.ID())
}

// LeaveAll removes sub from every channel, as on disconnect. It returns the
// auctions sub had joined.
func (h *Hub) LeaveAll(sub Subscriber) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var left []string
	for auctionID, room := range h.rooms {
		if _, ok := room[sub.ID()]; ok {
			left = append(left, auctionID)
			h.leaveLocked(auctionID, sub.ID())
		}
	}
	return left
}

func (h *Hub) leaveLocked(auctionID, subID string) {
	room, ok := h.rooms[auctionID]
	if !ok {
		return
	}
	delete(room, subID)
	if len(room) == 0 {
		delete(h.rooms, auctionID)
	}
}

// Members returns the number of local subscribers of an auction.
func (h *Hub) Members(auctionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[auctionID])
}

// Publish broadcasts ev to the auction's channel.
func (h *Hub) Publish(ctx context.Context, auctionID string, ev domain.Event) error {
	ev.AuctionID = auctionID
	if h.bus == nil {
		h.deliver(ev)
		return nil
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("broadcast: marshal %s: %w", ev.Type, err)
	}
	if err := h.bus.Publish(ctx, ChannelName(auctionID), data); err != nil {
		return fmt.Errorf("broadcast: publish %s: %w", ev.Type, err)
	}
	return nil
}

// SendTo delivers ev to sub alone.
func (h *Hub) SendTo(sub Subscriber, ev domain.Event) {
	if !sub.Deliver(ev) {
		h.logger.Warn("dropping event for slow subscriber",
			slog.String("subscriber", sub.ID()),
			slog.String("event", ev.Type),
		)
	}
}

// Run relays events from the signal bus to local subscribers until ctx is
// cancelled. Without a bus it only waits for ctx.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus == nil {
		<-ctx.Done()
		return nil
	}

	msgs, err := h.bus.Subscribe(ctx, channelPattern)
	if err != nil {
		return fmt.Errorf("broadcast: subscribe: %w", err)
	}
	h.logger.Info("subscribed to auction channels", slog.String("pattern", channelPattern))

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("broadcast: subscription closed")
			}
			var ev domain.Event
			if err := json.Unmarshal(data, &ev); err != nil {
				h.logger.Warn("discarding malformed event", slog.String("error", err.Error()))
				continue
			}
			h.deliver(ev)
		}
	}
}

// deliver fans ev out to the local members of its auction. A subscriber with
// a full buffer misses the event.
func (h *Hub) deliver(ev domain.Event) {
	h.mu.RLock()
	room := h.rooms[ev.AuctionID]
	subs := make([]Subscriber, 0, len(room))
	for _, sub := range room {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		if !sub.Deliver(ev) {
			h.logger.Warn("dropping event for slow subscriber",
				slog.String("subscriber", sub.ID()),
				slog.String("auction_id", ev.AuctionID),
				slog.String("event", ev.Type),
			)
		}
	}
}
