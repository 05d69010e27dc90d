package domain

import (
	"context"
	"time"
)

// RuntimeStore holds one versioned RuntimeState record per auction.
type RuntimeStore interface {
	Get(ctx context.Context, auctionID string) (RuntimeState, error)
	// Create stores state with version 1 unless a record already exists.
	Create(ctx context.Context, state RuntimeState) (bool, error)
	// Swap replaces the record only if its stored version equals
	// expectedVersion. It returns ErrVersionConflict otherwise and
	// ErrNotFound if the record was evicted.
	Swap(ctx context.Context, next RuntimeState, expectedVersion int64) error
	// ExtendDeadline atomically moves the deadline forward by delta.
	ExtendDeadline(ctx context.Context, auctionID string, delta time.Duration) (time.Time, error)
	Delete(ctx context.Context, auctionID string) error
}

// LockManager provides short-lived, token-guarded mutual exclusion.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// TransitionKind names a pending lifecycle transition.
type TransitionKind string

const (
	TransitionPendingStart    TransitionKind = "start"
	TransitionPendingDeadline TransitionKind = "deadline"
)

// ScheduledTransition is a durable record of an armed timer.
type ScheduledTransition struct {
	Kind      TransitionKind
	AuctionID string
	Due       time.Time
}

// ScheduleStore keeps pending transitions so a restarted process can re-arm
// them.
type ScheduleStore interface {
	Put(ctx context.Context, t ScheduledTransition) error
	Remove(ctx context.Context, kind TransitionKind, auctionID string) error
	List(ctx context.Context) ([]ScheduledTransition, error)
}

// SignalBus provides pub/sub between process instances.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
