package memory

import (
	"context"
	"testing"
	"time"

	"github.com/alanyoungcy/auctiond/internal/domain"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func TestRuntimeStoreVersioning(t *testing.T) {
	ctx := context.Background()
	s := NewRuntimeStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.Get(ctx, "a1")
	check.Equal(t, domain.ErrNotFound, err, cmpopts.EquateErrors())

	st := domain.RuntimeState{AuctionID: "a1", Status: domain.AuctionStatusLive, Deadline: now, StartingPrice: decimal.NewFromInt(100)}
	created, err := s.Create(ctx, st)
	assert.NoError(t, err)
	check.True(t, created)

	created, err = s.Create(ctx, st)
	assert.NoError(t, err)
	check.False(t, created)

	got, err := s.Get(ctx, "a1")
	assert.NoError(t, err)
	check.Equal(t, int64(1), got.Version)

	next := got
	next.Highest = &domain.BidSnapshot{Amount: decimal.NewFromInt(150), BidderID: "b1"}
	assert.NoError(t, s.Swap(ctx, next, 1))
	check.Equal(t, domain.ErrVersionConflict, s.Swap(ctx, next, 1), cmpopts.EquateErrors())

	got, err = s.Get(ctx, "a1")
	assert.NoError(t, err)
	check.Equal(t, int64(2), got.Version)
	check.True(t, got.MinimumBid().Equal(decimal.NewFromInt(150)))

	// Mutating the returned snapshot must not leak into the store.
	got.Highest.BidderID = "mutated"
	again, _ := s.Get(ctx, "a1")
	check.Equal(t, "b1", again.Highest.BidderID)

	deadline, err := s.ExtendDeadline(ctx, "a1", 30*time.Second)
	assert.NoError(t, err)
	check.True(t, deadline.Equal(now.Add(30*time.Second)))
	again, _ = s.Get(ctx, "a1")
	check.Equal(t, int64(3), again.Version)

	assert.NoError(t, s.Delete(ctx, "a1"))
	check.Equal(t, domain.ErrNotFound, s.Swap(ctx, next, 3), cmpopts.EquateErrors())
	_, err = s.ExtendDeadline(ctx, "a1", time.Second)
	check.Equal(t, domain.ErrNotFound, err, cmpopts.EquateErrors())
	check.NoError(t, s.Delete(ctx, "a1"))
}

func TestLockManagerExclusion(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lm := NewLockManagerWithClock(func() time.Time { return now })

	unlock, err := lm.Acquire(ctx, "auction:1:bid", 5*time.Second)
	assert.NoError(t, err)
	check.True(t, lm.Held("auction:1:bid"))

	_, err = lm.Acquire(ctx, "auction:1:bid", 5*time.Second)
	check.Equal(t, domain.ErrLockHeld, err, cmpopts.EquateErrors())

	// Different keys do not contend.
	other, err := lm.Acquire(ctx, "auction:2:bid", 5*time.Second)
	assert.NoError(t, err)
	other()

	unlock()
	unlock()
	check.False(t, lm.Held("auction:1:bid"))
}

func TestLockManagerExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lm := NewLockManagerWithClock(func() time.Time { return now })

	stale, err := lm.Acquire(ctx, "k", 5*time.Second)
	assert.NoError(t, err)

	now = now.Add(6 * time.Second)
	fresh, err := lm.Acquire(ctx, "k", 5*time.Second)
	assert.NoError(t, err)

	// The expired holder must not release the new holder's lock.
	stale()
	check.True(t, lm.Held("k"))
	fresh()
	check.False(t, lm.Held("k"))
}

func TestScheduleStore(t *testing.T) {
	ctx := context.Background()
	s := NewScheduleStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.NoError(t, s.Put(ctx, domain.ScheduledTransition{Kind: domain.TransitionPendingDeadline, AuctionID: "b", Due: base.Add(2 * time.Minute)}))
	assert.NoError(t, s.Put(ctx, domain.ScheduledTransition{Kind: domain.TransitionPendingStart, AuctionID: "a", Due: base.Add(time.Minute)}))
	assert.NoError(t, s.Put(ctx, domain.ScheduledTransition{Kind: domain.TransitionPendingDeadline, AuctionID: "b", Due: base.Add(3 * time.Minute)}))

	list, err := s.List(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(list))
	check.Equal(t, "a", list[0].AuctionID)
	check.True(t, list[1].Due.Equal(base.Add(3*time.Minute)))

	assert.NoError(t, s.Remove(ctx, domain.TransitionPendingStart, "a"))
	list, _ = s.List(ctx)
	check.Equal(t, 1, len(list))
}
