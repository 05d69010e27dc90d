package auction

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/auctiond/internal/broadcast"
	"github.com/alanyoungcy/auctiond/internal/cache/memory"
	"github.com/alanyoungcy/auctiond/internal/domain"
	"github.com/peterldowns/testy/assert"
	"github.com/shopspring/decimal"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fakeAuctions struct {
	mu          sync.Mutex
	rows        map[string]domain.Auction
	failMarkers int
}

func (f *fakeAuctions) put(a domain.Auction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[a.ID] = a
}

func (f *fakeAuctions) get(id string) domain.Auction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id]
}

func (f *fakeAuctions) GetByID(_ context.Context, id string) (domain.Auction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	return a, nil
}

func (f *fakeAuctions) MarkEnded(_ context.Context, id string, endTime time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMarkers > 0 {
		f.failMarkers--
		return errors.New("database unavailable")
	}
	a, ok := f.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.Status = domain.AuctionRowEnded
	a.EndTime = endTime
	f.rows[id] = a
	return nil
}

func (f *fakeAuctions) UpdateEndTime(_ context.Context, id string, endTime time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.EndTime = endTime
	f.rows[id] = a
	return nil
}

type fakeBids struct {
	mu   sync.Mutex
	rows []domain.Bid
}

func (f *fakeBids) Highest(_ context.Context, auctionID string) (*domain.Bid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *domain.Bid
	for i := range f.rows {
		b := f.rows[i]
		if b.AuctionID != auctionID {
			continue
		}
		if best == nil || b.Amount.GreaterThan(best.Amount) {
			best = &b
		}
	}
	return best, nil
}

func (f *fakeBids) Exists(_ context.Context, auctionID, bidderID string, amount decimal.Decimal) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existsLocked(auctionID, bidderID, amount), nil
}

func (f *fakeBids) existsLocked(auctionID, bidderID string, amount decimal.Decimal) bool {
	for _, b := range f.rows {
		if b.AuctionID == auctionID && b.BidderID == bidderID && b.Amount.Equal(amount) {
			return true
		}
	}
	return false
}

func (f *fakeBids) Insert(_ context.Context, bid domain.Bid) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsLocked(bid.AuctionID, bid.BidderID, bid.Amount) {
		return false, nil
	}
	f.rows = append(f.rows, bid)
	return true, nil
}

func (f *fakeBids) ListByAuction(_ context.Context, auctionID string, _ domain.ListOpts) ([]domain.Bid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Bid
	for _, b := range f.rows {
		if b.AuctionID == auctionID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Amount.GreaterThan(out[j].Amount) })
	return out, nil
}

func (f *fakeBids) count(auctionID string) int {
	rows, _ := f.ListByAuction(context.Background(), auctionID, domain.ListOpts{})
	return len(rows)
}

type fakeUsers map[string]string

func (f fakeUsers) DisplayName(_ context.Context, userID string) (string, error) {
	name, ok := f[userID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return name, nil
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []domain.BidJournalEntry
}

func (f *fakeJournal) Append(_ context.Context, e domain.BidJournalEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

type fakeLimiter struct{ allow bool }

func (f fakeLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return f.allow, nil
}

// observer records every event delivered to it.
type observer struct {
	id  string
	mu  sync.Mutex
	evs []domain.Event
}

func (o *observer) ID() string { return o.id }

func (o *observer) Deliver(ev domain.Event) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.evs = append(o.evs, ev)
	return true
}

func (o *observer) types() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.evs))
	for _, ev := range o.evs {
		out = append(out, ev.Type)
	}
	return out
}

func (o *observer) last(t *testing.T, eventType string, into any) bool {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.evs) - 1; i >= 0; i-- {
		if o.evs[i].Type == eventType {
			assert.NoError(t, json.Unmarshal(o.evs[i].Payload, into))
			return true
		}
	}
	return false
}

type harness struct {
	clock    *clock
	auctions *fakeAuctions
	bids     *fakeBids
	journal  *fakeJournal
	runtime  *memory.RuntimeStore
	locks    *memory.LockManager
	schedule *memory.ScheduleStore
	hub      *broadcast.Hub
	coord    *Coordinator
	fin      *Finalizer
	sched    *Scheduler
	engine   *Engine
}

type harnessOpts struct {
	tick    time.Duration
	journal bool
	limiter domain.RateLimiter
	runtime domain.RuntimeStore
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()
	if opts.tick == 0 {
		opts.tick = time.Hour
	}

	h := &harness{
		clock:    &clock{now: t0},
		auctions: &fakeAuctions{rows: make(map[string]domain.Auction)},
		bids:     &fakeBids{},
		runtime:  memory.NewRuntimeStore(),
		schedule: memory.NewScheduleStore(),
	}
	h.locks = memory.NewLockManagerWithClock(h.clock.Now)
	h.hub = broadcast.NewHub(nil, testLogger())

	var rt domain.RuntimeStore = h.runtime
	if opts.runtime != nil {
		rt = opts.runtime
	}
	var journal domain.BidJournal
	if opts.journal {
		h.journal = &fakeJournal{}
		journal = h.journal
	}

	h.coord = NewCoordinator(h.auctions, h.bids, rt, h.locks, h.hub, journal,
		CoordinatorConfig{Now: h.clock.Now}, testLogger())
	h.fin = NewFinalizer(h.auctions, h.bids, rt, h.schedule, h.clock.Now, testLogger())
	h.sched = NewScheduler(rt, h.schedule, h.locks, h.fin, h.hub,
		SchedulerConfig{Tick: opts.tick, Now: h.clock.Now}, testLogger())
	h.engine = NewEngine(h.auctions, h.bids, fakeUsers{"buyer-a": "Alice", "buyer-b": "Bob"}, rt,
		opts.limiter, h.coord, h.sched, h.hub,
		EngineConfig{RateLimit: BidRateLimit{Limit: 10, Window: time.Second}, Now: h.clock.Now}, testLogger())
	t.Cleanup(h.sched.Stop)
	return h
}

// seed stores an auction running from t0 to t0+60s at a starting price of 100.
func (h *harness) seed(id string) domain.Auction {
	a := domain.Auction{
		ID:            id,
		ItemID:        "item-" + id,
		SellerID:      "seller",
		StartTime:     t0,
		EndTime:       t0.Add(60 * time.Second),
		StartingPrice: dec("100"),
		Status:        domain.AuctionRowScheduled,
	}
	h.auctions.put(a)
	return a
}

var (
	buyerA = domain.Identity{UserID: "buyer-a", Role: domain.RoleBuyer}
	buyerB = domain.Identity{UserID: "buyer-b", Role: domain.RoleBuyer}
	seller = domain.Identity{UserID: "seller", Role: domain.RoleSeller}
)

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// interceptRuntime runs a hook once, just before the next Swap reaches the
// store.
type interceptRuntime struct {
	*memory.RuntimeStore
	mu   sync.Mutex
	hook func()
}

func (r *interceptRuntime) onSwap(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hook = fn
}

func (r *interceptRuntime) Swap(ctx context.Context, next domain.RuntimeState, expectedVersion int64) error {
	r.mu.Lock()
	fn := r.hook
	r.hook = nil
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
	return r.RuntimeStore.Swap(ctx, next, expectedVersion)
}
