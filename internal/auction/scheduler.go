package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/auctiond/internal/domain"
)

// Scheduler defaults.
const (
	DefaultTick        = time.Second
	finalizeLeaseTTL   = 30 * time.Second
	finalizeCallBudget = 30 * time.Second
)

type timerKey struct {
	kind      domain.TransitionKind
	auctionID string
}

// timer is one owned lifecycle loop. cancel stops it; done closes when the
// goroutine has exited.
type timer struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// SchedulerConfig tunes the scheduler.
type SchedulerConfig struct {
	Tick time.Duration
	Now  func() time.Time
}

// Scheduler owns at most one start timer and one deadline timer per auction.
// Arming a timer for an id supersedes the previous one of the same kind.
// Every armed timer is mirrored in the ScheduleStore so Recover can re-arm
// them after a restart.
type Scheduler struct {
	runtime   domain.RuntimeStore
	schedule  domain.ScheduleStore
	locks     domain.LockManager
	finalizer *Finalizer
	hub       Broadcaster
	tick      time.Duration
	now       func() time.Time
	logger    *slog.Logger

	base   context.Context
	stop   context.CancelFunc
	mu     sync.Mutex
	timers map[timerKey]*timer
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler. Call Stop to cancel every timer.
func NewScheduler(
	runtime domain.RuntimeStore,
	schedule domain.ScheduleStore,
	locks domain.LockManager,
	finalizer *Finalizer,
	hub Broadcaster,
	cfg SchedulerConfig,
	logger *slog.Logger,
) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	base, stop := context.WithCancel(context.Background())
	return &Scheduler{
		runtime:   runtime,
		schedule:  schedule,
		locks:     locks,
		finalizer: finalizer,
		hub:       hub,
		tick:      cfg.Tick,
		now:       cfg.Now,
		logger:    logger.With(slog.String("component", "scheduler")),
		base:      base,
		stop:      stop,
		timers:    make(map[timerKey]*timer),
	}
}

// Watch arms, or re-arms, the deadline timer for auctionID using the cached
// deadline.
func (s *Scheduler) Watch(ctx context.Context, auctionID string) error {
	st, err := s.runtime.Get(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("auction: watch %s: %w", auctionID, err)
	}
	entry := domain.ScheduledTransition{
		Kind:      domain.TransitionPendingDeadline,
		AuctionID: auctionID,
		Due:       st.Deadline,
	}
	if err := s.schedule.Put(ctx, entry); err != nil {
		return fmt.Errorf("auction: watch %s: %w", auctionID, err)
	}
	s.arm(entry)
	return nil
}

// ScheduleStart arms the one-shot upcoming to live transition for a. It fires
// whether or not anyone is still observing the auction.
func (s *Scheduler) ScheduleStart(ctx context.Context, a domain.Auction) error {
	entry := domain.ScheduledTransition{
		Kind:      domain.TransitionPendingStart,
		AuctionID: a.ID,
		Due:       a.StartTime,
	}
	if err := s.schedule.Put(ctx, entry); err != nil {
		return fmt.Errorf("auction: schedule start %s: %w", a.ID, err)
	}
	s.arm(entry)
	return nil
}

// Recover re-arms every pending transition from the ScheduleStore. It
// returns the number of timers armed.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	pending, err := s.schedule.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("auction: recover schedule: %w", err)
	}
	for _, entry := range pending {
		s.arm(entry)
	}
	s.logger.InfoContext(ctx, "schedule recovered", slog.Int("timers", len(pending)))
	return len(pending), nil
}

// Watching reports whether this instance owns a live deadline timer for
// auctionID.
func (s *Scheduler) Watching(auctionID string) bool {
	return s.armed(domain.TransitionPendingDeadline, auctionID)
}

// Pending reports how many timers are currently armed.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every timer and waits for the loops to exit. Pending entries
// stay in the ScheduleStore for the next Recover.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stop()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) armed(kind domain.TransitionKind, auctionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[timerKey{kind: kind, auctionID: auctionID}]
	return ok
}

// arm starts the loop for entry, cancelling any prior timer with the same
// key. Arming after Stop is a no-op.
func (s *Scheduler) arm(entry domain.ScheduledTransition) {
	key := timerKey{kind: entry.Kind, auctionID: entry.AuctionID}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.base.Err() != nil {
		return
	}
	if prev, ok := s.timers[key]; ok {
		prev.cancel()
	}

	ctx, cancel := context.WithCancel(s.base)
	t := &timer{cancel: cancel, done: make(chan struct{})}
	s.timers[key] = t

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(t.done)
		defer s.release(key, t)

		switch entry.Kind {
		case domain.TransitionPendingStart:
			s.loop(ctx, func(ctx context.Context) bool { return s.checkStart(ctx, entry) })
		default:
			s.loop(ctx, func(ctx context.Context) bool { return s.checkDeadline(ctx, entry.AuctionID) })
		}
	}()
}

// release forgets t unless it has already been superseded.
func (s *Scheduler) release(key timerKey, t *timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.timers[key]; ok && cur == t {
		delete(s.timers, key)
	}
	t.cancel()
}

// loop runs check immediately and then on every tick until it reports done
// or ctx is cancelled. A failing check only affects its own tick.
func (s *Scheduler) loop(ctx context.Context, check func(context.Context) bool) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		if check(ctx) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// checkStart fires the start transition once its due time has passed.
func (s *Scheduler) checkStart(ctx context.Context, entry domain.ScheduledTransition) bool {
	if s.now().Before(entry.Due) {
		return false
	}
	id := entry.AuctionID

	st, started, err := s.advanceToLive(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		s.forget(ctx, domain.TransitionPendingStart, id)
		return true
	}
	if err != nil {
		s.logger.WarnContext(ctx, "start transition failed",
			slog.String("auction_id", id),
			slog.String("error", err.Error()),
		)
		return false
	}

	if started {
		s.logger.InfoContext(ctx, "auction started", slog.String("auction_id", id))
		s.publish(ctx, id, domain.EventAuctionStarted, domain.AuctionStarted{
			AuctionID:     id,
			StartTime:     st.StartTime,
			EndTime:       st.Deadline,
			StartingPrice: st.StartingPrice,
		})
	}

	if err := s.Watch(ctx, id); err != nil {
		if ctx.Err() != nil || errors.Is(err, domain.ErrNotFound) {
			return true
		}
		s.logger.WarnContext(ctx, "arm deadline after start failed",
			slog.String("auction_id", id),
			slog.String("error", err.Error()),
		)
		return false
	}
	s.forget(ctx, domain.TransitionPendingStart, id)
	return true
}

// advanceToLive moves the stored status forward to live. started is true
// only for the caller whose swap performed the transition, so a start is
// announced once across instances.
func (s *Scheduler) advanceToLive(ctx context.Context, auctionID string) (domain.RuntimeState, bool, error) {
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		st, err := s.runtime.Get(ctx, auctionID)
		if err != nil {
			return st, false, err
		}
		next := st
		next.Status = st.Status.Advance(domain.AuctionStatusLive)
		if next.Status == st.Status {
			return st, false, nil
		}
		err = s.runtime.Swap(ctx, next, st.Version)
		if errors.Is(err, domain.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return st, false, err
		}
		return next, true, nil
	}
	return domain.RuntimeState{}, false, domain.ErrVersionConflict
}

// checkDeadline finalizes the auction once the cached deadline has passed.
// It reports true when the timer is no longer needed.
func (s *Scheduler) checkDeadline(ctx context.Context, auctionID string) bool {
	st, err := s.runtime.Get(ctx, auctionID)
	if errors.Is(err, domain.ErrNotFound) {
		// Finalized elsewhere.
		s.forget(ctx, domain.TransitionPendingDeadline, auctionID)
		return true
	}
	if err != nil {
		s.logger.WarnContext(ctx, "deadline check failed",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
		return false
	}
	if s.now().Before(st.Deadline) {
		return false
	}

	unlock, err := s.locks.Acquire(ctx, finalizeLockKey(auctionID), finalizeLeaseTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		return false
	}
	if err != nil {
		s.logger.WarnContext(ctx, "finalize lease failed",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
		return false
	}
	defer unlock()

	// A finalize that has started runs to completion even if this timer is
	// superseded or stopped meanwhile.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeCallBudget)
	defer cancel()

	res, err := s.finalizer.Finalize(fctx, auctionID)
	if errors.Is(err, errNotDue) {
		return false
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "finalize failed, retrying next tick",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
		s.publish(fctx, auctionID, domain.EventError, domain.ErrorEvent{
			Message:   msgFinalizeFailed,
			AuctionID: auctionID,
		})
		return false
	}
	if res.Finalized {
		ev, err := EndedEvent(res.AuctionResult)
		if err == nil {
			err = s.hub.Publish(fctx, auctionID, ev)
		}
		if err != nil {
			s.logger.WarnContext(ctx, "broadcast failed",
				slog.String("auction_id", auctionID),
				slog.String("event", domain.EventAuctionEnded),
				slog.String("error", err.Error()),
			)
		}
	}
	return true
}

// forget removes the durable entry for a transition that no longer needs a
// timer.
func (s *Scheduler) forget(ctx context.Context, kind domain.TransitionKind, auctionID string) {
	if err := s.schedule.Remove(context.WithoutCancel(ctx), kind, auctionID); err != nil {
		s.logger.WarnContext(ctx, "schedule remove failed",
			slog.String("auction_id", auctionID),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Scheduler) publish(ctx context.Context, auctionID, eventType string, payload any) {
	ev, err := domain.NewEvent(eventType, auctionID, payload)
	if err == nil {
		err = s.hub.Publish(ctx, auctionID, ev)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "broadcast failed",
			slog.String("auction_id", auctionID),
			slog.String("event", eventType),
			slog.String("error", err.Error()),
		)
	}
}
