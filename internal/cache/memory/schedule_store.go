package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/alanyoungcy/auctiond/internal/domain"
)

// ScheduleStore implements domain.ScheduleStore in process memory. Entries do
// not survive a restart; use the Redis implementation for that.
type ScheduleStore struct {
	mu      sync.Mutex
	entries map[string]domain.ScheduledTransition
}

// NewScheduleStore creates an empty ScheduleStore.
func NewScheduleStore() *ScheduleStore {
	return &ScheduleStore{entries: make(map[string]domain.ScheduledTransition)}
}

func scheduleMember(kind domain.TransitionKind, auctionID string) string {
	return string(kind) + ":" + auctionID
}

// Put records t, replacing any entry of the same kind for the auction.
func (s *ScheduleStore) Put(_ context.Context, t domain.ScheduledTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[scheduleMember(t.Kind, t.AuctionID)] = t
	return nil
}

// Remove deletes the entry, if any.
func (s *ScheduleStore) Remove(_ context.Context, kind domain.TransitionKind, auctionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, scheduleMember(kind, auctionID))
	return nil
}

// List returns all entries ordered by due time.
func (s *ScheduleStore) List(_ context.Context) ([]domain.ScheduledTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.ScheduledTransition, 0, len(s.entries))
	for _, t := range s.entries {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Due.Before(out[j].Due) })
	return out, nil
}

// Compile-time interface check.
var _ domain.ScheduleStore = (*ScheduleStore)(nil)
