// Package memory implements the domain cache interfaces in process memory.
// It backs single-instance deployments (runtime.backend = "memory") and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/auctiond/internal/domain"
)

// RuntimeStore implements domain.RuntimeStore with a mutex-guarded map.
type RuntimeStore struct {
	mu      sync.Mutex
	records map[string]domain.RuntimeState
}

// NewRuntimeStore creates an empty RuntimeStore.
func NewRuntimeStore() *RuntimeStore {
	return &RuntimeStore{records: make(map[string]domain.RuntimeState)}
}

// Get returns a copy of the record for auctionID.
func (s *RuntimeStore) Get(_ context.Context, auctionID string) (domain.RuntimeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.records[auctionID]
	if !ok {
		return domain.RuntimeState{}, domain.ErrNotFound
	}
	return clone(st), nil
}

// Create stores state with version 1 unless a record already exists.
func (s *RuntimeStore) Create(_ context.Context, state domain.RuntimeState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[state.AuctionID]; ok {
		return false, nil
	}
	state.Version = 1
	s.records[state.AuctionID] = clone(state)
	return true, nil
}

// Swap replaces the record if the stored version matches expectedVersion.
func (s *RuntimeStore) Swap(_ context.Context, next domain.RuntimeState, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[next.AuctionID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	next.Version = expectedVersion + 1
	s.records[next.AuctionID] = clone(next)
	return nil
}

// ExtendDeadline moves the deadline forward by delta.
func (s *RuntimeStore) ExtendDeadline(_ context.Context, auctionID string, delta time.Duration) (time.Time, error) {
	if delta < 0 {
		return time.Time{}, fmt.Errorf("memory: extend deadline %s: negative delta %s", auctionID, delta)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[auctionID]
	if !ok {
		return time.Time{}, domain.ErrNotFound
	}
	cur.Deadline = cur.Deadline.Add(delta)
	cur.Version++
	s.records[auctionID] = cur
	return cur.Deadline, nil
}

// Delete evicts the record. Deleting a missing record is not an error.
func (s *RuntimeStore) Delete(_ context.Context, auctionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, auctionID)
	return nil
}

// clone copies the highest-bid snapshot so callers never share it.
func clone(st domain.RuntimeState) domain.RuntimeState {
	if st.Highest != nil {
		h := *st.Highest
		st.Highest = &h
	}
	return st
}

// Compile-time interface check.
var _ domain.RuntimeStore = (*RuntimeStore)(nil)
