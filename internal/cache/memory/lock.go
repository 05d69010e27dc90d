package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/auctiond/internal/domain"
	"github.com/google/uuid"
)

// LockManager implements domain.LockManager in process memory. Locks expire
// after their TTL just like the Redis implementation.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]heldLock
	now   func() time.Time
}

type heldLock struct {
	token   string
	expires time.Time
}

// NewLockManager creates a LockManager that uses the wall clock.
func NewLockManager() *LockManager {
	return NewLockManagerWithClock(time.Now)
}

// NewLockManagerWithClock creates a LockManager whose expiry is evaluated
// against now.
func NewLockManagerWithClock(now func() time.Time) *LockManager {
	return &LockManager{
		locks: make(map[string]heldLock),
		now:   now,
	}
}

// Acquire obtains the lock for key or returns domain.ErrLockHeld. The
// returned unlock function releases only this holder's lock and is safe to
// call more than once.
func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	if held, ok := lm.locks[key]; ok && now.Before(held.expires) {
		return nil, domain.ErrLockHeld
	}

	token := uuid.New().String()
	lm.locks[key] = heldLock{token: token, expires: now.Add(ttl)}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if held, ok := lm.locks[key]; ok && held.token == token {
				delete(lm.locks, key)
			}
		})
	}
	return unlock, nil
}

// Held reports whether key is currently locked.
func (lm *LockManager) Held(key string) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	held, ok := lm.locks[key]
	return ok && lm.now().Before(held.expires)
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
