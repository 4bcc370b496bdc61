// Package lock provides per-user locking for check-then-act sequences
// such as the daily spin (read today's records, then insert).
package lock

import (
	"context"
	"sync"
)

// userMutex is a channel-based mutex so acquisition can be abandoned on context cancellation.
type userMutex struct {
	ch   chan struct{}
	refs int // holders plus waiters, guarded by UserLock.mu
}

// UserLock serializes operations per user id. Entries are reclaimed once no
// goroutine holds or waits on them, so the map does not grow with every user seen.
type UserLock struct {
	mu    sync.Mutex
	locks map[int64]*userMutex
}

// NewUserLock creates a new UserLock instance.
func NewUserLock() *UserLock {
	return &UserLock{locks: make(map[int64]*userMutex)}
}

func (ul *UserLock) acquireRef(userID int64) *userMutex {
	ul.mu.Lock()
	defer ul.mu.Unlock()
	m, ok := ul.locks[userID]
	if !ok {
		m = &userMutex{ch: make(chan struct{}, 1)}
		ul.locks[userID] = m
	}
	m.refs++
	return m
}

func (ul *UserLock) releaseRef(userID int64, m *userMutex) {
	ul.mu.Lock()
	defer ul.mu.Unlock()
	m.refs--
	if m.refs == 0 {
		delete(ul.locks, userID)
	}
}

// Lock acquires the lock for a user, blocking until available.
func (ul *UserLock) Lock(userID int64) {
	m := ul.acquireRef(userID)
	m.ch <- struct{}{}
}

// LockContext acquires the lock for a user or returns ctx.Err() if ctx ends first.
func (ul *UserLock) LockContext(ctx context.Context, userID int64) error {
	m := ul.acquireRef(userID)
	select {
	case m.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		ul.releaseRef(userID, m)
		return ctx.Err()
	}
}

// TryLock attempts to acquire the lock without blocking.
func (ul *UserLock) TryLock(userID int64) bool {
	m := ul.acquireRef(userID)
	select {
	case m.ch <- struct{}{}:
		return true
	default:
		ul.releaseRef(userID, m)
		return false
	}
}

// Unlock releases the lock for a user. Unlocking a user that is not locked is a no-op.
func (ul *UserLock) Unlock(userID int64) {
	ul.mu.Lock()
	m, ok := ul.locks[userID]
	ul.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-m.ch:
		ul.releaseRef(userID, m)
	default:
	}
}

// WithLock executes fn while holding the user's lock.
func (ul *UserLock) WithLock(userID int64, fn func() error) error {
	ul.Lock(userID)
	defer ul.Unlock(userID)
	return fn()
}

// WithLockContext executes fn while holding the user's lock, giving up if ctx ends while waiting.
func (ul *UserLock) WithLockContext(ctx context.Context, userID int64, fn func() error) error {
	if err := ul.LockContext(ctx, userID); err != nil {
		return err
	}
	defer ul.Unlock(userID)
	return fn()
}

// IsLocked reports whether the user's lock is currently held.
// It is a point-in-time answer.
func (ul *UserLock) IsLocked(userID int64) bool {
	ul.mu.Lock()
	m, ok := ul.locks[userID]
	ul.mu.Unlock()
	return ok && len(m.ch) == 1
}

// size reports tracked entries; used by tests to check reclamation.
func (ul *UserLock) size() int {
	ul.mu.Lock()
	defer ul.mu.Unlock()
	return len(ul.locks)
}
