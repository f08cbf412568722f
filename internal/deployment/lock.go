package deployment

import (
	"sync"
	"sync/atomic"
)

// RunLock is the single-slot lock that keeps deployment runs from
// overlapping. The working tree and the container set are process-wide
// singletons, so there is exactly one slot rather than one per project.
//
// TryLock never blocks: a caller that loses the race is told so immediately
// and must coalesce or reject its work instead of queueing behind the lock.
type RunLock struct {
	mu   sync.Mutex
	held atomic.Bool
}

// NewRunLock creates an unlocked RunLock.
func NewRunLock() *RunLock {
	return &RunLock{}
}

// TryLock acquires the slot if it is free and reports whether it did.
func (l *RunLock) TryLock() bool {
	if !l.mu.TryLock() {
		return false
	}
	l.held.Store(true)
	return true
}

// Unlock releases the slot. Calling Unlock on a free lock is a no-op.
func (l *RunLock) Unlock() {
	if !l.held.CompareAndSwap(true, false) {
		return
	}
	l.mu.Unlock()
}

// Held reports whether a run currently owns the slot.
func (l *RunLock) Held() bool {
	return l.held.Load()
}
