package deployment

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunLock_BasicLocking(t *testing.T) {
	l := NewRunLock()

	if !l.TryLock() {
		t.Fatal("First TryLock should succeed")
	}
	if !l.Held() {
		t.Error("Held() should be true after TryLock")
	}
	if l.TryLock() {
		t.Error("Second TryLock should fail")
	}

	l.Unlock()
	if l.Held() {
		t.Error("Held() should be false after Unlock")
	}
	if !l.TryLock() {
		t.Error("TryLock should succeed after unlock")
	}
	l.Unlock()
}

func TestRunLock_UnlockWhenFree(t *testing.T) {
	l := NewRunLock()

	// Unlocking a free lock must not panic or corrupt state
	l.Unlock()
	l.Unlock()

	if !l.TryLock() {
		t.Error("Should be able to lock after redundant unlocks")
	}
	l.Unlock()
}

func TestRunLock_ConcurrentLockAttempts(t *testing.T) {
	l := NewRunLock()

	var holders, maxHolders, successes int32

	const goroutineCount = 100
	var wg sync.WaitGroup
	wg.Add(goroutineCount)

	for i := 0; i < goroutineCount; i++ {
		go func() {
			defer wg.Done()
			if !l.TryLock() {
				return
			}
			atomic.AddInt32(&successes, 1)
			n := atomic.AddInt32(&holders, 1)
			for {
				m := atomic.LoadInt32(&maxHolders)
				if n <= m || atomic.CompareAndSwapInt32(&maxHolders, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&holders, -1)
			l.Unlock()
		}()
	}

	wg.Wait()

	if successes == 0 {
		t.Error("Expected at least one lock attempt to succeed")
	}
	if maxHolders != 1 {
		t.Errorf("lock held by %d goroutines at once, want 1", maxHolders)
	}
}

func BenchmarkRunLock_TryLock(b *testing.B) {
	l := NewRunLock()
	for i := 0; i < b.N; i++ {
		if l.TryLock() {
			l.Unlock()
		}
	}
}
