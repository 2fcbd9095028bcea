package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/SAP-F-2025/article-service/internal/models"
)

func TestLockSerializesSameKey(t *testing.T) {
	locks := NewLockManager()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.LockGroups(1, 2)
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Empty(t, locks.keys)
}

func TestLockOverlappingSetsDoNotDeadlock(t *testing.T) {
	locks := NewLockManager()
	done := make(chan struct{})

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				locks.LockGroups(1, 2, 3)()
			}()
			go func() {
				defer wg.Done()
				locks.LockGroups(3, 2, 1, 1)()
			}()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lock acquisition deadlocked")
	}
}

func TestLockExclusiveWaitsForMutations(t *testing.T) {
	locks := NewLockManager()
	unlock := locks.LockGroups(models.GroupID(1))

	acquired := make(chan struct{})
	go func() {
		release := locks.LockExclusive()
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("exclusive lock acquired while a mutation was running")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("exclusive lock never acquired")
	}
}
