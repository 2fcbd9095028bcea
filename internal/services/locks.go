package services

import (
	"sort"
	"sync"

	"github.com/SAP-F-2025/article-service/internal/models"
)

const platformAdminsLockKey = "platform-admins"

type keyedMutex struct {
	mu   sync.Mutex
	refs int
}

// LockManager serializes mutations in process. Ordinary mutations hold the
// shared side of the store lock plus one mutex per key. Backup and restore
// hold the exclusive side.
type LockManager struct {
	store sync.RWMutex

	mu   sync.Mutex
	keys map[string]*keyedMutex
}

func NewLockManager() *LockManager {
	return &LockManager{keys: make(map[string]*keyedMutex)}
}

func groupLockKey(id models.GroupID) string {
	return "group:" + id.String()
}

// Lock acquires the keys in sorted order and returns the release function
func (l *LockManager) Lock(keys ...string) func() {
	keys = sortedUnique(keys)

	l.store.RLock()
	held := make([]*keyedMutex, 0, len(keys))
	for _, k := range keys {
		km := l.acquire(k)
		km.mu.Lock()
		held = append(held, km)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			l.release(keys[i])
		}
		l.store.RUnlock()
	}
}

func (l *LockManager) LockGroups(ids ...models.GroupID) func() {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = groupLockKey(id)
	}
	return l.Lock(keys...)
}

// LockExclusive waits for every in-flight mutation and blocks new ones
func (l *LockManager) LockExclusive() func() {
	l.store.Lock()
	return l.store.Unlock
}

func (l *LockManager) acquire(key string) *keyedMutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	km, ok := l.keys[key]
	if !ok {
		km = &keyedMutex{}
		l.keys[key] = km
	}
	km.refs++
	return km
}

func (l *LockManager) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	km := l.keys[key]
	km.refs--
	if km.refs == 0 {
		delete(l.keys, key)
	}
}

func sortedUnique(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
