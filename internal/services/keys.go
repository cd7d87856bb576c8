package services

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// keyLocks serializes writes per logical key. Entries are dropped once no
// caller holds or waits on them.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

// acquire blocks until key is free or ctx is done. Waiters are served in
// arrival order.
func (k *keyLocks) acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{sem: semaphore.NewWeighted(1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		k.unref(key, l)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.sem.Release(1)
			k.unref(key, l)
		})
	}, nil
}

func (k *keyLocks) unref(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

func (k *keyLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func txKey(id string) string { return "tx:" + id }

// personKey is derived from the display name, which unlike the id does not
// change when a new person is confirmed.
func personKey(displayName string) string {
	return "person:" + strings.ToLower(strings.TrimSpace(displayName))
}
