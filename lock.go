// Package reposync keyed mutual exclusion.
// This file contains the per-key async lock used for the two lock domains:
// repository identity and (host, port, algorithm) trust keys. When both
// are needed the repository lock is always acquired first.
package reposync

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// KeyedLock provides mutually exclusive, context-aware acquisition per
// string key. Waiters queue on a weight-1 semaphore and are woken in FIFO
// order on release; there is no polling. Idle keys are reclaimed.
type KeyedLock struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// NewKeyedLock returns an empty lock set.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{entries: make(map[string]*lockEntry)}
}

// Acquire blocks until the key is exclusively held or ctx is done. On
// success it returns a release func that must be called on every exit
// path; calling it more than once is a no-op.
func (l *KeyedLock) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &lockEntry{sem: semaphore.NewWeighted(1)}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	if err := entry.sem.Acquire(ctx, 1); err != nil {
		l.put(key, entry)
		return nil, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			entry.sem.Release(1)
			l.put(key, entry)
		})
	}
	return release, nil
}

// put drops one reference and reclaims the entry when unused.
func (l *KeyedLock) put(key string, entry *lockEntry) {
	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
	l.mu.Unlock()
}
