// Package lock implements domain.LockManager for a single process. Each key
// gets its own lock so work on different bets proceeds in parallel.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

type slot struct {
	ch   chan struct{}
	refs int
}

// KeyedMutex hands out one exclusive lock per key. Slots are created on
// demand and dropped once no caller holds or waits for them.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// NewKeyedMutex returns an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: make(map[string]*slot)}
}

// Acquire blocks until the lock for key is free or ctx is done. The ttl is
// ignored: an in-process holder cannot vanish without running its unlock.
// The returned unlock function is safe to call more than once.
func (k *KeyedMutex) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	k.mu.Lock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	k.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, s)
		return nil, fmt.Errorf("lock: acquire %s: %w", key, domain.ErrLockHeld)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			k.release(key, s)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, s *slot) {
	k.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
	k.mu.Unlock()
}

// Compile-time interface check.
var _ domain.LockManager = (*KeyedMutex)(nil)
