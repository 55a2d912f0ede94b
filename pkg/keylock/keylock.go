// Package keylock serializes work per key.
//
// A Locker hands out exclusive, per-key critical sections. The in-process
// implementation in this package is enough for a single instance; pkg/redis
// provides a distributed implementation for horizontally scaled deployments.
//
// Locks are not reentrant. Holding two different keys at once is allowed,
// which the webhook pipeline relies on (event key, then subscription key).
package keylock

import (
	"context"
	"errors"
	"sync"
)

// ErrLockNotAcquired is returned when a lock could not be obtained before the context ended.
var ErrLockNotAcquired = errors.New("keylock: lock not acquired")

// Unlock releases a lock obtained from a Locker. It is safe to call more than once.
type Unlock func()

// Locker grants exclusive access to a key until the returned Unlock is called.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// Local is an in-process Locker. Entries exist only while a key is held or
// awaited, so memory stays bounded by concurrency, not by key count.
type Local struct {
	mu   sync.Mutex
	keys map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

// NewLocal creates an in-process Locker.
func NewLocal() *Local {
	return &Local{keys: make(map[string]*entry)}
}

// Lock blocks until key is free or ctx is done.
func (l *Local) Lock(ctx context.Context, key string) (Unlock, error) {
	e := l.acquire(key)

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, errors.Join(ErrLockNotAcquired, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(key, e)
		})
	}, nil
}

func (l *Local) acquire(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.keys[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	return e
}

func (l *Local) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
}

// Len returns the number of keys currently held or awaited.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}
