/*
locks.go - Per-ride mutual exclusion

PURPOSE:
  Serializes everything that could terminally transition a ride: two
  concurrent scans of the same code, or a scan racing the expiry sweep.
  The lock scope is per ride id, so unrelated rides settle in parallel.

BOUNDED WAIT:
  Acquisition waits at most a configured duration. A caller that cannot
  get the lock in time receives ErrBusy instead of blocking forever;
  for an interactive scan the merchant simply retries. Context
  cancellation also aborts the wait, so an abandoned request never
  parks a goroutine on the lock.
*/
package handshake

import (
	"context"
	"sync"
	"time"
)

// KeyedMutex is a set of mutexes addressed by key, created on first use
// and discarded when the last interested goroutine releases.
type KeyedMutex struct {
	mu   sync.Mutex
	keys map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{} // capacity 1: holding the token = holding the lock
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{keys: make(map[string]*keyLock)}
}

// Acquire takes the lock for key, waiting at most wait. On success the
// returned function releases the lock; callers must invoke it on every
// exit path. On timeout it returns ErrBusy; on context cancellation,
// the context's error.
func (k *KeyedMutex) Acquire(ctx context.Context, key string, wait time.Duration) (func(), error) {
	k.mu.Lock()
	kl, ok := k.keys[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		k.keys[key] = kl
	}
	kl.refs++
	k.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case kl.ch <- struct{}{}:
		return func() {
			<-kl.ch
			k.unref(key, kl)
		}, nil
	case <-timer.C:
		k.unref(key, kl)
		return nil, ErrBusy
	case <-ctx.Done():
		k.unref(key, kl)
		return nil, ctx.Err()
	}
}

func (k *KeyedMutex) unref(key string, kl *keyLock) {
	k.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(k.keys, key)
	}
	k.mu.Unlock()
}
