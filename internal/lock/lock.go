// Package lock provides best-effort mutual exclusion across refinery processes
// on top of a shared key-value store. A lease expires after its TTL even if the
// holder crashes; holders must tolerate losing exclusivity after that point.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"vectra/internal/kv"
)

// RefineKey is the lock key guarding refinement of one geohash.
func RefineKey(geohash string) string {
	return "lock:refine:" + geohash
}

type Locker struct {
	store kv.Store
	owner string

	mu   sync.Mutex
	held map[string][]byte
}

func NewLocker(store kv.Store) *Locker {
	return &Locker{store: store, owner: uuid.NewString(), held: map[string][]byte{}}
}

// Owner identifies this process in lock values.
func (l *Locker) Owner() string {
	return l.owner
}

// Acquire makes a single non-blocking attempt. false with a nil error means
// another holder owns the key.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token, ok, err := l.acquire(ctx, key, ttl)
	if err != nil || !ok {
		return false, err
	}
	l.mu.Lock()
	l.held[key] = token
	l.mu.Unlock()
	return true, nil
}

func (l *Locker) acquire(ctx context.Context, key string, ttl time.Duration) ([]byte, bool, error) {
	token := []byte(l.owner + ":" + uuid.NewString())
	ok, err := l.store.SetNX(ctx, key, token, ttl)
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", key, err)
	}
	return token, ok, nil
}

// Release drops the lease on key if this Locker still holds it. An expired or
// foreign lease is left untouched.
func (l *Locker) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	token, ok := l.held[key]
	delete(l.held, key)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	return l.release(ctx, key, token)
}

func (l *Locker) release(ctx context.Context, key string, token []byte) error {
	if _, err := l.store.CompareAndDelete(ctx, key, token); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

// WithLock runs fn while holding key. The lease is released on every exit
// path, panics included. acquired is false when the key was contended and fn
// did not run.
func (l *Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) (acquired bool, err error) {
	token, ok, err := l.acquire(ctx, key, ttl)
	if err != nil || !ok {
		return false, err
	}
	defer func() {
		if relErr := l.release(context.WithoutCancel(ctx), key, token); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return true, fn(ctx)
}
