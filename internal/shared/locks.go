package shared

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// SettlementLockKey builds the lock key guarding settlement transitions.
func SettlementLockKey(id fmt.Stringer) string {
	return fmt.Sprintf("ledger:settlement:%s:lock", id.String())
}

// InvoiceLockKey builds the lock key guarding invoice transitions.
func InvoiceLockKey(id fmt.Stringer) string {
	return fmt.Sprintf("ledger:invoice:%s:lock", id.String())
}

// Locker grants at-most-one holder per key. Acquire waits up to the locker's
// configured wait and fails with ErrBusy when the key stays held.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context), err error)
}

// RedisLocker implements Locker over bsm/redislock so transitions are exclusive across
// every process sharing the Redis instance.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// NewRedisLocker constructs a RedisLocker. ttl bounds how long a crashed holder keeps the
// key; wait bounds acquisition.
func NewRedisLocker(client redis.UniversalClient, ttl, wait time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if wait <= 0 {
		wait = 2 * time.Second
	}
	return &RedisLocker{client: redislock.New(client), ttl: ttl, wait: wait, retry: 50 * time.Millisecond}
}

// Acquire obtains the key or returns ErrBusy once the wait elapses.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(context.Context), error) {
	if l == nil || l.client == nil {
		return nil, errors.New("redis locker not initialised")
	}
	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()
	lock, err := l.client.Obtain(waitCtx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(l.retry),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrBusy, key)
		}
		return nil, err
	}
	return func(ctx context.Context) {
		_ = lock.Release(context.WithoutCancel(ctx))
	}, nil
}

// LocalLocker implements Locker with an in-process map of keyed locks. It suits a single
// replica deployment and tests.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
	wait  time.Duration
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker constructs a LocalLocker with the given acquisition wait.
func NewLocalLocker(wait time.Duration) *LocalLocker {
	if wait <= 0 {
		wait = 2 * time.Second
	}
	return &LocalLocker{slots: make(map[string]*lockSlot), wait: wait}
}

// Acquire obtains the key or returns ErrBusy once the wait elapses.
func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(context.Context), error) {
	slot := l.ref(key)
	timer := time.NewTimer(l.wait)
	defer timer.Stop()
	select {
	case slot.ch <- struct{}{}:
		var once sync.Once
		return func(context.Context) {
			once.Do(func() {
				<-slot.ch
				l.unref(key)
			})
		}, nil
	case <-timer.C:
		l.unref(key)
		return nil, fmt.Errorf("%w: %s", ErrBusy, key)
	case <-ctx.Done():
		l.unref(key)
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) ref(key string) *lockSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	return slot
}

func (l *LocalLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[key]
	if !ok {
		return
	}
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}
