package shared

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// POLockKey builds the lock key guarding a purchase order's IN/OUT totals.
func POLockKey(poID string) string {
	return fmt.Sprintf("stockledger:po:%s:lock", poID)
}

// InvoiceLockKey builds the lock key guarding an invoice's line set.
func InvoiceLockKey(invoiceID string) string {
	return fmt.Sprintf("stockledger:invoice:%s:lock", invoiceID)
}

// Locker serialises writers per aggregate key.
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (release func(), err error)
}

// normalizeKeys sorts and de-duplicates keys so every caller acquires in the same order.
func normalizeKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// LocalLocker is an in-process keyed mutex.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker constructs LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localLock)}
}

// Acquire blocks until every key is held or ctx is done.
func (l *LocalLocker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = normalizeKeys(keys)
	held := make([]string, 0, len(keys))
	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.unlock(held[i])
		}
	}
	for _, key := range keys {
		if err := l.lock(ctx, key); err != nil {
			releaseAll()
			return nil, err
		}
		held = append(held, key)
	}
	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}

func (l *LocalLocker) lock(ctx context.Context, key string) error {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
		return fmt.Errorf("%w: %s: %v", ErrLockBusy, key, ctx.Err())
	}
}

func (l *LocalLocker) unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.locks[key]
	if !ok {
		return
	}
	<-entry.ch
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
}

// RedisLockerConfig tunes RedisLocker.
type RedisLockerConfig struct {
	TTL        time.Duration
	RetryCount int
	Backoff    time.Duration
}

// RedisLocker holds aggregate locks in Redis so several service replicas share them.
// Held locks are refreshed until released, so TTL only bounds a crashed holder.
type RedisLocker struct {
	client *redislock.Client
	cfg    RedisLockerConfig
}

// NewRedisLocker constructs RedisLocker.
func NewRedisLocker(rdb redis.UniversalClient, cfg RedisLockerConfig) *RedisLocker {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 20
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 50 * time.Millisecond
	}
	return &RedisLocker{client: redislock.New(rdb), cfg: cfg}
}

// Acquire obtains every key in sorted order, releasing those already held on failure.
func (l *RedisLocker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = normalizeKeys(keys)
	held := make([]*redislock.Lock, 0, len(keys))
	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			// Release uses a fresh context so a cancelled request still frees its keys.
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = held[i].Release(releaseCtx)
			cancel()
		}
	}
	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(l.cfg.Backoff), l.cfg.RetryCount),
	}
	for _, key := range keys {
		lock, err := l.client.Obtain(ctx, key, l.cfg.TTL, opts)
		if err != nil {
			releaseAll()
			if errors.Is(err, redislock.ErrNotObtained) {
				return nil, fmt.Errorf("%w: %s", ErrLockBusy, key)
			}
			return nil, fmt.Errorf("shared: obtain lock %s: %w", key, err)
		}
		held = append(held, lock)
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(held, stop, done)
	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			releaseAll()
		})
	}, nil
}

// keepAlive extends the held locks every half TTL until stop is closed.
func (l *RedisLocker) keepAlive(held []*redislock.Lock, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.cfg.TTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, lock := range held {
				ctx, cancel := context.WithTimeout(context.Background(), l.cfg.TTL/2)
				_ = lock.Refresh(ctx, l.cfg.TTL, nil)
				cancel()
			}
		}
	}
}
