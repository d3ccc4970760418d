package shared

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, normalizeKeys([]string{"b", "", "a", "b"}))
	assert.Empty(t, normalizeKeys(nil))
}

func TestLocalLockerSerialisesKey(t *testing.T) {
	locker := NewLocalLocker()
	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(context.Background(), POLockKey("po-1"))
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				cur := atomic.LoadInt32(&maxActive)
				if n <= cur || atomic.CompareAndSwapInt32(&maxActive, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive)
	assert.Empty(t, locker.locks)
}

func TestLocalLockerIndependentKeys(t *testing.T) {
	locker := NewLocalLocker()
	release, err := locker.Acquire(context.Background(), POLockKey("po-1"))
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	other, err := locker.Acquire(ctx, POLockKey("po-2"), InvoiceLockKey("inv-1"))
	require.NoError(t, err)
	other()
}

func TestLocalLockerHonoursContext(t *testing.T) {
	locker := NewLocalLocker()
	release, err := locker.Acquire(context.Background(), "a", "b")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "b")
	require.ErrorIs(t, err, ErrLockBusy)
	assert.Equal(t, KindLockBusy, Kind(err))

	release()
	release()
	again, err := locker.Acquire(context.Background(), "a", "b")
	require.NoError(t, err)
	again()
}

func newRedisLocker(t *testing.T, cfg RedisLockerConfig) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, cfg), mr
}

func TestRedisLockerAcquireRelease(t *testing.T) {
	locker, mr := newRedisLocker(t, RedisLockerConfig{})
	keys := []string{InvoiceLockKey("inv-1"), POLockKey("po-1")}

	release, err := locker.Acquire(context.Background(), keys...)
	require.NoError(t, err)
	for _, k := range keys {
		assert.True(t, mr.Exists(k), k)
	}
	release()
	for _, k := range keys {
		assert.False(t, mr.Exists(k), k)
	}
}

func TestRedisLockerRefreshesWhileHeld(t *testing.T) {
	ttl := 200 * time.Millisecond
	locker, mr := newRedisLocker(t, RedisLockerConfig{TTL: ttl})
	key := POLockKey("po-1")

	release, err := locker.Acquire(context.Background(), key)
	require.NoError(t, err)
	mr.FastForward(150 * time.Millisecond)
	require.Less(t, mr.TTL(key), 100*time.Millisecond)

	require.Eventually(t, func() bool {
		return mr.TTL(key) > 100*time.Millisecond
	}, 2*time.Second, 10*time.Millisecond)

	release()
	assert.False(t, mr.Exists(key))
}

func TestRedisLockerBusy(t *testing.T) {
	locker, mr := newRedisLocker(t, RedisLockerConfig{RetryCount: 2, Backoff: 5 * time.Millisecond})

	hold, err := locker.Acquire(context.Background(), "b")
	require.NoError(t, err)
	defer hold()

	_, err = locker.Acquire(context.Background(), "a", "b")
	require.ErrorIs(t, err, ErrLockBusy)
	assert.False(t, mr.Exists("a"), "keys obtained before the failure are released")
}

func TestRedisLockerConcurrentWriters(t *testing.T) {
	locker, _ := newRedisLocker(t, RedisLockerConfig{RetryCount: 200, Backoff: 2 * time.Millisecond})
	var counter int64
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(context.Background(), POLockKey("po-1"))
			if err != nil {
				errs <- err
				return
			}
			v := atomic.LoadInt64(&counter)
			time.Sleep(time.Millisecond)
			atomic.StoreInt64(&counter, v+1)
			release()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("acquire: %v", err)
	}
	assert.Equal(t, int64(10), counter)
}

func TestKeyBuilders(t *testing.T) {
	assert.Equal(t, "stockledger:po:p1:lock", POLockKey("p1"))
	assert.Equal(t, "stockledger:invoice:i1:lock", InvoiceLockKey("i1"))
	assert.NotEqual(t, POLockKey("x"), InvoiceLockKey("x"))
}

func TestKind(t *testing.T) {
	cases := []struct {
		err  error
		kind string
	}{
		{nil, ""},
		{fmt.Errorf("%w: po", ErrNotFound), KindNotFound},
		{fmt.Errorf("%w: qty", ErrValidation), KindValidation},
		{ErrMismatch, KindMismatch},
		{ErrInvariant, KindInvariant},
		{ErrConflict, KindConflict},
		{ErrState, KindState},
		{errors.New("disk full"), KindInternal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.kind, Kind(tc.err))
	}
	assert.True(t, IsDomainError(ErrConflict))
	assert.False(t, IsDomainError(errors.New("disk full")))
	assert.False(t, IsDomainError(ErrLockBusy))
}
