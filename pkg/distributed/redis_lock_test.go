package distributed

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisClient(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available:", err)
	}

	client.FlushDB(ctx)

	return client
}

func holds(t *testing.T, client *redis.Client, lock *RedisLock) bool {
	t.Helper()
	value, err := client.Get(context.Background(), lock.key).Result()
	if err == redis.Nil {
		return false
	}
	require.NoError(t, err)
	return value == lock.token
}

func TestRedisLock_AcquireAndRelease(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	first := NewRedisLockManager(client, "instance1")
	second := NewRedisLockManager(client, "instance2")
	ctx := context.Background()

	lock, err := first.AcquireLock(ctx, "test:lock", 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, lock)

	lock2, err := second.AcquireLock(ctx, "test:lock", 5*time.Second)
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.Nil(t, lock2)

	require.NoError(t, lock.Release(ctx))

	lock3, err := second.AcquireLock(ctx, "test:lock", 5*time.Second)
	assert.NoError(t, err)
	assert.NotNil(t, lock3)
	defer lock3.Release(ctx)
}

func TestRedisLock_AutoExpire(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	manager := NewRedisLockManager(client, "")
	ctx := context.Background()

	lock, err := manager.AcquireLock(ctx, "test:expire", time.Second)
	require.NoError(t, err)

	assert.True(t, holds(t, client, lock))

	time.Sleep(1500 * time.Millisecond)

	assert.False(t, holds(t, client, lock))
}

func TestRedisLock_Extend(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	manager := NewRedisLockManager(client, "")
	ctx := context.Background()

	lock, err := manager.AcquireLock(ctx, "test:extend", time.Second)
	require.NoError(t, err)
	defer lock.Release(ctx)

	require.NoError(t, lock.Extend(ctx, 10*time.Second))

	time.Sleep(1500 * time.Millisecond)

	assert.True(t, holds(t, client, lock))
}

func TestRedisLock_StaleHolderCannotRelease(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	manager := NewRedisLockManager(client, "")
	ctx := context.Background()

	lock1, err := manager.AcquireLock(ctx, "test:safe", time.Second)
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)

	lock2, err := manager.AcquireLock(ctx, "test:safe", 5*time.Second)
	require.NoError(t, err)
	defer lock2.Release(ctx)

	assert.ErrorIs(t, lock1.Release(ctx), ErrLockNotHeld)
	assert.ErrorIs(t, lock1.Extend(ctx, time.Second), ErrLockNotHeld)
	assert.True(t, holds(t, client, lock2))
}

func TestRedisLock_WithLockSkipsWhenHeld(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	manager := NewRedisLockManager(client, "")
	ctx := context.Background()

	held, err := manager.AcquireLock(ctx, "test:with", 5*time.Second)
	require.NoError(t, err)

	called := false
	err = manager.WithLock(ctx, "test:with", time.Second, func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.False(t, called)

	require.NoError(t, held.Release(ctx))

	err = manager.WithLock(ctx, "test:with", time.Second, func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, called)

	exists, err := client.Exists(ctx, "test:with").Result()
	assert.NoError(t, err)
	assert.Equal(t, int64(0), exists)
}

func TestRedisLock_WithLockOutlivesTTL(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	manager := NewRedisLockManager(client, "")
	other := NewRedisLockManager(client, "")
	ctx := context.Background()

	err := manager.WithLock(ctx, "test:keepalive", 300*time.Millisecond, func(ctx context.Context) error {
		time.Sleep(800 * time.Millisecond)

		_, err := other.AcquireLock(ctx, "test:keepalive", time.Second)
		assert.ErrorIs(t, err, ErrLockNotAcquired, "lease should still be held")
		return ctx.Err()
	})
	assert.NoError(t, err)

	exists, err := client.Exists(ctx, "test:keepalive").Result()
	assert.NoError(t, err)
	assert.Equal(t, int64(0), exists)
}

func TestRedisLock_WithLockCancelsWhenLeaseLost(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	manager := NewRedisLockManager(client, "")
	ctx := context.Background()

	err := manager.WithLock(ctx, "test:lost", 200*time.Millisecond, func(ctx context.Context) error {
		require.NoError(t, client.Del(context.Background(), "test:lost").Err())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
			return nil
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisLock_ConcurrentAcquire(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	const numGoroutines = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			owner := fmt.Sprintf("instance%d", id)
			manager := NewRedisLockManager(client, owner)

			if _, err := manager.AcquireLock(context.Background(), "test:concurrent", 2*time.Second); err == nil {
				mu.Lock()
				winners = append(winners, owner)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, winners, 1, "only one instance should acquire the lock")
}
