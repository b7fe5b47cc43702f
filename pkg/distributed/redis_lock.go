package distributed

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
	ErrLockNotHeld     = errors.New("lock not held")
)

// Only the owner token may release or extend a lock.
var (
	releaseScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`)

	extendScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// RedisLock is a held SET NX lease.
type RedisLock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

type RedisLockManager struct {
	client *redis.Client
	owner  string
}

// NewRedisLockManager returns a manager whose locks carry owner as a prefix
// of their token. An empty owner gets a random one.
func NewRedisLockManager(client *redis.Client, owner string) *RedisLockManager {
	if owner == "" {
		owner = uuid.NewString()
	}
	return &RedisLockManager{
		client: client,
		owner:  owner,
	}
}

// AcquireLock tries once.
func (m *RedisLockManager) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*RedisLock, error) {
	token := m.owner + ":" + uuid.NewString()

	ok, err := m.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}

	return &RedisLock{
		client: m.client,
		key:    key,
		token:  token,
		ttl:    ttl,
	}, nil
}

// WithLock runs fn while holding key. It returns ErrLockNotAcquired without
// calling fn when another holder has it. The lease is extended every ttl/2
// while fn runs; if it is lost, fn's context is cancelled.
func (m *RedisLockManager) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	lock, err := m.AcquireLock(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer func() {
		_ = lock.Release(context.Background())
	}()

	fnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go lock.keepAlive(fnCtx, cancel)

	return fn(fnCtx)
}

// keepAlive extends the lease until ctx ends.
func (l *RedisLock) keepAlive(ctx context.Context, lost context.CancelFunc) {
	interval := l.ttl / 2
	if interval <= 0 {
		return
	}
	ttl := l.ttl
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// transient errors are retried on the next tick
			if err := l.Extend(ctx, ttl); errors.Is(err, ErrLockNotHeld) {
				lost()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (l *RedisLock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func (l *RedisLock) Extend(ctx context.Context, extension time.Duration) error {
	result, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, extension.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}

	l.ttl = extension
	return nil
}
