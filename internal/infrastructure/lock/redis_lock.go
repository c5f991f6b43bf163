package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"AdRelister/internal/config"
	"AdRelister/internal/ports"
)

const defaultTTL = 2 * time.Hour

// releaseScript deletes the key only while it still holds our owner token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the TTL only while the key still holds our owner token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type redisClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisLock allows one scraper session across every process sharing the Redis instance.
// Holders renew it while running; the TTL bounds how long a crashed holder can block others.
type RedisLock struct {
	client redisClient
	key    string
	ttl    time.Duration
}

var _ ports.SessionLock = (*RedisLock)(nil)

// NewRedisLock connects to Redis and verifies connectivity.
func NewRedisLock(ctx context.Context, cfg config.RedisConfig) (*RedisLock, *redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}

	return NewRedisLockWithClient(client, cfg.LockKey, cfg.LockTTL), client, nil
}

// NewRedisLockWithClient wraps an existing client.
func NewRedisLockWithClient(client redis.Cmdable, key string, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisLock{client: client, key: key, ttl: ttl}
}

func (l *RedisLock) TryAcquire(ctx context.Context, owner string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", l.key, err)
	}
	return ok, nil
}

func (l *RedisLock) Renew(ctx context.Context, owner string) (bool, error) {
	n, err := renewScript.Run(ctx, l.client, []string{l.key}, owner, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis renew %s: %w", l.key, err)
	}
	return n == 1, nil
}

// TTL is how long the lock survives without renewal.
func (l *RedisLock) TTL() time.Duration { return l.ttl }

func (l *RedisLock) Release(ctx context.Context, owner string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, owner).Err(); err != nil {
		return fmt.Errorf("redis release %s: %w", l.key, err)
	}
	return nil
}
