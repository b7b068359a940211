package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/unclebandit/wa-campaigns-backend/internal/logger"
)

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLocker holds leases as Redis keys with a TTL, refreshed while the
// lease is alive so a crashed holder frees the key after at most one TTL.
type RedisLocker struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
	logger logger.Logger
}

func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration, log logger.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{rdb: rdb, ttl: ttl, prefix: "lock:", logger: log}
}

// NewRedisClient parses a redis:// or rediss:// URL and pings the server.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	opts.MaxRetries = 3

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	token := uuid.NewString()
	full := l.prefix + key
	ok, err := l.rdb.SetNX(ctx, full, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	lease := &redisLease{locker: l, key: full, token: token, done: make(chan struct{})}
	go lease.keepAlive()
	return lease, nil
}

type redisLease struct {
	locker *RedisLocker
	key    string
	token  string
	done   chan struct{}
	once   sync.Once
}

func (r *redisLease) keepAlive() {
	ticker := time.NewTicker(r.locker.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.locker.ttl/3)
			res, err := refreshScript.Run(ctx, r.locker.rdb, []string{r.key}, r.token, r.locker.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				r.locker.logger.Warn("lock refresh failed", "key", r.key, "error", err)
				continue
			}
			if res == 0 {
				r.locker.logger.Error("lock lost before release", "key", r.key)
				return
			}
		}
	}
}

func (r *redisLease) Release(ctx context.Context) error {
	var err error
	r.once.Do(func() {
		close(r.done)
		err = releaseScript.Run(ctx, r.locker.rdb, []string{r.key}, r.token).Err()
	})
	if err != nil {
		return fmt.Errorf("release %s: %w", r.key, err)
	}
	return nil
}

var (
	_ Locker = (*RedisLocker)(nil)
	_ Locker = (*MemoryLocker)(nil)
)
