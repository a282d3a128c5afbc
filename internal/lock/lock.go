// Package lock keeps two pipeline runs from working on the same source at
// the same time.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrLocked is returned by Acquire when another holder owns the lock.
var ErrLocked = eris.New("lock: already held")

// Unlock releases an acquired lock.
type Unlock func(ctx context.Context) error

// Locker hands out named, exclusive locks.
type Locker interface {
	Acquire(ctx context.Context, name string) (Unlock, error)
}

const keyPrefix = "tender-sync:lock:"

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// refreshScript extends the key's TTL only if it still holds our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisLocker uses SET NX PX with a random token per holder. While a lock is
// held its TTL is extended every ttl/3, so the TTL only bounds how long a
// crashed holder can block other runs.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker parses url (redis://...) and pings the server.
func NewRedisLocker(ctx context.Context, url string, ttl time.Duration) (*RedisLocker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "lock: parse redis url")
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "lock: ping redis")
	}
	return NewRedisLockerFromClient(client, ttl), nil
}

// NewRedisLockerFromClient wraps an existing client.
func NewRedisLockerFromClient(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisLocker{client: client, ttl: ttl}
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, name string) (Unlock, error) {
	key := keyPrefix + name
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, eris.Wrapf(err, "lock: acquire %s", name)
	}
	if !ok {
		return nil, eris.Wrapf(ErrLocked, "lock %s", name)
	}

	refreshCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go l.refresh(refreshCtx, key, token, done)

	var once sync.Once
	return func(ctx context.Context) error {
		var err error
		once.Do(func() {
			stop()
			<-done
			_, err = releaseScript.Run(ctx, l.client, []string{key}, token).Int()
		})
		return eris.Wrapf(err, "lock: release %s", name)
	}, nil
}

// refresh extends key every ttl/3 until ctx is cancelled or the key is no
// longer ours.
func (l *RedisLocker) refresh(ctx context.Context, key, token string, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := refreshScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
					return
				}
				zap.L().Warn("lock: refresh failed", zap.String("key", key), zap.Error(err))
				continue
			}
			if n == 0 {
				zap.L().Warn("lock: lost before release", zap.String("key", key))
				return
			}
		}
	}
}

// Close closes the Redis client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// LocalLocker is an in-process Locker for single-instance deployments.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker returns an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

// Acquire implements Locker.
func (l *LocalLocker) Acquire(_ context.Context, name string) (Unlock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[name]; ok {
		return nil, eris.Wrapf(ErrLocked, "lock %s", name)
	}
	l.held[name] = struct{}{}
	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
		return nil
	}, nil
}
