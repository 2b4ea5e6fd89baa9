// Package lock provides per-key mutual exclusion for sync attempts.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when another holder owns the key.
var ErrNotAcquired = errors.New("lock: already held")

// Release frees a held lock. It is safe to call more than once.
type Release func()

// Locker hands out exclusive, expiring locks keyed by string.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// LocalLocker is an in-process keyed lock. Entries expire after their ttl so a
// crashed holder cannot wedge a key forever.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]localEntry
	clock func() time.Time
}

type localEntry struct {
	token   string
	expires time.Time
}

// NewLocalLocker returns an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localEntry), clock: time.Now}
}

// TryAcquire implements Locker.
func (l *LocalLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := l.clock()
	token := uuid.NewString()

	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.held[key]; ok && now.Before(entry.expires) {
		return nil, ErrNotAcquired
	}
	l.held[key] = localEntry{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if entry, ok := l.held[key]; ok && entry.token == token {
				delete(l.held, key)
			}
		})
	}, nil
}

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker coordinates sync attempts across processes.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLocker returns a locker storing keys under prefix.
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// TryAcquire implements Locker using SET NX PX.
func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's context may already be cancelled
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, l.client, []string{fullKey}, token).Err()
		})
	}, nil
}
