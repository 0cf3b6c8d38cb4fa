// Package lock provides a Redis-backed lock that keeps check cycles from
// overlapping across replicas.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rewired-gh/airwatch/internal/logger"
)

// DefaultKey is the Redis key guarding the check cycle.
const DefaultKey = "airwatch:check_cycle"

// DefaultTTL is used when NewRedisLocker is given a non-positive TTL.
const DefaultTTL = 10 * time.Minute

// ErrLockLost is the cause of a held context cancelled because the lock could
// not be extended.
var ErrLockLost = errors.New("cycle lock lost")

// releaseScript deletes the key only if it still holds our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// extendScript resets the TTL only if the key still holds our token.
const extendScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

// Client is the part of *redis.Client the locker uses.
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisLocker grants the lock to at most one holder at a time. A holder
// extends the TTL every third of it, so the TTL only bounds how long a
// crashed holder can block others.
type RedisLocker struct {
	client Client
	key    string
	ttl    time.Duration
}

// NewRedisLocker creates a locker on key. An empty key uses DefaultKey.
func NewRedisLocker(client Client, key string, ttl time.Duration) *RedisLocker {
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLocker{client: client, key: key, ttl: ttl}
}

// TryLock attempts to take the lock without waiting. On success the returned
// context is derived from ctx and is cancelled with ErrLockLost if an
// extension fails. release stops the extensions and deletes the key if it is
// still ours; it is safe to call more than once.
func (l *RedisLocker) TryLock(ctx context.Context) (context.Context, func(), bool, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to set lock in Redis: %w", err)
	}
	if !ok {
		return nil, nil, false, nil
	}

	held, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	go l.keepAlive(held, cancel, token, done)

	var once sync.Once
	release := func() {
		once.Do(func() {
			cancel(nil)
			<-done

			// the cycle context may already be cancelled during shutdown
			releaseCtx, cancelRelease := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelRelease()
			if err := l.client.Eval(releaseCtx, releaseScript, []string{l.key}, token).Err(); err != nil {
				logger.Warn("Failed to release cycle lock %s: %v", l.key, err)
			}
		})
	}
	return held, release, true, nil
}

func (l *RedisLocker) keepAlive(ctx context.Context, lost context.CancelCauseFunc, token string, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(max(l.ttl/3, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			extended, err := l.client.Eval(ctx, extendScript, []string{l.key}, token, l.ttl.Milliseconds()).Int64()
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				logger.Warn("Failed to extend cycle lock %s: %v", l.key, err)
				lost(fmt.Errorf("%w: %w", ErrLockLost, err))
				return
			}
			if extended == 0 {
				logger.Warn("Cycle lock %s is held by another instance", l.key)
				lost(ErrLockLost)
				return
			}
		}
	}
}
