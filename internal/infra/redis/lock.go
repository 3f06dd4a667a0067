package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLockTTL bounds how long a crashed process can hold a run lock.
const DefaultLockTTL = 2 * time.Minute

var (
	// ErrLocked is returned when another process holds the owner's lock.
	ErrLocked = errors.New("sync already running for owner")
)

// Only the token holder may extend or delete the lock.
var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RunLocker implements syncer.Locker with SET NX and a refresh loop.
type RunLocker struct {
	client *Client
	ttl    time.Duration
	log    *slog.Logger
}

// NewRunLocker creates a locker. A non-positive ttl uses DefaultLockTTL.
func NewRunLocker(client *Client, ttl time.Duration) *RunLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RunLocker{
		client: client,
		ttl:    ttl,
		log:    slog.Default().With("component", "redis-lock"),
	}
}

// Lock acquires the owner's run lock and keeps it alive until the returned
// func is called.
func (l *RunLocker) Lock(ctx context.Context, ownerID string) (func(), error) {
	key := lockKey(ownerID)
	token := uuid.NewString()

	ok, err := l.client.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("setnx failed: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, ownerID)
	}

	refreshCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(l.ttl / 3)
		defer ticker.Stop()

		for {
			select {
			case <-refreshCtx.Done():
				return
			case <-ticker.C:
				res, err := refreshScript.Run(refreshCtx, l.client.rdb, []string{key}, token, l.ttl.Milliseconds()).Int()
				if err != nil && !errors.Is(err, context.Canceled) {
					l.log.Warn("Failed to refresh run lock", "owner", ownerID, "error", err)
				} else if err == nil && res == 0 {
					l.log.Error("Run lock lost", "owner", ownerID)
					return
				}
			}
		}
	}()

	unlock := func() {
		cancel()
		<-done

		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer releaseCancel()
		if err := releaseScript.Run(releaseCtx, l.client.rdb, []string{key}, token).Err(); err != nil {
			l.log.Warn("Failed to release run lock", "owner", ownerID, "error", err)
		}
	}
	return unlock, nil
}
