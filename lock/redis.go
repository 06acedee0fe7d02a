package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/evercart/tandem"
	"github.com/evercart/tandem/id"
)

// Compile-time interface check.
var _ Locker = (*Redis)(nil)

// releaseScript deletes the lock key only if this process still owns it,
// so an expired lock re-acquired by another process is never released
// out from under it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker backed by Redis SET NX with a TTL, for deployments
// where coordinators in several processes may race on the same saga
// instance. The TTL bounds how long a crashed holder can wedge an
// instance.
type Redis struct {
	client redis.Cmdable
	owner  string

	wait time.Duration
	ttl  time.Duration
	poll time.Duration

	mu   sync.Mutex
	held map[string]string // key → owner token
}

// RedisOption configures a Redis locker.
type RedisOption func(*Redis)

// WithRedisWait sets the bounded acquisition wait.
func WithRedisWait(d time.Duration) RedisOption {
	return func(r *Redis) { r.wait = d }
}

// WithTTL sets the lock expiry. Must exceed the longest
// event-processing cycle.
func WithTTL(d time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = d }
}

// NewRedis creates a Redis-backed locker. The caller owns the client
// lifecycle.
func NewRedis(client redis.Cmdable, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		owner:  id.NewLockToken().String(), // unique per locker instance
		wait:   DefaultWait,
		ttl:    30 * time.Second,
		poll:   25 * time.Millisecond,
		held:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func lockKey(sagaID id.SagaID) string {
	return "tandem:lock:" + sagaID.String()
}

// Acquire polls SET NX until the lock is held, the bounded wait
// elapses, or ctx is done.
func (r *Redis) Acquire(ctx context.Context, sagaID id.SagaID) error {
	key := lockKey(sagaID)
	deadline := time.Now().Add(r.wait)

	for {
		ok, err := r.client.SetNX(ctx, key, r.owner, r.ttl).Result()
		if err != nil {
			return fmt.Errorf("lock: redis setnx %s: %w", key, err)
		}
		if ok {
			r.mu.Lock()
			r.held[key] = r.owner
			r.mu.Unlock()
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("lock: acquire %s after %s: %w", sagaID, r.wait, tandem.ErrLockTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.poll):
		}
	}
}

// Release releases the instance lock if this locker still owns it.
func (r *Redis) Release(sagaID id.SagaID) {
	key := lockKey(sagaID)

	r.mu.Lock()
	owner, ok := r.held[key]
	delete(r.held, key)
	r.mu.Unlock()
	if !ok {
		return
	}

	// Best-effort: an error here leaves the key to expire via TTL.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	//nolint:errcheck // TTL expiry is the fallback
	releaseScript.Run(ctx, r.client, []string{key}, owner).Result()
}
