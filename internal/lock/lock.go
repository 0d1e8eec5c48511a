// Package lock keeps two sweeps from running at once, either across instances
// through Redis or inside a single process.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a SETNX based lock.
type Redis struct {
	client redis.UniversalClient

	mu     sync.Mutex
	tokens map[string]string
}

// NewRedis wraps a redis client.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client, tokens: make(map[string]string)}
}

// Acquire takes key for ttl. It reports false when another holder has it.
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	r.mu.Lock()
	r.tokens[key] = token
	r.mu.Unlock()
	return true, nil
}

// Release gives key back if this instance still holds it.
func (r *Redis) Release(ctx context.Context, key string) error {
	r.mu.Lock()
	token, ok := r.tokens[key]
	delete(r.tokens, key)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

// Local is an in-process lock with the same expiry semantics.
type Local struct {
	mu   sync.Mutex
	now  func() time.Time
	held map[string]time.Time
}

// NewLocal returns an empty Local lock.
func NewLocal() *Local {
	return &Local{now: time.Now, held: make(map[string]time.Time)}
}

// Acquire takes key unless it is held and not yet expired.
func (l *Local) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if until, ok := l.held[key]; ok && now.Before(until) {
		return false, nil
	}
	l.held[key] = now.Add(ttl)
	return true, nil
}

// Release frees key.
func (l *Local) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}
