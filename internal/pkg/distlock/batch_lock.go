// Package distlock provides the Redis-backed run lock that guarantees a
// single pipeline execution per batch date across the cluster.
package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// BatchLock is a distributed lock keyed by batch date, implemented with
// SET NX plus a TTL. The random ownership value and Lua release script
// prevent one process from releasing a lock another process holds.
type BatchLock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
}

// NewBatchLock creates a lock for the given batch date. TTL should exceed
// the pipeline's hard deadline so a crashed run eventually frees the date.
func NewBatchLock(client *redis.Client, batchDate string, ttl time.Duration) *BatchLock {
	b := make([]byte, 16)
	rand.Read(b)
	return &BatchLock{
		client: client,
		key:    fmt.Sprintf("lock:jobmail:batch:%s", batchDate),
		value:  hex.EncodeToString(b),
		ttl:    ttl,
	}
}

// Acquire tries to take the lock. Returns false when another run already
// owns this batch date.
func (l *BatchLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire batch lock %s: %w", l.key, err)
	}
	return ok, nil
}

// Release frees the lock only if this process still owns it.
func (l *BatchLock) Release(ctx context.Context) error {
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
	_, err := script.Run(ctx, l.client, []string{l.key}, l.value).Result()
	return err
}

// Extend pushes the TTL out for a long-running stage. Returns an error when
// the lock is no longer owned.
func (l *BatchLock) Extend(ctx context.Context, ttl time.Duration) error {
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
	res, err := script.Run(ctx, l.client, []string{l.key}, l.value, ttl.Milliseconds()).Result()
	if err != nil {
		return err
	}
	if n, ok := res.(int64); ok && n == 0 {
		return fmt.Errorf("batch lock %s no longer owned", l.key)
	}
	return nil
}
