// Package redisseq allocates account identifiers with Redis INCR.
//
// INCR is atomic on the Redis server, so any number of service instances
// sharing one Redis get distinct, increasing ids without touching the
// database. It is optional: without it each store uses its own counter.
//
// The counter must never fall behind ids already in the database (after a
// Redis flush, or when switching an existing deployment over). Call
// EnsureAtLeast with the store's MaxID at startup.
package redisseq

import (
	"context"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/sakif/plausch/internal/repository"
)

// DefaultKey is the Redis key holding the last issued account id.
const DefaultKey = "plausch:account:seq"

var _ repository.SequenceAllocator = (*Allocator)(nil)

// raiseScript sets KEYS[1] to ARGV[1] unless it already holds a larger value.
var raiseScript = redis.NewScript(1, `
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local floor = tonumber(ARGV[1])
if current < floor then
  redis.call("SET", KEYS[1], floor)
  return floor
end
return current
`)

type Allocator struct {
	pool *redis.Pool
	key  string
}

// New dials addr lazily through a small connection pool.
func New(addr string) *Allocator {
	pool := &redis.Pool{
		MaxIdle:     4,
		IdleTimeout: 5 * time.Minute,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", addr,
				redis.DialConnectTimeout(3*time.Second),
				redis.DialReadTimeout(time.Second),
				redis.DialWriteTimeout(time.Second),
			)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
	return NewWithPool(pool, DefaultKey)
}

// NewWithPool uses an existing pool and key.
func NewWithPool(pool *redis.Pool, key string) *Allocator {
	return &Allocator{pool: pool, key: key}
}

// Next returns the next identifier.
func (a *Allocator) Next(ctx context.Context) (int64, error) {
	conn, err := a.pool.GetContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("redisseq: getting connection: %w", err)
	}
	defer conn.Close()

	id, err := redis.Int64(redis.DoContext(conn, ctx, "INCR", a.key))
	if err != nil {
		return 0, fmt.Errorf("redisseq: INCR %s: %w", a.key, err)
	}
	return id, nil
}

// EnsureAtLeast raises the counter to floor if it is below it, so the next
// id handed out is greater than floor. It never lowers the counter.
func (a *Allocator) EnsureAtLeast(ctx context.Context, floor int64) (int64, error) {
	conn, err := a.pool.GetContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("redisseq: getting connection: %w", err)
	}
	defer conn.Close()

	current, err := redis.Int64(raiseScript.DoContext(ctx, conn, a.key, floor))
	if err != nil {
		return 0, fmt.Errorf("redisseq: raising %s to %d: %w", a.key, floor, err)
	}
	return current, nil
}

// Ping checks that Redis is reachable.
func (a *Allocator) Ping(ctx context.Context) error {
	conn, err := a.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redisseq: getting connection: %w", err)
	}
	defer conn.Close()

	if _, err := redis.DoContext(conn, ctx, "PING"); err != nil {
		return fmt.Errorf("redisseq: ping: %w", err)
	}
	return nil
}

func (a *Allocator) Close() error {
	return a.pool.Close()
}
