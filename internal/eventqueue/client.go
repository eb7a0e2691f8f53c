// Package eventqueue adapts a Redis list into the projector's queue contract:
// a destructive, non-blocking popBatch and a length probe.
package eventqueue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config configures the underlying Redis client.
type Config struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Client wraps a go-redis client scoped to a single list-backed queue.
type Client struct {
	rdb *redis.Client
}

// New dials Redis with pool settings sized for high-throughput pipelined
// pop traffic, mirroring the teacher's ClusterClient dial settings.
func New(cfg Config) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Host + ":" + cfg.Port,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     200,
		MinIdleConns: 20,
		PoolTimeout:  3 * time.Second,
	})
	return &Client{rdb: rdb}
}

// Ping verifies connectivity; used during bootstrap so a dead Redis is a
// fatal initialization error rather than a silent stall.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// PopBatch atomically submits n RPOP requests in a single pipelined
// round-trip and returns the non-nil prefix in pop order. On pipeline
// failure it falls back to serial RPOPs until one returns nil or n pops
// complete. It never blocks: an empty queue yields an empty, nil-error
// result.
func (c *Client) PopBatch(ctx context.Context, queue string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	cmds := make([]*redis.StringCmd, n)
	pipe := c.rdb.Pipeline()
	for i := 0; i < n; i++ {
		cmds[i] = pipe.RPop(ctx, queue)
	}
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return c.popSerial(ctx, queue, n)
	}

	out := make([]string, 0, n)
	for _, cmd := range cmds {
		v, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return c.popSerial(ctx, queue, n)
		}
		out = append(out, v)
	}
	return out, nil
}

// popSerial is the fallback path used when the pipelined round-trip itself
// fails (as opposed to individual commands within it returning redis.Nil,
// which is the expected empty-queue signal, not a failure).
func (c *Client) popSerial(ctx context.Context, queue string, n int) ([]string, error) {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		v, err := c.rdb.RPop(ctx, queue).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

// QueueLength returns the current list length.
func (c *Client) QueueLength(ctx context.Context, queue string) (int64, error) {
	return c.rdb.LLen(ctx, queue).Result()
}

// Push left-pushes a raw payload; used only by the synthetic load
// generator, never by the projection pipeline itself.
func (c *Client) Push(ctx context.Context, queue string, payload string) error {
	return c.rdb.LPush(ctx, queue, payload).Err()
}
