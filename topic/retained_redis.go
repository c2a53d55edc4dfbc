package topic

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/driftmq/mqtt/message"
)

// redisRetainedHash holds every retained message in one hash keyed by
// topic, so LoadAll is a single HGETALL rather than a scan.
const redisRetainedHash = "mqtt:retained"

// RedisRetainedBackend persists retained messages in Redis, sharing the
// retained namespace across broker processes.
type RedisRetainedBackend struct {
	client *redis.Client
	closed atomic.Bool
}

// RedisRetainedConfig configures the Redis retained-message backend.
type RedisRetainedConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisRetainedBackend connects to Redis and verifies the connection
// with a bounded ping before returning.
func NewRedisRetainedBackend(cfg RedisRetainedConfig) (*RedisRetainedBackend, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("topic: redis ping: %w", err)
	}

	return &RedisRetainedBackend{client: client}, nil
}

func (r *RedisRetainedBackend) guard(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.closed.Load() {
		return ErrRetainedBackendClosed
	}
	return nil
}

func (r *RedisRetainedBackend) Store(ctx context.Context, topic string, msg *message.ApplicationMessage) error {
	if err := r.guard(ctx); err != nil {
		return err
	}
	value, err := encodeRetained(topic, msg)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, redisRetainedHash, topic, value).Err()
}

func (r *RedisRetainedBackend) Remove(ctx context.Context, topic string) error {
	if err := r.guard(ctx); err != nil {
		return err
	}
	return r.client.HDel(ctx, redisRetainedHash, topic).Err()
}

func (r *RedisRetainedBackend) LoadAll(ctx context.Context) (map[string]*message.ApplicationMessage, error) {
	if err := r.guard(ctx); err != nil {
		return nil, err
	}

	entries, err := r.client.HGetAll(ctx, redisRetainedHash).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]*message.ApplicationMessage, len(entries))
	for _, raw := range entries {
		topic, msg, err := decodeRetained([]byte(raw))
		if err != nil {
			continue
		}
		out[topic] = msg
	}
	return out, nil
}

func (r *RedisRetainedBackend) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return ErrRetainedBackendClosed
	}
	return r.client.Close()
}
