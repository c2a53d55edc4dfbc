package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisSessKeyspace = "mqtt:sess:"

// RedisStore persists session snapshots in Redis, for deployments where
// several broker processes share one session namespace (a client may
// reconnect to a different process than the one it dropped off).
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	closed atomic.Bool
}

// RedisStoreConfig configures the Redis session store. TTL, when
// nonzero, lets Redis expire abandoned sessions on its own in addition
// to the manager's expiry sweep.
type RedisStoreConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisStore connects to Redis and verifies the connection with a
// bounded ping before returning.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("session: redis ping: %w", err)
	}

	return &RedisStore{client: client, ttl: cfg.TTL}, nil
}

func (r *RedisStore) guard(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.closed.Load() {
		return ErrStoreClosed
	}
	return nil
}

func redisSessKey(clientID string) string { return redisSessKeyspace + clientID }

func (r *RedisStore) Save(ctx context.Context, sess *Session) error {
	if err := r.guard(ctx); err != nil {
		return err
	}
	value, err := sess.Snapshot().Marshal()
	if err != nil {
		return err
	}
	return r.client.Set(ctx, redisSessKey(sess.GetClientID()), value, r.ttl).Err()
}

func (r *RedisStore) Load(ctx context.Context, clientID string) (*Session, error) {
	if err := r.guard(ctx); err != nil {
		return nil, err
	}
	value, err := r.client.Get(ctx, redisSessKey(clientID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	snap, err := UnmarshalSnapshot(value)
	if err != nil {
		return nil, err
	}
	return snap.Restore(), nil
}

func (r *RedisStore) Delete(ctx context.Context, clientID string) error {
	if err := r.guard(ctx); err != nil {
		return err
	}
	return r.client.Del(ctx, redisSessKey(clientID)).Err()
}

func (r *RedisStore) Exists(ctx context.Context, clientID string) (bool, error) {
	if err := r.guard(ctx); err != nil {
		return false, err
	}
	n, err := r.client.Exists(ctx, redisSessKey(clientID)).Result()
	return n > 0, err
}

// List scans the session keyspace. SCAN (not KEYS) so a big session
// population doesn't stall the Redis server.
func (r *RedisStore) List(ctx context.Context) ([]string, error) {
	if err := r.guard(ctx); err != nil {
		return nil, err
	}

	var ids []string
	iter := r.client.Scan(ctx, 0, redisSessKeyspace+"*", 256).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(redisSessKeyspace):])
	}
	return ids, iter.Err()
}

func (r *RedisStore) Count(ctx context.Context) (int64, error) {
	ids, err := r.List(ctx)
	if err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

func (r *RedisStore) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return ErrStoreClosed
	}
	return r.client.Close()
}
