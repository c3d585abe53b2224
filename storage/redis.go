package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/songzhibin97/claimflow/types"
)

const (
	defaultPrefix  = "claimflow:"
	instancePrefix = "instance:"
	keyPrefix      = "key:"
)

// releaseKeyScript deletes the key only while it still names the instance.
var releaseKeyScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStorage is a Redis-backed implementation of the Storage interface.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

// RedisOptions extends redis.Options with additional configuration.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration
	Prefix       string
}

// NewRedisStorage creates a new RedisStorage instance with configurable options.
func NewRedisStorage(opts RedisOptions) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisStorage{client: client, prefix: prefix}, nil
}

func (s *RedisStorage) instanceKey(id string) string {
	return s.prefix + instancePrefix + id
}

func (s *RedisStorage) businessKey(key string) string {
	return s.prefix + keyPrefix + key
}

// SaveInstance saves a process instance to Redis.
func (s *RedisStorage) SaveInstance(ctx context.Context, inst types.ProcessInstance) error {
	return withContextError(ctx, func() error {
		data, err := json.Marshal(inst)
		if err != nil {
			return fmt.Errorf("failed to marshal instance %s: %v", inst.ID, err)
		}
		key := s.instanceKey(inst.ID)
		if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
			return fmt.Errorf("failed to set %s in Redis: %v", key, err)
		}
		return nil
	})
}

// GetInstance retrieves a process instance from Redis.
func (s *RedisStorage) GetInstance(ctx context.Context, id string) (types.ProcessInstance, error) {
	return getFromRedis[types.ProcessInstance](ctx, s.client, s.instanceKey(id))
}

// getFromRedis retrieves and unmarshals a value stored under key.
func getFromRedis[T any](ctx context.Context, client *redis.Client, key string) (T, error) {
	return withContext(ctx, func() (T, error) {
		var zero T
		data, err := client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return zero, fmt.Errorf("%w: key=%s", ErrInstanceNotFound, key)
		} else if err != nil {
			return zero, fmt.Errorf("failed to get %s from Redis: %v", key, err)
		}

		var result T
		if err := json.Unmarshal(data, &result); err != nil {
			return zero, fmt.Errorf("failed to unmarshal %s: %v", key, err)
		}
		return result, nil
	})
}

// ReserveKey binds a business key to an instance with SETNX.
func (s *RedisStorage) ReserveKey(ctx context.Context, businessKey, instanceID string) (bool, error) {
	return withContext(ctx, func() (bool, error) {
		key := s.businessKey(businessKey)
		ok, err := s.client.SetNX(ctx, key, instanceID, 0).Result()
		if err != nil {
			return false, fmt.Errorf("failed to reserve %s: %v", key, err)
		}
		if ok {
			return true, nil
		}
		holder, err := s.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			// released between SETNX and GET
			return s.client.SetNX(ctx, key, instanceID, 0).Result()
		} else if err != nil {
			return false, fmt.Errorf("failed to read %s: %v", key, err)
		}
		return holder == instanceID, nil
	})
}

// ReleaseKey frees a business key held by the instance.
func (s *RedisStorage) ReleaseKey(ctx context.Context, businessKey, instanceID string) error {
	return withContextError(ctx, func() error {
		key := s.businessKey(businessKey)
		n, err := releaseKeyScript.Run(ctx, s.client, []string{key}, instanceID).Int()
		if err != nil {
			return fmt.Errorf("failed to release %s: %v", key, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: key=%s", ErrKeyNotHeld, businessKey)
		}
		return nil
	})
}

// ClearCompleted removes terminal instances from Redis.
func (s *RedisStorage) ClearCompleted(ctx context.Context) error {
	return withContextError(ctx, func() error {
		keys, err := s.client.Keys(ctx, s.prefix+instancePrefix+"*").Result()
		if err != nil {
			return fmt.Errorf("failed to scan instance keys: %v", err)
		}

		if len(keys) == 0 {
			return nil
		}

		pipe := s.client.Pipeline()
		stale := 0
		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			} else if err != nil {
				return fmt.Errorf("failed to get %s: %v", key, err)
			}

			var inst types.ProcessInstance
			if err := json.Unmarshal(data, &inst); err != nil {
				return fmt.Errorf("failed to unmarshal %s: %v", key, err)
			}

			if inst.Status.IsTerminal() {
				pipe.Del(ctx, key)
				stale++
			}
		}
		if stale == 0 {
			return nil
		}

		_, err = pipe.Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to execute pipeline for deletion: %v", err)
		}
		return nil
	})
}

// Close closes the Redis client connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
