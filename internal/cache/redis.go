package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the Store contract with a Redis instance so several
// gateway processes can share one cache. Redis enforces the TTLs itself,
// so there is no lazy-expiry bookkeeping here.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to addr and verifies the connection.
func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// Get returns the value for key. Backend errors degrade to a miss so a
// Redis outage costs an upstream re-fetch, not a failed request.
func (s *RedisStore) Get(key string) ([]byte, bool) {
	data, err := s.client.Get(context.Background(), key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("cache: redis get %s: %v", key, err)
		}
		return nil, false
	}
	return data, true
}

func (s *RedisStore) Set(key string, value []byte, ttl time.Duration) {
	if err := s.client.Set(context.Background(), key, value, ttl).Err(); err != nil {
		log.Printf("cache: redis set %s: %v", key, err)
	}
}

func (s *RedisStore) Has(key string) bool {
	n, err := s.client.Exists(context.Background(), key).Result()
	if err != nil {
		log.Printf("cache: redis exists %s: %v", key, err)
		return false
	}
	return n > 0
}

func (s *RedisStore) Delete(key string) {
	if err := s.client.Del(context.Background(), key).Err(); err != nil {
		log.Printf("cache: redis del %s: %v", key, err)
	}
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
