/*
Copyright 2025 Paintbox Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package cache backs the ledger's cheap balance pre-checks. A cache miss
// or a stale read only ever costs an extra authoritative lookup; the
// guarded debit in the datasource remains the authority on balances.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/cache/v9"

	"github.com/paintbox-ai/paintbox/config"
	redis_db "github.com/paintbox-ai/paintbox/internal/redis-db"
)

// Cache provides the basic operations the service layer needs from a
// cache system.
type Cache interface {
	// Set stores a value under key with the given time-to-live.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Get retrieves the value for key into data. A cache miss is not an
	// error; data is simply left untouched.
	Get(ctx context.Context, key string, data interface{}) error

	// Delete removes the value for key.
	Delete(ctx context.Context, key string) error
}

// RedisCache implements Cache on Redis with a local TinyLFU layer in front.
type RedisCache struct {
	cache *cache.Cache
}

// NewCache establishes the Redis connection from configuration and returns
// a Cache instance.
func NewCache() (Cache, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	ca, err := newRedisCache(fmt.Sprintf("redis://%s", cfg.Redis.Dns))
	if err != nil {
		return nil, err
	}
	return ca, nil
}

// cacheSize is the entry capacity of the local cache in front of Redis.
const cacheSize = 128000

func newRedisCache(address string) (*RedisCache, error) {
	client, err := redis_db.NewRedisClient(address)
	if err != nil {
		return nil, err
	}

	c := cache.New(&cache.Options{
		Redis:      client.Client(),
		LocalCache: cache.NewTinyLFU(cacheSize, 1*time.Minute),
	})

	return &RedisCache{cache: c}, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, data interface{}, ttl time.Duration) error {
	return r.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: data,
		TTL:   ttl,
	})
}

func (r *RedisCache) Get(ctx context.Context, key string, data interface{}) error {
	err := r.cache.Get(ctx, key, &data)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}

	return err
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.cache.Delete(ctx, key)
}
