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

package redis_db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps the universal client shared by the queue, the session store
// and the cache.
type Redis struct {
	address string
	client  redis.UniversalClient
}

// ParseRedisURL parses a Redis URL into client options. Docker-style
// addresses (host:port without a scheme) are accepted as-is.
func ParseRedisURL(rawURL string) (*redis.Options, error) {
	if strings.Count(rawURL, ":") == 1 && !strings.Contains(rawURL, "@") && !strings.Contains(rawURL, "//") {
		return &redis.Options{
			Addr: rawURL,
		}, nil
	}

	// Handle URLs that carry a password without a username
	if strings.HasPrefix(rawURL, "redis://") && strings.Contains(rawURL, "@") {
		parts := strings.Split(strings.TrimPrefix(rawURL, "redis://"), "@")
		if len(parts) == 2 && !strings.Contains(parts[0], ":") {
			rawURL = fmt.Sprintf("redis://:%s@%s", parts[0], parts[1])
		}
	}

	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		// Fall back to manual parsing for non-URL address forms
		host := rawURL
		var password string
		if strings.Contains(rawURL, "@") {
			parts := strings.Split(rawURL, "@")
			if len(parts) == 2 {
				password = strings.TrimPrefix(parts[0], "redis://")
				host = parts[1]
			}
		}
		opts = &redis.Options{
			Addr:     host,
			Password: password,
			DB:       0,
		}
	}

	return opts, nil
}

// NewRedisClient creates a Redis client connection for the given address
// and verifies it with a short ping.
//
// Parameters:
// - address string: The Redis address or URL to connect to.
//
// Returns:
// - *Redis: A new Redis client wrapper.
// - error: An error if the address is invalid or the connection fails.
func NewRedisClient(address string) (*Redis, error) {
	if address == "" {
		return nil, errors.New("redis address cannot be empty")
	}

	opts, err := ParseRedisURL(address)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err = client.Ping(ctx).Result()
	if err != nil {
		return nil, err
	}
	return &Redis{address: address, client: client}, nil
}

// Client returns the Redis universal client for direct operations.
func (r *Redis) Client() redis.UniversalClient {
	return r.client
}

// MakeRedisClient returns the client as an interface, for compatibility
// with packages that accept an opaque connection.
func (r *Redis) MakeRedisClient() interface{} {
	return r.client
}
