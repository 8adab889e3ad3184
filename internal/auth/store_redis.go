// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/savorahq/savora/internal/platform/constants"
)

// RedisAntiForgeryStore implements AntiForgeryStore using Redis.
//
// Tokens live under a common prefix with a natural TTL, so expiry needs no
// sweeper. Validation is a plain existence check.
type RedisAntiForgeryStore struct {
	client *redis.Client
}

// NewAntiForgeryStore creates a new Redis-backed AntiForgeryStore.
func NewAntiForgeryStore(client *redis.Client) *RedisAntiForgeryStore {
	return &RedisAntiForgeryStore{client: client}
}

/*
Store records a token as valid for the given duration.

Parameters:
  - ctx: context.Context
  - token: string
  - ttl: time.Duration

Returns:
  - error: Execution errors
*/
func (store *RedisAntiForgeryStore) Store(ctx context.Context, token string, ttl time.Duration) error {

	// Use constants for key prefix
	key := fmt.Sprintf("%s%s", constants.RedisPrefixAntiForgery, token)

	// Set the token with TTL; the value is irrelevant, existence is the signal
	if err := store.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis_antiforgery_store_failed: %w", err)
	}

	// Return nil on success
	return nil
}

/*
IsValid reports whether the token is known and unexpired.

Parameters:
  - ctx: context.Context
  - token: string

Returns:
  - bool: True when the token exists
  - error: Connectivity errors
*/
func (store *RedisAntiForgeryStore) IsValid(ctx context.Context, token string) (bool, error) {

	// Use constants for key prefix
	key := fmt.Sprintf("%s%s", constants.RedisPrefixAntiForgery, token)

	// Probe the key
	_, err := store.client.Get(ctx, key).Result()

	// Handle errors
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis_antiforgery_get_failed: %w", err)
	}

	return true, nil
}

/*
Invalidate removes the token ahead of its natural expiry.

Parameters:
  - ctx: context.Context
  - token: string

Returns:
  - error: Deletion failures
*/
func (store *RedisAntiForgeryStore) Invalidate(ctx context.Context, token string) error {

	// Use constants for key prefix
	key := fmt.Sprintf("%s%s", constants.RedisPrefixAntiForgery, token)

	// Delete the token from Redis
	if err := store.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis_antiforgery_delete_failed: %w", err)
	}

	// Return nil on success
	return nil
}
