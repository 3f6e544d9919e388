package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"studyrewards-backend/internal/logger"
	"studyrewards-backend/internal/models"
)

const cacheOpTimeout = 2 * time.Second

func userCacheKey(id uuid.UUID) string {
	return fmt.Sprintf("study_user:%s", id.String())
}

// RedisUserCache holds JSON-encoded user records with a TTL. Read errors and
// undecodable entries are treated as misses.
type RedisUserCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewRedisUserCache(client *redis.Client, ttl time.Duration) *RedisUserCache {
	return &RedisUserCache{
		client: client,
		ttl:    ttl,
		logger: logger.WithComponent("user_cache"),
	}
}

func (c *RedisUserCache) Get(ctx context.Context, id uuid.UUID) (*models.UserRecord, bool) {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	key := userCacheKey(id)
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis get failed")
		return nil, false
	}

	var user models.UserRecord
	if err := json.Unmarshal(data, &user); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("json unmarshal failed")
		return nil, false
	}
	return &user, true
}

// Set overwrites the cached record. Used after a durable write.
func (c *RedisUserCache) Set(ctx context.Context, user *models.UserRecord) error {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	return c.client.Set(ctx, userCacheKey(user.ID), data, c.ttl).Err()
}

// Fill caches a record read from the durable tier without replacing an entry
// written in the meantime by Set.
func (c *RedisUserCache) Fill(ctx context.Context, user *models.UserRecord) error {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	return c.client.SetNX(ctx, userCacheKey(user.ID), data, c.ttl).Err()
}

func (c *RedisUserCache) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	return c.client.Del(ctx, userCacheKey(id)).Err()
}
