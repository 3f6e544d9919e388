package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"studyrewards-backend/internal/logger"
	"studyrewards-backend/internal/models"
)

// UserBackend is the durable tier behind the cache.
type UserBackend interface {
	Get(ctx context.Context, id uuid.UUID) (*models.UserRecord, error)
	Save(ctx context.Context, user *models.UserRecord) error
}

// CachedUserStore is a read-through, write-through user store. Writes hit the
// backend first; the cache entry is refreshed afterwards or dropped if the
// refresh fails, so a process always reads its own writes. Entries written by
// other processes may be served stale for up to the cache TTL.
type CachedUserStore struct {
	backend UserBackend
	cache   *RedisUserCache
	group   singleflight.Group
	logger  zerolog.Logger
}

func NewCachedUserStore(backend UserBackend, cache *RedisUserCache) *CachedUserStore {
	return &CachedUserStore{
		backend: backend,
		cache:   cache,
		logger:  logger.WithComponent("user_store"),
	}
}

// Get returns a private copy of the record. Concurrent misses for the same
// user share one backend read.
func (s *CachedUserStore) Get(ctx context.Context, id uuid.UUID) (*models.UserRecord, error) {
	if user, ok := s.cache.Get(ctx, id); ok {
		return user, nil
	}

	v, err, _ := s.group.Do(id.String(), func() (any, error) {
		user, err := s.backend.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Fill(ctx, user); err != nil {
			s.logger.Warn().Err(err).Str(logger.FieldUserID, id.String()).Msg("failed to populate user cache")
		}
		return user, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.UserRecord).Clone(), nil
}

func (s *CachedUserStore) Save(ctx context.Context, user *models.UserRecord) error {
	if err := s.backend.Save(ctx, user); err != nil {
		return err
	}

	if err := s.cache.Set(ctx, user); err != nil {
		s.logger.Warn().Err(err).Str(logger.FieldUserID, user.ID.String()).Msg("failed to refresh user cache, evicting")
		if delErr := s.cache.Delete(ctx, user.ID); delErr != nil {
			s.logger.Error().Err(delErr).Str(logger.FieldUserID, user.ID.String()).Msg("failed to evict stale user cache entry")
		}
	}
	return nil
}
