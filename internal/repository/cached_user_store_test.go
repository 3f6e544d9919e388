package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyrewards-backend/internal/models"
)

type stubBackend struct {
	mu      sync.Mutex
	users   map[uuid.UUID]*models.UserRecord
	gets    atomic.Int32
	saveErr error
	delay   time.Duration
}

func newStubBackend() *stubBackend {
	return &stubBackend{users: make(map[uuid.UUID]*models.UserRecord)}
}

func (b *stubBackend) Get(_ context.Context, id uuid.UUID) (*models.UserRecord, error) {
	b.gets.Add(1)
	time.Sleep(b.delay)
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u.Clone(), nil
}

func (b *stubBackend) Save(_ context.Context, user *models.UserRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.saveErr != nil {
		return b.saveErr
	}
	b.users[user.ID] = user.Clone()
	return nil
}

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func sampleUser() *models.UserRecord {
	return &models.UserRecord{
		ID:                    uuid.New(),
		Address:               "NbnjKGMBJzJ6j5PHeYhjJDaQ5Vy5UYu4Fv",
		CompletedSessionCount: 3,
		BadgesIssued:          []models.Tier{},
		UpdatedAt:             time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

func TestCachedUserStore_ReadThrough(t *testing.T) {
	mr, client := setupMiniRedis(t)
	backend := newStubBackend()
	user := sampleUser()
	require.NoError(t, backend.Save(context.Background(), user))

	store := NewCachedUserStore(backend, NewRedisUserCache(client, 5*time.Minute))

	got, err := store.Get(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, 3, got.CompletedSessionCount)
	assert.True(t, mr.Exists(userCacheKey(user.ID)))
	assert.Equal(t, 5*time.Minute, mr.TTL(userCacheKey(user.ID)))

	_, err = store.Get(context.Background(), user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, backend.gets.Load(), "second read is served from cache")
}

func TestCachedUserStore_NotFound(t *testing.T) {
	_, client := setupMiniRedis(t)
	store := NewCachedUserStore(newStubBackend(), NewRedisUserCache(client, time.Minute))

	_, err := store.Get(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestCachedUserStore_WriteThroughReadsOwnWrite(t *testing.T) {
	_, client := setupMiniRedis(t)
	backend := newStubBackend()
	user := sampleUser()
	require.NoError(t, backend.Save(context.Background(), user))
	store := NewCachedUserStore(backend, NewRedisUserCache(client, time.Minute))
	ctx := context.Background()

	_, err := store.Get(ctx, user.ID)
	require.NoError(t, err)

	user.CompletedSessionCount = 4
	user.Session = &models.SessionState{
		Status:          models.SessionCompleted,
		Generation:      uuid.New(),
		StartTime:       user.UpdatedAt,
		DurationMinutes: 50,
	}
	require.NoError(t, store.Save(ctx, user))

	got, err := store.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.CompletedSessionCount)
	assert.Equal(t, models.SessionCompleted, got.Status())
	assert.EqualValues(t, 1, backend.gets.Load())
}

func TestCachedUserStore_BackendSaveFailureKeepsCache(t *testing.T) {
	_, client := setupMiniRedis(t)
	backend := newStubBackend()
	user := sampleUser()
	require.NoError(t, backend.Save(context.Background(), user))
	store := NewCachedUserStore(backend, NewRedisUserCache(client, time.Minute))
	ctx := context.Background()

	_, err := store.Get(ctx, user.ID)
	require.NoError(t, err)

	backend.saveErr = errors.New("connection reset")
	changed := user.Clone()
	changed.CompletedSessionCount = 99
	require.Error(t, store.Save(ctx, changed))

	got, err := store.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CompletedSessionCount)
}

func TestCachedUserStore_CacheOutageFallsBackToBackend(t *testing.T) {
	mr, client := setupMiniRedis(t)
	backend := newStubBackend()
	user := sampleUser()
	store := NewCachedUserStore(backend, NewRedisUserCache(client, time.Minute))
	ctx := context.Background()

	mr.Close()

	require.NoError(t, store.Save(ctx, user))
	got, err := store.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
}

func TestCachedUserStore_CollapsesConcurrentMisses(t *testing.T) {
	_, client := setupMiniRedis(t)
	backend := newStubBackend()
	backend.delay = 50 * time.Millisecond
	user := sampleUser()
	require.NoError(t, backend.Save(context.Background(), user))
	store := NewCachedUserStore(backend, NewRedisUserCache(client, time.Minute))

	var wg sync.WaitGroup
	results := make([]*models.UserRecord, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := store.Get(context.Background(), user.ID)
			if err == nil {
				results[i] = u
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, backend.gets.Load(), int32(2))
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, user.ID, r.ID)
	}
	// Every caller owns its copy.
	results[0].CompletedSessionCount = 42
	assert.Equal(t, 3, results[1].CompletedSessionCount)
}

func TestRedisUserCache_FillDoesNotOverwrite(t *testing.T) {
	_, client := setupMiniRedis(t)
	cache := NewRedisUserCache(client, time.Minute)
	ctx := context.Background()
	user := sampleUser()

	fresh := user.Clone()
	fresh.CompletedSessionCount = 10
	require.NoError(t, cache.Set(ctx, fresh))
	require.NoError(t, cache.Fill(ctx, user))

	got, ok := cache.Get(ctx, user.ID)
	require.True(t, ok)
	assert.Equal(t, 10, got.CompletedSessionCount)
}

func TestRedisUserCache_CorruptEntryIsMiss(t *testing.T) {
	mr, client := setupMiniRedis(t)
	cache := NewRedisUserCache(client, time.Minute)
	id := uuid.New()

	require.NoError(t, mr.Set(userCacheKey(id), "{not json"))
	_, ok := cache.Get(context.Background(), id)
	assert.False(t, ok)
}

func TestRedisUserCache_ExpiresAfterTTL(t *testing.T) {
	mr, client := setupMiniRedis(t)
	cache := NewRedisUserCache(client, time.Minute)
	user := sampleUser()

	require.NoError(t, cache.Set(context.Background(), user))
	mr.FastForward(61 * time.Second)

	_, ok := cache.Get(context.Background(), user.ID)
	assert.False(t, ok)
}
