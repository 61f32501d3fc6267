package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/docqa-go/internal/errors"
	"github.com/aihub/docqa-go/internal/models"
	"github.com/aihub/docqa-go/internal/repository"
)

func TestDocumentCache_GetOrCreate_HashIsAuthoritative(t *testing.T) {
	docs := newMemDocumentRepo()
	cache := NewDocumentCache(docs, &memSessionRepo{}, newMemHashCache(), time.Hour)
	ctx := context.Background()

	first, err := cache.GetOrCreate(ctx, "https://example.com/a.pdf", "hash-1", "text one")
	require.NoError(t, err)
	second, err := cache.GetOrCreate(ctx, "/tmp/b.pdf", "hash-1", "different text")
	require.NoError(t, err)

	assert.Equal(t, first.DocumentID, second.DocumentID)
	assert.Equal(t, "https://example.com/a.pdf", second.SourceURL)
	assert.Equal(t, "text one", second.Content)
	assert.Equal(t, 1, docs.creates)
}

func TestDocumentCache_GetOrCreate_DuplicateInsertUsesExisting(t *testing.T) {
	docs := newMemDocumentRepo()
	ctx := context.Background()
	require.NoError(t, docs.Create(ctx, &models.Document{SourceURL: "first-source", ContentHash: "hash-race"}))

	// 查询时还看不到，插入时才撞上唯一约束
	docs.hideFirst = 1
	cache := NewDocumentCache(docs, &memSessionRepo{}, nil, time.Hour)

	doc, err := cache.GetOrCreate(ctx, "other-source", "hash-race", "text")
	require.NoError(t, err)
	assert.Equal(t, uint(1), doc.DocumentID)
	assert.Equal(t, 2, docs.creates)
}

func TestDocumentCache_GetOrCreate_ConcurrentSameHash(t *testing.T) {
	docs := newMemDocumentRepo()
	cache := NewDocumentCache(docs, &memSessionRepo{}, newMemHashCache(), time.Hour)

	const workers = 16
	ids := make([]uint, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc, err := cache.GetOrCreate(context.Background(), "source", "same-hash", "text")
			if assert.NoError(t, err) {
				ids[i] = doc.DocumentID
			}
		}(i)
	}
	wg.Wait()

	count, err := docs.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestDocumentCache_GetOrCreate_StoreFailure(t *testing.T) {
	docs := newMemDocumentRepo()
	docs.createErr = errors.New("connection refused")
	cache := NewDocumentCache(docs, &memSessionRepo{}, nil, time.Hour)

	_, err := cache.GetOrCreate(context.Background(), "source", "hash", "text")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodePersistenceFailed))
}

func TestDocumentCache_Lookup(t *testing.T) {
	docs := newMemDocumentRepo()
	hashes := newMemHashCache()
	cache := NewDocumentCache(docs, &memSessionRepo{}, hashes, time.Hour)
	ctx := context.Background()

	missing, err := cache.Lookup(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)

	created, err := cache.GetOrCreate(ctx, "source", "hash-a", "text")
	require.NoError(t, err)
	assert.Equal(t, "1", hashes.values[hashKey("hash-a")])

	found, err := cache.Lookup(ctx, "hash-a")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.DocumentID, found.DocumentID)
}

func TestDocumentCache_Lookup_StaleCacheEntry(t *testing.T) {
	docs := newMemDocumentRepo()
	hashes := newMemHashCache()
	cache := NewDocumentCache(docs, &memSessionRepo{}, hashes, time.Hour)
	ctx := context.Background()

	other, err := cache.GetOrCreate(ctx, "source", "hash-other", "text")
	require.NoError(t, err)

	// 缓存指向内容哈希不同的记录
	hashes.values[hashKey("hash-b")] = "1"
	found, err := cache.Lookup(ctx, "hash-b")
	require.NoError(t, err)
	assert.Nil(t, found)

	hashes.values[hashKey("hash-c")] = "not-a-number"
	found, err = cache.Lookup(ctx, "hash-c")
	require.NoError(t, err)
	assert.Nil(t, found)
	assert.Equal(t, uint(1), other.DocumentID)
}

func TestDocumentCache_RedisUnavailableFallsBackToStore(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	docs := newMemDocumentRepo()
	cache := NewDocumentCache(docs, &memSessionRepo{}, NewRedisHashCache(client), time.Hour)
	ctx := context.Background()

	created, err := cache.GetOrCreate(ctx, "source", "hash-r", "text")
	require.NoError(t, err)

	found, err := cache.Lookup(ctx, "hash-r")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.DocumentID, found.DocumentID)
}

func TestDocumentCache_RecordSession(t *testing.T) {
	sessions := &memSessionRepo{}
	cache := NewDocumentCache(newMemDocumentRepo(), sessions, nil, time.Hour)
	ctx := context.Background()

	_, err := cache.RecordSession(ctx, 1, []string{"q1", "q2"}, []string{"a1"})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationFailed))
	assert.Empty(t, sessions.sessions)

	session, err := cache.RecordSession(ctx, 1, []string{"q1"}, []string{"a1"})
	require.NoError(t, err)
	assert.Equal(t, uint(1), session.SessionID)
	assert.Equal(t, []string{"q1"}, session.Questions)

	sessions.createErr = errors.Join(repository.ErrForeignKey, errors.New("violates foreign key constraint"))
	_, err = cache.RecordSession(ctx, 99, []string{"q"}, []string{"a"})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodePersistenceFailed))
	assert.ErrorIs(t, err, repository.ErrForeignKey)
}

func TestDocumentCache_RecentSessions(t *testing.T) {
	docs := newMemDocumentRepo()
	sessions := &memSessionRepo{}
	cache := NewDocumentCache(docs, sessions, nil, time.Hour)
	ctx := context.Background()

	_, err := cache.RecentSessions(ctx, 42, 0)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeResourceNotFound))

	doc, err := cache.GetOrCreate(ctx, "source", "hash", "text")
	require.NoError(t, err)
	for _, q := range []string{"first", "second", "third"} {
		_, err := cache.RecordSession(ctx, doc.DocumentID, []string{q}, []string{"answer"})
		require.NoError(t, err)
	}

	recent, err := cache.RecentSessions(ctx, doc.DocumentID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, []string{"third"}, recent[0].Questions)
	assert.Equal(t, []string{"second"}, recent[1].Questions)

	documents, total, err := cache.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), documents)
	assert.Equal(t, int64(3), total)
}
