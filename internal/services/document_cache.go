package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	apperrors "github.com/aihub/docqa-go/internal/errors"
	"github.com/aihub/docqa-go/internal/logger"
	"github.com/aihub/docqa-go/internal/metrics"
	"github.com/aihub/docqa-go/internal/models"
	"github.com/aihub/docqa-go/internal/repository"
)

const documentHashKeyPrefix = "docqa:doc:hash:"

// DefaultRecentSessions RecentSessions默认条数
const DefaultRecentSessions = 10

// HashCache 内容哈希到文档ID的读穿缓存
type HashCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// RedisHashCache 基于redis的HashCache
type RedisHashCache struct {
	client redis.Cmdable
}

// NewRedisHashCache 创建redis缓存
func NewRedisHashCache(client redis.Cmdable) *RedisHashCache {
	return &RedisHashCache{client: client}
}

func (c *RedisHashCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisHashCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// DocumentCache 按内容哈希去重的文档缓存，并记录问答历史。
// 哈希唯一约束是"已存在"的唯一依据，并发插入冲突时回读已有记录。
type DocumentCache struct {
	docs     repository.DocumentRepository
	sessions repository.QASessionRepository
	cache    HashCache
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewDocumentCache 创建文档缓存，cache可为nil
func NewDocumentCache(docs repository.DocumentRepository, sessions repository.QASessionRepository, cache HashCache, ttl time.Duration) *DocumentCache {
	return &DocumentCache{
		docs:     docs,
		sessions: sessions,
		cache:    cache,
		ttl:      ttl,
		logger:   logger.Named("document_cache"),
		now:      time.Now,
	}
}

func hashKey(contentHash string) string {
	return documentHashKeyPrefix + contentHash
}

// Lookup 按内容哈希查找文档，不存在时返回(nil, nil)
func (c *DocumentCache) Lookup(ctx context.Context, contentHash string) (*models.Document, error) {
	if doc := c.lookupCached(ctx, contentHash); doc != nil {
		return doc, nil
	}

	doc, err := c.docs.GetByHash(ctx, contentHash)
	if errors.Is(err, repository.ErrNotFound) {
		metrics.DocumentCache.WithLabelValues("store", "miss").Inc()
		return nil, nil
	}
	if err != nil {
		metrics.DocumentCache.WithLabelValues("store", "error").Inc()
		return nil, apperrors.NewPersistenceError("failed to look up document", err).
			WithDetails(map[string]string{"content_hash": contentHash})
	}
	metrics.DocumentCache.WithLabelValues("store", "hit").Inc()
	c.remember(ctx, doc)
	return doc, nil
}

// lookupCached 缓存异常只记日志，回落到数据库
func (c *DocumentCache) lookupCached(ctx context.Context, contentHash string) *models.Document {
	if c.cache == nil {
		return nil
	}

	val, ok, err := c.cache.Get(ctx, hashKey(contentHash))
	if err != nil {
		metrics.DocumentCache.WithLabelValues("redis", "error").Inc()
		c.logger.Warn("Document cache read failed", zap.String("content_hash", contentHash), zap.Error(err))
		return nil
	}
	if !ok {
		metrics.DocumentCache.WithLabelValues("redis", "miss").Inc()
		return nil
	}

	id, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		c.logger.Warn("Malformed document cache entry", zap.String("content_hash", contentHash), zap.String("value", val))
		return nil
	}
	doc, err := c.docs.GetByID(ctx, uint(id))
	if err != nil || doc.ContentHash != contentHash {
		// 缓存指向的记录已不存在或不匹配
		metrics.DocumentCache.WithLabelValues("redis", "stale").Inc()
		return nil
	}
	metrics.DocumentCache.WithLabelValues("redis", "hit").Inc()
	return doc
}

func (c *DocumentCache) remember(ctx context.Context, doc *models.Document) {
	if c.cache == nil || doc == nil {
		return
	}
	if err := c.cache.Set(ctx, hashKey(doc.ContentHash), strconv.FormatUint(uint64(doc.DocumentID), 10), c.ttl); err != nil {
		c.logger.Warn("Document cache write failed", zap.String("content_hash", doc.ContentHash), zap.Error(err))
	}
}

// GetOrCreate 哈希已存在时原样返回已有记录（忽略本次的sourceID和text），否则新建
func (c *DocumentCache) GetOrCreate(ctx context.Context, sourceID, contentHash, sanitizedText string) (*models.Document, error) {
	existing, err := c.Lookup(ctx, contentHash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	doc := &models.Document{
		SourceURL:   sourceID,
		ContentHash: contentHash,
		Content:     sanitizedText,
		ProcessedAt: c.now(),
	}
	err = c.docs.Create(ctx, doc)
	if errors.Is(err, repository.ErrDuplicateKey) {
		// 并发请求先插入了同一哈希
		winner, getErr := c.docs.GetByHash(ctx, contentHash)
		if getErr != nil {
			return nil, apperrors.NewPersistenceError("failed to read document after duplicate insert", getErr).
				WithDetails(map[string]string{"content_hash": contentHash})
		}
		c.logger.Debug("Document insert raced, using existing record",
			zap.String("content_hash", contentHash), zap.Uint("document_id", winner.DocumentID))
		c.remember(ctx, winner)
		return winner, nil
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to create document", err).
			WithDetails(map[string]string{"content_hash": contentHash, "source": sourceID})
	}

	c.logger.Info("Document recorded",
		zap.Uint("document_id", doc.DocumentID), zap.String("content_hash", contentHash), zap.String("source", sourceID))
	c.remember(ctx, doc)
	return doc, nil
}

// RecordSession 追加一条问答记录，questions与answers必须等长
func (c *DocumentCache) RecordSession(ctx context.Context, documentID uint, questions, answers []string) (*models.QASession, error) {
	if len(questions) != len(answers) {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("questions and answers differ in length: %d != %d", len(questions), len(answers)))
	}

	session := &models.QASession{
		DocumentID: documentID,
		Questions:  append([]string(nil), questions...),
		Answers:    append([]string(nil), answers...),
		CreatedAt:  c.now(),
	}
	if err := c.sessions.Create(ctx, session); err != nil {
		return nil, apperrors.NewPersistenceError("failed to record Q&A session", err).
			WithDetails(map[string]interface{}{"document_id": documentID})
	}
	return session, nil
}

// RecentSessions 最近的问答记录，最新在前
func (c *DocumentCache) RecentSessions(ctx context.Context, documentID uint, limit int) ([]models.QASession, error) {
	if limit <= 0 {
		limit = DefaultRecentSessions
	}
	if _, err := c.docs.GetByID(ctx, documentID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFoundError("document").WithDetails(map[string]interface{}{"document_id": documentID})
		}
		return nil, apperrors.NewPersistenceError("failed to load document", err)
	}

	sessions, err := c.sessions.ListByDocument(ctx, documentID, limit)
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to list Q&A sessions", err)
	}
	return sessions, nil
}

// Counts 文档数与问答记录数
func (c *DocumentCache) Counts(ctx context.Context) (documents, sessions int64, err error) {
	if documents, err = c.docs.Count(ctx); err != nil {
		return 0, 0, apperrors.NewPersistenceError("failed to count documents", err)
	}
	if sessions, err = c.sessions.Count(ctx); err != nil {
		return 0, 0, apperrors.NewPersistenceError("failed to count Q&A sessions", err)
	}
	return documents, sessions, nil
}
