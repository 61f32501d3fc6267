package di

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aihub/docqa-go/internal/config"
	"github.com/aihub/docqa-go/internal/database"
	"github.com/aihub/docqa-go/internal/kafka"
	"github.com/aihub/docqa-go/internal/knowledge"
	"github.com/aihub/docqa-go/internal/llm"
	"github.com/aihub/docqa-go/internal/logger"
	"github.com/aihub/docqa-go/internal/repository"
	"github.com/aihub/docqa-go/internal/services"
	"github.com/aihub/docqa-go/internal/storage"
)

const connectTimeout = 30 * time.Second

// RegisterProviders 注册所有依赖提供者。可选组件（redis、minio、kafka）
// 未启用或连接失败时提供nil，由使用方降级。
func RegisterProviders(container *dig.Container, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config not loaded")
	}

	providers := []interface{}{
		func() *config.Config { return cfg },

		// 基础设施
		func(cfg *config.Config) (*gorm.DB, error) {
			return database.OpenPostgres(cfg.Database, logger.Named("database"))
		},
		provideRedis,
		provideHashCache,
		NewObjectStorage,
		provideKafkaProducer,

		// 检索
		provideEmbedder,
		NewIndexStore,
		provideSimilarityBackend,
		provideVectorIndex,
		provideChunker,
		knowledge.NewFileParserManager,
		provideClauseMatcher,
		provideSourceResolver,

		// 生成
		provideGenerator,

		// 存储
		repository.NewDocumentRepository,
		repository.NewQASessionRepository,

		// 服务
		provideDocumentCache,
		provideIngestService,
		provideQAService,
		provideQueryService,
	}

	for _, p := range providers {
		if err := container.Provide(p); err != nil {
			return err
		}
	}
	return nil
}

func provideRedis(cfg *config.Config) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	client, err := database.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		logger.Warn("Failed to initialize Redis", zap.Error(err))
		return nil
	}
	logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr()))
	return client
}

func provideHashCache(client *redis.Client) services.HashCache {
	if client == nil {
		return nil
	}
	return services.NewRedisHashCache(client)
}

// NewObjectStorage 未启用或连接失败时返回nil
func NewObjectStorage(cfg *config.Config) *storage.MinIOStorage {
	if !cfg.Storage.Enabled {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	s, err := storage.NewMinIOStorage(ctx, cfg.Storage)
	if err != nil {
		logger.Warn("Failed to initialize MinIO", zap.Error(err))
		return nil
	}
	return s
}

func provideKafkaProducer(cfg *config.Config) *kafka.Producer {
	if !cfg.Kafka.Enabled {
		return nil
	}
	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err != nil {
		logger.Warn("Failed to initialize Kafka producer", zap.Error(err))
		return nil
	}
	return producer
}

// NewEmbedder 按配置选择向量化实现
func NewEmbedder(cfg *config.Config) knowledge.Embedder {
	switch cfg.Knowledge.Embedding.Provider {
	case "openai":
		return knowledge.NewOpenAIEmbedder(knowledge.OpenAIEmbedderConfig{
			APIKey:     cfg.AI.APIKey,
			BaseURL:    cfg.AI.BaseURL,
			Model:      cfg.AI.EmbeddingModel,
			Dimensions: cfg.Knowledge.Index.Dimension,
			BatchSize:  cfg.Knowledge.Embedding.BatchSize,
		})
	case "noop":
		return &knowledge.NoopEmbedder{}
	default:
		return knowledge.NewHashingEmbedder(cfg.Knowledge.Index.Dimension)
	}
}

func provideEmbedder(cfg *config.Config) knowledge.Embedder {
	return NewEmbedder(cfg)
}

// NewIndexStore 按knowledge.index.provider选择索引持久化位置，服务与离线索引工具共用
func NewIndexStore(cfg *config.Config, objects *storage.MinIOStorage) (knowledge.IndexStore, error) {
	if cfg.Knowledge.Index.Provider != "minio" {
		return knowledge.NewFileIndexStore(cfg.Knowledge.Index.Path), nil
	}
	if objects == nil {
		return nil, fmt.Errorf("index provider minio requires object storage")
	}
	return knowledge.NewObjectIndexStore(objects, cfg.Storage.IndexPrefix), nil
}

func provideSimilarityBackend(cfg *config.Config) (knowledge.SimilarityBackend, error) {
	if cfg.Knowledge.Index.Backend != "milvus" {
		return knowledge.NewFlatBackend(), nil
	}
	m := cfg.VectorStore.Milvus
	return knowledge.NewMilvusBackend(context.Background(), knowledge.MilvusOptions{
		Address:          m.Address,
		Username:         m.Username,
		Password:         m.Password,
		Database:         m.Database,
		CollectionPrefix: m.CollectionPrefix,
		UseTLS:           m.TLS,
		HNSWM:            m.HNSWM,
		EfConstruction:   m.EfConstruction,
		SearchEf:         m.SearchEf,
		Timeout:          m.Timeout,
	})
}

func provideVectorIndex(cfg *config.Config, embedder knowledge.Embedder, store knowledge.IndexStore, backend knowledge.SimilarityBackend) *knowledge.VectorIndex {
	opts := []knowledge.VectorIndexOption{
		knowledge.WithBackend(backend),
		knowledge.WithIndexStore(store),
		knowledge.WithDimension(cfg.Knowledge.Index.Dimension),
	}
	if cfg.Knowledge.Index.ReleaseGrace > 0 {
		opts = append(opts, knowledge.WithReleaseGrace(cfg.Knowledge.Index.ReleaseGrace))
	}
	return knowledge.NewVectorIndex(embedder, opts...)
}

func provideChunker(cfg *config.Config) (*knowledge.Chunker, error) {
	return knowledge.NewChunker(cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap)
}

// NewClauseMatcherConfig 配置转换为条款匹配参数，未配置的表达式使用默认表
func NewClauseMatcherConfig(cfg *config.Config) (knowledge.ClauseMatcherConfig, error) {
	clause := cfg.Knowledge.Clause
	out := knowledge.DefaultClauseMatcherConfig()
	out.MinSentenceLength = clause.MinSentenceLength
	out.TopN = clause.TopN
	out.SimilarityFloor = clause.SimilarityFloor
	out.SemanticWeight = clause.SemanticWeight
	out.KeywordWeight = clause.KeywordWeight

	if len(clause.KeywordPatterns) > 0 {
		patterns, err := knowledge.CompileKeywordPatterns(clause.KeywordPatterns)
		if err != nil {
			return out, err
		}
		out.KeywordPatterns = patterns
	}
	if len(clause.SectionPatterns) > 0 {
		patterns := make([]knowledge.SectionPattern, len(clause.SectionPatterns))
		for i, p := range clause.SectionPatterns {
			patterns[i] = knowledge.SectionPattern{Name: p.Name, Pattern: p.Pattern}
		}
		rules, err := knowledge.CompileSectionRules(patterns)
		if err != nil {
			return out, err
		}
		out.SectionRules = rules
	}
	return out, nil
}

func provideClauseMatcher(cfg *config.Config, index *knowledge.VectorIndex) (*knowledge.ClauseMatcher, error) {
	matcherCfg, err := NewClauseMatcherConfig(cfg)
	if err != nil {
		return nil, err
	}
	return knowledge.NewClauseMatcher(index, matcherCfg, nil), nil
}

func provideSourceResolver(cfg *config.Config, objects *storage.MinIOStorage) *knowledge.SourceResolver {
	opts := []knowledge.SourceOption{knowledge.WithMaxBytes(cfg.Knowledge.Fetch.MaxBytes)}
	if cfg.Knowledge.Fetch.Timeout > 0 {
		opts = append(opts, knowledge.WithHTTPClient(&http.Client{Timeout: cfg.Knowledge.Fetch.Timeout}))
	}
	if objects != nil {
		opts = append(opts, knowledge.WithObjectFetcher(objects))
	}
	return knowledge.NewSourceResolver(opts...)
}

// NewGenerator 生成模型外加熔断和单次超时
func NewGenerator(cfg *config.Config) *llm.BreakerGenerator {
	generator := llm.NewOpenAIGenerator(llm.OpenAIConfig{
		APIKey:            cfg.AI.APIKey,
		BaseURL:           cfg.AI.BaseURL,
		Model:             cfg.AI.ChatModel,
		MaxTokens:         cfg.AI.MaxTokens,
		Temperature:       float32(cfg.AI.Temperature),
		RequestsPerSecond: cfg.AI.RequestsPerSecond,
	})
	breaker := llm.NewCircuitBreaker("generation", cfg.AI.Breaker.MaxFailures, 1, cfg.AI.Breaker.ResetTimeout)
	return llm.NewBreakerGenerator(generator, breaker, cfg.AI.RequestTimeout)
}

func provideGenerator(cfg *config.Config) *llm.BreakerGenerator {
	return NewGenerator(cfg)
}

func provideDocumentCache(cfg *config.Config, docs repository.DocumentRepository, sessions repository.QASessionRepository, cache services.HashCache) *services.DocumentCache {
	return services.NewDocumentCache(docs, sessions, cache, cfg.Redis.TTL)
}

func provideIngestService(cfg *config.Config, parser *knowledge.FileParserManager, chunker *knowledge.Chunker, index *knowledge.VectorIndex) *services.IngestService {
	return services.NewIngestService(parser, chunker, index, knowledge.ParseRebuildPolicy(cfg.Knowledge.Index.RebuildPolicy))
}

func provideQAService(cfg *config.Config, matcher *knowledge.ClauseMatcher, generator *llm.BreakerGenerator) *services.QAService {
	return services.NewQAService(matcher, generator, services.AnswerConfig{
		Floor:           cfg.Knowledge.Answer.Floor,
		MaxClauses:      cfg.Knowledge.Answer.MaxClauses,
		MaxContextChars: cfg.Knowledge.Answer.MaxContextChars,
	})
}

type queryParams struct {
	dig.In

	Fetcher   *knowledge.SourceResolver
	Ingest    *services.IngestService
	QA        *services.QAService
	Cache     *services.DocumentCache
	Index     *knowledge.VectorIndex
	Generator *llm.BreakerGenerator
	Producer  *kafka.Producer
}

func provideQueryService(p queryParams) *services.QueryService {
	opts := []services.QueryOption{services.WithModelInfo(p.Generator)}
	if p.Producer != nil {
		opts = append(opts, services.WithSessionPublisher(p.Producer))
	}
	return services.NewQueryService(p.Fetcher, p.Ingest, p.QA, p.Cache, p.Index, opts...)
}
