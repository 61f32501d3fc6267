package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/aihub/docqa-go/internal/config"
	"github.com/aihub/docqa-go/internal/di"
	"github.com/aihub/docqa-go/internal/knowledge"
	"github.com/aihub/docqa-go/internal/logger"
	"github.com/aihub/docqa-go/internal/services"
)

// 离线构建语料索引：读取目录下所有受支持文件，分块、向量化并持久化
func main() {
	dir := flag.String("dir", "", "Corpus directory (defaults to knowledge.data_dir)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.NewLoader().Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := logger.InitLoggerWith(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	corpus := *dir
	if corpus == "" {
		corpus = cfg.Knowledge.DataDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 只需要检索一侧的依赖，不连接数据库。索引写到服务读取的同一位置（文件或MinIO）
	container := di.InitContainer()
	providers := []interface{}{
		func() *config.Config { return cfg },
		di.NewEmbedder,
		knowledge.NewFileParserManager,
		func(cfg *config.Config) (*knowledge.Chunker, error) {
			return knowledge.NewChunker(cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap)
		},
		di.NewObjectStorage,
		di.NewIndexStore,
		func(cfg *config.Config, embedder knowledge.Embedder, store knowledge.IndexStore) *knowledge.VectorIndex {
			return knowledge.NewVectorIndex(embedder,
				knowledge.WithIndexStore(store),
				knowledge.WithDimension(cfg.Knowledge.Index.Dimension),
				knowledge.WithReleaseGrace(0))
		},
		func(cfg *config.Config, parser *knowledge.FileParserManager, chunker *knowledge.Chunker, index *knowledge.VectorIndex) *services.IngestService {
			return services.NewIngestService(parser, chunker, index, knowledge.ParseRebuildPolicy(cfg.Knowledge.Index.RebuildPolicy))
		},
	}
	for _, p := range providers {
		if err := container.Provide(p); err != nil {
			logger.Fatal("Failed to register provider", zap.Error(err))
		}
	}

	err = container.Invoke(func(embedder knowledge.Embedder, store knowledge.IndexStore, ingest *services.IngestService) error {
		if !embedder.Ready() {
			return knowledge.ErrEmbedderNotConfigured
		}
		result, err := ingest.BuildCorpus(ctx, corpus)
		if err != nil {
			return err
		}
		for _, skipped := range result.Skipped {
			logger.Warn("File skipped", zap.String("file", skipped))
		}
		logger.Info("Index written",
			zap.String("provider", cfg.Knowledge.Index.Provider),
			zap.String("location", store.Location()),
			zap.Int("files", result.Files),
			zap.Int("chunks", result.Chunks))
		return nil
	})
	if err != nil {
		logger.Fatal("Failed to build corpus index", zap.Error(err))
	}
}
