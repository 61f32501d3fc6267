package bootstrap

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/dig"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aihub/docqa-go/internal/config"
	"github.com/aihub/docqa-go/internal/database"
	"github.com/aihub/docqa-go/internal/di"
	"github.com/aihub/docqa-go/internal/kafka"
	"github.com/aihub/docqa-go/internal/knowledge"
	"github.com/aihub/docqa-go/internal/logger"
	"github.com/aihub/docqa-go/internal/services"
	"github.com/aihub/docqa-go/internal/storage"
)

const probeTimeout = 5 * time.Second

// App encapsulates lifecycle resources that need to be cleaned up on shutdown.
type App struct {
	cfg          *config.Config
	cleanupTasks []func() error
	cancel       context.CancelFunc
	health       *database.HealthChecker
}

// Config returns the loaded configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Health returns the dependency health checker.
func (a *App) Health() *database.HealthChecker {
	return a.health
}

// Global app instance for controllers to access
var globalApp *App

// GetApp returns the global app instance
func GetApp() *App {
	return globalApp
}

// SetGlobalApp sets the global app instance
func SetGlobalApp(app *App) {
	globalApp = app
}

// runtimeDeps 启动阶段需要的组件，可选组件可能为nil
type runtimeDeps struct {
	dig.In

	DB       *gorm.DB
	Redis    *redis.Client         `optional:"true"`
	Objects  *storage.MinIOStorage `optional:"true"`
	Producer *kafka.Producer       `optional:"true"`
	Backend  knowledge.SimilarityBackend
	Index    *knowledge.VectorIndex
	Ingest   *services.IngestService
}

// Init bootstraps configuration, logger, the dependency container and the
// retrieval index required by the Beego application.
func Init() (*App, error) {
	// Load environment variables from .env if present (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.NewLoader().Load()
	if err != nil {
		return nil, err
	}
	config.AppConfig = cfg

	if err := logger.InitLoggerWith(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{cfg: cfg, cancel: cancel}

	container := di.InitContainer()
	if err := di.RegisterProviders(container, cfg); err != nil {
		cancel()
		return nil, err
	}

	if err := container.Invoke(func(deps runtimeDeps) error {
		return app.start(ctx, container, deps)
	}); err != nil {
		app.Shutdown()
		return nil, err
	}

	SetGlobalApp(app)
	return app, nil
}

func (a *App) start(ctx context.Context, container *dig.Container, deps runtimeDeps) error {
	cfg := a.cfg

	sqlDB, err := deps.DB.DB()
	if err != nil {
		return err
	}
	a.cleanupTasks = append(a.cleanupTasks, func() error {
		return database.ClosePostgres(deps.DB)
	})

	if cfg.Server.Env == "development" || cfg.Server.Env == "test" {
		if err := database.AutoMigrate(deps.DB); err != nil {
			return err
		}
	}

	if deps.Redis != nil {
		a.cleanupTasks = append(a.cleanupTasks, deps.Redis.Close)
	}
	if deps.Producer != nil {
		a.cleanupTasks = append(a.cleanupTasks, deps.Producer.Close)
	}
	if closer, ok := deps.Backend.(io.Closer); ok {
		a.cleanupTasks = append(a.cleanupTasks, closer.Close)
	}

	// 健康检查与连接池指标使用logrus，与迁移工具保持一致
	poolLog := logrus.New()
	poolLog.SetOutput(os.Stdout)
	poolLog.SetFormatter(&logrus.JSONFormatter{})

	a.health = database.NewHealthChecker(sqlDB, poolLog)
	if deps.Redis != nil {
		a.health.AddProbe("redis", func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		})
	}
	if deps.Objects != nil {
		a.health.AddProbe("minio", deps.Objects.HealthCheck)
	}
	checkCtx, cancelCheck := context.WithTimeout(ctx, probeTimeout)
	if err := a.health.Check(checkCtx); err != nil {
		logger.Warn("Initial dependency check failed", zap.Error(err))
	}
	cancelCheck()
	go a.health.Start(ctx)
	a.cleanupTasks = append(a.cleanupTasks, func() error {
		a.health.Stop()
		return nil
	})
	if err := container.Provide(func() *database.HealthChecker { return a.health }); err != nil {
		return err
	}

	go database.NewPoolMetricsCollector(sqlDB, poolLog).Run(ctx)

	a.warmIndex(ctx, deps)

	if cfg.Knowledge.Watch.Enabled && cfg.Knowledge.DataDir != "" {
		watcher := knowledge.NewCorpusWatcher(cfg.Knowledge.DataDir, cfg.Knowledge.Watch.Debounce, deps.Index,
			func(ctx context.Context) error {
				_, err := deps.Ingest.BuildCorpus(ctx, cfg.Knowledge.DataDir)
				return err
			})
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Error("Corpus watcher stopped", zap.Error(err))
			}
		}()
	}

	logger.Info("Application bootstrapped",
		zap.String("env", cfg.Server.Env),
		zap.String("index_backend", deps.Backend.Name()),
		zap.Int("index_size", deps.Index.Size()))
	return nil
}

// warmIndex 先尝试载入持久化索引，没有时用语料目录构建。两者都失败时以空索引启动，
// 首个请求会按重建策略建索引。
func (a *App) warmIndex(ctx context.Context, deps runtimeDeps) {
	loadCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	err := deps.Index.Reload(loadCtx)
	if err == nil {
		return
	}
	if errors.Is(err, knowledge.ErrIndexNotFound) {
		logger.Info("No persisted index found")
	} else {
		logger.Warn("Failed to reload persisted index", zap.Error(err))
	}

	dir := a.cfg.Knowledge.DataDir
	if dir == "" {
		return
	}
	if info, statErr := os.Stat(dir); statErr != nil || !info.IsDir() {
		return
	}
	if _, err := deps.Ingest.BuildCorpus(ctx, dir); err != nil {
		logger.Warn("Failed to build corpus index", zap.String("dir", dir), zap.Error(err))
	}
}

// Shutdown flushes/logs and closes resources gracefully.
func (a *App) Shutdown() {
	if a.cancel != nil {
		a.cancel()
	}

	// Execute cleanup tasks in reverse order (best effort).
	for i := len(a.cleanupTasks) - 1; i >= 0; i-- {
		if err := a.cleanupTasks[i](); err != nil {
			log.Printf("Cleanup error: %v\n", err)
		}
	}

	// Flush logger buffers.
	logger.Sync()
}
