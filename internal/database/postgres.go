package database

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/aihub/docqa-go/internal/config"
	"github.com/aihub/docqa-go/internal/models"
)

// OpenPostgres 连接PostgreSQL并设置连接池。TranslateError打开后唯一约束冲突会映射为gorm.ErrDuplicatedKey。
func OpenPostgres(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	logLevel := gormlogger.Warn
	if log != nil && log.Core().Enabled(zap.DebugLevel) {
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(postgres.Open(cfg.URL), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 获取底层的sql.DB设置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 20
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(lifetime)

	if log != nil {
		log.Info("Database connected", zap.Int("max_open_conns", maxOpen), zap.Int("max_idle_conns", maxIdle))
	}
	return db, nil
}

// AutoMigrate 开发环境下直接建表；生产环境使用cmd/migrate执行SQL迁移
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Document{}, &models.QASession{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// ClosePostgres 关闭连接池
func ClosePostgres(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
