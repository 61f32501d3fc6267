package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var dbConnectionsGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "docqa_database_connections",
		Help: "Database connection pool stats by state",
	},
	[]string{"state"}, // idle, in_use, open, wait_count
)

// PoolMetricsCollector 周期采集连接池指标
type PoolMetricsCollector struct {
	db              *sql.DB
	logger          *logrus.Logger
	collectInterval time.Duration
}

// NewPoolMetricsCollector 创建连接池指标收集器
func NewPoolMetricsCollector(db *sql.DB, logger *logrus.Logger) *PoolMetricsCollector {
	if logger == nil {
		logger = logrus.New()
	}
	return &PoolMetricsCollector{
		db:              db,
		logger:          logger,
		collectInterval: 15 * time.Second,
	}
}

// Run 阻塞采集直到ctx结束
func (mc *PoolMetricsCollector) Run(ctx context.Context) {
	mc.logger.Info("Starting database pool metrics collection")

	ticker := time.NewTicker(mc.collectInterval)
	defer ticker.Stop()

	mc.Collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mc.Collect()
		}
	}
}

// Collect 采集一次
func (mc *PoolMetricsCollector) Collect() sql.DBStats {
	stats := mc.db.Stats()

	dbConnectionsGauge.WithLabelValues("idle").Set(float64(stats.Idle))
	dbConnectionsGauge.WithLabelValues("in_use").Set(float64(stats.InUse))
	dbConnectionsGauge.WithLabelValues("open").Set(float64(stats.OpenConnections))
	dbConnectionsGauge.WithLabelValues("wait_count").Set(float64(stats.WaitCount))

	mc.logger.WithFields(logrus.Fields{
		"idle":   stats.Idle,
		"in_use": stats.InUse,
		"open":   stats.OpenConnections,
		"wait":   stats.WaitCount,
	}).Debug("Database connection pool stats collected")
	return stats
}
