package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Probe 单个依赖的连通性检查
type Probe func(ctx context.Context) error

type namedProbe struct {
	name  string
	probe Probe
}

// ComponentStatus 单个依赖的检查结果
type ComponentStatus struct {
	Healthy      bool   `json:"healthy"`
	LastError    string `json:"last_error,omitempty"`
	ResponseTime string `json:"response_time,omitempty"`
}

// HealthCheckResult 健康检查结果
type HealthCheckResult struct {
	Healthy    bool                       `json:"healthy"`
	LastCheck  time.Time                  `json:"last_check"`
	Components map[string]ComponentStatus `json:"components"`
}

// HealthChecker 依赖健康检查器：数据库必选，redis、对象存储等按需注册
type HealthChecker struct {
	logger        *logrus.Logger
	checkInterval time.Duration
	probeTimeout  time.Duration
	retryDelay    time.Duration
	maxRetries    int

	mu         sync.RWMutex
	probes     []namedProbe
	components map[string]ComponentStatus
	isHealthy  bool
	lastCheck  time.Time
	stopChan   chan struct{}
	running    bool
}

// NewHealthChecker 创建健康检查器，db为nil时不注册数据库探针
func NewHealthChecker(db *sql.DB, logger *logrus.Logger) *HealthChecker {
	if logger == nil {
		logger = logrus.New()
	}
	hc := &HealthChecker{
		logger:        logger,
		checkInterval: 30 * time.Second,
		probeTimeout:  5 * time.Second,
		retryDelay:    5 * time.Second,
		maxRetries:    3,
		components:    make(map[string]ComponentStatus),
		stopChan:      make(chan struct{}),
	}
	if db != nil {
		hc.AddProbe("database", db.PingContext)
	}
	return hc
}

// AddProbe 注册探针，同名覆盖
func (hc *HealthChecker) AddProbe(name string, probe Probe) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	for i := range hc.probes {
		if hc.probes[i].name == name {
			hc.probes[i].probe = probe
			return
		}
	}
	hc.probes = append(hc.probes, namedProbe{name: name, probe: probe})
}

// SetCheckInterval 设置检查间隔
func (hc *HealthChecker) SetCheckInterval(interval time.Duration) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checkInterval = interval
}

// SetRetryConfig 设置重试配置
func (hc *HealthChecker) SetRetryConfig(delay time.Duration, maxRetries int) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.retryDelay = delay
	hc.maxRetries = maxRetries
}

// Start 周期检查，阻塞直到ctx结束或Stop
func (hc *HealthChecker) Start(ctx context.Context) {
	hc.mu.Lock()
	if hc.running {
		hc.mu.Unlock()
		return
	}
	hc.running = true
	interval := hc.checkInterval
	stop := hc.stopChan
	hc.mu.Unlock()

	hc.logger.Info("Starting dependency health checker")
	hc.checkAndRetry(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			hc.markStopped()
			return
		case <-stop:
			hc.markStopped()
			return
		case <-ticker.C:
			hc.checkAndRetry(ctx)
		}
	}
}

func (hc *HealthChecker) markStopped() {
	hc.mu.Lock()
	hc.running = false
	hc.mu.Unlock()
	hc.logger.Info("Dependency health checker stopped")
}

// Stop 停止周期检查
func (hc *HealthChecker) Stop() {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	if !hc.running {
		return
	}
	close(hc.stopChan)
	hc.stopChan = make(chan struct{})
}

// Check 依次执行所有探针，返回所有失败的合并错误
func (hc *HealthChecker) Check(ctx context.Context) error {
	hc.mu.RLock()
	probes := append([]namedProbe(nil), hc.probes...)
	timeout := hc.probeTimeout
	wasHealthy := hc.isHealthy
	hc.mu.RUnlock()

	components := make(map[string]ComponentStatus, len(probes))
	var errs []error
	for _, p := range probes {
		start := time.Now()
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		err := p.probe(probeCtx)
		cancel()
		responseTime := time.Since(start)

		status := ComponentStatus{Healthy: err == nil, ResponseTime: responseTime.String()}
		if err != nil {
			status.LastError = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
			hc.logger.WithFields(logrus.Fields{
				"component":     p.name,
				"error":         err.Error(),
				"response_time": responseTime,
			}).Warn("Health check failed")
		}
		components[p.name] = status
	}

	err := errors.Join(errs...)

	hc.mu.Lock()
	hc.components = components
	hc.lastCheck = time.Now()
	hc.isHealthy = err == nil
	hc.mu.Unlock()

	if err == nil && !wasHealthy {
		hc.logger.Info("All dependencies healthy")
	}
	return err
}

// checkAndRetry 失败后按递增间隔重试
func (hc *HealthChecker) checkAndRetry(ctx context.Context) {
	if hc.Check(ctx) == nil {
		return
	}

	hc.mu.RLock()
	delay, maxRetries := hc.retryDelay, hc.maxRetries
	hc.mu.RUnlock()

	for i := 0; i < maxRetries; i++ {
		hc.logger.WithField("attempt", i+1).Info("Retrying dependency health check")
		select {
		case <-time.After(delay * time.Duration(i+1)):
			if hc.Check(ctx) == nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
	hc.logger.Error("Dependencies unhealthy after all retries")
}

// IsHealthy 当前健康状态
func (hc *HealthChecker) IsHealthy() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.isHealthy
}

// GetHealthResult 最近一次检查的结果
func (hc *HealthChecker) GetHealthResult() HealthCheckResult {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	components := make(map[string]ComponentStatus, len(hc.components))
	for name, status := range hc.components {
		components[name] = status
	}
	return HealthCheckResult{
		Healthy:    hc.isHealthy,
		LastCheck:  hc.lastCheck,
		Components: components,
	}
}

// WaitForHealthy 等待依赖变为健康
func (hc *HealthChecker) WaitForHealthy(ctx context.Context, timeout time.Duration) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if hc.IsHealthy() {
			return nil
		}
		select {
		case <-timeoutCtx.Done():
			return timeoutCtx.Err()
		case <-ticker.C:
		}
	}
}
