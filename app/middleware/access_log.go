package middleware

import (
	"strconv"
	"time"

	"github.com/beego/beego/v2/server/web"
	"github.com/beego/beego/v2/server/web/context"
	"go.uber.org/zap"

	"github.com/aihub/docqa-go/internal/logger"
	"github.com/aihub/docqa-go/internal/metrics"
)

const requestStartKey = "requestStart"

// AccessLogStart 记录请求开始时间
func AccessLogStart(ctx *context.Context) {
	ctx.Input.SetData(requestStartKey, time.Now())
}

// AccessLogFinish 请求结束后记录访问日志和耗时指标
func AccessLogFinish(ctx *context.Context) {
	start, ok := ctx.Input.GetData(requestStartKey).(time.Time)
	if !ok {
		return
	}
	elapsed := time.Since(start)

	status := ctx.ResponseWriter.Status
	if status == 0 {
		status = 200
	}
	route := ctx.Input.URL()
	if pattern, ok := ctx.Input.GetData("RouterPattern").(string); ok && pattern != "" {
		route = pattern
	}

	metrics.HTTPRequests.WithLabelValues(ctx.Input.Method(), route, strconv.Itoa(status)).Observe(elapsed.Seconds())

	fields := []zap.Field{
		zap.String("method", ctx.Input.Method()),
		zap.String("path", ctx.Input.URL()),
		zap.Int("status", status),
		zap.Duration("duration", elapsed),
		zap.String("ip", ctx.Input.IP()),
	}
	if status >= 500 {
		logger.Warn("HTTP request failed", fields...)
		return
	}
	logger.Debug("HTTP request", fields...)
}

// RegisterAccessLog 注册访问日志过滤器
func RegisterAccessLog() {
	web.InsertFilter("/*", web.BeforeRouter, AccessLogStart)
	web.InsertFilter("/*", web.FinishRouter, AccessLogFinish, web.WithReturnOnOutput(false))
}
