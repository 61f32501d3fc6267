package controllers

import (
	"net/http"
	"time"

	"github.com/aihub/docqa-go/internal/database"
	"github.com/aihub/docqa-go/internal/knowledge"
	"github.com/aihub/docqa-go/internal/llm"
)

// RootController 服务信息
type RootController struct {
	BaseController
}

func (c *RootController) Index() {
	c.JSONSuccess(map[string]string{
		"service": "docqa",
		"docs":    "POST /api/v1/qa/run",
	})
}

// HealthController 健康检查：数据库、索引、生成模型
type HealthController struct {
	BaseController
	Checker   *database.HealthChecker
	Index     *knowledge.VectorIndex
	Embedder  knowledge.Embedder
	Generator llm.Generator
}

// NewHealthController 创建健康检查控制器
func NewHealthController(checker *database.HealthChecker, index *knowledge.VectorIndex, embedder knowledge.Embedder, generator llm.Generator) *HealthController {
	return &HealthController{Checker: checker, Index: index, Embedder: embedder, Generator: generator}
}

// Health GET /health。数据库不可用时返回503，索引为空或模型未配置只标记为degraded。
func (c *HealthController) Health() {
	status := "healthy"
	code := http.StatusOK

	components := map[string]interface{}{}
	if c.Checker != nil {
		result := c.Checker.GetHealthResult()
		components["dependencies"] = result.Components
		if !result.Healthy {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	index := map[string]interface{}{"ready": false}
	if c.Index != nil {
		index = map[string]interface{}{
			"ready":       c.Index.Ready() && c.Index.Size() > 0,
			"size":        c.Index.Size(),
			"stale":       c.Index.Stale(),
			"fingerprint": c.Index.Fingerprint(),
		}
		if built := c.Index.BuiltAt(); !built.IsZero() {
			index["built_at"] = built.Format(time.RFC3339)
		}
	}
	components["index"] = index

	if c.Embedder != nil {
		components["embedding"] = map[string]interface{}{
			"ready":      c.Embedder.Ready(),
			"dimensions": c.Embedder.Dimensions(),
		}
	}
	if c.Generator != nil {
		components["generation"] = map[string]interface{}{
			"ready": c.Generator.Ready(),
			"model": c.Generator.Model(),
		}
		if !c.Generator.Ready() && status == "healthy" {
			status = "degraded"
		}
	}
	if ready, _ := index["ready"].(bool); !ready && status == "healthy" {
		status = "degraded"
	}

	c.JSON(code, map[string]interface{}{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}
