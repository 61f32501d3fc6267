package controllers

import (
	"encoding/json"

	apperrors "github.com/aihub/docqa-go/internal/errors"
	"github.com/aihub/docqa-go/internal/services"
)

// QAController 文档问答接口
type QAController struct {
	BaseController
	Query *services.QueryService
}

// NewQAController 创建问答控制器
func NewQAController(query *services.QueryService) *QAController {
	return &QAController{Query: query}
}

// Run POST /api/v1/qa/run
func (c *QAController) Run() {
	var req services.QueryRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONAppError(apperrors.NewValidationError("request body is not valid JSON").WithCause(err))
		return
	}

	resp, err := c.Query.Run(c.Ctx.Request.Context(), &req)
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.Ctx.Output.Header("X-Request-Id", resp.RequestID)
	c.JSON(200, resp)
}

// Stats GET /api/v1/stats
func (c *QAController) Stats() {
	stats, err := c.Query.Stats(c.Ctx.Request.Context())
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(stats)
}

// Sessions GET /api/v1/documents/:id/sessions?limit=
func (c *QAController) Sessions() {
	documentID, ok := c.parseUintParam(":id")
	if !ok {
		return
	}
	limit, err := c.GetInt("limit", services.DefaultRecentSessions)
	if err != nil || limit <= 0 || limit > 100 {
		c.JSONAppError(apperrors.NewInvalidInputError("limit", "must be between 1 and 100"))
		return
	}

	sessions, err := c.Query.Sessions(c.Ctx.Request.Context(), documentID, limit)
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(map[string]interface{}{
		"document_id": documentID,
		"sessions":    sessions,
	})
}
