package controllers

import (
	"net/http"
	"strconv"

	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"

	apperrors "github.com/aihub/docqa-go/internal/errors"
	"github.com/aihub/docqa-go/internal/logger"
)

// BaseController provides helpers for consistent JSON responses.
type BaseController struct {
	web.Controller
}

// JSON writes a JSON response with the supplied HTTP status code.
func (c *BaseController) JSON(status int, payload interface{}) {
	c.Ctx.Output.SetStatus(status)
	c.Data["json"] = payload
	_ = c.ServeJSON()
}

// JSONSuccess writes a standard success envelope.
func (c *BaseController) JSONSuccess(data interface{}) {
	c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// JSONError writes an error envelope with message.
func (c *BaseController) JSONError(status int, message string) {
	c.JSON(status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// JSONAppError 按AppError的错误码输出状态码与错误详情
func (c *BaseController) JSONAppError(err error) {
	status, body := apperrors.ToResponse(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("path", c.Ctx.Request.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	c.JSON(status, body)
}

// parseUintParam 解析URL参数为uint，失败时直接写出400
func (c *BaseController) parseUintParam(key string) (uint, bool) {
	value := c.Ctx.Input.Param(key)
	if value == "" {
		c.JSONAppError(apperrors.NewInvalidInputError(key, "缺少必要参数"))
		return 0, false
	}

	id, err := strconv.ParseUint(value, 10, 64)
	if err != nil || id == 0 {
		c.JSONAppError(apperrors.NewInvalidInputError(key, "参数格式错误"))
		return 0, false
	}
	return uint(id), true
}
