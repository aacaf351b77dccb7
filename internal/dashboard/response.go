package dashboard

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/multi-agent/transcript-sync/pkg/errors"
	"github.com/multi-agent/transcript-sync/pkg/logger"
)

// 统一响应辅助 (所有 handler 共用)。

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": data})
}

func badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": gin.H{"code": code, "message": message}})
}

func notFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, gin.H{"success": false, "error": gin.H{"code": "not_found", "message": message}})
}

func serverError(c *gin.Context, err error) {
	logger.FromContext(c.Request.Context()).Error("internal error", logger.Any(logger.FieldError, err))
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": gin.H{"code": "internal_error", "message": "服务器内部错误"}})
}

// commandError 将命令错误映射为 HTTP 状态码。错误同时已写入状态的 Error 字段。
func commandError(c *gin.Context, err error) {
	var (
		status int
		code   string
	)
	switch {
	case apperrors.Is(err, apperrors.ErrInvalidInput):
		status, code = http.StatusBadRequest, "invalid_request"
	case apperrors.Is(err, apperrors.ErrPermissionNotFound), apperrors.Is(err, apperrors.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case apperrors.Is(err, apperrors.ErrNoActiveSession):
		status, code = http.StatusConflict, "no_active_session"
	case apperrors.Is(err, apperrors.ErrNotConnected):
		status, code = http.StatusServiceUnavailable, "not_connected"
	case apperrors.Is(err, apperrors.ErrTimeout):
		status, code = http.StatusGatewayTimeout, "timeout"
	default:
		// 命令只会因校验或后端调用失败; 其余均视为后端不可用
		status, code = http.StatusBadGateway, "backend_error"
	}
	logger.FromContext(c.Request.Context()).Warn("dashboard: command failed", logger.FieldError, err)
	c.JSON(status, gin.H{"success": false, "error": gin.H{"code": code, "message": err.Error()}})
}
