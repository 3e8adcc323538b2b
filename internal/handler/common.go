package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ketches/f2b-monitor/internal/database"
	"github.com/ketches/f2b-monitor/internal/logger"
	"go.uber.org/zap"
)

// Response 统一响应结构
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, message string) {
	c.JSON(http.StatusOK, Response{
		Success: false,
		Message: message,
	})
}

// ErrorWithStatus 带 HTTP 状态码的错误响应
func ErrorWithStatus(c *gin.Context, httpStatus int, message string) {
	c.JSON(httpStatus, Response{
		Success: false,
		Message: message,
	})
}

// HealthCheck 健康检查
func HealthCheck(c *gin.Context) {
	if err := database.HealthCheck(); err != nil {
		logger.Error("数据库健康检查失败", zap.Error(err))
		ErrorWithStatus(c, http.StatusServiceUnavailable, "缓存数据库连接失败")
		return
	}

	Success(c, gin.H{
		"status": "healthy",
	})
}
