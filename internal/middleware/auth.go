package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ketches/f2b-monitor/internal/config"
	"github.com/ketches/f2b-monitor/internal/logger"
	"go.uber.org/zap"
)

// APIKeyMiddleware 校验 X-API-Key 请求头
// 未配置 API_KEY 时放行所有请求（本机部署场景）。
func APIKeyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := config.Get().Server.APIKey
		if key == "" {
			c.Next()
			return
		}

		got := c.GetHeader("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			logger.Warn("API Key 校验失败", zap.String("ip", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "无效的 API Key",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// RecoveryMiddleware panic 恢复
func RecoveryMiddleware() gin.HandlerFunc {
	return gin.Recovery()
}
