package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AdminKeyHeader 管理接口的密钥请求头
const AdminKeyHeader = "X-Admin-Key"

// AdminKey 管理员密钥中间件
//
// 使用常量时间比较，密钥为空时拒绝所有请求。
func AdminKey(key string, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	expected := []byte(key)

	return func(c *gin.Context) {
		provided := c.GetHeader(AdminKeyHeader)
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "msg": "缺少管理员密钥"})
			return
		}

		if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(provided), expected) != 1 {
			logger.Warn("admin key rejected",
				zap.String("path", c.Request.URL.Path),
				zap.String("ip", c.ClientIP()),
			)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "msg": "管理员密钥无效"})
			return
		}

		c.Set("admin", true)
		c.Next()
	}
}
