package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vaultgate/vaultgate/internal/service"
)

const HeaderOracleKey = "X-Oracle-Key"

// OracleMiddleware 保护估值写入口：只有持有当前预言机密钥的调用方
// 才能更新金库估值、额度和余额。密钥可由管理面轮换。
func OracleMiddleware(sm *service.SubAccountManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := sm.OracleKey()
		if expected == "" {
			c.JSON(http.StatusForbidden, gin.H{"error": "oracle key not configured"})
			c.Abort()
			return
		}
		provided := c.GetHeader(HeaderOracleKey)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid oracle key"})
			c.Abort()
			return
		}
		c.Next()
	}
}
