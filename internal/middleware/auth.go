package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vaultgate/vaultgate/internal/service"
)

const (
	HeaderGatewayKey     = "X-Gateway-Key"
	ContextSubAccountKey = "sub_account"
)

// AuthMiddleware 按 API Key 解析子账户。没有默认子账户：缺失或无效的
// Key 一律拒绝，执行面必须知道是谁在调用。
func AuthMiddleware(sm *service.SubAccountManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(HeaderGatewayKey)
		if apiKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			c.Abort()
			return
		}

		acct, ok := sm.GetByApiKeyWithFallback(c.Request.Context(), apiKey)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			c.Abort()
			return
		}

		// 将子账户信息存入上下文
		c.Set(ContextSubAccountKey, acct)
		c.Next()
	}
}
