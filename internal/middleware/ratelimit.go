package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vaultgate/vaultgate/internal/model"
	"github.com/vaultgate/vaultgate/internal/service"
)

func RateLimitMiddleware(sm *service.SubAccountManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. 获取当前子账户 (必须在 AuthMiddleware 之后使用)
		acctVal, exists := c.Get(ContextSubAccountKey)
		if !exists {
			// 如果没有子账户信息，理论上应该由 AuthMiddleware 拦截，但为了安全起见
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		acct := acctVal.(*model.SubAccount)

		// 2. 获取限流器
		limiter := sm.LimiterFor(acct.ID)
		if limiter == nil {
			c.Next()
			return
		}

		// 3. 尝试获取令牌
		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": "1s",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
