package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vaultgate/vaultgate/internal/middleware"
	"github.com/vaultgate/vaultgate/internal/model"
	"github.com/vaultgate/vaultgate/internal/service"
)

// QueryHandler 查询面：估值快照、剩余额度、策略配置与金库信息。
type QueryHandler struct {
	ledger          *service.ValuationLedger
	limits          *service.SpendingLimitEngine
	forwarder       service.VaultForwarder
	valuationMaxAge time.Duration
}

func NewQueryHandler(
	ledger *service.ValuationLedger,
	limits *service.SpendingLimitEngine,
	forwarder service.VaultForwarder,
	valuationMaxAge time.Duration,
) *QueryHandler {
	return &QueryHandler{
		ledger:          ledger,
		limits:          limits,
		forwarder:       forwarder,
		valuationMaxAge: valuationMaxAge,
	}
}

// GetSafeValue GET /v1/value
func (h *QueryHandler) GetSafeValue(c *gin.Context) {
	sv := h.ledger.SafeValue()
	c.JSON(http.StatusOK, gin.H{
		"total_value_usd": sv.TotalValueUSD,
		"last_updated":    sv.LastUpdated,
		"update_count":    sv.UpdateCount,
		"is_stale":        h.ledger.IsStale(h.valuationMaxAge),
	})
}

// GetAllowance GET /v1/allowance — 调用方自己当前窗口的剩余额度
func (h *QueryHandler) GetAllowance(c *gin.Context) {
	acct := c.MustGet(middleware.ContextSubAccountKey).(*model.SubAccount)

	allowance, err := h.limits.Allowance(c.Request.Context(), acct)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sub_account": acct.ID,
		"allowance":   allowance,
	})
}

// GetLimits GET /v1/limits
func (h *QueryHandler) GetLimits(c *gin.Context) {
	acct := c.MustGet(middleware.ContextSubAccountKey).(*model.SubAccount)
	c.JSON(http.StatusOK, gin.H{
		"sub_account": acct.ID,
		"limits":      acct.Limits,
		"allowlist":   acct.Allowlist,
	})
}

// GetBalances GET /v1/balances — 调用方已获取代币余额账本
func (h *QueryHandler) GetBalances(c *gin.Context) {
	acct := c.MustGet(middleware.ContextSubAccountKey).(*model.SubAccount)
	c.JSON(http.StatusOK, gin.H{
		"sub_account": acct.ID,
		"balances":    h.ledger.TokenBalances(acct.ID),
	})
}

// GetBalance GET /v1/balances/:token
func (h *QueryHandler) GetBalance(c *gin.Context) {
	acct := c.MustGet(middleware.ContextSubAccountKey).(*model.SubAccount)
	token := c.Param("token")
	c.JSON(http.StatusOK, gin.H{
		"sub_account": acct.ID,
		"token":       token,
		"balance":     h.ledger.AcquiredBalance(acct.ID, token),
	})
}

// GetVault GET /v1/vault — 透传金库的链上 owner 与签名阈值
func (h *QueryHandler) GetVault(c *gin.Context) {
	ctx := c.Request.Context()

	owners, err := h.forwarder.Owners(ctx)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	threshold, err := h.forwarder.Threshold(ctx)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	hexOwners := make([]string, 0, len(owners))
	for _, o := range owners {
		hexOwners = append(hexOwners, o.Hex())
	}
	c.JSON(http.StatusOK, gin.H{
		"owners":    hexOwners,
		"threshold": threshold.String(),
	})
}
