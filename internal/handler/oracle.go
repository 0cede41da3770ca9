package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vaultgate/vaultgate/internal/model"
	"github.com/vaultgate/vaultgate/internal/pkg/apperrors"
	"github.com/vaultgate/vaultgate/internal/pkg/metrics"
	"github.com/vaultgate/vaultgate/internal/service"
)

// OracleHandler 估值摄入面：金库估值、支出额度、已获取余额均由
// 链下预言机推送，网关自身从不计算估值。
type OracleHandler struct {
	ledger  *service.ValuationLedger
	limits  *service.SpendingLimitEngine
	manager *service.SubAccountManager
	events  *service.ExecutionLog
}

func NewOracleHandler(
	ledger *service.ValuationLedger,
	limits *service.SpendingLimitEngine,
	manager *service.SubAccountManager,
	events *service.ExecutionLog,
) *OracleHandler {
	return &OracleHandler{ledger: ledger, limits: limits, manager: manager, events: events}
}

// UpdateSafeValue PUT /v1/oracle/value
func (h *OracleHandler) UpdateSafeValue(c *gin.Context) {
	var req model.SafeValueUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sv, err := h.ledger.UpdateSafeValue(req.TotalValueUSD)
	if err != nil {
		c.Error(err)
		return
	}

	metrics.OracleUpdates.WithLabelValues("safe_value").Inc()
	h.events.Emit(&model.ExecutionRecord{
		Kind:          model.RecordSafeValueUpdated,
		TotalValueUSD: &sv.TotalValueUSD,
		UpdateCount:   sv.UpdateCount,
	})

	c.JSON(http.StatusOK, sv)
}

// UpdateAllowance PUT /v1/oracle/allowance
func (h *OracleHandler) UpdateAllowance(c *gin.Context) {
	var req model.AllowanceUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	acct, ok := h.manager.GetByID(req.SubAccount)
	if !ok {
		c.Error(apperrors.Newf(apperrors.ErrNotFound, "unknown sub-account %q", req.SubAccount))
		return
	}
	if err := h.limits.SetAllowance(c.Request.Context(), acct, req.NewAllowance); err != nil {
		c.Error(err)
		return
	}

	metrics.OracleUpdates.WithLabelValues("allowance").Inc()
	h.events.Emit(&model.ExecutionRecord{
		Kind:         model.RecordAllowanceUpdated,
		SubAccount:   acct.ID,
		NewAllowance: &req.NewAllowance,
	})

	c.JSON(http.StatusOK, gin.H{"sub_account": acct.ID, "new_allowance": req.NewAllowance})
}

// UpdateBalance PUT /v1/oracle/balance
func (h *OracleHandler) UpdateBalance(c *gin.Context) {
	var req model.BalanceUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.ledger.UpdateAcquiredBalance(req.SubAccount, req.Token, req.Balance); err != nil {
		c.Error(err)
		return
	}

	metrics.OracleUpdates.WithLabelValues("balance").Inc()
	h.events.Emit(&model.ExecutionRecord{
		Kind:       model.RecordBalanceUpdated,
		SubAccount: req.SubAccount,
		Token:      req.Token,
		NewBalance: &req.Balance,
	})

	c.JSON(http.StatusOK, gin.H{"sub_account": req.SubAccount, "token": req.Token, "balance": req.Balance})
}

// UpdateBatch PUT /v1/oracle/batch
// 额度与余额数组一次提交。余额数组校验失败时整批拒绝，额度也不会写入。
func (h *OracleHandler) UpdateBatch(c *gin.Context) {
	var req model.BatchUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	acct, ok := h.manager.GetByID(req.SubAccount)
	if !ok {
		c.Error(apperrors.Newf(apperrors.ErrNotFound, "unknown sub-account %q", req.SubAccount))
		return
	}

	// 额度先校验后落库：额度非法时余额也不能写入
	if err := h.limits.ValidateAllowance(acct, req.NewAllowance); err != nil {
		c.Error(err)
		return
	}
	if err := h.ledger.ApplyBatch(req.SubAccount, req.Tokens, req.Balances); err != nil {
		c.Error(err)
		return
	}
	if err := h.limits.SetAllowance(c.Request.Context(), acct, req.NewAllowance); err != nil {
		c.Error(err)
		return
	}

	metrics.OracleUpdates.WithLabelValues("batch").Inc()
	h.events.Emit(&model.ExecutionRecord{
		Kind:         model.RecordAllowanceUpdated,
		SubAccount:   acct.ID,
		NewAllowance: &req.NewAllowance,
	})
	for i := range req.Tokens {
		bal := req.Balances[i]
		h.events.Emit(&model.ExecutionRecord{
			Kind:       model.RecordBalanceUpdated,
			SubAccount: acct.ID,
			Token:      req.Tokens[i],
			NewBalance: &bal,
		})
	}

	c.JSON(http.StatusOK, gin.H{"sub_account": acct.ID, "updated_tokens": len(req.Tokens)})
}

// UpdatePrices PUT /v1/oracle/prices
func (h *OracleHandler) UpdatePrices(c *gin.Context) {
	var req []model.PriceUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty price list"})
		return
	}

	for _, p := range req {
		if err := h.ledger.SetPrice(p.Token, p.PriceUSD, p.Decimals); err != nil {
			c.Error(err)
			return
		}
	}

	metrics.OracleUpdates.WithLabelValues("prices").Inc()
	c.JSON(http.StatusOK, gin.H{"updated": len(req)})
}
