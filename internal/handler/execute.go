package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vaultgate/vaultgate/internal/middleware"
	"github.com/vaultgate/vaultgate/internal/model"
	"github.com/vaultgate/vaultgate/internal/service"
)

type ExecuteHandler struct {
	router *service.ExecutionRouter
}

func NewExecuteHandler(router *service.ExecutionRouter) *ExecuteHandler {
	return &ExecuteHandler{router: router}
}

// Execute 协议执行入口：策略校验通过后把 calldata 转发给金库模块。
func (h *ExecuteHandler) Execute(c *gin.Context) {
	// 1. Get sub-account from Context (set by AuthMiddleware)
	acctVal, exists := c.Get(middleware.ContextSubAccountKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized: missing sub-account context"})
		return
	}
	acct := acctVal.(*model.SubAccount)

	// 2. Bind Request
	var req model.ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 3. Call the router; typed errors carry their own HTTP status
	rec, err := h.router.ExecuteOnProtocol(c.Request.Context(), acct, req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, rec)
}

func (h *ExecuteHandler) Transfer(c *gin.Context) {
	acct := c.MustGet(middleware.ContextSubAccountKey).(*model.SubAccount)

	var req model.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.router.ExecuteTransfer(c.Request.Context(), acct, req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, rec)
}

func (h *ExecuteHandler) Approve(c *gin.Context) {
	acct := c.MustGet(middleware.ContextSubAccountKey).(*model.SubAccount)

	var req model.ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.router.ApproveProtocol(c.Request.Context(), acct, req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, rec)
}
