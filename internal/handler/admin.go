package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/vaultgate/vaultgate/internal/model"
	"github.com/vaultgate/vaultgate/internal/parser"
	"github.com/vaultgate/vaultgate/internal/pkg/logger"
	"github.com/vaultgate/vaultgate/internal/service"
)

// AdminHandler 管理面：子账户 CRUD、策略配置、解析器与选择器注册。
type AdminHandler struct {
	svc        *service.SubAccountService
	manager    *service.SubAccountManager
	registry   *parser.Registry
	classifier *parser.SelectorClassifier
}

func NewAdminHandler(
	svc *service.SubAccountService,
	manager *service.SubAccountManager,
	registry *parser.Registry,
	classifier *parser.SelectorClassifier,
) *AdminHandler {
	return &AdminHandler{svc: svc, manager: manager, registry: registry, classifier: classifier}
}

// SubAccountPublic 对外视图，不含 API Key
type SubAccountPublic struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Address      string                 `json:"address,omitempty"`
	Capabilities []model.Capability     `json:"capabilities"`
	Roles        []string               `json:"roles,omitempty"`
	Allowlist    []string               `json:"allowlist"`
	Limits       model.LimitConfig      `json:"limits"`
	Rate         model.RateLimitConfig  `json:"rate_limit"`
}

func toSubAccountPublic(s *model.SubAccount) SubAccountPublic {
	return SubAccountPublic{
		ID:           s.ID,
		Name:         s.Name,
		Address:      s.Address,
		Capabilities: s.Capabilities,
		Roles:        s.Roles,
		Allowlist:    s.Allowlist,
		Limits:       s.Limits,
		Rate:         s.Rate,
	}
}

func toSubAccountPublicList(accounts []*model.SubAccount) []SubAccountPublic {
	out := make([]SubAccountPublic, 0, len(accounts))
	for _, s := range accounts {
		out = append(out, toSubAccountPublic(s))
	}
	return out
}

func (h *AdminHandler) List(c *gin.Context) {
	limit := 100
	offset := 0
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			offset = parsed
		}
	}

	accounts, err := h.svc.List(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toSubAccountPublicList(accounts))
}

func (h *AdminHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id required"})
		return
	}
	acct, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toSubAccountPublic(acct))
}

func (h *AdminHandler) Create(c *gin.Context) {
	var req service.SubAccountCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	acct, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logger.Info("sub-account created", "id", acct.ID)
	c.JSON(http.StatusCreated, toSubAccountPublic(acct))
}

func (h *AdminHandler) Update(c *gin.Context) {
	id := c.Param("id")
	var req service.SubAccountUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	acct, err := h.svc.Update(c.Request.Context(), id, req)
	if err != nil {
		c.Error(err)
		return
	}
	logger.Info("sub-account updated", "id", id)
	c.JSON(http.StatusOK, toSubAccountPublic(acct))
}

func (h *AdminHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id required"})
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// SetLimits 创建或更新支出上限策略，记录只重置不删除。
func (h *AdminHandler) SetLimits(c *gin.Context) {
	id := c.Param("id")
	var req service.LimitsUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	acct, err := h.svc.SetLimits(c.Request.Context(), id, req)
	if err != nil {
		c.Error(err)
		return
	}
	logger.Info("sub-account limits updated", "id", id,
		"max_spending_bps", req.MaxSpendingBps, "window_seconds", req.WindowSeconds)
	c.JSON(http.StatusOK, toSubAccountPublic(acct))
}

func (h *AdminHandler) SetAllowlist(c *gin.Context) {
	id := c.Param("id")
	var req service.AllowlistUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	acct, err := h.svc.SetAllowlist(c.Request.Context(), id, req.Allowlist)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toSubAccountPublic(acct))
}

func (h *AdminHandler) ByRole(c *gin.Context) {
	role := c.Param("role")
	if role == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role required"})
		return
	}
	c.JSON(http.StatusOK, toSubAccountPublicList(h.manager.ByRole(role)))
}

type parserRegisterRequest struct {
	Target string `json:"target" binding:"required"`
	Kind   string `json:"kind" binding:"required"`
	Asset  string `json:"asset,omitempty"` // share-vault 的底层资产
}

func (h *AdminHandler) ListParsers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"targets": h.registry.Targets(),
		"kinds":   parser.Kinds(),
	})
}

// RegisterParser 给协议地址绑定解析策略。重复注册是幂等覆盖。
func (h *AdminHandler) RegisterParser(c *gin.Context) {
	var req parserRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !common.IsHexAddress(req.Target) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target is not a valid address"})
		return
	}
	opts := parser.KindOptions{}
	if req.Asset != "" {
		if !common.IsHexAddress(req.Asset) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "asset is not a valid address"})
			return
		}
		opts.Asset = common.HexToAddress(req.Asset)
	}

	p, err := parser.NewByKind(req.Kind, opts)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	target := common.HexToAddress(req.Target)
	h.registry.Register(target, p)
	logger.Info("parser registered", "target", target.Hex(), "kind", p.Name())
	c.JSON(http.StatusCreated, gin.H{"target": target.Hex(), "parser": p.Name()})
}

type selectorRegisterRequest struct {
	Selector string `json:"selector" binding:"required"` // 0x12345678
	OpType   string `json:"op_type" binding:"required"`
}

func (h *AdminHandler) ListSelectors(c *gin.Context) {
	c.JSON(http.StatusOK, h.classifier.Entries())
}

func (h *AdminHandler) RegisterSelector(c *gin.Context) {
	var req selectorRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	raw, err := hexutil.Decode(req.Selector)
	if err != nil || len(raw) != 4 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "selector must be 4 hex bytes (0x...)"})
		return
	}
	opType := parser.ParseOperationType(req.OpType)
	if opType == parser.OpUnknown &&
		!strings.EqualFold(strings.TrimSpace(req.OpType), parser.OpUnknown.String()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown op_type"})
		return
	}

	var sel parser.Selector
	copy(sel[:], raw)
	h.classifier.Register(sel, opType)
	logger.Info("selector registered", "selector", sel.Hex(), "op_type", opType.String())
	c.JSON(http.StatusCreated, gin.H{"selector": sel.Hex(), "op_type": opType.String()})
}

type oracleKeyRequest struct {
	OracleKey string `json:"oracle_key" binding:"required"`
}

// RotateOracleKey 轮换预言机密钥，需要管理密钥二级校验。
func (h *AdminHandler) RotateOracleKey(c *gin.Context) {
	var req oracleKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.manager.SetOracleKey(req.OracleKey)
	logger.Info("oracle key rotated")
	c.JSON(http.StatusOK, gin.H{"rotated": true})
}
