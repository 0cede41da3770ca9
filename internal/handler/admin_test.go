package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/vaultgate/vaultgate/internal/config"
	"github.com/vaultgate/vaultgate/internal/middleware"
	"github.com/vaultgate/vaultgate/internal/model"
	"github.com/vaultgate/vaultgate/internal/parser"
	"github.com/vaultgate/vaultgate/internal/service"
)

func newAdminRouter(t *testing.T) (*gin.Engine, *service.SubAccountManager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Auth: config.AuthConfig{
			AdminKey:       "admin",
			AdminSecretKey: "secret",
		},
	}

	manager := service.NewSubAccountManager(&config.Config{}, nil)
	manager.Register(&model.SubAccount{
		ID:     "sub-1",
		ApiKey: "sk-sub-1",
	})
	svc := service.NewSubAccountService(manager, nil, 2000)
	h := NewAdminHandler(svc, manager, parser.NewRegistry(), parser.NewSelectorClassifier())

	router := gin.New()
	router.Use(middleware.ErrorHandler())
	admin := router.Group("/v1/admin")
	admin.Use(middleware.AdminMiddleware(cfg))
	admin.PUT("/sub-accounts/:id/limits", h.SetLimits)
	admin.POST("/parsers", h.RegisterParser)
	admin.POST("/selectors", h.RegisterSelector)
	admin.PUT("/oracle-key", middleware.AdminSecretMiddleware(cfg), h.RotateOracleKey)

	return router, manager
}

func doAdminRequest(router *gin.Engine, method, path string, payload interface{}, headers map[string]string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRotateOracleKeyRequiresAdminSecret(t *testing.T) {
	router, manager := newAdminRouter(t)
	payload := map[string]string{"oracle_key": "new-oracle-key"}

	rec := doAdminRequest(router, http.MethodPut, "/v1/admin/oracle-key", payload, map[string]string{
		middleware.HeaderAdminKey: "admin",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without admin secret, got %d", rec.Code)
	}
	if manager.OracleKey() == "new-oracle-key" {
		t.Fatalf("oracle key must not rotate without the admin secret")
	}

	rec = doAdminRequest(router, http.MethodPut, "/v1/admin/oracle-key", payload, map[string]string{
		middleware.HeaderAdminKey:       "admin",
		middleware.HeaderAdminSecretKey: "secret",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with admin secret, got %d", rec.Code)
	}
	if manager.OracleKey() != "new-oracle-key" {
		t.Fatalf("oracle key not rotated")
	}
}

func TestSetLimitsValidatesBpsRange(t *testing.T) {
	router, _ := newAdminRouter(t)
	headers := map[string]string{middleware.HeaderAdminKey: "admin"}

	// 超出全局 2000 bps 上限
	rec := doAdminRequest(router, http.MethodPut, "/v1/admin/sub-accounts/sub-1/limits", map[string]interface{}{
		"max_spending_bps": 5000,
		"window_seconds":   3600,
		"configured":       true,
	}, headers)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bps above the global cap, got %d", rec.Code)
	}

	rec = doAdminRequest(router, http.MethodPut, "/v1/admin/sub-accounts/sub-1/limits", map[string]interface{}{
		"max_spending_bps": 500,
		"window_seconds":   3600,
		"configured":       true,
	}, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for valid limits, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp SubAccountPublic
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json response: %v", err)
	}
	if resp.Limits.MaxSpendingBps != 500 || !resp.Limits.Configured {
		t.Fatalf("limits not applied: %+v", resp.Limits)
	}
}

func TestRegisterParserAndSelectorValidation(t *testing.T) {
	router, _ := newAdminRouter(t)
	headers := map[string]string{middleware.HeaderAdminKey: "admin"}

	rec := doAdminRequest(router, http.MethodPost, "/v1/admin/parsers", map[string]string{
		"target": "not-an-address",
		"kind":   "erc20",
	}, headers)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid target, got %d", rec.Code)
	}

	rec = doAdminRequest(router, http.MethodPost, "/v1/admin/parsers", map[string]string{
		"target": "0x2000000000000000000000000000000000000002",
		"kind":   "erc20",
	}, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for valid parser registration, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doAdminRequest(router, http.MethodPost, "/v1/admin/selectors", map[string]string{
		"selector": "0x1234",
		"op_type":  "SWAP",
	}, headers)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for short selector, got %d", rec.Code)
	}

	rec = doAdminRequest(router, http.MethodPost, "/v1/admin/selectors", map[string]string{
		"selector": "0x12345678",
		"op_type":  "SWAP",
	}, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for valid selector registration, got %d: %s", rec.Code, rec.Body.String())
	}
}
