package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/vaultgate/vaultgate/internal/config"
	"github.com/vaultgate/vaultgate/internal/middleware"
	"github.com/vaultgate/vaultgate/internal/model"
	"github.com/vaultgate/vaultgate/internal/service"
)

type oracleFixture struct {
	router *gin.Engine
	ledger *service.ValuationLedger
	limits *service.SpendingLimitEngine
}

func newOracleRouter(t *testing.T) *oracleFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	manager := service.NewSubAccountManager(&config.Config{
		Auth: config.AuthConfig{OracleKey: "oracle-key"},
	}, nil)
	manager.Register(&model.SubAccount{
		ID:     "sub-1",
		ApiKey: "sk-sub-1",
		Limits: model.LimitConfig{
			MaxSpendingBps: 500,
			WindowSeconds:  3600,
			Configured:     true,
		},
	})

	manager.Register(&model.SubAccount{
		ID:     "sub-nolimit",
		ApiKey: "sk-sub-nolimit",
	})

	ledger := service.NewValuationLedger()
	limits := service.NewSpendingLimitEngine(service.NewMemorySpendStore(), ledger, config.PolicyConfig{
		ValuationMaxAgeSeconds: 3600,
	})
	events, err := service.NewExecutionLog(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("execution log: %v", err)
	}
	t.Cleanup(events.Close)

	h := NewOracleHandler(ledger, limits, manager, events)

	router := gin.New()
	router.Use(middleware.ErrorHandler())
	oracle := router.Group("/v1/oracle")
	oracle.Use(middleware.OracleMiddleware(manager))
	oracle.PUT("/value", h.UpdateSafeValue)
	oracle.PUT("/batch", h.UpdateBatch)

	return &oracleFixture{router: router, ledger: ledger, limits: limits}
}

func (f *oracleFixture) put(path string, payload interface{}, oracleKey string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPut, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if oracleKey != "" {
		req.Header.Set(middleware.HeaderOracleKey, oracleKey)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestOracleEndpointsRequireOracleKey(t *testing.T) {
	fx := newOracleRouter(t)
	payload := map[string]interface{}{"total_value_usd": "1000000"}

	if rec := fx.put("/v1/oracle/value", payload, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without oracle key, got %d", rec.Code)
	}
	if rec := fx.put("/v1/oracle/value", payload, "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong oracle key, got %d", rec.Code)
	}
	if fx.ledger.SafeValue().UpdateCount != 0 {
		t.Fatalf("rejected oracle pushes must not touch the ledger")
	}

	rec := fx.put("/v1/oracle/value", payload, "oracle-key")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid oracle key, got %d: %s", rec.Code, rec.Body.String())
	}
	sv := fx.ledger.SafeValue()
	if sv.UpdateCount != 1 || !sv.TotalValueUSD.Equal(decimal.NewFromInt(1_000_000)) {
		t.Fatalf("safe value not updated: %+v", sv)
	}
}

func TestOracleBatchRejectsLengthMismatch(t *testing.T) {
	fx := newOracleRouter(t)
	fx.put("/v1/oracle/value", map[string]interface{}{"total_value_usd": "1000000"}, "oracle-key")

	rec := fx.put("/v1/oracle/batch", map[string]interface{}{
		"sub_account":   "sub-1",
		"new_allowance": "100",
		"tokens":        []string{"0xaa", "0xbb"},
		"balances":      []string{"1"},
	}, "oracle-key")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for length mismatch, got %d: %s", rec.Code, rec.Body.String())
	}
	if !fx.ledger.AcquiredBalance("sub-1", "0xaa").IsZero() {
		t.Fatalf("rejected batch must not apply partial state")
	}

	rec = fx.put("/v1/oracle/batch", map[string]interface{}{
		"sub_account":   "sub-1",
		"new_allowance": "100",
		"tokens":        []string{"0xaa", "0xbb"},
		"balances":      []string{"1", "2"},
	}, "oracle-key")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for valid batch, got %d: %s", rec.Code, rec.Body.String())
	}
	if !fx.ledger.AcquiredBalance("sub-1", "0xbb").Equal(decimal.NewFromInt(2)) {
		t.Fatalf("batch balances not applied")
	}
}

func TestOracleBatchRejectsBadAllowanceBeforeBalances(t *testing.T) {
	fx := newOracleRouter(t)
	fx.put("/v1/oracle/value", map[string]interface{}{"total_value_usd": "1000000"}, "oracle-key")

	rec := fx.put("/v1/oracle/batch", map[string]interface{}{
		"sub_account":   "sub-1",
		"new_allowance": "-5",
		"tokens":        []string{"0xaa"},
		"balances":      []string{"7"},
	}, "oracle-key")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative allowance, got %d: %s", rec.Code, rec.Body.String())
	}
	if !fx.ledger.AcquiredBalance("sub-1", "0xaa").IsZero() {
		t.Fatalf("failed allowance must reject the whole batch, balance was written")
	}
}

func TestOracleBatchRejectsUnconfiguredAccountBeforeBalances(t *testing.T) {
	fx := newOracleRouter(t)
	fx.put("/v1/oracle/value", map[string]interface{}{"total_value_usd": "1000000"}, "oracle-key")

	rec := fx.put("/v1/oracle/batch", map[string]interface{}{
		"sub_account":   "sub-nolimit",
		"new_allowance": "100",
		"tokens":        []string{"0xaa"},
		"balances":      []string{"7"},
	}, "oracle-key")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unconfigured limits, got %d: %s", rec.Code, rec.Body.String())
	}
	if !fx.ledger.AcquiredBalance("sub-nolimit", "0xaa").IsZero() {
		t.Fatalf("failed allowance must reject the whole batch, balance was written")
	}
}
