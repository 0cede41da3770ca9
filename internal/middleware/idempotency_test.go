package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/vaultgate/vaultgate/internal/model"
)

func newIdempotencyRouter(store IdempotencyStore, handled *atomic.Int64, status int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// 测试里直接注入子账户，跳过 Auth
	r.Use(func(c *gin.Context) {
		c.Set(ContextSubAccountKey, &model.SubAccount{ID: "sub-1"})
		c.Next()
	})
	r.Use(IdempotencyMiddleware(store))
	r.POST("/v1/execute", func(c *gin.Context) {
		handled.Add(1)
		c.JSON(status, gin.H{"seq": handled.Load()})
	})
	return r
}

func TestIdempotencyReplayReturnsCachedResponse(t *testing.T) {
	store := NewInMemIdempotencyStore()
	var handled atomic.Int64
	router := newIdempotencyRouter(store, &handled, http.StatusOK)

	first := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/execute", nil)
	req.Header.Set(HeaderIdempotencyKey, "op-1")
	router.ServeHTTP(first, req)

	second := httptest.NewRecorder()
	req2 := httptest.NewRequest("POST", "/v1/execute", nil)
	req2.Header.Set(HeaderIdempotencyKey, "op-1")
	router.ServeHTTP(second, req2)

	if handled.Load() != 1 {
		t.Fatalf("handler ran %d times, replay must not re-execute", handled.Load())
	}
	if second.Code != http.StatusOK {
		t.Fatalf("replay status = %d, want 200", second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replay body %q differs from first response %q", second.Body.String(), first.Body.String())
	}
}

func TestIdempotencyDistinctKeysExecuteIndependently(t *testing.T) {
	store := NewInMemIdempotencyStore()
	var handled atomic.Int64
	router := newIdempotencyRouter(store, &handled, http.StatusOK)

	for _, key := range []string{"op-1", "op-2"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/v1/execute", nil)
		req.Header.Set(HeaderIdempotencyKey, key)
		router.ServeHTTP(w, req)
	}
	if handled.Load() != 2 {
		t.Fatalf("handler ran %d times, want 2", handled.Load())
	}
}

func TestIdempotencyMissingHeaderSkipsCache(t *testing.T) {
	store := NewInMemIdempotencyStore()
	var handled atomic.Int64
	router := newIdempotencyRouter(store, &handled, http.StatusOK)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("POST", "/v1/execute", nil))
	}
	if handled.Load() != 2 {
		t.Fatalf("requests without the header must not dedupe, handler ran %d times", handled.Load())
	}
}

func TestIdempotencyServerErrorUnlocksForRetry(t *testing.T) {
	store := NewInMemIdempotencyStore()
	var handled atomic.Int64
	router := newIdempotencyRouter(store, &handled, http.StatusBadGateway)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/v1/execute", nil)
		req.Header.Set(HeaderIdempotencyKey, "op-1")
		router.ServeHTTP(w, req)
	}
	if handled.Load() != 2 {
		t.Fatalf("5xx responses must not be cached, handler ran %d times", handled.Load())
	}
}

func TestIdempotencyConcurrentInProgressConflicts(t *testing.T) {
	store := NewInMemIdempotencyStore()

	rec, hit := store.GetOrLock("sub-1:op-1")
	if hit || rec != nil {
		t.Fatalf("first GetOrLock must acquire the lock")
	}

	var handled atomic.Int64
	router := newIdempotencyRouter(store, &handled, http.StatusOK)
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/execute", nil)
	req.Header.Set(HeaderIdempotencyKey, "op-1")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("in-progress key returned %d, want 409", w.Code)
	}
	if handled.Load() != 0 {
		t.Fatalf("handler must not run while the key is locked")
	}
}
