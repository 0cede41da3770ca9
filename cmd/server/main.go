package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vaultgate/vaultgate/internal/config"
	"github.com/vaultgate/vaultgate/internal/handler"
	"github.com/vaultgate/vaultgate/internal/middleware"
	"github.com/vaultgate/vaultgate/internal/parser"
	"github.com/vaultgate/vaultgate/internal/pkg/logger"
	"github.com/vaultgate/vaultgate/internal/repository"
	"github.com/vaultgate/vaultgate/internal/service"
)

func main() {
	// 0. Initialize Logger (VAULTGATE_LOG_LEVEL overrides)
	logger.Init("")

	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Initialize Persistence
	// Spend windows (Redis > Memory)
	var spendStore service.SpendStore
	var redisClient *repository.RedisClient
	if cfg.Redis.Addr != "" {
		redisClient, err = repository.NewRedisClient(cfg)
		if err == nil {
			logger.Info("✅ Connected to Redis")
			spendStore = repository.NewRedisSpendStore(redisClient)
		} else {
			logger.Error("⚠️ Failed to connect to Redis, falling back to memory", "error", err)
			redisClient = nil
		}
	}
	if spendStore == nil {
		spendStore = service.NewMemorySpendStore()
	}

	// Execution records + sub-accounts (Postgres > Local File / Memory)
	var recordRepo service.RecordRepo
	var pgRecords *repository.PostgresRecordRepo
	var subAccountRepo service.SubAccountRepoCRUD
	if cfg.Database.DSN != "" {
		db, err := repository.NewDB(cfg)
		if err == nil {
			logger.Info("✅ Connected to PostgreSQL")
			pgRecords = repository.NewPostgresRecordRepo(db)
			recordRepo = pgRecords
			if cfg.Redis.Addr == "" || redisClient == nil {
				// Redis 不可用时支出窗口退到 Postgres 持久化
				spendStore = repository.NewPostgresSpendStore(db)
			}
		} else {
			logger.Error("⚠️ Failed to connect to DB, execution records will be file-only", "error", err)
		}

		if gormDB, err := repository.NewGormDB(cfg.Database.DSN); err == nil {
			repo, err := repository.NewGormSubAccountRepo(gormDB)
			if err != nil {
				logger.Error("⚠️ Failed to migrate sub_accounts table", "error", err)
			} else {
				subAccountRepo = repo
			}
		}
	}

	// 过期执行记录定期清理
	if pgRecords != nil && cfg.Database.RecordRetentionDays > 0 {
		retention := time.Duration(cfg.Database.RecordRetentionDays) * 24 * time.Hour
		go func() {
			ticker := time.NewTicker(12 * time.Hour)
			defer ticker.Stop()
			for range ticker.C {
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				if err := pgRecords.Cleanup(ctx, retention); err != nil {
					logger.Warn("Execution record cleanup failed", "error", err)
				}
				cancel()
			}
		}()
		logger.Info("🧹 Execution record retention enabled", "days", cfg.Database.RecordRetentionDays)
	}

	// 3. Initialize Core Services
	var managerRepo service.SubAccountRepo
	if subAccountRepo != nil {
		managerRepo = subAccountRepo
	}
	manager := service.NewSubAccountManager(cfg, managerRepo)

	var idempotencyStore middleware.IdempotencyStore
	if redisClient != nil {
		ttl := time.Duration(cfg.Redis.IdempotencyTTLSeconds) * time.Second
		idempotencyStore = repository.NewRedisIdempotencyStore(redisClient, ttl)
	} else {
		idempotencyStore = middleware.NewInMemIdempotencyStore()
	}

	events, err := service.NewExecutionLog(cfg.Server.LogDir, recordRepo)
	if err != nil {
		log.Fatalf("Failed to initialize execution log: %v", err)
	}

	ledger := service.NewValuationLedger()
	limits := service.NewSpendingLimitEngine(spendStore, ledger, cfg.Policy)

	vault := common.HexToAddress(cfg.Chain.VaultAddress)
	var forwarder service.VaultForwarder
	if cfg.Chain.RPCURL != "" {
		fwd, err := service.NewEVMForwarder(cfg.Chain)
		if err != nil {
			log.Fatalf("Failed to initialize vault forwarder: %v", err)
		}
		forwarder = fwd
	} else {
		logger.Warn("⚠️ No RPC URL configured, running in dry-run mode")
		forwarder = service.NewDryRunForwarder(vault)
	}

	registry := parser.NewRegistry()
	classifier := parser.NewSelectorClassifier()

	router := service.NewExecutionRouter(
		registry, classifier, ledger, limits, forwarder, events,
		vault, cfg.Policy.LossToleranceBps,
	)

	subAccountSvc := service.NewSubAccountService(manager, subAccountRepo, cfg.Policy.AbsoluteMaxSpendingBps)

	// 4. Initialize Handlers
	executeHandler := handler.NewExecuteHandler(router)
	oracleHandler := handler.NewOracleHandler(ledger, limits, manager, events)
	adminHandler := handler.NewAdminHandler(subAccountSvc, manager, registry, classifier)
	queryHandler := handler.NewQueryHandler(ledger, limits, forwarder,
		time.Duration(cfg.Policy.ValuationMaxAgeSeconds)*time.Second)
	eventsHandler := handler.NewEventsHandler(events)

	// 5. Setup Router
	r := gin.Default()

	// Global Middleware
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.RecordMiddleware(events))

	// Health Check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "service": "vaultgate"})
	})

	// Metrics Endpoint
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	// Execution + query routes (sub-account API key)
	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(manager))
	v1.Use(middleware.RateLimitMiddleware(manager))
	v1.Use(middleware.ReadOnlyMiddleware(cfg.Policy.ReadOnly))
	v1.Use(middleware.IdempotencyMiddleware(idempotencyStore))
	{
		v1.POST("/execute", executeHandler.Execute)
		v1.POST("/transfer", executeHandler.Transfer)
		v1.POST("/approve", executeHandler.Approve)

		v1.GET("/value", queryHandler.GetSafeValue)
		v1.GET("/allowance", queryHandler.GetAllowance)
		v1.GET("/limits", queryHandler.GetLimits)
		v1.GET("/balances", queryHandler.GetBalances)
		v1.GET("/balances/:token", queryHandler.GetBalance)
		v1.GET("/vault", queryHandler.GetVault)

		v1.GET("/executions", eventsHandler.List)
		v1.GET("/executions/ws", eventsHandler.Stream)
	}

	// Oracle ingestion routes (oracle key)
	oracle := r.Group("/v1/oracle")
	oracle.Use(middleware.OracleMiddleware(manager))
	{
		oracle.PUT("/value", oracleHandler.UpdateSafeValue)
		oracle.PUT("/allowance", oracleHandler.UpdateAllowance)
		oracle.PUT("/balance", oracleHandler.UpdateBalance)
		oracle.PUT("/batch", oracleHandler.UpdateBatch)
		oracle.PUT("/prices", oracleHandler.UpdatePrices)
	}

	// Admin routes (admin key)
	admin := r.Group("/v1/admin")
	admin.Use(middleware.AdminMiddleware(cfg))
	{
		admin.GET("/sub-accounts", adminHandler.List)
		admin.POST("/sub-accounts", adminHandler.Create)
		admin.GET("/sub-accounts/:id", adminHandler.Get)
		admin.PUT("/sub-accounts/:id", adminHandler.Update)
		admin.DELETE("/sub-accounts/:id", adminHandler.Delete)
		admin.PUT("/sub-accounts/:id/limits", adminHandler.SetLimits)
		admin.PUT("/sub-accounts/:id/allowlist", adminHandler.SetAllowlist)
		admin.GET("/roles/:role", adminHandler.ByRole)

		admin.GET("/parsers", adminHandler.ListParsers)
		admin.POST("/parsers", adminHandler.RegisterParser)
		admin.GET("/selectors", adminHandler.ListSelectors)
		admin.POST("/selectors", adminHandler.RegisterSelector)

		// 轮换预言机密钥需要二级管理密钥
		admin.PUT("/oracle-key", middleware.AdminSecretMiddleware(cfg), adminHandler.RotateOracleKey)
	}

	// 6. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("🚀 VaultGate started", "port", cfg.Server.Port, "vault", vault.Hex())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events.Close()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	logger.Info("Server exiting")
}
