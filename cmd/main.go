package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"llm-keyring/config"
	"llm-keyring/core"
	"llm-keyring/core/provider"
	"llm-keyring/core/security"
	"llm-keyring/models"
)

func main() {
	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&logrus.JSONFormatter{})
	gin.SetMode(gin.ReleaseMode)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}

	// Optional size-rotated log file alongside stdout.
	var rotator *core.LogRotator
	if cfg.LogFile != "" {
		rotator, err = core.NewLogRotator(cfg.LogFile, cfg.LogFileMaxMB)
		if err != nil {
			log.Fatal("Failed to open log file: ", err)
		}
		log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	}

	db, err := initDatabase(cfg)
	if err != nil {
		log.Fatal("Failed to initialize database: ", err)
	}

	pool, err := core.NewCredentialPool(cfg, clock.New(), log)
	if err != nil {
		log.Fatal("Failed to build credential pool: ", err)
	}

	// Optional persistence: restore key health and follow changes.
	var stateStore *core.StateStore
	if cfg.PersistState {
		var secrets core.SecretProvider = core.NewNoOpSecretProvider()
		if cfg.SecretKey != "" {
			secrets, err = security.NewAESSecretProvider(cfg.SecretKey)
			if err != nil {
				log.Fatal("Invalid KEYRING_SECRET_KEY: ", err)
			}
		} else {
			log.Warn("KEYRING_PERSIST_STATE is on without KEYRING_SECRET_KEY; keys stored unencrypted")
		}
		stateStore = core.NewStateStore(db, secrets, log)
		if err := stateStore.Attach(pool); err != nil {
			log.Fatal("Failed to restore credential state: ", err)
		}
	}

	attempts := core.NewAttemptLogger(db, log)

	httpClient := provider.NewHTTPClient()
	callers := make(map[string]core.Caller, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		switch {
		case pc.Kind == config.KindGemini:
			callers[pc.Name] = provider.NewGeminiCaller(pc.BaseURL, httpClient)
		case pc.Name == "openrouter":
			callers[pc.Name] = provider.NewOpenRouterCaller(pc.BaseURL, httpClient)
		default:
			callers[pc.Name] = provider.NewOpenAICaller(pc.Name, pc.BaseURL, nil, httpClient)
		}
	}

	chain := core.NewFallbackChain(pool, callers, log, attempts)
	smart := core.NewSmartClient(pool, chain, log)

	engine := gin.New()
	engine.Use(gin.RecoveryWithWriter(log.Writer()))
	engine.Use(corsMiddleware())
	engine.Use(requestLoggerMiddleware(log))

	limiter := NewIPRateLimiter(cfg.RateLimitRPS, cfg.RateBurst)
	setupRoutes(engine, smart, pool, cfg, limiter, log)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: engine,
	}

	go func() {
		log.Infof("Starting llm-keyring on port %d (%d providers)", cfg.Port, len(cfg.Providers))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server: ", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown: ", err)
	}

	attempts.Close()
	if stateStore != nil {
		stateStore.Close()
	}
	if rotator != nil {
		rotator.Close()
	}
	log.Info("Server exited")
}

// initDatabase 初始化数据库 (状态持久化 + 调用审计)
func initDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(cfg.StateDB), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Error),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// setupRoutes 设置路由
func setupRoutes(engine *gin.Engine, smart *core.SmartClient, pool *core.CredentialPool, cfg *config.Config, limiter *IPRateLimiter, log *logrus.Logger) {
	engine.GET("/health", handleHealth(pool))
	engine.GET("/status", handleStatus(smart))
	engine.GET("/ws/status", handleStatusWS(smart, log))

	api := engine.Group("/v1")
	api.Use(RateLimitMiddleware(limiter, log))
	api.Use(authMiddleware(cfg.AuthToken))
	{
		api.POST("/chat", handleChat(smart))
	}

	admin := engine.Group("/admin")
	admin.Use(authMiddleware(cfg.AdminToken))
	{
		admin.POST("/clear-cooldowns", handleClearCooldowns(smart))
	}
}
