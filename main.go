package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/safequery-inc/safequery-gateway/pkg/audit"
	"github.com/safequery-inc/safequery-gateway/pkg/cache"
	"github.com/safequery-inc/safequery-gateway/pkg/config"
	"github.com/safequery-inc/safequery-gateway/pkg/core"
	"github.com/safequery-inc/safequery-gateway/pkg/database"
	"github.com/safequery-inc/safequery-gateway/pkg/executor"
	"github.com/safequery-inc/safequery-gateway/pkg/handlers"
	"github.com/safequery-inc/safequery-gateway/pkg/history"
	"github.com/safequery-inc/safequery-gateway/pkg/llm"
	"github.com/safequery-inc/safequery-gateway/pkg/planner"
	"github.com/safequery-inc/safequery-gateway/pkg/ratelimit"
	sqlvalidator "github.com/safequery-inc/safequery-gateway/pkg/sql"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if cfg.Env == "local" {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.String("llm_vendor", cfg.LLM.Vendor),
		zap.String("database", cfg.Database.Database),
		zap.String("redis_host", cfg.Redis.Host),
	)

	ctx := context.Background()

	pool, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := runMigrations(cfg, logger); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Warn("failed to connect to redis, short-term cache runs in-memory", zap.Error(err))
		redisClient = nil
	}

	provider, err := llm.NewProvider(llm.VendorConfig{
		Vendor:      cfg.LLM.Vendor,
		Endpoint:    cfg.LLM.Endpoint,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}, logger)
	if err != nil {
		logger.Fatal("failed to construct llm provider", zap.Error(err))
	}

	breaker := llm.NewCircuitBreaker(llm.CircuitBreakerConfig{
		Threshold:  cfg.Breaker.FailureThreshold,
		Window:     time.Duration(cfg.Breaker.WindowSeconds) * time.Second,
		ResetAfter: time.Duration(cfg.Breaker.RecoverySeconds) * time.Second,
	})

	shortTermCache := cache.New(redisClient, logger,
		cache.WithTTL(time.Duration(cfg.Cache.TTLSeconds)*time.Second),
		cache.WithMaxSizeBytes(cfg.Cache.MaxValueBytes),
	)
	historyStore := history.NewStore(pool.Pool, history.WithRetentionDays(cfg.History.RetentionDays))

	plan := planner.New(provider, breaker, shortTermCache, historyStore, logger,
		planner.WithTimeout(time.Duration(cfg.LLM.TimeoutSeconds)*time.Second),
		planner.WithDefaultLimit(cfg.Validator.DefaultLimit),
	)

	validator := sqlvalidator.NewValidator(
		sqlvalidator.WithAllowedTables(cfg.Validator.AllowlistedTables()),
		sqlvalidator.WithDefaultLimit(cfg.Validator.DefaultLimit),
	)

	exec := executor.New(pool.Pool)
	limiter := ratelimit.New(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowSeconds)*time.Second)
	auditSink := audit.NewSink(pool.Pool, logger)
	securityAuditor := audit.NewSecurityAuditor(logger)

	tool := core.New(
		plan, validator, exec, limiter, shortTermCache, historyStore, auditSink,
		func(correlationID, userID, clientIP, sqlText, fingerprint string) {
			securityAuditor.LogInjectionAttempt(correlationID, userID, clientIP, audit.InjectionDetails{
				SQL: sqlText, Fingerprint: fingerprint,
			})
		},
		securityAuditor.LogValidationRejection,
		logger,
		core.WithConfidenceThreshold(cfg.LLM.ConfidenceThreshold),
	)

	mux := http.NewServeMux()

	healthHandler := handlers.NewHealthHandler(cfg, logger)
	healthHandler.RegisterRoutes(mux)

	sqlHandler := handlers.NewSQLHandler(tool, logger)
	sqlHandler.RegisterRoutes(mux)

	logger.Info("starting safequery-gateway", zap.String("port", cfg.Port), zap.String("version", cfg.Version))
	var serveErr error
	if cfg.TLSCertPath != "" {
		serveErr = http.ListenAndServeTLS(":"+cfg.Port, cfg.TLSCertPath, cfg.TLSKeyPath, mux)
	} else {
		serveErr = http.ListenAndServe(":"+cfg.Port, mux)
	}
	if serveErr != nil {
		logger.Fatal("server failed", zap.Error(serveErr))
	}
}

// runMigrations applies pending schema migrations using a stdlib
// database/sql connection, separate from the pgxpool used for request
// traffic, since golang-migrate's postgres driver requires database/sql.
func runMigrations(cfg *config.Config, logger *zap.Logger) error {
	db, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer db.Close()

	return database.RunMigrations(db, "migrations", logger)
}
