package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-qms/meridian/internal/app"
	"github.com/meridian-qms/meridian/internal/audit"
	"github.com/meridian-qms/meridian/internal/auth"
	"github.com/meridian-qms/meridian/internal/forensic"
	"github.com/meridian-qms/meridian/internal/observability"
	"github.com/meridian-qms/meridian/internal/platform/cache"
	"github.com/meridian-qms/meridian/internal/platform/db"
	"github.com/meridian-qms/meridian/internal/rbac"
	"github.com/meridian-qms/meridian/internal/shared"
	"github.com/meridian-qms/meridian/internal/signature"
	"github.com/meridian-qms/meridian/internal/tx"
	"github.com/meridian-qms/meridian/internal/users"
	"github.com/meridian-qms/meridian/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.ValidateSchema(ctx, pool); err != nil {
		logger.Error("validate schema", slog.Any("error", err))
		os.Exit(1)
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "meridian_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	metrics := observability.NewMetrics()

	auditWriter := audit.NewWriter([]byte(cfg.AuditHMACKey), logger, metrics)
	auditRepo := audit.NewRepository(pool)

	diagnostics := tx.NewAuditDiagnostics(pool, auditWriter, logger)
	coordinator := tx.NewCoordinator(pool, logger, diagnostics)

	rbacRepo := rbac.NewRepository(pool)
	enforcer := rbac.NewEnforcer(rbacRepo, coordinator, auditWriter, logger, metrics)
	rbacMiddleware := rbac.Middleware{Enforcer: enforcer, Logger: logger}
	rbacHandler := rbac.NewHandler(logger, enforcer)

	impersonationStore := forensic.NewImpersonationStore(redisClient, cfg.SessionTTL)
	impersonationHandler := rbac.NewImpersonationHandler(logger, impersonationStore, auditWriter, pool)

	auditHandler := audit.NewHandler(logger, auditRepo, auditWriter, coordinator)

	signatureRepo := signature.NewSQLRepository(pool)
	signatureService := signature.NewService(signatureRepo, []byte(cfg.AuditHMACKey), logger)
	signatureHandler := signature.NewHandler(logger, signatureService)

	usersRepo := users.NewRepository(pool)
	usersService := users.NewService(usersRepo, coordinator, auditWriter, logger)
	usersHandler := users.NewHandler(logger, usersService)

	authRepo := auth.NewSQLRepository(pool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager, auditWriter, pool)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		SessionManager:   sessionManager,
		CSRFManager:      csrfManager,
		AuthHandler:      authHandler,
		RBACHandler:      rbacHandler,
		RBACMiddleware:   rbacMiddleware,
		Impersonation:    impersonationHandler,
		AuditHandler:     auditHandler,
		UsersHandler:     usersHandler,
		SignatureHandler: signatureHandler,
		JobsHandler:      jobsHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
