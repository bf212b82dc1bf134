package main

import (
	"context"
	"database/sql"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/civitashq/civitas/pkg/api"
	"github.com/civitashq/civitas/pkg/audit"
	"github.com/civitashq/civitas/pkg/auth"
	"github.com/civitashq/civitas/pkg/blob"
	"github.com/civitashq/civitas/pkg/config"
	"github.com/civitashq/civitas/pkg/domain"
	"github.com/civitashq/civitas/pkg/invite"
	"github.com/civitashq/civitas/pkg/middleware"
	"github.com/civitashq/civitas/pkg/notify"
	"github.com/civitashq/civitas/pkg/observability"
	"github.com/civitashq/civitas/pkg/scope"
	"github.com/civitashq/civitas/pkg/sync"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Error("failed to open database")
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnLifetime)

	if err := db.Ping(); err != nil {
		logger.WithError(err).Error("failed to ping database")
		os.Exit(1)
	}

	authStore, err := auth.NewStore(db)
	if err != nil {
		logger.WithError(err).Error("failed to initialize auth store")
		os.Exit(1)
	}
	territoryStore, err := scope.NewPostgresTerritoryStore(db)
	if err != nil {
		logger.WithError(err).Error("failed to initialize territory store")
		os.Exit(1)
	}
	domainStore, err := domain.NewStore(db)
	if err != nil {
		logger.WithError(err).Error("failed to initialize domain store")
		os.Exit(1)
	}
	syncStore, err := sync.NewPostgresSyncStore(db)
	if err != nil {
		logger.WithError(err).Error("failed to initialize sync store")
		os.Exit(1)
	}
	inviteStore, err := invite.NewStore(db)
	if err != nil {
		logger.WithError(err).Error("failed to initialize invitation store")
		os.Exit(1)
	}
	auditDB, err := audit.NewDBLogger(db)
	if err != nil {
		logger.WithError(err).Error("failed to initialize audit log")
		os.Exit(1)
	}
	auditLogger := audit.NewAsyncLogger(auditDB, cfg.Observability.AuditQueueSize)
	defer auditLogger.Close()

	resolver := scope.NewResolver(territoryStore)
	guard := auth.NewGuard(authStore, resolver)
	engine := sync.NewEngine(domainStore, syncStore, auditLogger)
	engine.SetLimit(cfg.Sync.BootstrapLimit)

	health := observability.NewHealthChecker()
	health.Register("database", observability.DatabaseCheck(db))

	var blobStore blob.Store
	if cfg.Blob.Endpoint != "" || cfg.Blob.AccessKey != "" {
		s3Store, err := blob.NewS3Store(context.Background(), cfg.Blob)
		if err != nil {
			logger.WithError(err).Error("failed to initialize blob store")
			os.Exit(1)
		}
		blobStore = s3Store
		health.Register("blob", s3Store.HealthCheck)
	} else {
		logger.Warn("blob storage not configured, attachment endpoints disabled")
	}

	var rateLimit func(http.Handler) http.Handler
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		health.Register("redis", observability.RedisCheck(redisClient))
		rateLimit = middleware.NewDistributedRateLimitMiddleware(redisClient).Handler
	} else {
		rateLimit = middleware.NewRateLimitMiddleware().Handler
	}

	server := api.NewServer(api.Dependencies{
		Guard:          guard,
		AuthStore:      authStore,
		TerritoryStore: territoryStore,
		DomainStore:    domainStore,
		SyncEngine:     engine,
		SyncStore:      syncStore,
		InviteStore:    inviteStore,
		Audit:          auditLogger,
		AuditSearch:    auditDB,
		Blob:           blobStore,
		Sender:         notify.NewLogSender(logger),
		Logger:         logger,
		BaseURL:        cfg.Server.BaseURL,
		RateLimit:      rateLimit,
		SessionTTL:     cfg.Auth.SessionTTL,
		InvitationTTL:  cfg.Auth.InvitationTTL,
	})

	apiServer := api.HTTPServer(
		net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		server.Handler(),
		cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout,
	)
	healthServer := api.HTTPServer(
		net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		api.NewHealthServer(health, cfg.Observability.MetricsEnabled),
		cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("API server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("API server shutdown failed")
		}
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("health server shutdown failed")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("server exited")
		os.Exit(1)
	}
	logger.Info("stopped")
}
