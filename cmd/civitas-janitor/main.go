package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/civitashq/civitas/pkg/auth"
	"github.com/civitashq/civitas/pkg/invite"
	"github.com/civitashq/civitas/pkg/sync"
)

var (
	dbURL                = flag.String("db-url", getEnv("CIVITAS_POSTGRES_URL", "postgres://localhost/civitas?sslmode=disable"), "PostgreSQL connection URL")
	sessionSchedule      = flag.String("session-schedule", "0 * * * *", "Cron schedule for expired session cleanup (default: every hour)")
	inviteSchedule       = flag.String("invite-schedule", "30 0 * * *", "Cron schedule for expired invitation cleanup (default: 00:30 UTC)")
	idempotencySchedule  = flag.String("idempotency-schedule", "45 0 * * *", "Cron schedule for idempotency record cleanup (default: 00:45 UTC)")
	idempotencyRetention = flag.Duration("idempotency-retention", getEnvDuration("CIVITAS_SYNC_IDEMPOTENCY_RETENTION", 30*24*time.Hour), "How long to keep idempotency records")
	logLevel             = flag.String("log-level", getEnv("CIVITAS_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	runOnce              = flag.Bool("run-once", false, "Run all cleanup jobs once and exit")
)

func main() {
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.WithError(err).Fatal("Failed to ping database")
	}

	authStore, err := auth.NewStore(db)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize auth store")
	}
	inviteStore, err := invite.NewStore(db)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize invitation store")
	}
	syncStore, err := sync.NewPostgresSyncStore(db)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize sync store")
	}

	j := &janitor{
		authStore:   authStore,
		inviteStore: inviteStore,
		syncStore:   syncStore,
		retention:   *idempotencyRetention,
		logger:      logger,
	}

	if *runOnce {
		ctx := context.Background()
		j.purgeSessions(ctx)
		j.purgeInvitations(ctx)
		j.purgeIdempotencyRecords(ctx)
		logger.Info("Cleanup completed")
		return
	}

	c := cron.New()

	if _, err := c.AddFunc(*sessionSchedule, func() { j.purgeSessions(context.Background()) }); err != nil {
		logger.WithError(err).Fatal("Failed to schedule session cleanup")
	}
	if _, err := c.AddFunc(*inviteSchedule, func() { j.purgeInvitations(context.Background()) }); err != nil {
		logger.WithError(err).Fatal("Failed to schedule invitation cleanup")
	}
	if _, err := c.AddFunc(*idempotencySchedule, func() { j.purgeIdempotencyRecords(context.Background()) }); err != nil {
		logger.WithError(err).Fatal("Failed to schedule idempotency record cleanup")
	}

	c.Start()
	logger.Info("Civitas janitor started")
	logger.Infof("Session cleanup schedule: %s", *sessionSchedule)
	logger.Infof("Invitation cleanup schedule: %s", *inviteSchedule)
	logger.Infof("Idempotency record cleanup schedule: %s (retention %s)", *idempotencySchedule, *idempotencyRetention)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down gracefully...")

	ctx := c.Stop()
	<-ctx.Done()

	logger.Info("Janitor stopped")
}

type janitor struct {
	authStore   *auth.Store
	inviteStore *invite.Store
	syncStore   *sync.PostgresSyncStore
	retention   time.Duration
	logger      *logrus.Logger
}

func (j *janitor) purgeSessions(ctx context.Context) {
	n, err := j.authStore.PurgeExpiredSessions(ctx)
	if err != nil {
		j.logger.WithError(err).Error("Session cleanup failed")
		return
	}
	j.logger.WithField("deleted", n).Info("Expired sessions purged")
}

func (j *janitor) purgeInvitations(ctx context.Context) {
	n, err := j.inviteStore.PurgeExpired(ctx)
	if err != nil {
		j.logger.WithError(err).Error("Invitation cleanup failed")
		return
	}
	j.logger.WithField("deleted", n).Info("Expired invitations purged")
}

func (j *janitor) purgeIdempotencyRecords(ctx context.Context) {
	n, err := j.syncStore.PurgeRecordsOlderThan(ctx, j.retention)
	if err != nil {
		j.logger.WithError(err).Error("Idempotency record cleanup failed")
		return
	}
	j.logger.WithField("deleted", n).Info("Old idempotency records purged")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
