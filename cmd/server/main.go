// Package main is the entry point for the integrity engine server.
//
// The server ingests raw client signals (playback time updates, activity,
// visibility changes, fullscreen transitions, answer selections) over HTTP
// and turns them into trustworthy progress records and policy decisions.
//
// The architecture follows Clean Architecture and DDD:
// - Domain: pure signal classification and state machines
// - Application: lesson monitors and assessment runners (timer owners)
// - Infrastructure: Postgres/Redis adapters, event bus, scheduler
// - Interface: HTTP signal ingestion endpoints
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/lumenlms/integrity-engine/config"
	"github.com/lumenlms/integrity-engine/internal/application/eventhandler"
	"github.com/lumenlms/integrity-engine/internal/application/monitor"
	"github.com/lumenlms/integrity-engine/internal/domain/assessment"
	"github.com/lumenlms/integrity-engine/internal/domain/playback"
	"github.com/lumenlms/integrity-engine/internal/domain/progress"
	"github.com/lumenlms/integrity-engine/internal/domain/quota"
	"github.com/lumenlms/integrity-engine/internal/domain/shared"
	"github.com/lumenlms/integrity-engine/internal/infrastructure/messaging"
	"github.com/lumenlms/integrity-engine/internal/infrastructure/persistence/postgres"
	"github.com/lumenlms/integrity-engine/internal/infrastructure/persistence/redis"
	"github.com/lumenlms/integrity-engine/internal/infrastructure/scheduler"
	"github.com/lumenlms/integrity-engine/internal/infrastructure/scheduler/jobs"
	httpserver "github.com/lumenlms/integrity-engine/internal/interface/http"
	"github.com/lumenlms/integrity-engine/internal/interface/http/handlers"
	"github.com/lumenlms/integrity-engine/pkg/clock"
	"github.com/lumenlms/integrity-engine/pkg/logger"
	"github.com/lumenlms/integrity-engine/pkg/retry"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────

	// A missing .env file is fine, environment variables win anyway.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log, err := logger.New(logger.Options{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		Development: cfg.App.Environment == config.EnvDevelopment,
	})
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting integrity engine",
		zap.String("env", string(cfg.App.Environment)),
		zap.String("version", cfg.App.Version),
		zap.Bool("debug", cfg.App.Debug),
	)
	for _, f := range cfg.Features.All() {
		if f.RolloutPercent > 0 && f.RolloutPercent < 100 {
			log.Info("feature in partial rollout",
				zap.String("feature", f.Name),
				zap.Int("percent", f.RolloutPercent),
			)
		} else if f.RolloutPercent == 0 {
			log.Debug("feature disabled", zap.String("feature", f.Name))
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DATABASE (PostgreSQL)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database")

	var dbConn *postgres.Connection
	connect := func(ctx context.Context) error {
		var connErr error
		dbConn, connErr = postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
		return connErr
	}
	if err := retry.DatabaseRetrier().Do(ctx, connect); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection")
		dbConn.Close()
	}()

	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	log.Info("database connection established")

	// ─────────────────────────────────────────────────────────────────────────
	// 4. MIGRATIONS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("running database migrations")
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. REDIS (optional)
	// ─────────────────────────────────────────────────────────────────────────
	var redisCache *redis.Cache
	if !cfg.Redis.Disabled {
		log.Info("connecting to redis")

		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		if cfg.Redis.PoolSize > 0 {
			redisCfg.PoolSize = cfg.Redis.PoolSize
		}
		if cfg.Redis.MinIdleConns > 0 {
			redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		}
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		connectCache := func(ctx context.Context) error {
			var cacheErr error
			redisCache, cacheErr = redis.NewCache(redisCfg)
			return cacheErr
		}
		if err := retry.CacheRetrier().Do(ctx, connectCache); err != nil {
			// The engine stays correct without redis: quota state falls
			// back to postgres and progress reads hit the repository.
			log.Warn("redis unavailable, running without cache", zap.Error(err))
			redisCache = nil
		} else {
			defer func() { _ = redisCache.Close() }()
			log.Info("redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. REPOSITORIES
	// ─────────────────────────────────────────────────────────────────────────
	completionThreshold := shared.NewPercentage(cfg.Monitor.CompletionThreshold)
	watchRepo := postgres.NewWatchRepository(dbConn, completionThreshold)
	assessmentRepo := postgres.NewAssessmentRepository(dbConn, shared.Score(cfg.Assessment.PassingScore))

	var progressCache *redis.ProgressCache
	if redisCache != nil && cfg.Features.IsEnabled(config.FeatureProgressCache, "") {
		progressCache = redis.NewProgressCache(redisCache, cfg.Monitor.ProgressCacheTTL)
	}

	var quotaStore quota.Store
	if redisCache != nil {
		quotaStore = redis.NewQuotaStore(redisCache, cfg.Quota.WindowSize)
	} else {
		quotaStore = postgres.NewQuotaStore(dbConn)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	busCfg := messaging.DefaultConfig()
	busCfg.Logger = log
	bus := messaging.NewInMemoryEventBus(busCfg)
	defer func() {
		log.Info("closing event bus")
		_ = bus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 8. EVENT HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	var invalidator eventhandler.CacheInvalidator
	if progressCache != nil {
		invalidator = progressCache
	}
	completedHandler := eventhandler.NewOnLessonCompletedHandler(invalidator, log)
	if err := bus.Subscribe(completedHandler.EventType(), completedHandler.Handle); err != nil {
		return fmt.Errorf("failed to subscribe lesson completed handler: %w", err)
	}

	violationHandler := eventhandler.NewOnIntegrityViolationHandler(log)
	for _, eventType := range violationHandler.EventTypes() {
		if err := bus.Subscribe(eventType, violationHandler.Handle); err != nil {
			return fmt.Errorf("failed to subscribe violation handler: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	clk := clock.Real()

	var sink progress.HeartbeatSink = watchRepo
	if progressCache != nil {
		sink = &cachingHeartbeatSink{repo: watchRepo, cache: progressCache, clk: clk, logger: log}
	}

	monitorCfg := monitor.Config{
		HeartbeatInterval:   cfg.Monitor.HeartbeatInterval,
		InactivityThreshold: cfg.Monitor.InactivityThreshold,
		Guard: playback.Config{
			Tolerance: cfg.Monitor.GuardTolerance,
			MinJump:   cfg.Monitor.GuardMinJump,
		},
		CompletionThreshold: completionThreshold,
	}
	monitors := monitor.NewManager(monitorCfg, sink, bus, clk, log)

	tracker := quota.NewTracker(quota.Config{
		WindowSize:  cfg.Quota.WindowSize,
		WindowCap:   cfg.Quota.WindowCap,
		LifetimeCap: cfg.Quota.LifetimeLimit,
	}, quotaStore)

	// ─────────────────────────────────────────────────────────────────────────
	// 10. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(log)

	reapJob := jobs.NewReapIdleMonitorsJob(monitors, jobs.DefaultIdleCutoff, log)
	if err := sched.Register(reapJob, scheduler.NewIntervalSchedule(5*time.Minute)); err != nil {
		return fmt.Errorf("failed to register reap job: %w", err)
	}

	metricsJob := jobs.NewReportBusMetricsJob(bus, log)
	if err := sched.Register(metricsJob, scheduler.NewIntervalSchedule(time.Minute)); err != nil {
		return fmt.Errorf("failed to register metrics job: %w", err)
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 11. HEALTH CHECKS
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck("database", handlers.NewDatabaseCheck(dbConn))
	if redisCache != nil {
		health.AddCheck("cache", handlers.NewCacheCheck(redisCache))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 12. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	httpCfg := httpserver.DefaultConfig()
	httpCfg.Host = cfg.Server.Host
	httpCfg.Port = cfg.Server.Port
	httpCfg.ReadTimeout = cfg.Server.ReadTimeout
	httpCfg.WriteTimeout = cfg.Server.WriteTimeout
	httpCfg.IdleTimeout = cfg.Server.IdleTimeout

	var completionCache httpserver.CompletionCache
	if progressCache != nil {
		completionCache = progressCache
	}

	server := httpserver.NewServer(httpCfg, httpserver.Dependencies{
		Monitors: monitors,
		Progress: watchRepo,
		Cache:    completionCache,

		Questions: assessmentRepo,
		Submitter: assessmentRepo,
		Results:   assessmentRepo,
		AssessmentConfig: assessment.Config{
			QuestionSeconds:    cfg.Assessment.QuestionSeconds,
			MaxFullscreenExits: cfg.Assessment.MaxFullscreenExits,
		},

		Quota: tracker,

		Bus:           bus,
		Clock:         clk,
		Logger:        log,
		HealthChecker: health,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting http server", zap.String("address", server.Address()))
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 13. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("integrity engine is running", zap.String("address", server.Address()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("service error", zap.Error(err))
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	var shutdownErr error

	log.Info("stopping http server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop http server gracefully", zap.Error(err))
		shutdownErr = err
	}

	log.Info("stopping scheduler")
	if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
		log.Error("failed to stop scheduler", zap.Error(err))
		shutdownErr = err
	}

	// Final best-effort flush for every live watch stream.
	log.Info("stopping lesson monitors")
	monitors.StopAll(shutdownCtx)

	if shutdownErr != nil {
		log.Warn("shutdown completed with errors")
	} else {
		log.Info("shutdown completed")
	}

	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ADAPTERS
// ══════════════════════════════════════════════════════════════════════════════

// cachingHeartbeatSink writes each acknowledged heartbeat through to the
// progress cache so the read path can serve completion snapshots without
// touching the database.
type cachingHeartbeatSink struct {
	repo   *postgres.WatchRepository
	cache  *redis.ProgressCache
	clk    clock.Clock
	logger *zap.Logger
}

// RecordHeartbeat implements progress.HeartbeatSink.
func (s *cachingHeartbeatSink) RecordHeartbeat(ctx context.Context, hb progress.Heartbeat) (progress.Ack, error) {
	ack, err := s.repo.RecordHeartbeat(ctx, hb)
	if err != nil {
		return ack, err
	}

	if cacheErr := s.cache.Put(ctx, hb.Key, ack, s.clk.Now()); cacheErr != nil {
		s.logger.Warn("failed to update progress cache",
			zap.String("lesson_id", hb.Key.LessonID.String()),
			zap.Error(cacheErr),
		)
	}

	return ack, nil
}
