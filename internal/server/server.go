package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Wikid82/sentinel/backend/internal/alerting"
	"github.com/Wikid82/sentinel/backend/internal/api/handlers"
	"github.com/Wikid82/sentinel/backend/internal/api/middleware"
	"github.com/Wikid82/sentinel/backend/internal/api/routes"
	"github.com/Wikid82/sentinel/backend/internal/audit"
	"github.com/Wikid82/sentinel/backend/internal/cerberus"
	"github.com/Wikid82/sentinel/backend/internal/config"
	"github.com/Wikid82/sentinel/backend/internal/database"
	"github.com/Wikid82/sentinel/backend/internal/logger"
	"github.com/Wikid82/sentinel/backend/internal/ratelimit"
	"github.com/Wikid82/sentinel/backend/internal/scheduler"
	"github.com/Wikid82/sentinel/backend/internal/services"
)

const shutdownTimeout = 15 * time.Second

// Server owns the HTTP engine and every pipeline component, and stops them
// in dependency order.
type Server struct {
	Engine      *gin.Engine
	Audit       *audit.Log
	Alerts      *alerting.Engine
	Limiter     *ratelimit.Limiter
	Gate        *cerberus.Cerberus
	Lists       *services.IPLists
	AccessLists *services.AccessListService

	cfg       config.Config
	db        *gorm.DB
	redis     *redis.Client
	cron      *scheduler.Cron
	tasks     []*scheduler.Task
	stopRules func()
}

// New constructs the pipeline on db and registers the HTTP routes. ctx bounds
// the background jobs started by Start.
func New(ctx context.Context, db *gorm.DB, cfg config.Config) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)
	if cfg.Environment == "development" {
		gin.SetMode(gin.DebugMode)
	}

	s := &Server{cfg: cfg, db: db}

	s.Audit = audit.New(audit.NewGormStore(db), audit.Options{
		FlushInterval:  cfg.Audit.FlushInterval,
		BatchSize:      cfg.Audit.BatchSize,
		MaxQueue:       cfg.Audit.MaxQueue,
		OverflowPolicy: cfg.Audit.OverflowPolicy,
		RetentionDays:  cfg.Audit.RetentionDays,
	})

	lists, err := services.NewIPLists(cfg.Security.AllowList, cfg.Security.DenyList)
	if err != nil {
		return nil, fmt.Errorf("security ip lists: %w", err)
	}
	s.Lists = lists
	s.AccessLists = services.NewAccessListService(db, lists)

	store, client, err := entryStore(ctx, cfg.RateLimit)
	if err != nil {
		return nil, err
	}
	s.redis = client
	patterns, err := patternSet(cfg.RateLimit.SuspiciousPatterns)
	if err != nil {
		return nil, fmt.Errorf("rate_limit.suspicious_patterns: %w", err)
	}
	s.Limiter = ratelimit.New(store,
		ratelimit.WithStores(limiterStores(cfg.RateLimit)),
		ratelimit.WithPatterns(patterns),
		ratelimit.WithEventLogger(s.Audit),
		ratelimit.WithBackendName(cfg.RateLimit.Backend),
	)

	channels, err := alertChannels(cfg.Alerts)
	if err != nil {
		return nil, fmt.Errorf("alert channels: %w", err)
	}
	s.Alerts = alerting.NewEngine(alerting.NewGormAlertStore(db), s.Audit, alerting.Options{
		EvaluationInterval:   cfg.Alerts.EvaluationInterval,
		EvaluationWindow:     cfg.Alerts.EvaluationWindow,
		DispatchTimeout:      cfg.Alerts.DispatchTimeout,
		ChannelRatePerMinute: cfg.Alerts.ChannelRatePerMinute,
	}, alerting.WithSystemLogger(s.Audit), alerting.WithChannels(channels...))
	if cfg.Alerts.RulesFile != "" {
		stop, err := alerting.WatchRules(s.Alerts, cfg.Alerts.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("alert rules file: %w", err)
		}
		s.stopRules = stop
	}

	provider := identityProvider(cfg.Security)
	s.Gate = cerberus.New(cerberus.Config{
		Enabled:         cfg.Security.Enabled,
		SensitivePaths:  cfg.Security.SensitivePaths,
		ProtectedRoutes: cerberus.RoutesFromMap(cfg.Security.ProtectedRoutes),
		AdminPrefixes:   cfg.Security.AdminPrefixes,
		LoginPath:       cfg.Security.LoginPath,
		Headers: cerberus.HeaderConfig{
			HSTS:                  cfg.Security.HSTS,
			ContentSecurityPolicy: cfg.Security.ContentSecurity,
		},
	}, lists, s.Limiter, s.Audit, provider)

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	router.Use(
		middleware.RequestID(),
		middleware.RequestLogger("/api/v1/health", "/metrics"),
		middleware.Recovery(cfg.Debug, s.Audit),
		s.Gate.Middleware(),
	)
	routes.Register(router, routes.Deps{
		Audit:         s.Audit,
		Alerts:        s.Alerts,
		Limiter:       s.Limiter,
		Gate:          s.Gate,
		Lists:         lists,
		AccessLists:   s.AccessLists,
		Provider:      provider,
		HealthChecks:  s.healthChecks(),
		RetentionDays: cfg.Audit.RetentionDays,
	})
	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
			return
		}
		c.Status(http.StatusNotFound)
	})
	s.Engine = router

	s.cron = scheduler.NewCron(ctx)
	if err := s.cron.Add(cfg.Audit.CleanupSchedule, "audit-cleanup", func(ctx context.Context) {
		if _, err := s.Audit.Cleanup(ctx, 0); err != nil {
			logger.Source("cron").WithError(err).Error("audit cleanup failed")
		}
	}); err != nil {
		return nil, err
	}
	if err := s.cron.Add(cfg.Alerts.PurgeSchedule, "alert-purge", func(ctx context.Context) {
		olderThan := time.Duration(cfg.Alerts.RetentionDays) * 24 * time.Hour
		if _, err := s.Alerts.Purge(ctx, olderThan); err != nil {
			logger.Source("cron").WithError(err).Error("alert purge failed")
		}
	}); err != nil {
		return nil, err
	}

	s.tasks = []*scheduler.Task{
		scheduler.NewTask("access-list-refresh", cfg.Security.AccessListRefresh, func(ctx context.Context) {
			if err := s.AccessLists.Refresh(ctx); err != nil {
				logger.Source("access_list").WithError(err).Warn("access list refresh failed")
			}
		}),
		scheduler.NewTask("ratelimit-sweep", cfg.RateLimit.SweepInterval, func(ctx context.Context) {
			n, err := s.Limiter.Sweep(ctx)
			if err != nil {
				logger.Source("ratelimit").WithError(err).Warn("rate limit sweep failed")
				return
			}
			if n > 0 {
				logger.Source("ratelimit").WithField("removed", n).Debug("swept expired rate limit entries")
			}
		}),
	}

	return s, nil
}

func (s *Server) healthChecks() map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := s.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if s.redis != nil {
		checks["rate_limit_store"] = func(ctx context.Context) error {
			return s.redis.Ping(ctx).Err()
		}
	}
	return checks
}

// Start launches the background work: audit flushing, alert evaluation,
// periodic maintenance tasks and the cron jobs.
func (s *Server) Start(ctx context.Context) {
	if err := s.AccessLists.Refresh(ctx); err != nil {
		logger.Source("access_list").WithError(err).Warn("initial access list load failed")
	}
	s.Audit.Start(ctx)
	s.Alerts.Start(ctx)
	for _, t := range s.tasks {
		t.Start(ctx)
	}
	s.cron.Start()
}

// Run starts the pipeline and serves HTTP until ctx is cancelled, then shuts
// everything down.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.cfg.HTTPPort),
		Handler:           s.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, fmt.Errorf("graceful shutdown: %w", err))
	}
	return errors.Join(serveErr, s.Shutdown(shutdownCtx))
}

// Shutdown stops the components after the HTTP server: alert evaluation and
// pending dispatches, then the audit queue, then scheduled jobs, and finally
// the database.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.stopRules != nil {
		s.stopRules()
	}
	if err := s.Alerts.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.Audit.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush audit log: %w", err))
	}
	s.cron.Stop()
	for _, t := range s.tasks {
		t.Stop()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if err := database.Close(s.db); err != nil {
		errs = append(errs, err)
	}
	logger.Log().Info("shutdown complete")
	return errors.Join(errs...)
}
