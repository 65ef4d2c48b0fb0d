package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/chatgate/internal/ai"
	"github.com/router-for-me/chatgate/internal/cache"
	"github.com/router-for-me/chatgate/internal/clock"
	"github.com/router-for-me/chatgate/internal/config"
	"github.com/router-for-me/chatgate/internal/db"
	gatehttp "github.com/router-for-me/chatgate/internal/http"
	"github.com/router-for-me/chatgate/internal/http/api/admin"
	adminhandlers "github.com/router-for-me/chatgate/internal/http/api/admin/handlers"
	"github.com/router-for-me/chatgate/internal/http/api/front"
	"github.com/router-for-me/chatgate/internal/ledger"
	"github.com/router-for-me/chatgate/internal/logging"
	"github.com/router-for-me/chatgate/internal/metrics"
	"github.com/router-for-me/chatgate/internal/moderation"
	"github.com/router-for-me/chatgate/internal/plans"
	"github.com/router-for-me/chatgate/internal/ratelimit"
	"github.com/router-for-me/chatgate/internal/reputation"
	"github.com/router-for-me/chatgate/internal/security"
	"github.com/router-for-me/chatgate/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	settingsRefreshInterval = 30 * time.Second
	shutdownTimeout         = 10 * time.Second
)

// Server holds the assembled components of a running gateway.
type Server struct {
	Config   config.Config
	DB       *gorm.DB
	Redis    *redis.Client
	Router   *gin.Engine
	Registry *prometheus.Registry

	Gate       *reputation.Gate
	Ledger     *ledger.Ledger
	Settings   *settings.Service
	Moderation *moderation.Engine

	clock       clock.Clock
	memoryStore *ratelimit.MemoryStore
	retention   *moderation.AuditRetentionCleaner
}

// Options overrides collaborators that tests substitute.
type Options struct {
	Clock    clock.Clock
	Provider ai.Provider
	Redis    *redis.Client
}

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, appCfg config.AppConfig) error {
	cfg, err := config.Load(appCfg.ConfigPath)
	if err != nil {
		return err
	}
	conn, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(conn)
	return db.Migrate(conn.WithContext(ctx))
}

// RunServer boots the gateway and blocks until ctx is cancelled.
func RunServer(ctx context.Context, appCfg config.AppConfig) error {
	cfg, err := config.Load(appCfg.ConfigPath)
	if err != nil {
		return err
	}
	if errValidate := cfg.Validate(); errValidate != nil {
		return errValidate
	}
	logCloser, err := logging.Setup(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()
	if !config.ConfigExists(appCfg.ConfigPath) {
		log.Warnf("no config file at %s, running on defaults and environment", config.ResolveConfigPath(appCfg.ConfigPath))
	}

	conn, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(conn)
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	var rdb *redis.Client
	if cfg.RateLimit.Store == "redis" {
		rdb, err = cache.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
	}

	srv, err := NewServer(ctx, cfg, conn, Options{Redis: rdb})
	if err != nil {
		return err
	}
	srv.Start(ctx)

	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("chatgate listening on %s", cfg.Server.Listen)
		if errServe := httpServer.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			errCh <- errServe
		}
		close(errCh)
	}()

	select {
	case errServe := <-errCh:
		return errServe
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if errShutdown := httpServer.Shutdown(shutdownCtx); errShutdown != nil {
		return fmt.Errorf("shutdown http server: %w", errShutdown)
	}
	return nil
}

// NewServer assembles every component on an open, migrated database.
func NewServer(ctx context.Context, cfg config.Config, conn *gorm.DB, opts Options) (*Server, error) {
	if conn == nil {
		return nil, errors.New("app: nil db")
	}
	clk := clock.OrSystem(opts.Clock)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	catalog := plans.NewCatalog(cfg.Plans)
	gate := reputation.NewGate(conn, clk, m)
	led := ledger.New(ledger.Options{
		DB:      conn,
		Plans:   catalog,
		Clock:   clk,
		Metrics: m,
		Strict:  cfg.Ledger.Strict,
	})

	settingsSvc := settings.NewService(conn, settings.NewSnapshot(), clk, settings.AIConfigFromFile(cfg.AI))
	if errRefresh := settingsSvc.Refresh(ctx); errRefresh != nil {
		log.WithError(errRefresh).Warn("settings: initial load failed, using file defaults")
	}

	verifier := security.NewJWTVerifier(cfg.JWT.Secret, clk)
	engine := moderation.NewEngine(moderation.Options{
		DB:       conn,
		Ledger:   led,
		Gate:     gate,
		Plans:    catalog,
		Verifier: verifier,
		Clock:    clk,
		Metrics:  m,
	})

	provider := opts.Provider
	if provider == nil {
		provider = ai.NewHTTPProvider(cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.Timeout)
	}

	srv := &Server{
		Config:     cfg,
		DB:         conn,
		Redis:      opts.Redis,
		Registry:   registry,
		Gate:       gate,
		Ledger:     led,
		Settings:   settingsSvc,
		Moderation: engine,
		clock:      clk,
	}
	srv.retention = moderation.NewAuditRetentionCleaner(conn, clk, func() int {
		return settingsSvc.AuditRetentionDays(cfg.Audit.RetentionDays)
	})

	generalLimiter, adminLimiter, err := srv.buildLimiters(m)
	if err != nil {
		return nil, err
	}

	router, err := newRouter(cfg)
	if err != nil {
		return nil, err
	}
	health := adminhandlers.NewHealthHandler(conn, opts.Redis)
	router.GET("/healthz", health.Healthz)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	v0 := router.Group("/v0")
	v0.Use(gatehttp.RateLimitMiddleware(generalLimiter, gatehttp.RouteClassGeneral), gatehttp.BanGateMiddleware(gate))
	front.RegisterFrontRoutes(v0, front.Deps{
		DB:               conn,
		Verifier:         verifier,
		Gate:             gate,
		Ledger:           led,
		Settings:         settingsSvc,
		Provider:         provider,
		MaxAccountsPerIP: cfg.Reputation.MaxAccountsPerIP,
		Clock:            clk,
	})

	adminGroup := v0.Group("")
	adminGroup.Use(gatehttp.RateLimitMiddleware(adminLimiter, gatehttp.RouteClassAdmin))
	admin.RegisterAdminRoutes(adminGroup, admin.Deps{Engine: engine, Settings: settingsSvc})

	srv.Router = router
	return srv, nil
}

// Start launches background loops. They stop when ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	if s.memoryStore != nil {
		go s.memoryStore.Run(ctx, s.clock.Now)
	}
	s.retention.Start(ctx)
	go s.refreshSettings(ctx)
}

// refreshSettings reloads DB-backed settings so edits made through another
// instance become visible here.
func (s *Server) refreshSettings(ctx context.Context) {
	ticker := time.NewTicker(settingsRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if errRefresh := s.Settings.Refresh(ctx); errRefresh != nil && ctx.Err() == nil {
				log.WithError(errRefresh).Warn("settings: refresh failed")
			}
		}
	}
}

func (s *Server) buildLimiters(m *metrics.Metrics) (*ratelimit.Limiter, *ratelimit.Limiter, error) {
	rl := s.Config.RateLimit
	algorithm, err := ratelimit.ParseAlgorithm(rl.Algorithm)
	if err != nil {
		return nil, nil, err
	}

	var store ratelimit.Store
	if s.Redis != nil {
		store = ratelimit.NewRedisStore(s.Redis, algorithm, "chatgate:rl:")
	} else {
		s.memoryStore = ratelimit.NewMemoryStore(ratelimit.MemoryOptions{
			Algorithm:     algorithm,
			IdleTimeout:   rl.IdleTimeout,
			SweepInterval: rl.SweepInterval,
		})
		store = s.memoryStore
	}

	general, err := ratelimit.NewLimiter(ratelimit.Options{
		Name:    gatehttp.RouteClassGeneral,
		Window:  rl.General.Window,
		Max:     rl.General.Max,
		Store:   store,
		Clock:   s.clock,
		Metrics: m,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("general limiter: %w", err)
	}
	adminLimiter, err := ratelimit.NewLimiter(ratelimit.Options{
		Name:    gatehttp.RouteClassAdmin,
		Window:  rl.Admin.Window,
		Max:     rl.Admin.Max,
		Store:   store,
		Clock:   s.clock,
		Metrics: m,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("admin limiter: %w", err)
	}
	return general, adminLimiter, nil
}

func newRouter(cfg config.Config) (*gin.Engine, error) {
	router := gin.New()
	router.Use(logging.GinRecovery(), logging.GinLogger())
	if errProxies := router.SetTrustedProxies(cfg.Server.TrustedProxies); errProxies != nil {
		return nil, fmt.Errorf("trusted proxies: %w", errProxies)
	}
	return router, nil
}

func openDatabase(cfg config.Config) (*gorm.DB, error) {
	return db.OpenWithPool(cfg.Database.DSN, db.PoolConfig{MaxOpenConns: cfg.Database.MaxOpenConns})
}

func closeDatabase(conn *gorm.DB) {
	if conn == nil {
		return
	}
	if sqlDB, err := conn.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
