// Package main is the entry point for the Risk Service.
// The Risk Service scores sign attempts against threat intelligence and
// decides whether they are approved, need verification or are rejected.
package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/openidx/authrisk/internal/audit"
	"github.com/openidx/authrisk/internal/auth"
	"github.com/openidx/authrisk/internal/common/config"
	"github.com/openidx/authrisk/internal/common/database"
	apperrors "github.com/openidx/authrisk/internal/common/errors"
	"github.com/openidx/authrisk/internal/common/logger"
	"github.com/openidx/authrisk/internal/common/middleware"
	"github.com/openidx/authrisk/internal/common/resilience"
	"github.com/openidx/authrisk/internal/common/tracing"
	"github.com/openidx/authrisk/internal/health"
	"github.com/openidx/authrisk/internal/metrics"
	"github.com/openidx/authrisk/internal/risk"
	"github.com/openidx/authrisk/internal/server"
)

const serviceName = "risk-service"

var (
	Version    = "dev"
	BuildTime  = "unknown"
	CommitHash = "unknown"
)

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		// logger settings come from the config, so fall back to a default one
		logger.New("", "").Fatal("Failed to load configuration", zap.Error(err))
	}

	log := logger.New(cfg.Environment, cfg.LogLevel)
	defer log.Sync()

	log.Info("Starting Risk Service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("commit", CommitHash),
	)
	cfg.LogSecurityWarnings(log)

	if err := run(context.Background(), cfg, log); err != nil {
		log.Fatal("Risk Service stopped with error", zap.Error(err))
	}
	log.Info("Server exited")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	shutdownTracer, err := tracing.Init(ctx, tracing.FromServiceConfig(cfg), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	app, err := newApp(ctx, cfg, log)
	if err != nil {
		_ = shutdownTracer(ctx)
		return err
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      app.router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	gs := server.New(server.Config{
		Server:          srv,
		Logger:          log,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})
	gs.AddShutdownFunc("tracer", shutdownTracer)
	for _, c := range app.closers {
		gs.AddShutdownable(c)
	}

	refreshCtx, stopRefresh := context.WithCancel(ctx)
	go app.provider.Run(refreshCtx, cfg.ThreatIntel.RefreshInterval)
	gs.AddShutdownable(server.CancelContext("threat-intel-refresh", stopRefresh))

	return gs.Run(ctx)
}

// app holds the wired service components
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	provider *risk.Provider
	engine   *risk.Engine
	trail    risk.VerdictRecorder
	verdicts *audit.Handler
	rbac     *auth.RBACMiddleware
	redis    *database.RedisClient
	health   *health.HealthService
	closers  []server.Shutdownable
}

// newApp connects the configured stores and builds the engine on top of them.
// Stores are closed again if a later step fails.
func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		log:    log,
		health: health.NewHealthService(log),
	}
	a.health.SetVersion(Version)

	if err := a.wire(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

// wire builds every component. Opened stores are appended to a.closers.
func (a *app) wire(ctx context.Context) error {
	cfg, log := a.cfg, a.log

	source, err := a.buildSource(ctx)
	if err != nil {
		return err
	}

	a.provider, err = risk.NewProvider(ctx, source, log)
	if err != nil {
		return err
	}
	a.health.RegisterCheck(health.NewThreatIntelChecker(a.provider, cfg.ThreatIntel.RefreshInterval))

	a.engine, err = risk.NewEngine(a.provider, risk.Options{
		PermissiveMode:      cfg.Risk.PermissiveMode,
		AllowPrivateIPs:     cfg.Risk.AllowPrivateIPs,
		AllowCLIUserAgents:  cfg.Risk.AllowCLIUserAgents,
		PrivateIPExemptions: cfg.Risk.PrivateIPExemptions,
	}, log)
	if err != nil {
		return err
	}

	if err := a.buildAudit(ctx); err != nil {
		return err
	}

	if cfg.RateLimit.Enabled && a.redis == nil {
		if a.redis, err = a.connectRedis(ctx); err != nil {
			return err
		}
	}

	if cfg.JWTSecret != "" {
		tokenCfg := auth.DefaultTokenConfig()
		tokenCfg.Issuer = cfg.JWTIssuer
		tokens, err := auth.NewTokenService(cfg.JWTSecret, tokenCfg, log)
		if err != nil {
			return err
		}
		a.rbac = auth.NewRBACMiddleware(tokens, log)
	}
	return nil
}

// close shuts down opened stores in reverse order
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Shutdown(ctx); err != nil {
			a.log.Warn("Failed to close component",
				zap.String("component", a.closers[i].Name()),
				zap.Error(err))
		}
	}
	a.closers = nil
}

// buildSource selects the threat intel source named by threat_intel.source
func (a *app) buildSource(ctx context.Context) (risk.Source, error) {
	cfg := a.cfg
	switch cfg.ThreatIntel.Source {
	case config.SourceFile:
		return risk.NewFileSource(cfg.ThreatIntel.File), nil

	case config.SourceRedis:
		client, err := a.connectRedis(ctx)
		if err != nil {
			return nil, err
		}
		a.redis = client
		return risk.NewRedisSource(client.Client, cfg.ThreatIntel.RedisPrefix), nil

	case config.SourcePostgres:
		db, err := database.NewPostgres(ctx, cfg.DatabaseURL, database.PostgresTLSConfig{
			SSLMode:     cfg.DatabaseSSLMode,
			SSLRootCert: cfg.DatabaseSSLRootCert,
		})
		if err != nil {
			return nil, apperrors.Configuration("connect to threat intel database", err)
		}
		a.closers = append(a.closers, server.Closer("database", db))
		a.health.RegisterCheck(health.NewPostgresChecker(db, true))

		src := risk.NewPostgresSource(db.Pool)
		if cfg.ThreatIntel.EnsureSchema {
			if err := src.EnsureSchema(ctx); err != nil {
				return nil, err
			}
		}
		return src, nil

	case config.SourceSQLite:
		db, err := database.OpenSQLite(ctx, cfg.ThreatIntel.SQLitePath)
		if err != nil {
			return nil, apperrors.Configuration("open threat intel database", err)
		}
		a.closers = append(a.closers, server.Closer("sqlite", db))
		a.health.RegisterCheck(health.NewSQLiteChecker(db))

		src := risk.NewSQLiteSource(db)
		if cfg.ThreatIntel.EnsureSchema {
			if err := src.EnsureSchema(ctx); err != nil {
				return nil, err
			}
		}
		return src, nil
	}
	return risk.DefaultSource{}, nil
}

func (a *app) connectRedis(ctx context.Context) (*database.RedisClient, error) {
	client, err := database.NewRedis(ctx, database.RedisConfig{
		URL:        a.cfg.RedisURL,
		TLSEnabled: a.cfg.RedisTLSEnabled,
		TLSCACert:  a.cfg.RedisTLSCACert,
	})
	if err != nil {
		return nil, apperrors.Configuration("connect to redis", err)
	}
	a.closers = append(a.closers, server.Closer("redis", client))
	a.health.RegisterCheck(health.NewRedisChecker(client, a.cfg.ThreatIntel.Source == config.SourceRedis))
	return client, nil
}

// buildAudit wires the verdict trail: structured logs always, Elasticsearch when configured
func (a *app) buildAudit(ctx context.Context) error {
	cfg := a.cfg
	if !cfg.Audit.Enabled {
		a.health.RegisterCheck(health.NewStaticChecker("audit", health.StatusUp, "disabled", false))
		return nil
	}

	var recorders audit.Multi
	if cfg.Audit.LogEntries {
		recorders = append(recorders, audit.NewLogRecorder(a.log))
	}

	signer := audit.NewSigner(cfg.Audit.HMACSecret)
	if cfg.ElasticsearchURL != "" {
		es, err := database.NewElasticsearch(database.ElasticsearchConfig{
			URL:      cfg.ElasticsearchURL,
			Username: cfg.ElasticsearchUsername,
			Password: cfg.ElasticsearchPassword,
			CACert:   cfg.ElasticsearchCACert,
		})
		if err != nil {
			return apperrors.Configuration("connect to elasticsearch", err)
		}
		a.health.RegisterCheck(health.NewElasticsearchChecker(es))

		store := audit.NewElasticsearchRecorder(es, cfg.Audit.Index, a.log)
		if err := store.EnsureIndex(ctx); err != nil {
			// verdicts are still logged; the index is created on first write
			a.log.Warn("Failed to ensure verdict index", zap.Error(err))
		}
		breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "audit-elasticsearch",
			Threshold:    cfg.Audit.BreakerThreshold,
			ResetTimeout: cfg.Audit.BreakerResetTimeout,
			Logger:       a.log,
		})
		a.health.RegisterCheck(health.NewBreakerChecker("audit_store", breaker))
		recorders = append(recorders, audit.NewGuarded(store, breaker))
		a.verdicts = audit.NewHandler(store, signer, a.log)
	}

	if len(recorders) > 0 {
		a.trail = audit.NewTrail(recorders, signer, cfg.Audit.Timeout)
	}
	return nil
}

// router builds the HTTP surface
func (a *app) router() *gin.Engine {
	r := gin.New()
	r.Use(apperrors.ErrorHandler())
	r.Use(middleware.RequestID())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(logger.GinMiddleware(a.log))
	r.Use(metrics.Middleware(serviceName))
	r.Use(middleware.SecurityHeaders(a.cfg.IsProduction()))

	a.health.RegisterRoutes(r)
	r.GET("/metrics", metrics.Handler())

	api := r.Group("")
	if a.cfg.RateLimit.Enabled && a.redis != nil {
		api.Use(middleware.DistributedRateLimit(a.redis.Client, middleware.RateLimitConfig{
			Requests:  a.cfg.RateLimit.Requests,
			Window:    a.cfg.RateLimit.Window,
			KeyPrefix: "ratelimit:risk",
		}, a.log))
	}

	riskHandler := risk.NewHandler(a.engine, a.provider, a.trail, a.log)
	riskHandler.RegisterRoutes(api, a.adminGuard(auth.RoleSecurityAdmin)...)

	if a.verdicts != nil {
		var guard []gin.HandlerFunc
		if a.rbac != nil {
			guard = []gin.HandlerFunc{a.rbac.Authenticate(), a.rbac.RequirePermission(auth.PermVerdictsRead)}
		} else {
			guard = []gin.HandlerFunc{denyAdmin}
		}
		a.verdicts.RegisterRoutes(r, guard...)
	}

	return r
}

// adminGuard requires a token with the given role. Without a JWT secret the
// admin endpoints are closed.
func (a *app) adminGuard(role auth.Role) []gin.HandlerFunc {
	if a.rbac == nil {
		return []gin.HandlerFunc{denyAdmin}
	}
	return []gin.HandlerFunc{a.rbac.Authenticate(), a.rbac.RequireRole(role)}
}

func denyAdmin(c *gin.Context) {
	apperrors.HandleError(c, apperrors.Forbidden("Admin API is disabled: jwt_secret is not configured"))
	c.Abort()
}
