package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/ehr/medhistory/internal/config"
	"github.com/ehr/medhistory/internal/domain/export"
	"github.com/ehr/medhistory/internal/domain/importer"
	"github.com/ehr/medhistory/internal/domain/insight"
	"github.com/ehr/medhistory/internal/domain/ledger"
	"github.com/ehr/medhistory/internal/domain/rollup"
	"github.com/ehr/medhistory/internal/domain/timeline"
	"github.com/ehr/medhistory/internal/domain/trend"
	"github.com/ehr/medhistory/internal/domain/workspace"
	"github.com/ehr/medhistory/internal/platform/auth"
	"github.com/ehr/medhistory/internal/platform/db"
	"github.com/ehr/medhistory/internal/platform/events"
	"github.com/ehr/medhistory/internal/platform/middleware"
	"github.com/ehr/medhistory/internal/platform/reasoning"
	"github.com/ehr/medhistory/internal/platform/telemetry"
)

const (
	serviceName    = "medhistory"
	serviceVersion = "0.1.0"
)

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// stores is the persistence layer behind the services.
type stores struct {
	workspaces workspace.Repository
	records    ledger.Repository
	timeline   timeline.Repository
	summaries  rollup.Repository
	series     trend.Repository
	receipts   importer.ReceiptRepository
	tx         db.Transactor
}

func pgStores(pool *pgxpool.Pool) stores {
	return stores{
		workspaces: workspace.NewRepoPG(pool),
		records:    ledger.NewRepoPG(pool),
		timeline:   timeline.NewRepoPG(pool),
		summaries:  rollup.NewRepoPG(pool),
		series:     trend.NewRepoPG(pool),
		receipts:   importer.NewReceiptRepoPG(pool),
		tx:         db.NewPGTransactor(pool),
	}
}

type services struct {
	workspaces *workspace.Service
	ledger     *ledger.Service
	rollup     *rollup.Service
	trends     *trend.Service
	importer   *importer.Service
	insight    *insight.Service
	export     *export.Service
}

func insightConfig(cfg *config.Config) insight.Config {
	return insight.Config{
		Timeout:     cfg.InsightTimeout,
		Freshness:   cfg.InsightFreshness,
		MinInterval: cfg.InsightMinInterval,
		RPS:         cfg.InsightRPS,
		Burst:       cfg.InsightBurst,
		MaxAttempts: cfg.InsightMaxAttempts,
	}
}

func newReasoner(cfg *config.Config) *reasoning.Client {
	return reasoning.NewClient(reasoning.Config{
		BaseURL: cfg.ReasoningBaseURL,
		APIKey:  cfg.ReasoningAPIKey,
		Model:   cfg.ReasoningModel,
		Timeout: cfg.InsightTimeout,
	})
}

func newServices(st stores, pub events.Publisher, reasoner insight.Reasoner, icfg insight.Config, metrics *telemetry.Collector, logger zerolog.Logger) *services {
	s := &services{workspaces: workspace.NewService(st.workspaces)}
	s.rollup = rollup.NewService(rollup.Deps{
		Summaries:  st.summaries,
		Records:    st.records,
		Workspaces: s.workspaces,
		Tx:         st.tx,
		Metrics:    metrics,
		Logger:     logger,
	})
	s.trends = trend.NewService(trend.Deps{
		Series:     st.series,
		Records:    st.records,
		Workspaces: s.workspaces,
		Tx:         st.tx,
		Metrics:    metrics,
		Logger:     logger,
	})
	s.ledger = ledger.NewService(ledger.Deps{
		Records:    st.records,
		Workspaces: s.workspaces,
		Timeline:   timeline.NewService(st.timeline),
		Tx:         st.tx,
		Rollup:     s.rollup,
		Trends:     s.trends,
		Publisher:  pub,
		Metrics:    metrics,
		Logger:     logger,
	})
	s.importer = importer.NewService(importer.Deps{
		Receipts:   st.receipts,
		Ledger:     s.ledger,
		Records:    st.records,
		Workspaces: s.workspaces,
		Metrics:    metrics,
		Logger:     logger,
	})
	s.insight = insight.NewService(insight.Deps{
		Summaries:  s.rollup,
		Records:    st.records,
		Trends:     s.trends,
		Workspaces: s.workspaces,
		Reasoner:   reasoner,
		Config:     icfg,
		Metrics:    metrics,
		Logger:     logger,
	})
	s.export = export.NewService(st.records, s.trends, s.workspaces)
	return s
}

// newBus picks the Redis stream when a URL is configured and the in-process
// channel otherwise.
func newBus(cfg *config.Config, consumer string, metrics *telemetry.Collector, logger zerolog.Logger) (events.Bus, []db.Check, error) {
	if cfg.RedisURL == "" {
		logger.Warn().Msg("REDIS_URL not set, workspace changes stay in process")
		return events.NewLocalBus(256, logger, metrics), nil, nil
	}
	client, err := events.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	bus := events.NewRedisBus(client, events.RedisConfig{
		Stream:   cfg.EventsStream,
		Group:    cfg.EventsGroup,
		Consumer: consumer,
	}, logger, metrics)
	check := db.Check{Name: "redis", Ping: func(ctx context.Context) error { return client.Ping(ctx).Err() }}
	return bus, []db.Check{check}, nil
}

type routerDeps struct {
	cfg      *config.Config
	svcs     *services
	metrics  *telemetry.Collector
	gatherer prometheus.Gatherer
	tracer   trace.TracerProvider
	logger   zerolog.Logger
	checks   []db.Check
}

func newRouter(d routerDeps) *echo.Echo {
	cfg := d.cfg
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(d.logger))
	e.Use(middleware.RequestID())
	e.Use(telemetry.TracingMiddleware(d.tracer))
	e.Use(d.metrics.MetricsMiddleware())
	e.Use(middleware.Logger(d.logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Actor-ID"},
	}))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/metrics"))
	}

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", db.HealthHandler(d.checks...))
	e.GET("/metrics", echo.WrapHandler(telemetry.Handler(d.gatherer)))

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	svcs := d.svcs
	workspace.NewHandler(svcs.workspaces).RegisterRoutes(apiV1)
	ledger.NewHandler(svcs.ledger).RegisterRoutes(apiV1)
	importer.NewHandler(svcs.importer).RegisterRoutes(apiV1)
	rollup.NewHandler(svcs.rollup).RegisterRoutes(apiV1)
	trend.NewHandler(svcs.trends).RegisterRoutes(apiV1)
	insight.NewHandler(svcs.insight).RegisterRoutes(apiV1)
	export.NewHandler(svcs.export).RegisterRoutes(apiV1)
	return e
}

// connect loads configuration and opens the database pool.
func connect(ctx context.Context) (*config.Config, *pgxpool.Pool, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, zerolog.Nop(), err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		return nil, nil, logger, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolConfig{
		MaxConns:          cfg.DBMaxConns,
		MinConns:          cfg.DBMinConns,
		HealthCheckPeriod: 30 * time.Second,
	})
	if err != nil {
		return nil, nil, logger, fmt.Errorf("connect database: %w", err)
	}
	return cfg, pool, logger, nil
}
