package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/cart"
	"github.com/noah-isme/backend-kasir/internal/config"
	"github.com/noah-isme/backend-kasir/internal/health"
	"github.com/noah-isme/backend-kasir/internal/obs"
	"github.com/noah-isme/backend-kasir/internal/offer"
	"github.com/noah-isme/backend-kasir/internal/pricing"
	"github.com/noah-isme/backend-kasir/internal/ratelimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsEnabled := cfg.Obs.EnablePrometheus
	if metricsEnabled {
		obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)
	}

	tracingEnabled := cfg.Obs.EnableTracing
	if tracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   cfg.Obs.ServiceName,
			Endpoint:      cfg.Obs.OTLPEndpoint,
			SamplingRatio: cfg.Obs.TracingSampleRate,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	diag := pricing.NewLogDiagnostics(logger.With().Str("component", "pricing").Logger())
	rules, err := loadRules(cfg.PricingRulesFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.PricingRulesFile).Msg("load pricing rules")
	}
	engine := pricing.NewEngine(rules, diag)
	logger.Info().Int("rules", len(rules.Rules())).Int("tiers", len(rules.Tiers())).Str("tax_rate", rules.TaxRate().String()).Msg("pricing rules loaded")

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var (
		offers offer.Source = offer.NewStaticSource()
		pool   *pgxpool.Pool
	)
	if cfg.DatabaseURL != "" {
		if err := offer.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migrate customer offers")
		}
		poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse database config")
		}
		poolConfig.ConnConfig.Tracer = obs.QueryTracer{Logger: logger}
		if poolConfig.ConnConfig.RuntimeParams == nil {
			poolConfig.ConnConfig.RuntimeParams = map[string]string{}
		}
		poolConfig.ConnConfig.RuntimeParams["application_name"] = cfg.Obs.ServiceName
		pool, err = pgxpool.NewWithConfig(startCtx, poolConfig)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect database")
		}
		defer pool.Close()
		if err := pool.Ping(startCtx); err != nil {
			logger.Fatal().Err(err).Msg("ping database")
		}
		breaker := offer.NewBreaker(5, 0.5, 30*time.Second, logger.With().Str("component", "offer_breaker").Logger())
		offers = offer.NewGuardedSource(offer.NewPostgresSource(pool), breaker)
	} else {
		logger.Warn().Msg("DATABASE_URL not set, customer offers are served from memory")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse redis url")
		}
		redisClient = redis.NewClient(redisOpts)
		if err := redisotel.InstrumentTracing(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis tracing")
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
		if err := redisClient.Ping(startCtx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("ping redis")
		}
		offers = offer.NewCachedSource(offers, redisClient, cfg.OfferCacheTTL, logger.With().Str("component", "offer_cache").Logger())
	}

	registry := cart.NewRegistry(engine, cfg.CartTTL)
	go registry.RunSweeper(ctx, time.Minute, logger)
	if cfg.PricingRulesFile != "" {
		go reloadOnHangup(ctx, cfg.PricingRulesFile, registry, diag, logger)
	}

	cartHandler := &cart.Handler{
		Carts:  registry,
		Offers: offers,
		Logger: logger.With().Str("component", "cart").Logger(),
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, obs.ParseBucketsCSV(cfg.Obs.HTTPBucketsMS), nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if cfg.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	healthHandler := health.Handler{Checker: readinessChecker{db: pool, redis: redisClient}}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	var limit ratelimit.Handler
	if cfg.RateLimitEnabled() {
		lim, err := ratelimit.NewLimiter(cfg.RateLimit, redisClient)
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise rate limiter")
		}
		limit = ratelimit.Handler{
			Limiter: lim,
			OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
		}
	}

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(limit.Middleware)
		v.Use(middleware.RequestSize(cfg.MaxBodyBytes))
		cartHandler.Register(v)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func loadRules(path string) (pricing.Config, error) {
	if path == "" {
		return pricing.DefaultConfig(), nil
	}
	return pricing.LoadConfigFile(path)
}

// reloadOnHangup re-reads the rule file on SIGHUP and re-prices open carts.
// A file that fails validation leaves the current rules in place.
func reloadOnHangup(ctx context.Context, path string, registry *cart.Registry, diag pricing.Diagnostics, logger zerolog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			rules, err := pricing.LoadConfigFile(path)
			if err != nil {
				logger.Error().Err(err).Str("file", path).Msg("reload pricing rules")
				continue
			}
			registry.SetEngine(pricing.NewEngine(rules, diag))
			logger.Info().Str("file", path).Int("rules", len(rules.Rules())).Msg("pricing rules reloaded")
		}
	}
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return health.ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return health.ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}
