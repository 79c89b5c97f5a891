package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/kreezus/yengapay-gateway/internal/cart"
	"github.com/kreezus/yengapay-gateway/internal/checkout"
	"github.com/kreezus/yengapay-gateway/internal/common"
	"github.com/kreezus/yengapay-gateway/internal/config"
	"github.com/kreezus/yengapay-gateway/internal/db"
	"github.com/kreezus/yengapay-gateway/internal/health"
	"github.com/kreezus/yengapay-gateway/internal/lock"
	"github.com/kreezus/yengapay-gateway/internal/obs"
	"github.com/kreezus/yengapay-gateway/internal/order"
	"github.com/kreezus/yengapay-gateway/internal/ratelimit"
	"github.com/kreezus/yengapay-gateway/internal/webhook"
	"github.com/kreezus/yengapay-gateway/internal/yengapay"
)

const serviceName = "yengapay-gateway"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "yengapay")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   serviceName,
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				ctx := context.Background()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, serviceName)
	if err != nil {
		logger.Fatal().Err(err).Msg("database bootstrap")
	}
	defer pool.Close()

	if err := db.Migrate(cfg.MigrationsURL, cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	cartStore := cart.NewStore(pool)
	orderStore := order.NewStore(pool)

	gateway := yengapay.NewClient(cfg.YengaPay, cfg.GatewayBaseURL, cfg.GatewayTimeout, logger)

	checkoutSvc := &checkout.Service{
		Carts:          cartStore,
		Orders:         orderStore,
		Gateway:        gateway,
		Currency:       cfg.CurrencyCode,
		Locale:         cfg.LocaleID,
		GatewayTimeout: cfg.GatewayTimeout,
		Logger:         logger,
	}
	checkoutHandler := &checkout.Handler{
		Svc:       checkoutSvc,
		Enabled:   cfg.YengaPay.Configured(),
		ReturnURL: cfg.CheckoutReturnURL,
		Logger:    logger,
	}
	if !cfg.YengaPay.Configured() {
		logger.Warn().Msg("yengapay credentials missing, pay endpoint disabled")
	}
	if cfg.WebhookURL() != "" {
		logger.Info().Str("webhook_url", cfg.WebhookURL()).Msg("register this callback in the yengapay dashboard")
	}

	dispatcher := &webhook.Dispatcher{
		Secret:    cfg.YengaPay.WebhookSecret,
		Orders:    orderStore,
		Locks:     &lock.Locker{R: redisClient},
		LockTTL:   cfg.OrderLockTTL,
		Replay:    redisClient,
		ReplayTTL: cfg.WebhookReplayTTL,
		Logger:    logger,
	}
	webhookHandler := &webhook.Handler{Dispatcher: dispatcher, Logger: logger}

	var webhookLimiter *limiter.Limiter
	if cfg.WebhookRateLimit > 0 {
		store, err := limiterredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "ypwh-rate",
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise rate limit store")
		} else {
			webhookLimiter = limiter.New(store, limiter.Rate{
				Period: cfg.WebhookRateWindow,
				Limit:  int64(cfg.WebhookRateLimit),
			})
		}
	}
	webhookRate := ratelimit.Handler{
		Limiter: webhookLimiter,
		Config:  ratelimit.Config{Key: common.ClientIP},
		OnError: func(err error) {
			logger.Error().Err(err).Msg("rate limit store")
		},
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, nil, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{db: pool, redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/healthz/live", healthHandler.Live)
	r.Get("/healthz/ready", healthHandler.Ready)

	r.Post("/checkout/{cartId}/pay", checkoutHandler.Pay)
	r.With(webhookRate.Middleware).Post("/webhook", webhookHandler.Receive)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}
