package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/agenda-clinica/agenda/libs/auth"
	"github.com/agenda-clinica/agenda/libs/config"
	"github.com/agenda-clinica/agenda/libs/db"
	"github.com/agenda-clinica/agenda/libs/httpx"
	"github.com/agenda-clinica/agenda/libs/kafkax"
	otelx "github.com/agenda-clinica/agenda/libs/otel"
	"github.com/agenda-clinica/agenda/libs/runtime"
	"github.com/agenda-clinica/agenda/services/booking-service/internal/access"
	"github.com/agenda-clinica/agenda/services/booking-service/internal/handlers"
	"github.com/agenda-clinica/agenda/services/booking-service/internal/outbox"
	"github.com/agenda-clinica/agenda/services/booking-service/internal/reservation"
	"github.com/agenda-clinica/agenda/services/booking-service/internal/retention"
	"github.com/agenda-clinica/agenda/services/booking-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = config.LoadDotEnv()

	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL, db.Options{MaxConns: int32(config.Int("DB_MAX_CONNS", 10))})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	if config.Bool("MIGRATE_ON_START", true) {
		if err := storage.Migrate(ctx, pool); err != nil {
			logger.Error("schema migration failed", "err", err)
			panic(err)
		}
		logger.Info("schema up to date")
	}

	users := storage.NewUserRepository(pool)
	if err := access.EnsureAdmin(ctx, users, config.String("ADMIN_EMAIL", ""), config.String("ADMIN_PASSWORD", ""), logger); err != nil {
		logger.Error("admin bootstrap failed", "err", err)
	}

	outboxRepo := outbox.NewRepository()
	brokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go outboxPublisher.Run(ctx)

	sweeper := retention.NewSweeper(storage.NewRetentionRepository(pool), logger, retention.Config{
		Interval:     config.Duration("RETENTION_INTERVAL", 10*time.Minute),
		KeyTTL:       config.Duration("IDEMPOTENCY_KEY_TTL", 24*time.Hour),
		PublishedTTL: config.Duration("OUTBOX_RETENTION", 7*24*time.Hour),
		NoPublisher:  strings.TrimSpace(brokers) == "",
	})
	go sweeper.Run(ctx)

	engine := reservation.NewEngine(
		storage.NewBookingStore(pool, outboxRepo, config.Duration("LOCK_TIMEOUT", 5*time.Second)),
		logger,
	)
	signer := auth.NewSigner(jwtSecret, config.Duration("TOKEN_TTL", 8*time.Hour))
	authenticator, err := access.NewAuthenticator(users, signer)
	if err != nil {
		panic(err)
	}

	checks := runtime.ReadyChecks{{Name: "db", Check: db.ReadyCheck(pool)}}
	if strings.TrimSpace(brokers) != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}

	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 30)
	var limiter httpx.Limiter
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()

		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "agenda:rl"))
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: rl.Ping})
		limiter = rl
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
	} else {
		limiter = httpx.NewRateLimiter(limitPerMinute, time.Minute)
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}
	trustedProxies, err := httpx.ParseTrustedProxies(config.List("TRUSTED_PROXIES", ""))
	if err != nil {
		logger.Error("invalid TRUSTED_PROXIES", "err", err)
		panic(err)
	}
	limited := httpx.RateLimit(limiter, httpx.ClientIP(trustedProxies), logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))

	bookingHandler := handlers.NewBookingHandler(engine, storage.NewCatalogRepository(pool), authenticator, pool.Now, logger)
	mux := runtime.NewBaseMuxWithReady(checks...)
	bookingHandler.Routes(mux, access.RequireRole(signer, auth.RoleAdmin), limited)

	handler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   config.List("CORS_ALLOWED_ORIGINS", ""),
			AllowedMethods:   config.List("CORS_ALLOWED_METHODS", "GET,POST,PATCH,DELETE,OPTIONS"),
			AllowedHeaders:   config.List("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id,Idempotency-Key"),
			AllowCredentials: config.Bool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           config.Duration("CORS_MAX_AGE", 10*time.Minute),
		}),
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(int64(config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20))),
		httpx.WithTimeout(time.Duration(config.Int("REQUEST_TIMEOUT_SECONDS", 10))*time.Second),
	)
	handler = otelhttp.NewHandler(handler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	startGRPCHealth(ctx, logger, service, checks)

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
