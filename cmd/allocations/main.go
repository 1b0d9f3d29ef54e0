package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/rlarcher1021/seazwf-sub000/pkg/allocation"
	"github.com/rlarcher1021/seazwf-sub000/pkg/config"
	"github.com/rlarcher1021/seazwf-sub000/pkg/events"
	"github.com/rlarcher1021/seazwf-sub000/pkg/hardening"
	"github.com/rlarcher1021/seazwf-sub000/pkg/metrics"
	"github.com/rlarcher1021/seazwf-sub000/pkg/ratelimit"
	"github.com/rlarcher1021/seazwf-sub000/pkg/store"
	"github.com/rlarcher1021/seazwf-sub000/pkg/store/pgstore"
	"github.com/rlarcher1021/seazwf-sub000/pkg/stream"
	"github.com/rlarcher1021/seazwf-sub000/pkg/telemetry"
	"github.com/rlarcher1021/seazwf-sub000/pkg/visibility"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

type allocationsDB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Close()
}

type eventPublisher interface {
	events.Publisher
	Close() error
}

type allocationsInitTelemetryFunc func(ctx context.Context, cfg telemetry.Config, logger *slog.Logger) (func(context.Context) error, error)
type allocationsOpenDBFunc func(ctx context.Context) (allocationsDB, error)
type allocationsOpenRedisFunc func(ctx context.Context) (*redis.Client, error)
type allocationsOpenKafkaFunc func(cfg events.KafkaConfig) (eventPublisher, error)
type allocationsListenFunc func(server *http.Server) error

// Testable variables for main()
var (
	logFatalf     = log.Fatalf
	loadDotenv    = config.LoadDotenv
	initTelemetry = telemetry.Init
	openDBFn      = func(ctx context.Context) (allocationsDB, error) {
		return store.NewPostgresPool(ctx, store.PostgresConfigFromEnv())
	}
	openRedisFn = func(ctx context.Context) (*redis.Client, error) {
		return store.NewRedis(ctx, store.RedisConfigFromEnv())
	}
	openKafkaFn = func(cfg events.KafkaConfig) (eventPublisher, error) {
		return events.NewKafkaPublisher(cfg)
	}
	listenFn = func(server *http.Server) error { return server.ListenAndServe() }
)

func main() {
	if err := loadDotenv(); err != nil {
		logFatalf("allocations: dotenv: %v", err)
	}
	if err := runAllocations(initTelemetry, openDBFn, openRedisFn, openKafkaFn, listenFn); err != nil {
		logFatalf("allocations: %v", err)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if config.Bool("LOG_DEBUG", false) {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).
		With("service", telemetry.DefaultServiceName)
}

func runAllocations(
	initTelemetry allocationsInitTelemetryFunc,
	openDB allocationsOpenDBFunc,
	openRedis allocationsOpenRedisFunc,
	openKafka allocationsOpenKafkaFunc,
	listen allocationsListenFunc,
) error {
	ctx := context.Background()
	logger := newLogger()
	slog.SetDefault(logger)

	environment := config.String("ENVIRONMENT", "")
	authMode := config.String("AUTH_MODE", "oidc_hs256")
	authSecret := config.String("OIDC_HS256_SECRET", "")
	auditSalt := config.String("AUDIT_HASH_SALT", "")
	auditRedact := config.Bool("AUDIT_REDACT", false)
	corsOrigins := config.List("CORS_ALLOWED_ORIGINS")
	if err := hardening.ValidateProduction(hardening.Options{
		Environment:        environment,
		AuthMode:           authMode,
		AuthSecret:         authSecret,
		DatabaseRequireTLS: config.Bool("DATABASE_REQUIRE_TLS", false),
		RedisAddr:          config.String("REDIS_ADDR", ""),
		RedisRequireTLS:    config.Bool("REDIS_REQUIRE_TLS", false),
		RedisTLSInsecure:   config.Bool("REDIS_TLS_INSECURE", false) || config.Bool("REDIS_ALLOW_INSECURE_TLS", false),
		CORSAllowedOrigins: corsOrigins,
		AuditRedact:        auditRedact,
		AuditHashSalt:      auditSalt,
	}); err != nil {
		return err
	}

	shutdown, err := initTelemetry(ctx, telemetry.ConfigFromEnv(), logger)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	pool, err := openDB(ctx)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	redisClient, err := openRedis(ctx)
	if err != nil {
		logger.Warn("redis unavailable, falling back to in-memory limits and idempotency", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	hub := stream.NewHub()
	publishers := events.Multi{hub}
	if brokers := config.List("KAFKA_BROKERS"); len(brokers) > 0 {
		kafkaPub, err := openKafka(events.KafkaConfig{
			Brokers: brokers,
			Topic:   config.String("KAFKA_ALLOCATION_TOPIC", "allocations.changes"),
		})
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		defer func() { _ = kafkaPub.Close() }()
		publishers = append(publishers, kafkaPub)
	}

	window := config.DurationSec("RATE_LIMIT_WINDOW_SEC", 60)
	if window <= 0 {
		window = time.Minute
	}
	var limiter ratelimit.Limiter = ratelimit.NewInMemory(window)
	if redisClient != nil {
		limiter = ratelimit.NewRedis(redisClient, window)
	}

	maxBody := int64(config.Int("MAX_REQUEST_BODY_BYTES", 1<<20))
	if maxBody <= 0 {
		maxBody = 1 << 20
	}

	repo := pgstore.New(pool, []byte(auditSalt), auditRedact)
	reg := metrics.NewRegistry()
	s := &Server{
		Actors:  repo,
		Budgets: &visibility.Resolver{DB: pool},
		Allocations: &allocation.Service{
			Store:     repo,
			Publisher: publishers,
			Decisions: reg,
			Logger:    logger,
		},
		Idempotency: &store.Idempotency{
			Cache: store.NewCache(ctx, redisClient),
			TTL:   config.DurationSec("IDEMPOTENCY_TTL_SEC", 86400),
		},
		Metrics:             reg,
		Events:              hub,
		Limiter:             limiter,
		MutationLimit:       config.Int("MUTATION_RATE_LIMIT_PER_MIN", 120),
		AuthMode:            authMode,
		AuthSecret:          authSecret,
		AuthIssuer:          config.String("OIDC_ISSUER", ""),
		AuthAudience:        config.String("OIDC_AUDIENCE", ""),
		CORSAllowedOrigins:  corsOrigins,
		WSOriginPatterns:    config.List("WS_ALLOWED_ORIGINS"),
		MaxRequestBodyBytes: maxBody,
		VisibilityRecheck:   config.DurationSec("WS_VISIBILITY_RECHECK_SEC", 30),
		Logger:              logger,
	}

	addr := config.String("ADDR", ":8080")
	logger.Info("allocations listening", "addr", addr, "environment", environment)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: config.DurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       config.DurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      config.DurationSec("HTTP_WRITE_TIMEOUT_SEC", 30),
		IdleTimeout:       config.DurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	if listen == nil {
		return errors.New("listen function required")
	}
	return listen(server)
}
