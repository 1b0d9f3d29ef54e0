package store

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rlarcher1021/seazwf-sub000/pkg/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	pgxPoolNewWithConfig   = pgxpool.NewWithConfig
	postgresConnectRetries = 30
	postgresRetryDelay     = 2 * time.Second
	postgresPingTimeout    = 2 * time.Second
	postgresSleep          = time.Sleep
)

// PostgresConfig describes the allocations database. URL wins over the parts.
type PostgresConfig struct {
	URL              string
	User             string
	Password         string
	Host             string
	Port             string
	Name             string
	SSLMode          string
	RequireTLS       bool
	ApplicationName  string
	StatementTimeout time.Duration
	MaxConns         int32
	MinConns         int32
}

func PostgresConfigFromEnv() PostgresConfig {
	return PostgresConfig{
		URL:              strings.TrimSpace(config.String("DATABASE_URL", "")),
		User:             strings.TrimSpace(config.String("DATABASE_USER", "allocations")),
		Password:         config.String("POSTGRES_PASSWORD", ""),
		Host:             strings.TrimSpace(config.String("DATABASE_HOST", "localhost")),
		Port:             strings.TrimSpace(config.String("DATABASE_PORT", "5432")),
		Name:             strings.TrimSpace(config.String("DATABASE_NAME", "azwork")),
		SSLMode:          strings.TrimSpace(config.String("DATABASE_SSLMODE", "disable")),
		RequireTLS:       config.Bool("DATABASE_REQUIRE_TLS", false),
		ApplicationName:  config.String("DATABASE_APPLICATION_NAME", "allocations"),
		StatementTimeout: time.Millisecond * time.Duration(config.Int("DATABASE_STATEMENT_TIMEOUT_MS", 10000)),
		MaxConns:         int32(config.Int("DATABASE_MAX_CONNS", 10)),
		MinConns:         int32(config.Int("DATABASE_MIN_CONNS", 1)),
	}
}

// DSN returns URL, or a postgres:// URL assembled from the parts.
func (c PostgresConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	user := c.User
	if user == "" {
		user = "allocations"
	}
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if _, err := strconv.Atoi(port); err != nil {
		port = "5432"
	}
	name := c.Name
	if name == "" {
		name = "azwork"
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	uri := &url.URL{
		Scheme: "postgres",
		Host:   host + ":" + port,
		Path:   "/" + name,
	}
	if c.Password != "" {
		uri.User = url.UserPassword(user, c.Password)
	} else {
		uri.User = url.User(user)
	}
	q := uri.Query()
	q.Set("sslmode", sslmode)
	uri.RawQuery = q.Encode()
	return uri.String()
}

// NewPostgresPool connects and pings, retrying while the database comes up.
func NewPostgresPool(ctx context.Context, c PostgresConfig) (*pgxpool.Pool, error) {
	dsn := c.DSN()
	if c.RequireTLS {
		if err := validatePostgresTLS(dsn); err != nil {
			return nil, err
		}
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if c.ApplicationName != "" {
		cfg.ConnConfig.RuntimeParams["application_name"] = c.ApplicationName
	}
	if c.StatementTimeout > 0 {
		cfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(c.StatementTimeout.Milliseconds(), 10)
	}
	cfg.MaxConns = 10
	if c.MaxConns > 0 {
		cfg.MaxConns = c.MaxConns
	}
	cfg.MinConns = 1
	if c.MinConns >= 0 && c.MinConns <= cfg.MaxConns {
		cfg.MinConns = c.MinConns
	}
	cfg.MaxConnIdleTime = time.Minute * 5
	var lastErr error
	for i := 0; i < postgresConnectRetries; i++ {
		pool, err := pgxPoolNewWithConfig(ctx, cfg)
		if err != nil {
			lastErr = err
			postgresSleep(postgresRetryDelay)
			continue
		}
		ctxPing, cancel := context.WithTimeout(ctx, postgresPingTimeout)
		err = pool.Ping(ctxPing)
		cancel()
		if err == nil {
			return pool, nil
		}
		lastErr = err
		pool.Close()
		postgresSleep(postgresRetryDelay)
	}
	return nil, fmt.Errorf("db ping retries exhausted: %w", lastErr)
}

func validatePostgresTLS(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	sslmode := strings.ToLower(strings.TrimSpace(parsed.Query().Get("sslmode")))
	switch sslmode {
	case "verify-full", "verify-ca", "require":
		return nil
	case "allow", "disable", "prefer":
		return fmt.Errorf("DATABASE_REQUIRE_TLS=true but DATABASE_URL sslmode=%q is insecure", sslmode)
	default:
		return fmt.Errorf("DATABASE_REQUIRE_TLS=true requires explicit sslmode=require|verify-ca|verify-full")
	}
}
