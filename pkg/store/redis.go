package store

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rlarcher1021/seazwf-sub000/pkg/config"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	RequireTLS bool
	TLS        RedisTLSConfig
}

// RedisTLSConfig: Insecure skips verification and is refused unless AllowInsecure is also set.
type RedisTLSConfig struct {
	Enabled       bool
	Insecure      bool
	AllowInsecure bool
	ServerName    string
	CAFile        string
	CertFile      string
	KeyFile       string
}

func RedisConfigFromEnv() RedisConfig {
	return RedisConfig{
		Addr:       config.String("REDIS_ADDR", "localhost:6379"),
		Password:   config.String("REDIS_PASSWORD", ""),
		DB:         config.Int("REDIS_DB", 0),
		RequireTLS: config.Bool("REDIS_REQUIRE_TLS", false),
		TLS: RedisTLSConfig{
			Enabled:       config.Bool("REDIS_TLS", false),
			Insecure:      config.Bool("REDIS_TLS_INSECURE", false),
			AllowInsecure: config.Bool("REDIS_ALLOW_INSECURE_TLS", false),
			ServerName:    config.String("REDIS_TLS_SERVER_NAME", ""),
			CAFile:        config.String("REDIS_TLS_CA_CERT_FILE", ""),
			CertFile:      config.String("REDIS_TLS_CERT_FILE", ""),
			KeyFile:       config.String("REDIS_TLS_KEY_FILE", ""),
		},
	}
}

// NewRedis builds a client and pings it once.
func NewRedis(ctx context.Context, c RedisConfig) (*redis.Client, error) {
	tlsConfig, err := c.TLS.build()
	if err != nil {
		return nil, err
	}
	if c.RequireTLS && tlsConfig == nil {
		return nil, errors.New("REDIS_REQUIRE_TLS=true but REDIS_TLS is not enabled")
	}
	addr := c.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:      addr,
		Password:  c.Password,
		DB:        c.DB,
		TLSConfig: tlsConfig,
	})
	ctxPing, cancel := context.WithTimeout(ctx, time.Second*2)
	defer cancel()
	if err := client.Ping(ctxPing).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (c RedisTLSConfig) build() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: c.ServerName}
	if c.Insecure {
		if !c.AllowInsecure {
			return nil, errors.New("REDIS_TLS_INSECURE=true requires REDIS_ALLOW_INSECURE_TLS=true")
		}
		cfg.InsecureSkipVerify = true
	}
	if c.CAFile != "" {
		caBytes, err := os.ReadFile(filepath.Clean(c.CAFile))
		if err != nil {
			return nil, fmt.Errorf("read REDIS_TLS_CA_CERT_FILE: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, errors.New("parse REDIS_TLS_CA_CERT_FILE: no valid certificates")
		}
		cfg.RootCAs = pool
	}
	if c.CertFile != "" || c.KeyFile != "" {
		if c.CertFile == "" || c.KeyFile == "" {
			return nil, errors.New("both REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE must be set")
		}
		cert, err := tls.LoadX509KeyPair(filepath.Clean(c.CertFile), filepath.Clean(c.KeyFile))
		if err != nil {
			return nil, fmt.Errorf("load redis mTLS keypair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
