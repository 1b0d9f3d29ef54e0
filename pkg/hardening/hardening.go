// Package hardening refuses insecure startup settings in production-like
// environments.
package hardening

import (
	"fmt"
	"strings"

	"github.com/rlarcher1021/seazwf-sub000/pkg/config"
)

type Options struct {
	Environment        string
	AuthMode           string
	AuthSecret         string
	DatabaseRequireTLS bool
	RedisAddr          string
	RedisRequireTLS    bool
	RedisTLSInsecure   bool
	CORSAllowedOrigins []string
	AuditRedact        bool
	AuditHashSalt      string
}

// ValidateAuthMode applies in every environment: disabling auth needs an
// environment that names itself as non-production.
func ValidateAuthMode(o Options) error {
	mode := strings.ToLower(strings.TrimSpace(o.AuthMode))
	if (mode == "" || mode == "off") && !config.IsExplicitNonProduction(o.Environment) {
		return fmt.Errorf("allocations: AUTH_MODE=off requires ENVIRONMENT=development|local|test, got %q", o.Environment)
	}
	if mode == "oidc_hs256" && strings.TrimSpace(o.AuthSecret) == "" {
		return fmt.Errorf("allocations: AUTH_MODE=oidc_hs256 requires OIDC_HS256_SECRET")
	}
	return nil
}

func ValidateProduction(o Options) error {
	if err := ValidateAuthMode(o); err != nil {
		return err
	}
	if !config.IsProductionLike(o.Environment) {
		return nil
	}
	if !o.DatabaseRequireTLS {
		return fmt.Errorf("allocations: production requires DATABASE_REQUIRE_TLS=true")
	}
	if strings.TrimSpace(o.RedisAddr) != "" {
		if !o.RedisRequireTLS {
			return fmt.Errorf("allocations: production requires REDIS_REQUIRE_TLS=true")
		}
		if o.RedisTLSInsecure {
			return fmt.Errorf("allocations: production forbids REDIS_TLS_INSECURE")
		}
	}
	if o.AuditRedact && len(o.AuditHashSalt) < 16 {
		return fmt.Errorf("allocations: AUDIT_REDACT requires AUDIT_HASH_SALT of at least 16 bytes")
	}
	return validateCORSOrigins(o.CORSAllowedOrigins)
}

func validateCORSOrigins(origins []string) error {
	valid := 0
	for _, origin := range origins {
		o := strings.TrimSpace(origin)
		if o == "" {
			continue
		}
		valid++
		lower := strings.ToLower(o)
		if lower == "*" {
			return fmt.Errorf("allocations: production forbids CORS wildcard origin")
		}
		if !strings.HasPrefix(lower, "https://") {
			return fmt.Errorf("allocations: production requires HTTPS CORS origin, got %q", o)
		}
		host := strings.TrimPrefix(lower, "https://")
		if strings.HasPrefix(host, "localhost") || strings.HasPrefix(host, "127.0.0.1") {
			return fmt.Errorf("allocations: production forbids localhost CORS origin %q", o)
		}
	}
	if valid == 0 {
		return fmt.Errorf("allocations: production requires explicit CORS_ALLOWED_ORIGINS")
	}
	return nil
}
