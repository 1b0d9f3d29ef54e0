// Package auth authenticates API callers. The token only names the user; role
// and department are loaded from the database on every request.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rlarcher1021/seazwf-sub000/pkg/httpx"

	"github.com/golang-jwt/jwt/v5"
)

const (
	ModeOff    = "off"
	ModeHS256  = "oidc_hs256"
	DevUserHdr = "X-Dev-User-ID"
)

// Principal is the authenticated caller. UserID is the numeric token subject.
type Principal struct {
	UserID  int64
	Subject string
}

type contextKey string

const principalContextKey contextKey = "allocations.principal"

type MiddlewareConfig struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
	now      func() time.Time
}

type MiddlewareOption func(*MiddlewareConfig)

func WithIssuer(issuer string) MiddlewareOption {
	return func(cfg *MiddlewareConfig) {
		cfg.Issuer = strings.TrimSpace(issuer)
	}
}

func WithAudience(audience string) MiddlewareOption {
	return func(cfg *MiddlewareConfig) {
		cfg.Audience = strings.TrimSpace(audience)
	}
}

func WithLeeway(d time.Duration) MiddlewareOption {
	return func(cfg *MiddlewareConfig) {
		cfg.Leeway = d
	}
}

// Middleware authenticates requests. In ModeOff the caller names itself with
// the X-Dev-User-ID header; startup refuses that mode outside development.
func Middleware(mode, secret string, options ...MiddlewareOption) func(http.Handler) http.Handler {
	mode = strings.ToLower(strings.TrimSpace(mode))
	cfg := MiddlewareConfig{now: time.Now}
	for _, opt := range options {
		opt(&cfg)
	}
	if mode == "" || mode == ModeOff {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				id, err := parseSubject(r.Header.Get(DevUserHdr))
				if err != nil {
					httpx.Error(w, http.StatusUnauthorized, "missing "+DevUserHdr+" header")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), Principal{UserID: id, Subject: strconv.FormatInt(id, 10)})))
			})
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
				httpx.Error(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			token := strings.TrimSpace(header[len("Bearer "):])
			var (
				p   Principal
				err error
			)
			switch mode {
			case ModeHS256:
				p, err = VerifyHS256Token(token, secret, cfg)
			default:
				err = errors.New("unsupported auth mode")
			}
			if err != nil {
				httpx.Error(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// VerifyHS256Token checks signature, expiry, issuer and audience, and
// requires a numeric subject.
func VerifyHS256Token(token, secret string, cfg MiddlewareConfig) (Principal, error) {
	if secret == "" {
		return Principal{}, errors.New("secret is required")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.now != nil {
		opts = append(opts, jwt.WithTimeFunc(cfg.now))
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	id, err := parseSubject(claims.Subject)
	if err != nil {
		return Principal{}, err
	}
	return Principal{UserID: id, Subject: claims.Subject}, nil
}

func parseSubject(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("subject required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("subject %q is not a user id", raw)
	}
	return id, nil
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	v := ctx.Value(principalContextKey)
	if v == nil {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}
