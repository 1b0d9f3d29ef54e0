package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rlarcher1021/seazwf-sub000/pkg/httpx"
)

// Middleware limits requests by the key that keyFn derives. Requests without a
// key (keyFn returns false) pass through unlimited.
func Middleware(l Limiter, limit int, keyFn func(*http.Request) (string, bool)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := keyFn(r)
			if !ok || l == nil {
				next.ServeHTTP(w, r)
				return
			}
			d := l.Allow(r.Context(), key, limit)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter(time.Now().UTC())))
				httpx.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
