package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/greengate-br/greengate/internal/model"
)

// KeyFunc extracts the rate limit key from a request.
// Returns empty string to skip rate limiting for this request.
type KeyFunc func(r *http.Request) string

// Middleware returns HTTP middleware that enforces rule on every request
// keyFunc yields a key for. Preflight requests pass through untouched.
// onLimited, when non-nil, is called for every rejected request.
// Quota-aware layers upstream may have set the X-RateLimit headers
// already; on admitted requests those take precedence.
func Middleware(limiter *Limiter, rule Rule, keyFunc KeyFunc, onLimited func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			result := limiter.Allow(r.Context(), rule, key)

			if !result.Allowed {
				if onLimited != nil {
					onLimited()
				}
				for k, v := range result.FormatHeaders() {
					w.Header().Set(k, v)
				}
				retryAfter := time.Until(result.ResetAt).Seconds()
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter)))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(model.ErrorResponse{
					Error:  "too many requests",
					Detail: "request rate exceeds the limit for this client",
					Code:   model.ErrCodeRateLimited,
				})
				return
			}

			if w.Header().Get("X-RateLimit-Limit") == "" {
				for k, v := range result.FormatHeaders() {
					w.Header().Set(k, v)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IPKeyFunc identifies anonymous clients by IP. Uses RemoteAddr only.
// X-Forwarded-For is not trusted because any client can set it to an
// arbitrary value and bypass the limit. When deployed behind a trusted
// proxy, configure the proxy to rewrite RemoteAddr instead.
func IPKeyFunc(r *http.Request) string {
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return "ip:" + addr[:idx]
	}
	return "ip:" + addr
}

// KeyPrefixFunc identifies authenticated clients by the display prefix of
// their API key, falling back to IP when the request carries no key.
func KeyPrefixFunc(prefixFromRequest func(r *http.Request) string) KeyFunc {
	return func(r *http.Request) string {
		if p := prefixFromRequest(r); p != "" {
			return "key:" + p
		}
		return IPKeyFunc(r)
	}
}
