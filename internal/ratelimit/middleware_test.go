package ratelimit

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimiter(t *testing.T) *Limiter {
	t.Helper()
	m, _ := newTestStore(t)
	return New(m, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareRejectsAndCountsOverLimit(t *testing.T) {
	limited := 0
	rule := Rule{Name: "mw", Limit: 1, Window: time.Minute}
	h := Middleware(testLimiter(t), rule, IPKeyFunc, func() { limited++ })(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.9:4040"

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
	assert.Zero(t, limited)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, 1, limited)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestMiddlewareKeepsUpstreamHeadersWhenAllowed(t *testing.T) {
	rule := Rule{Name: "mw-upstream", Limit: 10, Window: time.Minute}
	inner := Middleware(testLimiter(t), rule, IPKeyFunc, nil)(okHandler())

	// a quota layer upstream already stamped the headers
	outer := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "3")
		w.Header().Set("X-RateLimit-Remaining", "2")
		inner.ServeHTTP(w, r)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.10:4040"
	w := httptest.NewRecorder()
	outer.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Remaining"))
}

func TestMiddlewareSkipsPreflightAndEmptyKeys(t *testing.T) {
	rule := Rule{Name: "mw-skip", Limit: 1, Window: time.Minute}
	none := func(*http.Request) string { return "" }
	h := Middleware(testLimiter(t), rule, none, nil)(okHandler())

	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
