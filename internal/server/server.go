package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/greengate-br/greengate/internal/auth"
	"github.com/greengate-br/greengate/internal/metrics"
	"github.com/greengate-br/greengate/internal/ratelimit"
)

// Server is the GreenGate HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Handlers returns the underlying handler set.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Limiter and Metrics are optional (nil = disabled / private
// registry).
type ServerConfig struct {
	// Required dependencies.
	DB       Store
	Engine   Screener
	Recorder Issuer
	Renderer Renderer
	Versions VersionSource
	JWTMgr   *auth.JWTManager
	Logger   *slog.Logger

	// Optional dependencies.
	Limiter *ratelimit.Limiter
	Metrics *metrics.Metrics

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	AllowedOrigins      []string

	// Admin identity.
	AdminUsername     string
	AdminPasswordHash string

	// Rate limits per minute.
	AuthenticatedPerMinute int
	AnonymousPerMinute     int

	// Freshness window for stored-plot verdicts.
	ValidationExpiry time.Duration
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                cfg.DB,
		Engine:            cfg.Engine,
		Recorder:          cfg.Recorder,
		Renderer:          cfg.Renderer,
		Versions:          cfg.Versions,
		JWTMgr:            cfg.JWTMgr,
		Limiter:           cfg.Limiter,
		Metrics:           cfg.Metrics,
		Logger:            cfg.Logger,
		Version:           cfg.Version,
		AdminUsername:     cfg.AdminUsername,
		AdminPasswordHash: cfg.AdminPasswordHash,
		ValidationExpiry:  cfg.ValidationExpiry,
	})

	if cfg.AuthenticatedPerMinute <= 0 {
		cfg.AuthenticatedPerMinute = 100
	}
	if cfg.AnonymousPerMinute <= 0 {
		cfg.AnonymousPerMinute = 20
	}

	// Rate limit rules. Authenticated traffic is keyed by the API key
	// prefix, anonymous traffic by peer IP. Login and registration get
	// tighter per-IP windows of their own.
	limited := h.metrics.RateLimitedTotal.Inc
	authedRL := ratelimit.Middleware(cfg.Limiter, ratelimit.Rule{
		Name: "authenticated", Limit: cfg.AuthenticatedPerMinute, Window: time.Minute,
	}, grantKeyFunc, limited)
	anonRL := ratelimit.Middleware(cfg.Limiter, ratelimit.Rule{
		Name: "anonymous", Limit: cfg.AnonymousPerMinute, Window: time.Minute,
	}, ratelimit.IPKeyFunc, limited)
	loginRL := ratelimit.Middleware(cfg.Limiter, ratelimit.Rule{
		Name: "login", Limit: 5, Window: 5 * time.Minute,
	}, ratelimit.IPKeyFunc, limited)
	registerRL := ratelimit.Middleware(cfg.Limiter, ratelimit.Rule{
		Name: "register", Limit: 3, Window: 24 * time.Hour,
	}, ratelimit.IPKeyFunc, limited)

	// keyed wraps a handler with quota admission followed by the
	// authenticated rate limit, in that order.
	keyed := func(hf http.HandlerFunc) http.Handler {
		return h.requireKey(authedRL(hf))
	}
	admin := func(hf http.HandlerFunc) http.Handler {
		return h.requireAdmin(hf)
	}
	public := func(hf http.HandlerFunc) http.Handler {
		return anonRL(hf)
	}

	mux := http.NewServeMux()

	// Screening.
	mux.Handle("POST /api/v1/validations/quick", public(h.HandleQuickValidate))
	mux.Handle("POST /api/v1/validations/validate", keyed(h.HandleValidate))
	mux.Handle("POST /api/v1/validations/plot/{id}", keyed(h.HandleValidatePlot))
	mux.Handle("POST /api/v1/validations/batch", keyed(h.HandleBatchValidate))
	mux.Handle("GET /api/v1/validations/history/{plot_id}", keyed(h.HandleValidationHistory))
	mux.Handle("GET /api/v1/validations/{id}", keyed(h.HandleGetValidation))

	// Reports.
	mux.Handle("POST /api/v1/reports/due-diligence/quick", keyed(h.HandleDueDiligenceReport))
	mux.Handle("POST /api/v1/reports/due-diligence/preview", keyed(h.HandleReportPreview))
	mux.Handle("POST /api/v1/reports/verify/{code}/geometry", keyed(h.HandleVerifyGeometry))
	mux.Handle("GET /api/v1/reports/reproduce/{code}", keyed(h.HandleReproduceReport))
	mux.Handle("GET /api/v1/reports/status", keyed(h.HandleReportStatus))

	// Public verification. Auditors follow the QR code without a key.
	mux.Handle("GET /api/v1/reports/verify/{code}", public(h.HandleVerifyReport))
	mux.Handle("GET /api/v1/reports/verify/{code}/page", public(h.HandleVerifyPage))

	// Metadata.
	mux.Handle("GET /api/v1/metadata/data-freshness", public(h.HandleDataFreshness))

	// Auth.
	mux.Handle("POST /api/v1/auth/login", loginRL(http.HandlerFunc(h.HandleLogin)))
	mux.Handle("POST /api/v1/auth/register", registerRL(http.HandlerFunc(h.HandleRegister)))
	mux.Handle("POST /api/v1/auth/logout", http.HandlerFunc(h.HandleLogout))

	// Admin key management.
	mux.Handle("POST /api/v1/admin/api-keys", admin(h.HandleCreateKey))
	mux.Handle("GET /api/v1/admin/api-keys", admin(h.HandleListKeys))
	mux.Handle("GET /api/v1/admin/api-keys/stats", admin(h.HandleKeyStats))
	mux.Handle("GET /api/v1/admin/api-keys/plans", admin(h.HandleListPlans))
	mux.Handle("PUT /api/v1/admin/api-keys/{id}", admin(h.HandleUpdateKey))
	mux.Handle("DELETE /api/v1/admin/api-keys/{id}", admin(h.HandleDeleteKey))
	mux.Handle("POST /api/v1/admin/api-keys/{id}/revoke", admin(h.HandleRevokeKey))
	mux.Handle("POST /api/v1/admin/api-keys/{id}/reactivate", admin(h.HandleReactivateKey))
	mux.Handle("POST /api/v1/admin/api-keys/{id}/upgrade", admin(h.HandleUpgradeKey))
	mux.Handle("POST /api/v1/admin/api-keys/{id}/reset-quota", admin(h.HandleResetKeyQuota))

	// Service endpoints (no prefix).
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /health/detailed", h.HandleHealthDetailed)
	mux.Handle("GET /metrics", promhttp.HandlerFor(h.metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /", h.HandleRoot)

	maxBody := cfg.MaxRequestBodyBytes
	if maxBody <= 0 {
		maxBody = 5 * 1024 * 1024
	}

	// Middleware chain (outermost executes first): request ID →
	// security headers → CORS → body size limit → tracing → logging →
	// metrics → recovery → route handler. CORS sits above everything
	// that can answer early so its headers reach error responses too.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = metricsMiddleware(h.metrics, mux, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = maxBodyMiddleware(maxBody, handler)
	handler = corsMiddleware(cfg.AllowedOrigins, handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// grantKeyFunc keys the authenticated rate limit by API key prefix,
// falling back to peer IP when admission has not run.
func grantKeyFunc(r *http.Request) string {
	if grant := GrantFromContext(r.Context()); grant != nil {
		return "key:" + grant.Key.KeyPrefix
	}
	return ratelimit.IPKeyFunc(r)
}

// metricsMiddleware records request counts and latencies against the
// matched route pattern, so path parameters do not explode cardinality.
func metricsMiddleware(m *metrics.Metrics, mux *http.ServeMux, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, route := mux.Handler(r)
		if route == "" {
			route = "unmatched"
		}
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		m.RequestsTotal.WithLabelValues(
			r.Method, route, fmt.Sprintf("%dxx", wrapped.statusCode/100),
		).Inc()
		m.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
