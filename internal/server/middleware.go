// Package server implements the HTTP API server for GreenGate.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/greengate-br/greengate/internal/auth"
	"github.com/greengate-br/greengate/internal/model"
	"github.com/greengate-br/greengate/internal/storage"
)

type contextKey string

const (
	contextKeyRequestID contextKey = "request_id"
	contextKeyGrant     contextKey = "quota_grant"
	contextKeyClaims    contextKey = "admin_claims"
)

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return v
	}
	return ""
}

// GrantFromContext extracts the quota grant set by the key admission
// middleware. Nil on public routes.
func GrantFromContext(ctx context.Context) *model.QuotaGrant {
	if v, ok := ctx.Value(contextKeyGrant).(*model.QuotaGrant); ok {
		return v
	}
	return nil
}

// ClaimsFromContext extracts the admin JWT claims from the context.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	if v, ok := ctx.Value(contextKeyClaims).(*auth.Claims); ok {
		return v
	}
	return nil
}

// requestIDMiddleware assigns a unique request ID to each request.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), contextKeyRequestID, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// securityHeadersMiddleware sets the baseline response headers.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware answers preflight requests and stamps CORS headers on
// every response, error responses from deeper middleware included. That
// is why it sits near the top of the chain.
func corsMiddleware(allowedOrigins []string, next http.Handler) http.Handler {
	wildcard := false
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			h := w.Header()
			switch {
			case wildcard:
				h.Set("Access-Control-Allow-Origin", "*")
			case allowed[origin]:
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key, X-Request-ID")
			h.Set("Access-Control-Expose-Headers",
				"X-Request-ID, X-Report-Code, X-Content-Hash, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset, Retry-After")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// maxBodyMiddleware rejects oversized payloads. Declared sizes are
// refused before reading; undeclared bodies are capped by MaxBytesReader
// and fail inside the JSON decoder.
func maxBodyMiddleware(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > maxBytes {
			writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodePayloadTooLarge,
				"payload too large",
				"request body exceeds "+strconv.FormatInt(maxBytes, 10)+" bytes")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs each request with structured fields.
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", RequestIDFromContext(r.Context()),
		}
		if tid := traceIDFromContext(r.Context()); tid != "" {
			attrs = append(attrs, "trace_id", tid)
		}

		level := slog.LevelInfo
		if wrapped.statusCode >= 500 {
			level = slog.LevelError
		} else if wrapped.statusCode >= 400 {
			level = slog.LevelWarn
		}
		logger.Log(r.Context(), level, "http request", attrs...)
	})
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

var tracer = otel.Tracer("greengate/http")

// tracingMiddleware creates an OTel span for each HTTP request.
func tracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.url", r.URL.Path),
				attribute.String("http.request_id", RequestIDFromContext(r.Context())),
			),
		)
		defer span.End()

		wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r.WithContext(ctx))
		span.SetAttributes(attribute.Int("http.status_code", wrapped.statusCode))
	})
}

// traceIDFromContext extracts the OTel trace ID from the context, if any.
func traceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// recoveryMiddleware converts panics into 500 responses.
func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic in handler",
					"panic", rec,
					"path", r.URL.Path,
					"request_id", RequestIDFromContext(r.Context()),
					"stack", string(debug.Stack()),
				)
				writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal,
					"internal server error", "")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// apiKeyFromRequest pulls the presented credential from X-API-Key or a
// Bearer Authorization header.
func apiKeyFromRequest(r *http.Request) string {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k
	}
	h := r.Header.Get("Authorization")
	if parts := strings.SplitN(h, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}

// requireKey admits a request bearing an API key: the key is
// authenticated and one unit of monthly quota is reserved atomically
// before the handler runs. A missing key is 403, a bad or expired key
// 401, an exhausted quota 429 with the reset timestamp.
func (h *Handlers) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := apiKeyFromRequest(r)
		if raw == "" {
			writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden,
				"API key required", "pass the key in the X-API-Key header")
			return
		}
		if !auth.WellFormedKey(raw) {
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized,
				"invalid API key", "")
			return
		}

		grant, err := h.db.AdmitKey(r.Context(), hashKey(raw))
		switch {
		case errors.Is(err, storage.ErrKeyInvalid):
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized,
				"invalid API key", "")
			return
		case errors.Is(err, storage.ErrKeyExpired):
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized,
				"API key expired", "")
			return
		case errors.Is(err, storage.ErrQuotaExceeded):
			h.metrics.QuotaRejectionsTotal.Inc()
			hdr := w.Header()
			if grant.Limit != nil {
				hdr.Set("X-RateLimit-Limit", strconv.Itoa(*grant.Limit))
			}
			hdr.Set("X-RateLimit-Remaining", "0")
			hdr.Set("X-RateLimit-Reset", strconv.FormatInt(grant.ResetAt.Unix(), 10))
			hdr.Set("Retry-After", strconv.FormatInt(int64(time.Until(grant.ResetAt).Seconds())+1, 10))
			writeError(w, r, http.StatusTooManyRequests, model.ErrCodeQuotaExceeded,
				"monthly quota exceeded",
				"plan "+string(grant.Key.Plan)+" allows "+strconv.Itoa(*grant.Limit)+
					" reports per 30 days; quota resets at "+grant.ResetAt.UTC().Format(time.RFC3339))
			return
		case err != nil:
			h.logger.Error("key admission failed", "error", err)
			writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal,
				"internal server error", "")
			return
		}

		if grant.Limit != nil {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(*grant.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(*grant.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(grant.ResetAt.Unix(), 10))
		}
		ctx := context.WithValue(r.Context(), contextKeyGrant, &grant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin validates the admin bearer token.
func (h *Handlers) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized,
				"missing authorization header", "")
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized,
				"invalid authorization format", "")
			return
		}
		claims, err := h.jwtMgr.ValidateToken(parts[1])
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized,
				"invalid or expired token", "")
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes the uniform error body.
func writeError(w http.ResponseWriter, _ *http.Request, status int, code model.ErrCode, msg, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.ErrorResponse{
		Success: false,
		Error:   msg,
		Detail:  detail,
		Code:    code,
	})
}

// decodeJSON decodes a JSON request body into the target struct.
func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

// decodeGeometryRequest reads a screening request body that may be either
// the envelope form, with geometry and property_info fields, or a bare
// GeoJSON geometry posted as the whole body. A top-level "type" key marks
// the bare form.
func decodeGeometryRequest(r *http.Request, target *model.ValidateRequest) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return err
	}
	if probe.Type != "" {
		target.Geometry = body
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}
