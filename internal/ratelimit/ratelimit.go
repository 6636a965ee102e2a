// Package ratelimit enforces sliding-window request limits.
//
// Single-instance deployments use the in-memory store; multi-instance
// deployments share counts through Redis. The Store interface is the
// contract between the two.
package ratelimit

import (
	"context"
	"log/slog"
	"strconv"
	"time"
)

// Rule names one limit: at most Limit requests per Window per client key.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Result is the outcome of one admission decision.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// FormatHeaders renders the standard rate-limit response headers.
func (r Result) FormatHeaders() map[string]string {
	return map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(r.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(r.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(r.ResetAt.Unix(), 10),
	}
}

// Store counts a request against a sliding window and reports the state.
// Implementations must be safe for concurrent use.
type Store interface {
	// Take records one request for key unless the window is already full.
	Take(ctx context.Context, key string, limit int, window time.Duration) (Result, error)

	// Stats reports implementation gauges for the health endpoint.
	Stats() map[string]any

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// Limiter applies rules against a Store. A nil store permits everything.
type Limiter struct {
	store  Store
	logger *slog.Logger
}

// New builds a Limiter. store may be nil to disable limiting.
func New(store Store, logger *slog.Logger) *Limiter {
	return &Limiter{store: store, logger: logger}
}

// Allow decides whether the request identified by key may proceed under
// rule. Store malfunctions fail open: blocking all traffic on a limiter
// outage is worse than briefly not limiting it.
func (l *Limiter) Allow(ctx context.Context, rule Rule, key string) Result {
	if l == nil || l.store == nil {
		return Result{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit, ResetAt: time.Now().Add(rule.Window)}
	}
	res, err := l.store.Take(ctx, rule.Name+":"+key, rule.Limit, rule.Window)
	if err != nil {
		l.logger.Warn("rate limit store failure, allowing request", "rule", rule.Name, "error", err)
		return Result{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit, ResetAt: time.Now().Add(rule.Window)}
	}
	return res
}

// Stats reports the underlying store gauges, or nil when disabled.
func (l *Limiter) Stats() map[string]any {
	if l == nil || l.store == nil {
		return nil
	}
	return l.store.Stats()
}

// Close releases the underlying store.
func (l *Limiter) Close() error {
	if l == nil || l.store == nil {
		return nil
	}
	return l.store.Close()
}
