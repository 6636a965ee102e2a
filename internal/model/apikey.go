package model

import (
	"time"

	"github.com/google/uuid"
)

// Plan is the subscription tier of an API key.
type Plan string

const (
	PlanFree         Plan = "free"
	PlanProfessional Plan = "professional"
	PlanEnterprise   Plan = "enterprise"
)

// ValidPlan reports whether p names a known tier.
func ValidPlan(p Plan) bool {
	switch p {
	case PlanFree, PlanProfessional, PlanEnterprise:
		return true
	}
	return false
}

// MonthlyQuota returns the report quota for the plan, or nil when unlimited.
func (p Plan) MonthlyQuota() *int {
	switch p {
	case PlanFree:
		q := 3
		return &q
	case PlanProfessional:
		q := 50
		return &q
	}
	return nil
}

// QuotaResetInterval is the rolling usage window for metered plans.
const QuotaResetInterval = 30 * 24 * time.Hour

// APIKey is a stored client credential. The raw key is never persisted;
// only its SHA-256 hash and a display prefix are kept.
type APIKey struct {
	ID            uuid.UUID  `json:"id"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	KeyHash       string     `json:"-"`
	KeyPrefix     string     `json:"key_prefix"`
	Plan          Plan       `json:"plan"`
	MonthlyQuota  *int       `json:"monthly_quota"`
	CurrentUsage  int        `json:"current_usage"`
	TotalRequests int64      `json:"total_requests"`
	LastResetAt   time.Time  `json:"last_reset_at"`
	IsActive      bool       `json:"is_active"`
	IsRevoked     bool       `json:"is_revoked"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Unlimited reports whether the key has no monthly cap.
func (k *APIKey) Unlimited() bool { return k.MonthlyQuota == nil }

// QuotaGrant is the outcome of a successful quota admission. Limit and
// Remaining are nil for unlimited plans.
type QuotaGrant struct {
	Key       *APIKey
	Limit     *int
	Remaining *int
	ResetAt   time.Time
}

// APIKeyStats is the aggregate view served to administrators.
type APIKeyStats struct {
	TotalKeys       int          `json:"total_keys"`
	ActiveKeys      int          `json:"active_keys"`
	RevokedKeys     int          `json:"revoked_keys"`
	KeysByPlan      map[Plan]int `json:"keys_by_plan"`
	UsageThisWindow int          `json:"usage_this_window"`
}
