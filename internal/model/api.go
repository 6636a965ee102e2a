package model

import "encoding/json"

// ErrCode values returned in API error bodies.
type ErrCode string

const (
	ErrCodeBadRequest      ErrCode = "bad_request"
	ErrCodeInvalidGeometry ErrCode = "invalid_geometry"
	ErrCodeUnauthorized    ErrCode = "unauthorized"
	ErrCodeForbidden       ErrCode = "forbidden"
	ErrCodeNotFound        ErrCode = "not_found"
	ErrCodeConflict        ErrCode = "conflict"
	ErrCodeQuotaExceeded   ErrCode = "quota_exceeded"
	ErrCodeRateLimited     ErrCode = "rate_limited"
	ErrCodePayloadTooLarge ErrCode = "payload_too_large"
	ErrCodeInternal        ErrCode = "internal_error"
)

// ErrorResponse is the uniform error body. Success is always false.
type ErrorResponse struct {
	Success bool    `json:"success"`
	Error   string  `json:"error"`
	Detail  string  `json:"detail,omitempty"`
	Code    ErrCode `json:"code,omitempty"`
}

// PropertyInfo describes the farm and plot a screened polygon belongs to.
// All fields are optional; State defaults to MT when reports render it.
type PropertyInfo struct {
	FarmName     string `json:"farm_name,omitempty"`
	PlotName     string `json:"plot_name,omitempty"`
	Producer     string `json:"producer,omitempty"`
	Municipality string `json:"municipality,omitempty"`
	State        string `json:"state,omitempty"`
	CARCode      string `json:"car_code,omitempty"`
}

// ValidateRequest carries a polygon to screen or report on. Geometry is
// a GeoJSON Polygon or MultiPolygon, or a Feature wrapping one. Clients
// may also post a bare geometry as the whole body; the decoder wraps it.
// PropertyInfo.PlotName, when set on the validation endpoints, stores
// the parcel as a named plot for later repeat screening.
type ValidateRequest struct {
	Geometry     json.RawMessage `json:"geometry"`
	PropertyInfo *PropertyInfo   `json:"property_info,omitempty"`
	Lang         string          `json:"lang,omitempty"`
}

// VerifyGeometryRequest compares a polygon against an issued report.
type VerifyGeometryRequest struct {
	Geometry json.RawMessage `json:"geometry"`
}

// BatchValidateRequest screens up to 100 stored plots in one call.
type BatchValidateRequest struct {
	PlotIDs []string `json:"plot_ids"`
}

// BatchItemResult is the per-plot outcome of a batch validation.
type BatchItemResult struct {
	PlotID  string   `json:"plot_id"`
	Verdict *Verdict `json:"verdict,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// LoginRequest authenticates an administrator.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the issued admin bearer token.
type LoginResponse struct {
	Success     bool   `json:"success"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// RegisterRequest self-provisions a free-plan API key.
type RegisterRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CreateKeyRequest provisions an API key on the admin surface.
type CreateKeyRequest struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	Plan          Plan   `json:"plan"`
	ExpiresInDays *int   `json:"expires_in_days,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// UpdateKeyRequest patches mutable key fields.
type UpdateKeyRequest struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
	Notes *string `json:"notes,omitempty"`
}

// UpgradeKeyRequest moves a key to a new plan. The usage counter resets.
type UpgradeKeyRequest struct {
	Plan Plan `json:"plan"`
}

// CreatedKeyResponse returns the raw key exactly once, at creation time.
type CreatedKeyResponse struct {
	Success bool    `json:"success"`
	Key     string  `json:"api_key"`
	Details *APIKey `json:"details"`
}
