package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/greengate-br/greengate/internal/audit"
	"github.com/greengate-br/greengate/internal/auth"
	"github.com/greengate-br/greengate/internal/geo"
	"github.com/greengate-br/greengate/internal/integrity"
	"github.com/greengate-br/greengate/internal/metrics"
	"github.com/greengate-br/greengate/internal/model"
	"github.com/greengate-br/greengate/internal/ratelimit"
	"github.com/greengate-br/greengate/internal/storage"
)

// Store is the persistence surface the handlers need. *storage.DB
// satisfies it.
type Store interface {
	AdmitKey(ctx context.Context, keyHash string) (model.QuotaGrant, error)
	CreateAPIKey(ctx context.Context, k model.APIKey) (model.APIKey, error)
	GetAPIKey(ctx context.Context, id uuid.UUID) (model.APIKey, error)
	ListAPIKeys(ctx context.Context, f storage.ListKeysFilter) ([]model.APIKey, int, error)
	UpdateAPIKey(ctx context.Context, id uuid.UUID, req model.UpdateKeyRequest) (model.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
	ReactivateAPIKey(ctx context.Context, id uuid.UUID) error
	DeleteAPIKey(ctx context.Context, id uuid.UUID) error
	ChangeKeyPlan(ctx context.Context, id uuid.UUID, plan model.Plan) (model.APIKey, error)
	ResetKeyQuota(ctx context.Context, id uuid.UUID) (model.APIKey, error)
	KeyStats(ctx context.Context) (model.APIKeyStats, error)
	CountActiveKeysByEmail(ctx context.Context, email string) (int, error)

	GetPlot(ctx context.Context, ownerKey, plotID uuid.UUID) (model.Plot, error)
	CreatePlot(ctx context.Context, p model.Plot) (model.Plot, error)
	InsertValidation(ctx context.Context, v model.PlotValidation) (model.PlotValidation, error)
	GetValidation(ctx context.Context, ownerKey, id uuid.UUID) (model.PlotValidation, error)
	LatestValidation(ctx context.Context, plotID uuid.UUID) (model.PlotValidation, error)
	ValidationHistory(ctx context.Context, ownerKey, plotID uuid.UUID, limit, offset int) ([]model.PlotValidation, error)

	CountReports(ctx context.Context) (storage.ReportStats, error)
	LayerCounts(ctx context.Context) (map[model.LayerType]int64, error)
	LayerFreshness(ctx context.Context) (map[model.LayerType]time.Time, error)
	PostGISVersion(ctx context.Context) (string, error)
	PoolStats() map[string]int32
	Ping(ctx context.Context) error
}

// Screener runs one compliance screening. *engine.Engine satisfies it.
type Screener interface {
	Screen(ctx context.Context, parcel *geo.Parcel) (model.Verdict, error)
}

// Issuer issues and verifies due-diligence reports. *audit.Recorder
// satisfies it.
type Issuer interface {
	Issue(ctx context.Context, req audit.IssueRequest) (model.AuditRecord, []byte, error)
	Verify(ctx context.Context, code string) (model.AuditRecord, error)
	VerifyGeometry(ctx context.Context, code string, geometry json.RawMessage) (model.AuditRecord, error)
	Reproduce(ctx context.Context, code string) (model.AuditRecord, []byte, bool, error)
}

// Renderer renders a report PDF without persisting anything. Used for
// previews. *report.Generator satisfies it.
type Renderer interface {
	Render(rec model.AuditRecord) ([]byte, error)
}

// VersionSource reports the active dataset versions.
// *registry.Registry satisfies it.
type VersionSource interface {
	Active(ctx context.Context) (map[model.LayerType]model.DatasetVersion, error)
}

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	db       Store
	engine   Screener
	recorder Issuer
	renderer Renderer
	versions VersionSource
	jwtMgr   *auth.JWTManager
	limiter  *ratelimit.Limiter
	metrics  *metrics.Metrics
	logger   *slog.Logger

	version           string
	adminUsername     string
	adminPasswordHash string
	validationExpiry  time.Duration
}

// HandlersDeps collects the dependencies for NewHandlers.
type HandlersDeps struct {
	DB       Store
	Engine   Screener
	Recorder Issuer
	Renderer Renderer
	Versions VersionSource
	JWTMgr   *auth.JWTManager
	Limiter  *ratelimit.Limiter
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	Version           string
	AdminUsername     string
	AdminPasswordHash string
	ValidationExpiry  time.Duration
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}
	expiry := deps.ValidationExpiry
	if expiry <= 0 {
		expiry = 30 * 24 * time.Hour
	}
	return &Handlers{
		db:                deps.DB,
		engine:            deps.Engine,
		recorder:          deps.Recorder,
		renderer:          deps.Renderer,
		versions:          deps.Versions,
		jwtMgr:            deps.JWTMgr,
		limiter:           deps.Limiter,
		metrics:           m,
		logger:            deps.Logger,
		version:           deps.Version,
		adminUsername:     deps.AdminUsername,
		adminPasswordHash: deps.AdminPasswordHash,
		validationExpiry:  expiry,
	}
}

// hashKey is the lookup hash of a raw API key.
func hashKey(raw string) string {
	return integrity.HashAPIKey(raw)
}

// marshalChecks encodes check results for storage and rendering.
func marshalChecks(checks []model.CheckResult) (json.RawMessage, error) {
	return json.Marshal(checks)
}

// queryInt reads an integer query parameter with a default.
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// pathUUID parses a UUID path segment, writing a 400 on failure.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest,
			"invalid "+name, "expected a UUID path segment")
		return uuid.Nil, false
	}
	return id, true
}

// parseParcel decodes and validates the geometry of a request, writing
// the error response itself on failure.
func parseParcel(w http.ResponseWriter, r *http.Request, geometry json.RawMessage) (*geo.Parcel, bool) {
	if len(geometry) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest,
			"geometry is required", "")
		return nil, false
	}
	parcel, err := geo.Parse(geometry)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidGeometry,
			"invalid geometry", err.Error())
		return nil, false
	}
	return parcel, true
}

// handleDecodeError maps body decode failures onto the right status.
func handleDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodePayloadTooLarge,
			"payload too large", err.Error())
		return
	}
	writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest,
		"invalid request body", err.Error())
}

// writeStorageError maps storage sentinel errors onto HTTP statuses.
func (h *Handlers) writeStorageError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found", "")
	case errors.Is(err, storage.ErrKeyNotRevoked):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict,
			"key is not revoked", "revoke the key before deleting it")
	default:
		h.logger.Error("storage error", "error", err,
			"request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal,
			"internal server error", "")
	}
}
