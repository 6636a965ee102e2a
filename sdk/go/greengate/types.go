package greengate

import (
	"encoding/json"
	"time"
)

// PropertyInfo is optional descriptive metadata about the screened
// parcel. It flows into stored plots and issued reports verbatim.
type PropertyInfo struct {
	FarmName     string `json:"farm_name,omitempty"`
	PlotName     string `json:"plot_name,omitempty"`
	Producer     string `json:"producer,omitempty"`
	Municipality string `json:"municipality,omitempty"`
	State        string `json:"state,omitempty"`
	CARCode      string `json:"car_code,omitempty"`
}

// ValidateRequest submits a parcel geometry for screening.
type ValidateRequest struct {
	// Geometry is a GeoJSON Polygon, MultiPolygon, or Feature wrapping
	// either, in WGS84 coordinates.
	Geometry json.RawMessage `json:"geometry"`

	// PropertyInfo, when its plot name is set, stores the parcel under
	// the caller's key so it can be re-screened later by ID.
	PropertyInfo *PropertyInfo `json:"property_info,omitempty"`

	// Lang selects "pt" or "en"; the server defaults to "pt".
	Lang string `json:"lang,omitempty"`
}

// Overlap is one reference feature intersecting the screened polygon.
type Overlap struct {
	AreaHa     float64        `json:"area_ha"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Check is one screening check inside a verdict.
type Check struct {
	Type           string     `json:"check"`
	Status         string     `json:"status"`
	Score          int        `json:"score"`
	Weight         int        `json:"weight"`
	Blocker        bool       `json:"blocker"`
	Detail         string     `json:"detail,omitempty"`
	OverlapHa      float64    `json:"overlap_ha"`
	Overlaps       []Overlap  `json:"overlaps,omitempty"`
	DatasetVersion string     `json:"dataset_version"`
	DataUpdatedAt  *time.Time `json:"data_updated_at,omitempty"`
}

// Verdict is the outcome of screening one parcel.
type Verdict struct {
	Status          string            `json:"status"`
	Score           float64           `json:"score"`
	Checks          []Check           `json:"checks"`
	Blockers        []string          `json:"blockers,omitempty"`
	EngineVersion   string            `json:"engine_version"`
	RulesetVersion  string            `json:"ruleset_version"`
	DatasetVersions map[string]string `json:"dataset_versions,omitempty"`
	AreaHa          float64           `json:"area_ha"`
	EvaluatedAt     time.Time         `json:"evaluated_at"`
}

// ValidateResponse is returned by the validation endpoints.
type ValidateResponse struct {
	Success bool    `json:"success"`
	Verdict Verdict `json:"verdict"`
	PlotID  *string `json:"plot_id,omitempty"`
}

// BatchItemResult is the per-plot outcome of a batch validation.
type BatchItemResult struct {
	PlotID  string   `json:"plot_id"`
	Verdict *Verdict `json:"verdict,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// BatchResponse is returned by the batch validation endpoint.
type BatchResponse struct {
	Success bool              `json:"success"`
	Results []BatchItemResult `json:"results"`
}

// ReportRequest asks for a due-diligence PDF report.
type ReportRequest struct {
	Geometry json.RawMessage `json:"geometry"`

	// PropertyInfo is printed on the report cover and drives the
	// download filename.
	PropertyInfo *PropertyInfo `json:"property_info,omitempty"`

	// Lang selects "pt" or "en"; the server defaults to "pt".
	Lang string `json:"lang,omitempty"`
}

// Report is an issued due-diligence PDF with its audit metadata.
type Report struct {
	Code    string
	PDFHash string
	PDF     []byte
}

// VerifiedReport is the public subset of an audit record returned by
// verification lookups.
type VerifiedReport struct {
	ReportCode      string            `json:"report_code"`
	Status          string            `json:"status"`
	Score           float64           `json:"score"`
	AreaHa          float64           `json:"area_ha"`
	PlotName        string            `json:"plot_name,omitempty"`
	PropertyName    string            `json:"property_name,omitempty"`
	State           string            `json:"state,omitempty"`
	GeometryHash    string            `json:"geometry_hash"`
	PDFHash         string            `json:"pdf_hash"`
	EngineVersion   string            `json:"engine_version"`
	RulesetVersion  string            `json:"ruleset_version"`
	DatasetVersions map[string]string `json:"dataset_versions,omitempty"`
	IsExpired       bool              `json:"is_expired"`
	CreatedAt       time.Time         `json:"created_at"`
	ExpiresAt       time.Time         `json:"expires_at"`
}

// VerifyResponse is the outcome of a report verification lookup.
type VerifyResponse struct {
	Success bool            `json:"success"`
	Valid   bool            `json:"valid"`
	Reason  string          `json:"reason,omitempty"`
	Report  *VerifiedReport `json:"report,omitempty"`
}

// GeometryMatch is the outcome of verifying a geometry against an
// issued report.
type GeometryMatch struct {
	Success bool            `json:"success"`
	Valid   bool            `json:"valid"`
	Match   bool            `json:"match"`
	Error   string          `json:"error,omitempty"`
	Report  *VerifiedReport `json:"report,omitempty"`
}

// LayerFreshness describes the active dataset behind one reference layer.
type LayerFreshness struct {
	Version     string     `json:"version"`
	RecordCount int64      `json:"record_count"`
	IngestedAt  *time.Time `json:"ingested_at,omitempty"`
	LastUpdate  *time.Time `json:"last_update,omitempty"`
}

// FreshnessResponse maps layer names to their dataset freshness.
type FreshnessResponse struct {
	Success bool                      `json:"success"`
	Layers  map[string]LayerFreshness `json:"layers"`
}
