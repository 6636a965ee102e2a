package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ReportExpiry is how long an issued report stays verifiable.
const ReportExpiry = 90 * 24 * time.Hour

// AuditRecord is the immutable row written for every issued due-diligence
// report. It carries everything needed to verify and reproduce the report.
type AuditRecord struct {
	ID              uuid.UUID            `json:"id"`
	ReportCode      string               `json:"report_code"`
	Geometry        json.RawMessage      `json:"geometry"`
	GeometryHash    string               `json:"geometry_hash"`
	PDFHash         string               `json:"pdf_hash"`
	Status          ComplianceStatus     `json:"status"`
	Score           float64              `json:"score"`
	EngineVersion   string               `json:"engine_version"`
	RulesetVersion  string               `json:"ruleset_version"`
	DatasetVersions map[LayerType]string `json:"dataset_versions"`
	Checks          json.RawMessage      `json:"checks"`
	AreaHa          float64              `json:"area_ha"`
	CentroidLat     float64              `json:"centroid_lat"`
	CentroidLon     float64              `json:"centroid_lon"`
	GeometryBBox    []float64            `json:"geometry_bbox,omitempty"`
	PDFSizeBytes    int64                `json:"pdf_size_bytes"`
	PlotName        string               `json:"plot_name,omitempty"`
	PropertyName    string               `json:"property_name,omitempty"`
	State           string               `json:"state,omitempty"`
	APIKeyHash      string               `json:"-"`
	RequestIP       string               `json:"request_ip,omitempty"`
	UserAgent       string               `json:"user_agent,omitempty"`
	Language        string               `json:"language"`
	CreatedAt       time.Time            `json:"created_at"`
	ExpiresAt       time.Time            `json:"expires_at"`
}

// Expired reports whether the record is past its verification window.
func (r *AuditRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// DatasetVersion is one entry of the reference-data registry. At most one
// row per layer is active at a time.
type DatasetVersion struct {
	ID          uuid.UUID  `json:"id"`
	LayerType   LayerType  `json:"layer_type"`
	Version     string     `json:"version"`
	SourceURL   string     `json:"source_url,omitempty"`
	Description string     `json:"description,omitempty"`
	RecordCount int64      `json:"record_count"`
	IngestedAt  time.Time  `json:"ingested_at"`
	IsActive    bool       `json:"is_active"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
}

// LegacyDatasetVersion labels layers that predate the registry.
const LegacyDatasetVersion = "legacy"

// Plot is a stored parcel owned by an API key.
type Plot struct {
	ID        uuid.UUID       `json:"id"`
	OwnerKey  uuid.UUID       `json:"-"`
	Name      string          `json:"name"`
	Geometry  json.RawMessage `json:"geometry"`
	AreaHa    float64         `json:"area_ha"`
	CreatedAt time.Time       `json:"created_at"`
}

// PlotValidation is a persisted screening of a stored plot.
type PlotValidation struct {
	ID            uuid.UUID        `json:"id"`
	PlotID        uuid.UUID        `json:"plot_id"`
	Status        ComplianceStatus `json:"status"`
	Score         float64          `json:"score"`
	Checks        json.RawMessage  `json:"checks"`
	EngineVersion string           `json:"engine_version"`
	EvaluatedAt   time.Time        `json:"evaluated_at"`
	ExpiresAt     time.Time        `json:"expires_at"`
}
