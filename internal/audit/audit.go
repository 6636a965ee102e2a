// Package audit issues and verifies due-diligence reports. Every issued
// report leaves an immutable record carrying the geometry, its hash, the
// verdict, and the dataset versions it was screened against.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/greengate-br/greengate/internal/geo"
	"github.com/greengate-br/greengate/internal/integrity"
	"github.com/greengate-br/greengate/internal/model"
	"github.com/greengate-br/greengate/internal/report"
)

// ErrGeometryMismatch is returned when a resubmitted geometry does not
// hash to the value recorded for the report.
var ErrGeometryMismatch = errors.New("audit: geometry does not match the report")

// ErrExpired is returned when a report is past its verification window.
var ErrExpired = errors.New("audit: report expired")

// Store is the persistence surface the recorder needs. *storage.DB
// satisfies it.
type Store interface {
	InsertAuditRecord(ctx context.Context, rec model.AuditRecord, regenCode func() string) (model.AuditRecord, error)
	SetReportPDF(ctx context.Context, id uuid.UUID, pdfHash string, sizeBytes int64) error
	GetAuditRecordByCode(ctx context.Context, code string) (model.AuditRecord, error)
}

// Renderer turns an audit record into the PDF document.
// *report.Generator satisfies it.
type Renderer interface {
	Render(rec model.AuditRecord) ([]byte, error)
}

// Recorder issues reports and answers verification queries.
type Recorder struct {
	store    Store
	renderer Renderer
	logger   *slog.Logger
	now      func() time.Time
}

// New builds a Recorder.
func New(store Store, renderer Renderer, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, renderer: renderer, logger: logger, now: time.Now}
}

// IssueRequest carries everything needed to issue one report.
type IssueRequest struct {
	Parcel     *geo.Parcel
	Verdict    model.Verdict
	Language   string
	Info       model.PropertyInfo
	APIKeyHash string
	RequestIP  string
	UserAgent  string
}

// Issue persists the audit record and renders the PDF. The record is
// inserted before rendering so the report code embedded in the document
// is the one that survived collision retries; the document hash is
// stamped onto the record afterwards.
func (r *Recorder) Issue(ctx context.Context, req IssueRequest) (model.AuditRecord, []byte, error) {
	geomHash, err := integrity.HashGeometry(req.Parcel.GeoJSON())
	if err != nil {
		return model.AuditRecord{}, nil, fmt.Errorf("audit: hash geometry: %w", err)
	}
	checks, err := json.Marshal(req.Verdict.Checks)
	if err != nil {
		return model.AuditRecord{}, nil, fmt.Errorf("audit: encode checks: %w", err)
	}

	now := r.now().UTC()
	centroid := req.Parcel.Centroid()
	bound := req.Parcel.Bound()
	rec := model.AuditRecord{
		ReportCode:      report.NewCode(now),
		Geometry:        req.Parcel.GeoJSON(),
		GeometryHash:    geomHash,
		Status:          req.Verdict.Status,
		Score:           req.Verdict.Score,
		EngineVersion:   req.Verdict.EngineVersion,
		RulesetVersion:  req.Verdict.RulesetVersion,
		DatasetVersions: req.Verdict.DatasetVersions,
		Checks:          checks,
		AreaHa:          req.Parcel.AreaHa(),
		CentroidLat:     centroid[1],
		CentroidLon:     centroid[0],
		GeometryBBox:    []float64{bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1]},
		PlotName:        req.Info.PlotName,
		PropertyName:    req.Info.FarmName,
		State:           req.Info.State,
		APIKeyHash:      req.APIKeyHash,
		RequestIP:       req.RequestIP,
		UserAgent:       req.UserAgent,
		Language:        string(report.NormalizeLang(req.Language)),
		CreatedAt:       now,
		ExpiresAt:       now.Add(model.ReportExpiry),
	}

	rec, err = r.store.InsertAuditRecord(ctx, rec, func() string {
		return report.NewCode(r.now().UTC())
	})
	if err != nil {
		return model.AuditRecord{}, nil, err
	}

	pdf, err := r.renderer.Render(rec)
	if err != nil {
		return model.AuditRecord{}, nil, fmt.Errorf("audit: render report %s: %w", rec.ReportCode, err)
	}
	rec.PDFHash = integrity.HashPDF(pdf)
	rec.PDFSizeBytes = int64(len(pdf))
	if err := r.store.SetReportPDF(ctx, rec.ID, rec.PDFHash, rec.PDFSizeBytes); err != nil {
		return model.AuditRecord{}, nil, err
	}

	r.logger.Info("report issued",
		"code", rec.ReportCode,
		"status", rec.Status,
		"score", rec.Score,
		"area_ha", rec.AreaHa,
	)
	return rec, pdf, nil
}

// Verify retrieves the record for a code. Expired records are returned
// alongside ErrExpired so callers can still show what was issued.
func (r *Recorder) Verify(ctx context.Context, code string) (model.AuditRecord, error) {
	rec, err := r.store.GetAuditRecordByCode(ctx, code)
	if err != nil {
		return model.AuditRecord{}, err
	}
	if rec.Expired(r.now().UTC()) {
		return rec, ErrExpired
	}
	return rec, nil
}

// VerifyGeometry checks a resubmitted geometry against the recorded hash.
// Serialization differences do not matter; only the canonical form is
// compared.
func (r *Recorder) VerifyGeometry(ctx context.Context, code string, geometry json.RawMessage) (model.AuditRecord, error) {
	rec, err := r.Verify(ctx, code)
	if err != nil {
		return rec, err
	}
	h, err := integrity.HashGeometry(geometry)
	if err != nil {
		return rec, fmt.Errorf("audit: hash submitted geometry: %w", err)
	}
	if h != rec.GeometryHash {
		return rec, ErrGeometryMismatch
	}
	return rec, nil
}

// Reproduce re-renders the stored record and reports whether the result
// still hashes to the recorded document hash.
func (r *Recorder) Reproduce(ctx context.Context, code string) (model.AuditRecord, []byte, bool, error) {
	rec, err := r.store.GetAuditRecordByCode(ctx, code)
	if err != nil {
		return model.AuditRecord{}, nil, false, err
	}
	pdf, err := r.renderer.Render(rec)
	if err != nil {
		return model.AuditRecord{}, nil, false, fmt.Errorf("audit: re-render report %s: %w", code, err)
	}
	return rec, pdf, integrity.HashPDF(pdf) == rec.PDFHash, nil
}
