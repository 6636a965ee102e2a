package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/greengate-br/greengate/internal/audit"
	"github.com/greengate-br/greengate/internal/integrity"
	"github.com/greengate-br/greengate/internal/model"
	"github.com/greengate-br/greengate/internal/report"
)

// HandleDueDiligenceReport screens a polygon, records the verdict, and
// returns the signed PDF. The report code and document hash travel in
// response headers alongside the binary body.
func (h *Handlers) HandleDueDiligenceReport(w http.ResponseWriter, r *http.Request) {
	var req model.ValidateRequest
	if err := decodeGeometryRequest(r, &req); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	parcel, ok := parseParcel(w, r, req.Geometry)
	if !ok {
		return
	}

	verdict, err := h.screen(w, r, parcel)
	if err != nil {
		return
	}

	var info model.PropertyInfo
	if req.PropertyInfo != nil {
		info = *req.PropertyInfo
	}
	grant := GrantFromContext(r.Context())
	rec, pdf, err := h.recorder.Issue(r.Context(), audit.IssueRequest{
		Parcel:     parcel,
		Verdict:    verdict,
		Language:   req.Lang,
		Info:       info,
		APIKeyHash: grant.Key.KeyHash,
		RequestIP:  clientIP(r),
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		h.logger.Error("report issuance failed", "error", err,
			"request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal,
			"report generation failed", "")
		return
	}
	h.metrics.ReportsIssuedTotal.WithLabelValues(string(rec.Status)).Inc()

	writePDF(w, rec.ReportCode, rec.PDFHash,
		report.Filename(rec.PropertyName, rec.PlotName, rec.CreatedAt), pdf)
}

// HandleReportPreview renders the report PDF for a screening without
// persisting an audit record. The preview carries a throwaway code and
// cannot be verified.
func (h *Handlers) HandleReportPreview(w http.ResponseWriter, r *http.Request) {
	var req model.ValidateRequest
	if err := decodeGeometryRequest(r, &req); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	parcel, ok := parseParcel(w, r, req.Geometry)
	if !ok {
		return
	}

	verdict, err := h.screen(w, r, parcel)
	if err != nil {
		return
	}

	var info model.PropertyInfo
	if req.PropertyInfo != nil {
		info = *req.PropertyInfo
	}
	now := time.Now().UTC()
	centroid := parcel.Centroid()
	rec := model.AuditRecord{
		ReportCode:      report.NewCode(now),
		Geometry:        parcel.GeoJSON(),
		Status:          verdict.Status,
		Score:           verdict.Score,
		EngineVersion:   verdict.EngineVersion,
		RulesetVersion:  verdict.RulesetVersion,
		DatasetVersions: verdict.DatasetVersions,
		AreaHa:          parcel.AreaHa(),
		CentroidLat:     centroid[1],
		CentroidLon:     centroid[0],
		PlotName:        info.PlotName,
		PropertyName:    info.FarmName,
		State:           info.State,
		Language:        string(report.NormalizeLang(req.Lang)),
		CreatedAt:       now,
		ExpiresAt:       now.Add(model.ReportExpiry),
	}
	if rec.Checks, err = marshalChecks(verdict.Checks); err != nil {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal,
			"report generation failed", "")
		return
	}

	pdf, err := h.renderer.Render(rec)
	if err != nil {
		h.logger.Error("preview render failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal,
			"report generation failed", "")
		return
	}
	w.Header().Set("X-Report-Preview", "true")
	writePDF(w, rec.ReportCode, integrity.HashPDF(pdf),
		report.Filename(rec.PropertyName, rec.PlotName, rec.CreatedAt), pdf)
}

// verificationView is the public subset of an audit record. Requester
// metadata never leaves the database through this endpoint, and the
// hashes are shown truncated.
type verificationView struct {
	ReportCode      string                     `json:"report_code"`
	Status          model.ComplianceStatus     `json:"status"`
	Score           float64                    `json:"score"`
	AreaHa          float64                    `json:"area_ha"`
	PlotName        string                     `json:"plot_name,omitempty"`
	PropertyName    string                     `json:"property_name,omitempty"`
	State           string                     `json:"state,omitempty"`
	EngineVersion   string                     `json:"engine_version"`
	RulesetVersion  string                     `json:"ruleset_version"`
	DatasetVersions map[model.LayerType]string `json:"dataset_versions"`
	GeometryHash    string                     `json:"geometry_hash"`
	PDFHash         string                     `json:"pdf_hash"`
	IsExpired       bool                       `json:"is_expired"`
	CreatedAt       time.Time                  `json:"created_at"`
	ExpiresAt       time.Time                  `json:"expires_at"`
}

// displayHash shortens a digest for public display.
func displayHash(h string) string {
	if len(h) <= 16 {
		return h
	}
	return integrity.TruncateHash(h, 16) + "..."
}

func publicView(rec model.AuditRecord, expired bool) verificationView {
	return verificationView{
		ReportCode:      rec.ReportCode,
		Status:          rec.Status,
		Score:           rec.Score,
		AreaHa:          rec.AreaHa,
		PlotName:        rec.PlotName,
		PropertyName:    rec.PropertyName,
		State:           rec.State,
		EngineVersion:   rec.EngineVersion,
		RulesetVersion:  rec.RulesetVersion,
		DatasetVersions: rec.DatasetVersions,
		GeometryHash:    displayHash(rec.GeometryHash),
		PDFHash:         displayHash(rec.PDFHash),
		IsExpired:       expired,
		CreatedAt:       rec.CreatedAt,
		ExpiresAt:       rec.ExpiresAt,
	}
}

type verifyResponse struct {
	Success bool              `json:"success"`
	Valid   bool              `json:"valid"`
	Reason  string            `json:"reason,omitempty"`
	Report  *verificationView `json:"report,omitempty"`
}

// HandleVerifyReport answers the public verification lookup for a
// report code. An expired report is still shown, flagged invalid.
func (h *Handlers) HandleVerifyReport(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if !report.ValidCode(code) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest,
			"malformed report code", "expected GG-YYYYMMDDhhmmss-XXXX")
		return
	}

	rec, err := h.recorder.Verify(r.Context(), code)
	switch {
	case errors.Is(err, audit.ErrExpired):
		view := publicView(rec, true)
		writeJSON(w, http.StatusOK, verifyResponse{
			Success: true, Valid: false, Reason: "expired", Report: &view,
		})
	case err != nil:
		h.writeStorageError(w, r, err)
	default:
		view := publicView(rec, false)
		writeJSON(w, http.StatusOK, verifyResponse{Success: true, Valid: true, Report: &view})
	}
}

type verifyGeometryResponse struct {
	Success bool              `json:"success"`
	Valid   bool              `json:"valid"`
	Match   bool              `json:"match"`
	Error   string            `json:"error,omitempty"`
	Report  *verificationView `json:"report,omitempty"`
}

// HandleVerifyGeometry checks a resubmitted polygon against the
// geometry hash recorded for a report.
func (h *Handlers) HandleVerifyGeometry(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if !report.ValidCode(code) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest,
			"malformed report code", "expected GG-YYYYMMDDhhmmss-XXXX")
		return
	}
	var req model.VerifyGeometryRequest
	if err := decodeJSON(r, &req); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if len(req.Geometry) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest,
			"geometry is required", "")
		return
	}

	rec, err := h.recorder.VerifyGeometry(r.Context(), code, req.Geometry)
	view := publicView(rec, false)
	switch {
	case errors.Is(err, audit.ErrGeometryMismatch):
		writeJSON(w, http.StatusOK, verifyGeometryResponse{
			Success: true, Valid: false, Match: false,
			Error:  "Geometria não corresponde ao laudo",
			Report: &view,
		})
	case errors.Is(err, audit.ErrExpired):
		writeError(w, r, http.StatusGone, model.ErrCodeNotFound,
			"report expired", "the verification window for this report has closed")
	case err != nil:
		h.writeStorageError(w, r, err)
	default:
		writeJSON(w, http.StatusOK, verifyGeometryResponse{Success: true, Valid: true, Match: true, Report: &view})
	}
}

type reproduceResponse struct {
	Success      bool   `json:"success"`
	ReportCode   string `json:"report_code"`
	Matches      bool   `json:"matches"`
	StoredHash   string `json:"stored_hash"`
	RenderedHash string `json:"rendered_hash"`
}

// HandleReproduceReport re-renders a stored report and reports whether
// the fresh document still hashes to the recorded value.
func (h *Handlers) HandleReproduceReport(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if !report.ValidCode(code) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest,
			"malformed report code", "expected GG-YYYYMMDDhhmmss-XXXX")
		return
	}

	rec, pdf, matches, err := h.recorder.Reproduce(r.Context(), code)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reproduceResponse{
		Success:      true,
		ReportCode:   rec.ReportCode,
		Matches:      matches,
		StoredHash:   rec.PDFHash,
		RenderedHash: integrity.HashPDF(pdf),
	})
}

type reportStatusResponse struct {
	Success bool `json:"success"`
	Stats   any  `json:"stats"`
}

// HandleReportStatus summarizes issued reports.
func (h *Handlers) HandleReportStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.CountReports(r.Context())
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reportStatusResponse{Success: true, Stats: stats})
}

// writePDF sends a rendered report with its identifying headers.
func writePDF(w http.ResponseWriter, code, pdfHash, filename string, pdf []byte) {
	h := w.Header()
	h.Set("Content-Type", "application/pdf")
	h.Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	h.Set("Content-Length", strconv.Itoa(len(pdf)))
	h.Set("X-Report-Code", code)
	h.Set("X-Content-Hash", integrity.TruncateHash(pdfHash, 16))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

// clientIP is the peer address without the port.
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
	}
	return addr
}
