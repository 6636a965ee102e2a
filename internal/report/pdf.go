package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/paulmach/orb"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/greengate-br/greengate/internal/geo"
	"github.com/greengate-br/greengate/internal/model"
)

// Generator renders audit records into the three-page due-diligence PDF.
// Rendering is a pure function of the record, so re-rendering a stored
// record reproduces the original document byte for byte.
type Generator struct {
	baseURL string
}

// NewGenerator builds a Generator. baseURL feeds the verification links.
func NewGenerator(baseURL string) *Generator {
	return &Generator{baseURL: baseURL}
}

// VerifyURL is the public JSON verification endpoint for a report code.
func (g *Generator) VerifyURL(code string) string {
	return g.baseURL + "/api/v1/reports/verify/" + code
}

// VerifyPageURL is the human-readable verification page, embedded in the QR.
func (g *Generator) VerifyPageURL(code string) string {
	return g.VerifyURL(code) + "/page"
}

type statusColor struct{ r, g, b int }

var statusColors = map[model.ComplianceStatus]statusColor{
	model.StatusApproved: {46, 125, 50},
	model.StatusWarning:  {230, 160, 0},
	model.StatusRejected: {198, 40, 40},
	model.StatusPending:  {120, 120, 120},
}

// Render produces the PDF for one audit record.
func (g *Generator) Render(rec model.AuditRecord) ([]byte, error) {
	lang := NormalizeLang(rec.Language)
	t := translations[lang]

	var checks []model.CheckResult
	if len(rec.Checks) > 0 {
		if err := json.Unmarshal(rec.Checks, &checks); err != nil {
			return nil, fmt.Errorf("report: decode checks: %w", err)
		}
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	// fixed creation date keeps the rendered bytes a function of the record
	pdf.SetCreationDate(rec.CreatedAt)
	pdf.SetTitle(t.Title+" "+rec.ReportCode, true)
	pdf.SetAuthor("GreenGate", true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 10,
			tr(fmt.Sprintf("%s  |  %s %d/3", rec.ReportCode, t.Page, pdf.PageNo())),
			"", 0, "C", false, 0, "")
	})

	g.renderCover(pdf, tr, t, lang, rec, checks)
	g.renderAssessment(pdf, tr, t, lang, rec, checks)
	if err := g.renderAuthenticity(pdf, tr, t, lang, rec); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("report: render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (g *Generator) renderCover(pdf *fpdf.Fpdf, tr func(string) string, t strings_, lang Lang, rec model.AuditRecord, checks []model.CheckResult) {
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 22)
	pdf.SetTextColor(27, 94, 32)
	pdf.CellFormat(0, 12, tr(t.Title), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.SetTextColor(90, 90, 90)
	pdf.CellFormat(0, 7, tr(t.Subtitle), "", 1, "C", false, 0, "")
	pdf.Ln(8)

	c := statusColors[rec.Status]
	pdf.SetFillColor(c.r, c.g, c.b)
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 14, tr(statusLabels[lang][rec.Status]), "", 1, "C", true, 0, "")
	pdf.Ln(6)

	pdf.SetTextColor(40, 40, 40)
	row := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(60, 8, tr(label), "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.CellFormat(0, 8, tr(value), "", 1, "L", false, 0, "")
	}

	row(t.ReportCode, rec.ReportCode)
	row(t.Score, FormatScore(rec.Score, lang))
	row(t.IssuedAt, FormatTimestamp(rec.CreatedAt, lang))
	row(t.ExpiresAt, FormatDate(rec.ExpiresAt, lang))
	row(t.Area, FormatArea(rec.AreaHa, lang))
	row(t.Centroid, FormatCoord(rec.CentroidLat, rec.CentroidLon))
	if rec.PropertyName != "" {
		row(t.Property, rec.PropertyName)
	}
	if rec.PlotName != "" {
		row(t.Plot, rec.PlotName)
	}
	if rec.State != "" {
		row(t.State, rec.State)
	}

	pdf.Ln(8)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, tr(t.InterpretTitle), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	text := interpretations[lang][rec.Status]
	if rec.Status == model.StatusRejected {
		var blocked []string
		for _, c := range checks {
			if c.Blocker && c.Status == model.CheckFail {
				blocked = append(blocked, checkLabels[lang][c.Type])
			}
		}
		if len(blocked) > 0 {
			text += fmt.Sprintf(" %s: %s.", t.BlockersIntro, strings.Join(blocked, "; "))
		}
	}
	pdf.MultiCell(0, 6, tr(text), "", "L", false)
}

func (g *Generator) renderAssessment(pdf *fpdf.Fpdf, tr func(string) string, t strings_, lang Lang, rec model.AuditRecord, checks []model.CheckResult) {
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 14)
	pdf.SetTextColor(27, 94, 32)
	pdf.CellFormat(0, 10, tr(t.CriteriaTitle), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	// table header
	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(232, 245, 233)
	pdf.SetTextColor(40, 40, 40)
	pdf.CellFormat(80, 8, tr(t.Criterion), "1", 0, "L", true, 0, "")
	pdf.CellFormat(40, 8, tr(t.Result), "1", 0, "C", true, 0, "")
	pdf.CellFormat(20, 8, tr(t.Weight), "1", 0, "C", true, 0, "")
	pdf.CellFormat(40, 8, tr(t.OverlapArea), "1", 1, "C", true, 0, "")

	pdf.SetFont("Helvetica", "", 9)
	for _, c := range checks {
		overlap := "-"
		if c.OverlapHa > 0 {
			overlap = FormatArea(c.OverlapHa, lang)
		}
		sc := statusColors[checkStatusToVerdict(c.Status)]
		pdf.CellFormat(80, 8, tr(checkLabels[lang][c.Type]), "1", 0, "L", false, 0, "")
		pdf.SetTextColor(sc.r, sc.g, sc.b)
		pdf.CellFormat(40, 8, tr(checkStatusLabels[lang][c.Status]), "1", 0, "C", false, 0, "")
		pdf.SetTextColor(40, 40, 40)
		pdf.CellFormat(20, 8, fmt.Sprintf("%d", c.Weight), "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 8, tr(overlap), "1", 1, "C", false, 0, "")
	}

	pdf.Ln(8)
	pdf.SetFont("Helvetica", "B", 14)
	pdf.SetTextColor(27, 94, 32)
	pdf.CellFormat(0, 10, tr(t.SketchTitle), "", 1, "L", false, 0, "")

	if parcel, err := geo.Parse(rec.Geometry); err == nil {
		drawSketch(pdf, parcel, 35, pdf.GetY()+4, 140, 90)
	}
}

func (g *Generator) renderAuthenticity(pdf *fpdf.Fpdf, tr func(string) string, t strings_, lang Lang, rec model.AuditRecord) error {
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 14)
	pdf.SetTextColor(27, 94, 32)
	pdf.CellFormat(0, 10, tr(t.SourcesTitle), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(40, 40, 40)
	for _, src := range dataSources {
		version := rec.DatasetVersions[src.Layer]
		if version == "" {
			version = model.LegacyDatasetVersion
		}
		pdf.CellFormat(0, 6, tr(fmt.Sprintf("- %s (%s)", src.Name, version)), "", 1, "L", false, 0, "")
	}

	pdf.Ln(6)
	pdf.SetFont("Helvetica", "B", 14)
	pdf.SetTextColor(27, 94, 32)
	pdf.CellFormat(0, 10, tr(t.LimitationsTitle), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(40, 40, 40)
	pdf.MultiCell(0, 5.5, tr(t.LimitationsBody), "", "L", false)

	pdf.Ln(6)
	pdf.SetFont("Helvetica", "B", 14)
	pdf.SetTextColor(27, 94, 32)
	pdf.CellFormat(0, 10, tr(t.AuthTitle), "", 1, "L", false, 0, "")

	qrPNG, err := qrcode.Encode(g.VerifyPageURL(rec.ReportCode), qrcode.Medium, 256)
	if err != nil {
		return fmt.Errorf("report: qr code: %w", err)
	}
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("verify-qr", opts, bytes.NewReader(qrPNG))
	qrY := pdf.GetY()
	pdf.ImageOptions("verify-qr", 155, qrY, 38, 38, false, opts, 0, "")

	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(40, 40, 40)
	pdf.MultiCell(135, 5.5, tr(t.AuthBody), "", "L", false)
	pdf.Ln(2)

	mono := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 8)
		pdf.CellFormat(0, 5, tr(label), "", 1, "L", false, 0, "")
		pdf.SetFont("Courier", "", 8)
		pdf.MultiCell(135, 4.5, value, "", "L", false)
		pdf.Ln(1)
	}
	mono(t.VerifyAt, g.VerifyURL(rec.ReportCode))
	mono(t.GeometryHash, rec.GeometryHash)

	pdf.SetY(pdf.GetY() + 4)
	pdf.SetFont("Helvetica", "", 8)
	pdf.SetTextColor(90, 90, 90)
	pdf.CellFormat(0, 5, tr(fmt.Sprintf("%s: %s  |  %s: %s",
		t.EngineVersion, rec.EngineVersion, t.RulesetVersion, rec.RulesetVersion)),
		"", 1, "L", false, 0, "")
	return nil
}

// checkStatusToVerdict picks a banner color family for a check outcome.
func checkStatusToVerdict(s model.CheckStatus) model.ComplianceStatus {
	switch s {
	case model.CheckPass:
		return model.StatusApproved
	case model.CheckWarning:
		return model.StatusWarning
	case model.CheckFail:
		return model.StatusRejected
	}
	return model.StatusPending
}

// drawSketch scales the parcel rings into a box and strokes them.
func drawSketch(pdf *fpdf.Fpdf, parcel *geo.Parcel, x, y, w, h float64) {
	bound := parcel.Bound()
	dx := bound.Max[0] - bound.Min[0]
	dy := bound.Max[1] - bound.Min[1]
	if dx == 0 || dy == 0 {
		return
	}
	scale := w / dx
	if s := h / dy; s < scale {
		scale = s
	}
	// center inside the box
	ox := x + (w-dx*scale)/2
	oy := y + (h-dy*scale)/2

	project := func(p orb.Point) fpdf.PointType {
		return fpdf.PointType{
			X: ox + (p[0]-bound.Min[0])*scale,
			Y: oy + (bound.Max[1]-p[1])*scale,
		}
	}

	pdf.SetDrawColor(27, 94, 32)
	pdf.SetLineWidth(0.4)

	var polys []orb.Polygon
	switch g := parcel.Geometry().(type) {
	case orb.Polygon:
		polys = []orb.Polygon{g}
	case orb.MultiPolygon:
		polys = g
	}
	for _, poly := range polys {
		for _, ring := range poly {
			pts := make([]fpdf.PointType, 0, len(ring))
			for _, p := range ring {
				pts = append(pts, project(p))
			}
			pdf.Polygon(pts, "D")
		}
	}
}
