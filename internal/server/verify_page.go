package server

import (
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/greengate-br/greengate/internal/audit"
	"github.com/greengate-br/greengate/internal/model"
	"github.com/greengate-br/greengate/internal/report"
	"github.com/greengate-br/greengate/internal/storage"
)

var verifyPageTmpl = template.Must(template.New("verify").Parse(`<!DOCTYPE html>
<html lang="pt-BR">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>GreenGate — Verificação de Relatório</title>
<style>
  body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif; margin: 0; background: #f4f6f4; color: #1d2b20; }
  .card { max-width: 640px; margin: 48px auto; background: #fff; border-radius: 8px; padding: 32px; box-shadow: 0 1px 4px rgba(0,0,0,.12); }
  h1 { font-size: 1.2rem; margin: 0 0 4px; color: #1b5e20; }
  .code { font-family: ui-monospace, monospace; font-size: 1.05rem; }
  .badge { display: inline-block; padding: 4px 14px; border-radius: 14px; color: #fff; font-weight: 600; margin: 12px 0; }
  .approved { background: #2e7d32; }
  .warning { background: #ef6c00; }
  .rejected { background: #c62828; }
  .expired { background: #757575; }
  table { width: 100%; border-collapse: collapse; margin-top: 12px; }
  td { padding: 6px 4px; border-bottom: 1px solid #eceff1; font-size: .9rem; }
  td:first-child { color: #607d8b; width: 45%; }
  .hash { font-family: ui-monospace, monospace; font-size: .75rem; word-break: break-all; }
  .note { font-size: .8rem; color: #78909c; margin-top: 16px; }
</style>
</head>
<body>
<div class="card">
  <h1>GreenGate · Verificação de Relatório</h1>
  <div class="code">{{.Code}}</div>
  {{if .Found}}
    <div class="badge {{.BadgeClass}}">{{.StatusLabel}}</div>
    <table>
      <tr><td>Situação / Status</td><td>{{.StatusLabel}}</td></tr>
      <tr><td>Pontuação / Score</td><td>{{printf "%.1f" .Score}} / 100</td></tr>
      <tr><td>Área / Area</td><td>{{.Area}}</td></tr>
      {{if .Property}}<tr><td>Propriedade / Property</td><td>{{.Property}}</td></tr>{{end}}
      {{if .Plot}}<tr><td>Talhão / Plot</td><td>{{.Plot}}</td></tr>{{end}}
      {{if .State}}<tr><td>UF / State</td><td>{{.State}}</td></tr>{{end}}
      <tr><td>Emitido em / Issued at</td><td>{{.Issued}}</td></tr>
      <tr><td>Válido até / Valid until</td><td>{{.Expires}}</td></tr>
      <tr><td>Motor / Engine</td><td>{{.Engine}}</td></tr>
      <tr><td>Hash da geometria / Geometry hash</td><td class="hash">{{.GeometryHash}}</td></tr>
      <tr><td>Hash do documento / Document hash</td><td class="hash">{{.PDFHash}}</td></tr>
    </table>
    {{if .Expired}}<p class="note">Este relatório expirou e não é mais válido para fins de due diligence. / This report has expired and is no longer valid for due diligence.</p>{{end}}
  {{else}}
    <div class="badge expired">NÃO ENCONTRADO / NOT FOUND</div>
    <p>Nenhum relatório foi emitido com este código. Verifique a digitação. /
       No report was issued under this code. Check for typing errors.</p>
  {{end}}
  <p class="note">A autenticidade é determinada exclusivamente pelos registros do GreenGate.
     / Authenticity is determined solely by GreenGate records.</p>
</div>
</body>
</html>
`))

type verifyPageData struct {
	Code         string
	Found        bool
	Expired      bool
	StatusLabel  string
	BadgeClass   string
	Score        float64
	Area         string
	Property     string
	Plot         string
	State        string
	Issued       string
	Expires      string
	Engine       string
	GeometryHash string
	PDFHash      string
}

// HandleVerifyPage serves the human-readable verification page linked
// from the QR code printed on every report.
func (h *Handlers) HandleVerifyPage(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	data := verifyPageData{Code: code}

	if report.ValidCode(code) {
		rec, err := h.recorder.Verify(r.Context(), code)
		switch {
		case err == nil, errors.Is(err, audit.ErrExpired):
			lang := report.NormalizeLang(rec.Language)
			data.Found = true
			data.Expired = errors.Is(err, audit.ErrExpired)
			data.Score = rec.Score
			data.Area = report.FormatArea(rec.AreaHa, lang)
			data.Property = rec.PropertyName
			data.Plot = rec.PlotName
			data.State = rec.State
			data.Issued = report.FormatTimestamp(rec.CreatedAt, lang)
			data.Expires = report.FormatDate(rec.ExpiresAt, lang)
			data.Engine = rec.EngineVersion + " / " + rec.RulesetVersion
			data.GeometryHash = displayHash(rec.GeometryHash)
			data.PDFHash = displayHash(rec.PDFHash)
			data.StatusLabel = statusBadge(rec.Status, data.Expired)
			data.BadgeClass = badgeClass(rec.Status, data.Expired)
		case errors.Is(err, storage.ErrNotFound):
			// falls through to the not-found rendering
		default:
			h.logger.Error("verify page lookup failed", "code", code, "error", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if !data.Found {
		w.WriteHeader(http.StatusNotFound)
	}
	if err := verifyPageTmpl.Execute(w, data); err != nil {
		h.logger.Error("verify page render failed", "error", err)
	}
}

func statusBadge(s model.ComplianceStatus, expired bool) string {
	if expired {
		return "EXPIRADO / EXPIRED"
	}
	switch s {
	case model.StatusApproved:
		return "APROVADO / APPROVED"
	case model.StatusWarning:
		return "ATENÇÃO / WARNING"
	case model.StatusRejected:
		return "REPROVADO / REJECTED"
	}
	return strings.ToUpper(string(s))
}

func badgeClass(s model.ComplianceStatus, expired bool) string {
	if expired {
		return "expired"
	}
	switch s {
	case model.StatusApproved, model.StatusWarning, model.StatusRejected:
		return string(s)
	}
	return "expired"
}
