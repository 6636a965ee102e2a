package report

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greengate-br/greengate/internal/model"
)

func TestNewCodeFormat(t *testing.T) {
	now := time.Date(2025, 8, 25, 14, 30, 5, 0, time.UTC)
	code := NewCode(now)

	assert.True(t, ValidCode(code), "generated code %q should validate", code)
	assert.Equal(t, "GG-20250825143005-", code[:18])
}

func TestNewCodeSuffixVaries(t *testing.T) {
	now := time.Now()
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		seen[NewCode(now)] = true
	}
	// same-second codes differ only in the random suffix
	assert.Greater(t, len(seen), 1)
}

func TestValidCode(t *testing.T) {
	assert.True(t, ValidCode("GG-20250825143005-A1B2"))
	assert.False(t, ValidCode("GG-20250825143005-a1b2"))
	assert.False(t, ValidCode("GG-2025082514300-A1B2"))
	assert.False(t, ValidCode("XX-20250825143005-A1B2"))
	assert.False(t, ValidCode("GG-20250825143005-A1B"))
	assert.False(t, ValidCode(""))
}

func TestFormatAreaSwitchesToSquareMeters(t *testing.T) {
	assert.Equal(t, "12.50 ha", FormatArea(12.5, LangEN))
	assert.Equal(t, "12,50 ha", FormatArea(12.5, LangPT))
	assert.Equal(t, "95 m² (0.0095 ha)", FormatArea(0.0095, LangEN))
	assert.Equal(t, "95 m² (0,0095 ha)", FormatArea(0.0095, LangPT))
	assert.Equal(t, "1 m² (0.0001 ha)", FormatArea(0.0001, LangEN))
}

func TestFilename(t *testing.T) {
	issued := time.Date(2025, 8, 25, 17, 30, 5, 0, time.UTC)
	// Brasília is UTC-3
	assert.Equal(t, "GreenGate_Fazenda_Boa_Vista_Talhão_7_20250825_143005.pdf",
		Filename("Fazenda Boa Vista", "Talhão 7", issued))
	assert.Equal(t, "GreenGate_Report_20250825_143005.pdf",
		Filename("", "", issued))
	assert.Equal(t, "GreenGate_Report_Talhão_1_20250825_143005.pdf",
		Filename("//??", "Talhão 1", issued))
	assert.Equal(t, "GreenGate_Fazenda_S1_Area_20250825_143005.pdf",
		Filename("Fazenda S1", "", issued))

	// names cap at 20 characters
	long := Filename("Fazenda Santa Rita do Araguaia", "T1", issued)
	assert.Equal(t, "GreenGate_Fazenda_Santa_Rita_d_T1_20250825_143005.pdf", long)
}

func TestFormatTimestampBrasilia(t *testing.T) {
	ts := time.Date(2025, 8, 25, 12, 0, 0, 0, time.UTC)
	// Brasília is UTC-3
	assert.Contains(t, FormatTimestamp(ts, LangPT), "25/08/2025 09:00")
	assert.Contains(t, FormatTimestamp(ts, LangEN), "2025-08-25 09:00")
}

func TestNormalizeLang(t *testing.T) {
	assert.Equal(t, LangEN, NormalizeLang("en"))
	assert.Equal(t, LangPT, NormalizeLang("pt"))
	assert.Equal(t, LangPT, NormalizeLang(""))
	assert.Equal(t, LangPT, NormalizeLang("de"))
}

func testRecord(t *testing.T, lang string) model.AuditRecord {
	t.Helper()
	checks, err := json.Marshal([]model.CheckResult{
		{Type: model.CheckProdes, Status: model.CheckPass, Score: 100, Weight: 35},
		{Type: model.CheckMapBiomas, Status: model.CheckPass, Score: 100, Weight: 25},
		{Type: model.CheckTerraIndigena, Status: model.CheckPass, Score: 100, Weight: 15},
		{Type: model.CheckUC, Status: model.CheckWarning, Score: 70, Weight: 5, OverlapHa: 0.3},
		{Type: model.CheckQuilombola, Status: model.CheckPass, Score: 100, Weight: 5},
		{Type: model.CheckEmbargoIbama, Status: model.CheckPass, Score: 100, Weight: 15},
	})
	require.NoError(t, err)

	created := time.Date(2025, 8, 25, 14, 30, 5, 0, time.UTC)
	return model.AuditRecord{
		ReportCode:   "GG-20250825143005-A1B2",
		Geometry:     json.RawMessage(`{"type":"Polygon","coordinates":[[[-47.9,-15.8],[-47.89,-15.8],[-47.89,-15.79],[-47.9,-15.79],[-47.9,-15.8]]]}`),
		GeometryHash: "ab12cd34",
		Status:       model.StatusApproved,
		Score:        95.5,
		EngineVersion:  model.EngineVersion,
		RulesetVersion: model.RulesetVersion,
		DatasetVersions: map[model.LayerType]string{
			model.LayerProdes: "2024.1",
		},
		Checks:      checks,
		AreaHa:      123.45,
		CentroidLat: -15.795,
		CentroidLon: -47.895,
		Language:    lang,
		CreatedAt:   created,
		ExpiresAt:   created.Add(model.ReportExpiry),
	}
}

func TestRenderProducesPDF(t *testing.T) {
	g := NewGenerator("https://greengate.example.com")

	for _, lang := range []string{"pt", "en"} {
		pdf, err := g.Render(testRecord(t, lang))
		require.NoError(t, err, "render %s", lang)
		assert.Greater(t, len(pdf), 1000)
		assert.Equal(t, "%PDF", string(pdf[:4]))
	}
}

func TestRenderRejectedEnumeratesBlockers(t *testing.T) {
	g := NewGenerator("https://greengate.example.com")
	rec := testRecord(t, "pt")
	rec.Status = model.StatusRejected
	rec.Score = 0
	rec.PropertyName = "Fazenda Boa Vista"
	rec.PlotName = "Talhão 7"
	rec.State = "MT"
	checks, err := json.Marshal([]model.CheckResult{
		{Type: model.CheckProdes, Status: model.CheckFail, Weight: 35, Blocker: true, OverlapHa: 1.2},
		{Type: model.CheckTerraIndigena, Status: model.CheckFail, Weight: 15, Blocker: true, OverlapHa: 0.5},
	})
	require.NoError(t, err)
	rec.Checks = checks

	pdf, err := g.Render(rec)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(pdf[:4]))
	assert.Greater(t, len(pdf), 1000)
}

func TestRenderDeterministic(t *testing.T) {
	g := NewGenerator("https://greengate.example.com")
	rec := testRecord(t, "pt")

	a, err := g.Render(rec)
	require.NoError(t, err)
	b, err := g.Render(rec)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestVerifyURLs(t *testing.T) {
	g := NewGenerator("https://greengate.example.com")
	assert.Equal(t,
		"https://greengate.example.com/api/v1/reports/verify/GG-20250825143005-A1B2",
		g.VerifyURL("GG-20250825143005-A1B2"))
	assert.Equal(t,
		"https://greengate.example.com/api/v1/reports/verify/GG-20250825143005-A1B2/page",
		g.VerifyPageURL("GG-20250825143005-A1B2"))
}
