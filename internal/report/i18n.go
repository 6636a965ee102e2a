package report

import "github.com/greengate-br/greengate/internal/model"

// Lang selects the report language.
type Lang string

const (
	LangPT Lang = "pt"
	LangEN Lang = "en"
)

// NormalizeLang maps arbitrary client input to a supported language.
// Portuguese is the default: the primary audience is Brazilian producers.
func NormalizeLang(s string) Lang {
	switch s {
	case "en", "en-US", "en-GB":
		return LangEN
	}
	return LangPT
}

type strings_ struct {
	Title            string
	Subtitle         string
	ReportCode       string
	IssuedAt         string
	ExpiresAt        string
	Status           string
	Score            string
	Area             string
	Centroid         string
	Plot             string
	Property         string
	State            string
	SummaryTitle     string
	CriteriaTitle    string
	Criterion        string
	Result           string
	Weight           string
	OverlapArea      string
	SketchTitle      string
	SourcesTitle     string
	LimitationsTitle string
	LimitationsBody  string
	AuthTitle        string
	AuthBody         string
	GeometryHash     string
	EngineVersion    string
	RulesetVersion   string
	DatasetVersions  string
	VerifyAt         string
	Page             string
	InterpretTitle   string
	BlockersIntro    string
}

var translations = map[Lang]strings_{
	LangPT: {
		Title:            "Laudo de Due Diligence Ambiental",
		Subtitle:         "Triagem de conformidade EUDR para parcelas agrícolas",
		ReportCode:       "Código do laudo",
		IssuedAt:         "Emitido em",
		ExpiresAt:        "Válido até",
		Status:           "Situação",
		Score:            "Pontuação",
		Area:             "Área da parcela",
		Centroid:         "Centroide",
		Plot:             "Talhão",
		Property:         "Propriedade",
		State:            "UF",
		SummaryTitle:     "Síntese da avaliação",
		CriteriaTitle:    "Critérios avaliados",
		Criterion:        "Critério",
		Result:           "Resultado",
		Weight:           "Peso",
		OverlapArea:      "Sobreposição",
		SketchTitle:      "Croqui da parcela",
		SourcesTitle:     "Fontes de dados",
		LimitationsTitle: "Limitações",
		LimitationsBody: "Este laudo reflete os dados públicos de referência disponíveis na data de emissão. " +
			"Sobreposições inferiores a 0,0001 ha são desconsideradas como artefatos de precisão. " +
			"O laudo não substitui licenciamento ambiental nem manifestação dos órgãos competentes.",
		AuthTitle: "Autenticidade",
		AuthBody: "A autenticidade deste laudo pode ser conferida pelo QR code ao lado ou pelo endereço abaixo. " +
			"O hash da geometria permite verificar que o polígono avaliado corresponde ao documento.",
		GeometryHash:    "Hash da geometria (SHA-256)",
		EngineVersion:   "Versão do motor",
		RulesetVersion:  "Versão das regras",
		DatasetVersions: "Versões dos dados de referência",
		VerifyAt:        "Verificar em",
		Page:            "Página",
		InterpretTitle:  "Interpretação",
		BlockersIntro:   "Impedimentos identificados",
	},
	LangEN: {
		Title:            "Environmental Due Diligence Report",
		Subtitle:         "EUDR compliance screening for agricultural parcels",
		ReportCode:       "Report code",
		IssuedAt:         "Issued at",
		ExpiresAt:        "Valid until",
		Status:           "Status",
		Score:            "Score",
		Area:             "Parcel area",
		Centroid:         "Centroid",
		Plot:             "Plot",
		Property:         "Property",
		State:            "State",
		SummaryTitle:     "Assessment summary",
		CriteriaTitle:    "Evaluated criteria",
		Criterion:        "Criterion",
		Result:           "Result",
		Weight:           "Weight",
		OverlapArea:      "Overlap",
		SketchTitle:      "Parcel sketch",
		SourcesTitle:     "Data sources",
		LimitationsTitle: "Limitations",
		LimitationsBody: "This report reflects the public reference data available on the issue date. " +
			"Overlaps below 0.0001 ha are discarded as precision artifacts. " +
			"The report does not replace environmental licensing or rulings by the competent authorities.",
		AuthTitle: "Authenticity",
		AuthBody: "The authenticity of this report can be checked through the QR code or the address below. " +
			"The geometry hash lets you verify that the assessed polygon matches this document.",
		GeometryHash:    "Geometry hash (SHA-256)",
		EngineVersion:   "Engine version",
		RulesetVersion:  "Ruleset version",
		DatasetVersions: "Reference data versions",
		VerifyAt:        "Verify at",
		Page:            "Page",
		InterpretTitle:  "Interpretation",
		BlockersIntro:   "Blocking findings",
	},
}

// statusLabels maps a verdict status to its display text.
var statusLabels = map[Lang]map[model.ComplianceStatus]string{
	LangPT: {
		model.StatusApproved: "APROVADO",
		model.StatusWarning:  "APROVADO COM RESSALVAS",
		model.StatusRejected: "REPROVADO",
		model.StatusPending:  "PENDENTE",
	},
	LangEN: {
		model.StatusApproved: "APPROVED",
		model.StatusWarning:  "APPROVED WITH WARNINGS",
		model.StatusRejected: "REJECTED",
		model.StatusPending:  "PENDING",
	},
}

// checkLabels maps a check type to its display name.
var checkLabels = map[Lang]map[model.CheckType]string{
	LangPT: {
		model.CheckProdes:        "Desmatamento PRODES (pós-2020)",
		model.CheckMapBiomas:     "Alertas MapBiomas (pós-2020)",
		model.CheckTerraIndigena: "Terras Indígenas",
		model.CheckUC:            "Unidades de Conservação",
		model.CheckQuilombola:    "Territórios Quilombolas",
		model.CheckEmbargoIbama:  "Embargos IBAMA",
	},
	LangEN: {
		model.CheckProdes:        "PRODES deforestation (post-2020)",
		model.CheckMapBiomas:     "MapBiomas alerts (post-2020)",
		model.CheckTerraIndigena: "Indigenous lands",
		model.CheckUC:            "Conservation units",
		model.CheckQuilombola:    "Quilombola territories",
		model.CheckEmbargoIbama:  "IBAMA embargoes",
	},
}

// checkStatusLabels maps per-check outcomes to display text.
var checkStatusLabels = map[Lang]map[model.CheckStatus]string{
	LangPT: {
		model.CheckPass:    "Conforme",
		model.CheckFail:    "Não conforme",
		model.CheckWarning: "Atenção",
		model.CheckSkip:    "Não avaliado",
	},
	LangEN: {
		model.CheckPass:    "Compliant",
		model.CheckFail:    "Non-compliant",
		model.CheckWarning: "Attention",
		model.CheckSkip:    "Not assessed",
	},
}

// interpretations explains the verdict in plain language.
var interpretations = map[Lang]map[model.ComplianceStatus]string{
	LangPT: {
		model.StatusApproved: "A parcela não apresenta sobreposições impeditivas com as bases de referência consultadas.",
		model.StatusWarning:  "A parcela apresenta sobreposições que exigem atenção, mas não configuram impedimento absoluto.",
		model.StatusRejected: "A parcela apresenta sobreposições impeditivas ou pontuação insuficiente nas bases consultadas.",
	},
	LangEN: {
		model.StatusApproved: "The parcel shows no blocking overlaps with the consulted reference layers.",
		model.StatusWarning:  "The parcel shows overlaps that require attention but are not an absolute impediment.",
		model.StatusRejected: "The parcel shows blocking overlaps or an insufficient score against the consulted layers.",
	},
}

// dataSources lists the public datasets behind each layer, shown on the
// last page.
var dataSources = []struct {
	Layer model.LayerType
	Name  string
}{
	{model.LayerProdes, "PRODES / INPE - Monitoramento do Desmatamento"},
	{model.LayerMapBiomas, "MapBiomas Alerta"},
	{model.LayerTerraIndigena, "FUNAI - Terras Indígenas"},
	{model.LayerUC, "ICMBio / MMA - Unidades de Conservação"},
	{model.LayerQuilombola, "INCRA - Territórios Quilombolas"},
	{model.LayerEmbargoIbama, "IBAMA - Áreas Embargadas"},
}
