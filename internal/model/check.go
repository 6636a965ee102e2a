// Package model defines the domain types shared across the GreenGate service:
// reference layers, screening checks, verdicts, API keys, and audit records.
package model

// LayerType identifies a reference dataset consulted during screening.
type LayerType string

const (
	LayerProdes        LayerType = "prodes"
	LayerMapBiomas     LayerType = "mapbiomas"
	LayerTerraIndigena LayerType = "terra_indigena"
	LayerUC            LayerType = "uc"
	LayerQuilombola    LayerType = "quilombola"
	LayerEmbargoIbama  LayerType = "embargo_ibama"
)

// AllLayerTypes lists every layer consulted by the engine, in check order.
func AllLayerTypes() []LayerType {
	return []LayerType{
		LayerProdes,
		LayerMapBiomas,
		LayerTerraIndigena,
		LayerUC,
		LayerQuilombola,
		LayerEmbargoIbama,
	}
}

// CheckType identifies a single screening check in a verdict.
type CheckType string

const (
	CheckProdes        CheckType = "deforestation_prodes"
	CheckMapBiomas     CheckType = "deforestation_mapbiomas"
	CheckTerraIndigena CheckType = "terra_indigena"
	CheckUC            CheckType = "uc"
	CheckQuilombola    CheckType = "quilombola"
	CheckEmbargoIbama  CheckType = "embargo_ibama"
)

// Layer returns the reference layer a check type reads from.
func (c CheckType) Layer() LayerType {
	switch c {
	case CheckProdes:
		return LayerProdes
	case CheckMapBiomas:
		return LayerMapBiomas
	case CheckTerraIndigena:
		return LayerTerraIndigena
	case CheckUC:
		return LayerUC
	case CheckQuilombola:
		return LayerQuilombola
	case CheckEmbargoIbama:
		return LayerEmbargoIbama
	}
	return ""
}

// CheckStatus is the rule outcome of a single check.
type CheckStatus string

const (
	CheckPass    CheckStatus = "pass"
	CheckFail    CheckStatus = "fail"
	CheckWarning CheckStatus = "warning"
	CheckSkip    CheckStatus = "skip"
)

// ComplianceStatus is the overall verdict status for a screened polygon.
type ComplianceStatus string

const (
	StatusApproved ComplianceStatus = "approved"
	StatusWarning  ComplianceStatus = "warning"
	StatusRejected ComplianceStatus = "rejected"
	StatusPending  ComplianceStatus = "pending"
)
