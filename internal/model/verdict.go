package model

import "time"

// Engine identity stamped onto every verdict and audit record.
const (
	EngineVersion  = "8.2.0"
	RulesetVersion = "v1.0"
)

// RulesetDate is the publication date of the active ruleset.
var RulesetDate = time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC)

// Overlap is a single reference-layer feature intersecting the screened
// polygon, with the intersection area in hectares.
type Overlap struct {
	AreaHa     float64        `json:"area_ha"`
	Properties map[string]any `json:"properties,omitempty"`
}

// CheckResult is the outcome of one screening check.
type CheckResult struct {
	Type           CheckType   `json:"check"`
	Status         CheckStatus `json:"status"`
	Score          int         `json:"score"`
	Weight         int         `json:"weight"`
	Blocker        bool        `json:"blocker"`
	Detail         string      `json:"detail,omitempty"`
	OverlapHa      float64     `json:"overlap_ha"`
	Overlaps       []Overlap   `json:"overlaps,omitempty"`
	DatasetVersion string      `json:"dataset_version"`
	DataUpdatedAt  *time.Time  `json:"data_updated_at,omitempty"`
}

// Verdict is the aggregate screening result for one polygon.
type Verdict struct {
	Status          ComplianceStatus     `json:"status"`
	Score           float64              `json:"score"`
	Checks          []CheckResult        `json:"checks"`
	Blockers        []CheckType          `json:"blockers,omitempty"`
	EngineVersion   string               `json:"engine_version"`
	RulesetVersion  string               `json:"ruleset_version"`
	DatasetVersions map[LayerType]string `json:"dataset_versions"`
	AreaHa          float64              `json:"area_ha"`
	EvaluatedAt     time.Time            `json:"evaluated_at"`
}

// BlockerChecks returns the check types whose failure vetoes approval
// regardless of the weighted score. The conservation-unit check is a
// conditional blocker handled by the engine: only a strict-protection
// overlap (score 0) vetoes.
func BlockerChecks() map[CheckType]bool {
	return map[CheckType]bool{
		CheckProdes:        true,
		CheckTerraIndigena: true,
		CheckQuilombola:    true,
		CheckEmbargoIbama:  true,
	}
}

// CheckWeights returns the contribution of each check to the weighted score.
func CheckWeights() map[CheckType]int {
	return map[CheckType]int{
		CheckProdes:        35,
		CheckMapBiomas:     25,
		CheckTerraIndigena: 15,
		CheckEmbargoIbama:  15,
		CheckUC:            5,
		CheckQuilombola:    5,
	}
}
