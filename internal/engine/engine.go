// Package engine evaluates parcels against the reference layers and
// aggregates the per-check outcomes into a compliance verdict.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/greengate-br/greengate/internal/geo"
	"github.com/greengate-br/greengate/internal/model"
	"github.com/greengate-br/greengate/internal/storage"
)

// EUDRCutoff is the deforestation reference date: alerts before it do not
// count against a parcel.
var EUDRCutoff = time.Date(2021, time.January, 1, 0, 0, 0, 0, time.UTC)

// Score thresholds for the aggregate verdict.
const (
	ApproveThreshold = 75.0
	WarningThreshold = 60.0
	SkipScore        = 50
)

// strictUCCategories are the fully-protected conservation unit categories.
// Any overlap with one fails the check outright; other categories only warn.
var strictUCCategories = map[string]bool{
	"PARNA": true, // Parque Nacional
	"ESEC":  true, // Estação Ecológica
	"REBIO": true, // Reserva Biológica
	"EE":    true,
	"MN":    true, // Monumento Natural
}

// SpatialGateway answers overlap queries against one reference layer
// and summarizes the store when the registry is unavailable.
// *storage.DB satisfies it.
type SpatialGateway interface {
	Overlap(ctx context.Context, geometry json.RawMessage, layer model.LayerType, cutoff *time.Time) (storage.OverlapResult, error)
	LayerCounts(ctx context.Context) (map[model.LayerType]int64, error)
	LayerFreshness(ctx context.Context) (map[model.LayerType]time.Time, error)
}

// VersionSource reports the active dataset version rows. *registry.Registry
// satisfies it.
type VersionSource interface {
	Active(ctx context.Context) (map[model.LayerType]model.DatasetVersion, error)
}

// Engine runs the six screening checks.
type Engine struct {
	gateway  SpatialGateway
	versions VersionSource
	logger   *slog.Logger
}

// New builds an Engine.
func New(gateway SpatialGateway, versions VersionSource, logger *slog.Logger) *Engine {
	return &Engine{gateway: gateway, versions: versions, logger: logger}
}

// Screen evaluates one parcel and returns the verdict. Individual check
// failures (a layer query erroring out) degrade that check to skip rather
// than failing the whole screening; a skipped check contributes a neutral
// score.
func (e *Engine) Screen(ctx context.Context, parcel *geo.Parcel) (model.Verdict, error) {
	versions, err := e.versions.Active(ctx)
	if err != nil {
		// A broken registry must not take screening down with it; fall
		// back to descriptors derived from the layer store itself.
		e.logger.Warn("registry unavailable, deriving legacy descriptors", "error", err)
		versions = e.legacyVersions(ctx)
	}

	weights := model.CheckWeights()
	blockers := model.BlockerChecks()
	verdict := model.Verdict{
		EngineVersion:   model.EngineVersion,
		RulesetVersion:  model.RulesetVersion,
		DatasetVersions: make(map[model.LayerType]string),
		AreaHa:          parcel.AreaHa(),
		EvaluatedAt:     time.Now().UTC(),
	}

	var weightedSum, weightTotal float64
	for _, check := range []model.CheckType{
		model.CheckProdes,
		model.CheckMapBiomas,
		model.CheckTerraIndigena,
		model.CheckUC,
		model.CheckQuilombola,
		model.CheckEmbargoIbama,
	} {
		result := e.runCheck(ctx, parcel, check)
		result.Weight = weights[check]
		result.Blocker = blockers[check]
		// A strict-protection conservation unit is the one conditional
		// blocker: the check fails with score 0 only in that case.
		if check == model.CheckUC && result.Status == model.CheckFail && result.Score == 0 {
			result.Blocker = true
		}

		layer := check.Layer()
		if v, ok := versions[layer]; ok {
			result.DatasetVersion = v.Version
			ingested := v.IngestedAt
			result.DataUpdatedAt = &ingested
		} else {
			result.DatasetVersion = model.LegacyDatasetVersion
		}
		verdict.DatasetVersions[layer] = result.DatasetVersion

		if result.Status == model.CheckFail && result.Blocker {
			verdict.Blockers = append(verdict.Blockers, check)
		}
		weightedSum += float64(result.Score) * float64(result.Weight)
		weightTotal += float64(result.Weight)
		verdict.Checks = append(verdict.Checks, result)
	}

	score := 0.0
	if weightTotal > 0 {
		score = weightedSum / weightTotal
	}
	verdict.Score = math.Round(score*10) / 10

	hasWarning := false
	for _, c := range verdict.Checks {
		if c.Status == model.CheckWarning {
			hasWarning = true
			break
		}
	}

	switch {
	case len(verdict.Blockers) > 0:
		verdict.Status = model.StatusRejected
		verdict.Score = 0
	case verdict.Score >= ApproveThreshold && !hasWarning:
		verdict.Status = model.StatusApproved
	case verdict.Score >= WarningThreshold:
		// a warning check demotes even a high-scoring parcel
		verdict.Status = model.StatusWarning
	default:
		verdict.Status = model.StatusRejected
	}
	return verdict, nil
}

// legacyVersions derives a degenerate descriptor per layer from the
// store itself: record count plus newest ingest timestamp, labeled
// "legacy". Used when the registry table is missing or broken.
func (e *Engine) legacyVersions(ctx context.Context) map[model.LayerType]model.DatasetVersion {
	counts, err := e.gateway.LayerCounts(ctx)
	if err != nil {
		e.logger.Warn("layer counts unavailable", "error", err)
		return nil
	}
	fresh, err := e.gateway.LayerFreshness(ctx)
	if err != nil {
		e.logger.Warn("layer freshness unavailable", "error", err)
		fresh = nil
	}

	versions := make(map[model.LayerType]model.DatasetVersion, len(counts))
	for layer, n := range counts {
		versions[layer] = model.DatasetVersion{
			LayerType:   layer,
			Version:     model.LegacyDatasetVersion,
			RecordCount: n,
			IngestedAt:  fresh[layer],
		}
	}
	return versions
}

func (e *Engine) runCheck(ctx context.Context, parcel *geo.Parcel, check model.CheckType) model.CheckResult {
	var cutoff *time.Time
	if check == model.CheckProdes || check == model.CheckMapBiomas {
		cutoff = &EUDRCutoff
	}

	overlap, err := e.gateway.Overlap(ctx, parcel.GeoJSON(), check.Layer(), cutoff)
	if err != nil {
		e.logger.Warn("check skipped", "check", check, "error", err)
		return model.CheckResult{
			Type:   check,
			Status: model.CheckSkip,
			Score:  SkipScore,
			Detail: fmt.Sprintf("layer unavailable: %v", err),
		}
	}

	result := model.CheckResult{
		Type:      check,
		OverlapHa: math.Round(overlap.TotalHa*10000) / 10000,
		Overlaps:  overlap.Features,
	}
	if overlap.TotalHa == 0 {
		result.Status = model.CheckPass
		result.Score = 100
		return result
	}

	switch check {
	case model.CheckProdes, model.CheckMapBiomas:
		result.Status = model.CheckFail
		result.Detail = fmt.Sprintf("deforestation after %s over %.4f ha", EUDRCutoff.Format("2006-01-02"), overlap.TotalHa)
	case model.CheckUC:
		if strictUC(overlap.Features) {
			result.Status = model.CheckFail
			result.Detail = fmt.Sprintf("overlap with fully protected conservation unit over %.4f ha", overlap.TotalHa)
		} else {
			result.Status = model.CheckWarning
			result.Score = 70
			result.Detail = fmt.Sprintf("overlap with sustainable-use conservation unit over %.4f ha", overlap.TotalHa)
		}
	case model.CheckTerraIndigena:
		result.Status = model.CheckFail
		result.Detail = fmt.Sprintf("overlap with indigenous land over %.4f ha", overlap.TotalHa)
	case model.CheckQuilombola:
		result.Status = model.CheckFail
		result.Detail = fmt.Sprintf("overlap with quilombola territory over %.4f ha", overlap.TotalHa)
	case model.CheckEmbargoIbama:
		result.Status = model.CheckFail
		result.Detail = fmt.Sprintf("overlap with IBAMA embargo over %.4f ha", overlap.TotalHa)
	}
	return result
}

// strictUC reports whether any overlapping conservation unit belongs to a
// fully protected category.
func strictUC(features []model.Overlap) bool {
	for _, f := range features {
		for _, key := range []string{"categoria", "category", "sigla"} {
			if v, ok := f.Properties[key].(string); ok {
				if strictUCCategories[strings.ToUpper(strings.TrimSpace(v))] {
					return true
				}
			}
		}
	}
	return false
}
