package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greengate-br/greengate/internal/geo"
	"github.com/greengate-br/greengate/internal/model"
	"github.com/greengate-br/greengate/internal/storage"
)

type stubGateway struct {
	overlaps map[model.LayerType]storage.OverlapResult
	errs     map[model.LayerType]error
	cutoffs  map[model.LayerType]*time.Time
	counts   map[model.LayerType]int64
	fresh    map[model.LayerType]time.Time
}

func (s *stubGateway) Overlap(_ context.Context, _ json.RawMessage, layer model.LayerType, cutoff *time.Time) (storage.OverlapResult, error) {
	if s.cutoffs == nil {
		s.cutoffs = make(map[model.LayerType]*time.Time)
	}
	s.cutoffs[layer] = cutoff
	if err := s.errs[layer]; err != nil {
		return storage.OverlapResult{}, err
	}
	return s.overlaps[layer], nil
}

func (s *stubGateway) LayerCounts(context.Context) (map[model.LayerType]int64, error) {
	return s.counts, nil
}

func (s *stubGateway) LayerFreshness(context.Context) (map[model.LayerType]time.Time, error) {
	return s.fresh, nil
}

type stubVersions struct {
	active map[model.LayerType]model.DatasetVersion
	err    error
}

func (s *stubVersions) Active(context.Context) (map[model.LayerType]model.DatasetVersion, error) {
	return s.active, s.err
}

func testParcel(t *testing.T) *geo.Parcel {
	t.Helper()
	p, err := geo.Parse([]byte(`{"type":"Polygon","coordinates":[[[-47.9,-15.8],[-47.89,-15.8],[-47.89,-15.79],[-47.9,-15.8]]]}`))
	require.NoError(t, err)
	return p
}

func newTestEngine(gw *stubGateway, vs *stubVersions) *Engine {
	if vs == nil {
		vs = &stubVersions{}
	}
	return New(gw, vs, slog.New(slog.NewTextHandler(testWriter{}, nil)))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func overlap(ha float64, props map[string]any) storage.OverlapResult {
	return storage.OverlapResult{
		TotalHa:  ha,
		Features: []model.Overlap{{AreaHa: ha, Properties: props}},
	}
}

func TestScreenCleanParcelApproved(t *testing.T) {
	e := newTestEngine(&stubGateway{}, nil)

	v, err := e.Screen(context.Background(), testParcel(t))
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, v.Status)
	assert.Equal(t, 100.0, v.Score)
	assert.Len(t, v.Checks, 6)
	assert.Empty(t, v.Blockers)
	for _, c := range v.Checks {
		assert.Equal(t, model.CheckPass, c.Status)
		assert.Equal(t, model.LegacyDatasetVersion, c.DatasetVersion)
	}
}

func TestScreenProdesOverlapRejectsWithZeroScore(t *testing.T) {
	gw := &stubGateway{overlaps: map[model.LayerType]storage.OverlapResult{
		model.LayerProdes: overlap(1.5, nil),
	}}
	e := newTestEngine(gw, nil)

	v, err := e.Screen(context.Background(), testParcel(t))
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, v.Status)
	assert.Equal(t, 0.0, v.Score)
	assert.Equal(t, []model.CheckType{model.CheckProdes}, v.Blockers)
}

func TestScreenDeforestationChecksCarryCutoff(t *testing.T) {
	gw := &stubGateway{}
	e := newTestEngine(gw, nil)

	_, err := e.Screen(context.Background(), testParcel(t))
	require.NoError(t, err)
	require.NotNil(t, gw.cutoffs[model.LayerProdes])
	assert.Equal(t, EUDRCutoff, *gw.cutoffs[model.LayerProdes])
	require.NotNil(t, gw.cutoffs[model.LayerMapBiomas])
	assert.Nil(t, gw.cutoffs[model.LayerUC])
	assert.Nil(t, gw.cutoffs[model.LayerEmbargoIbama])
}

func TestScreenSustainableUseUCWarns(t *testing.T) {
	gw := &stubGateway{overlaps: map[model.LayerType]storage.OverlapResult{
		model.LayerUC: overlap(0.3, map[string]any{"categoria": "APA"}),
	}}
	e := newTestEngine(gw, nil)

	v, err := e.Screen(context.Background(), testParcel(t))
	require.NoError(t, err)
	// a warning check demotes the verdict even though the score clears
	// the approval threshold
	assert.Equal(t, model.StatusWarning, v.Status)
	assert.Equal(t, 98.5, v.Score)

	uc := v.Checks[3]
	assert.Equal(t, model.CheckUC, uc.Type)
	assert.Equal(t, model.CheckWarning, uc.Status)
	assert.Equal(t, 70, uc.Score)
}

func TestScreenStrictUCIsBlocker(t *testing.T) {
	gw := &stubGateway{overlaps: map[model.LayerType]storage.OverlapResult{
		model.LayerUC: overlap(2.0, map[string]any{"categoria": "PARNA"}),
	}}
	e := newTestEngine(gw, nil)

	v, err := e.Screen(context.Background(), testParcel(t))
	require.NoError(t, err)
	assert.Equal(t, model.CheckFail, v.Checks[3].Status)
	assert.True(t, v.Checks[3].Blocker)
	assert.Equal(t, []model.CheckType{model.CheckUC}, v.Blockers)
	assert.Equal(t, 0.0, v.Score)
	assert.Equal(t, model.StatusRejected, v.Status)
}

func TestScreenQuilombolaOverlapIsBlocker(t *testing.T) {
	gw := &stubGateway{overlaps: map[model.LayerType]storage.OverlapResult{
		model.LayerQuilombola: overlap(0.4, nil),
	}}
	e := newTestEngine(gw, nil)

	v, err := e.Screen(context.Background(), testParcel(t))
	require.NoError(t, err)
	assert.Equal(t, []model.CheckType{model.CheckQuilombola}, v.Blockers)
	assert.Equal(t, 0.0, v.Score)
	assert.Equal(t, model.StatusRejected, v.Status)
}

func TestScreenWeightedScoreBands(t *testing.T) {
	// mapbiomas fail alone drops exactly to the approval boundary
	gw := &stubGateway{overlaps: map[model.LayerType]storage.OverlapResult{
		model.LayerMapBiomas: overlap(0.8, nil),
	}}
	v, err := newTestEngine(gw, nil).Screen(context.Background(), testParcel(t))
	require.NoError(t, err)
	assert.Equal(t, 75.0, v.Score)
	assert.Equal(t, model.StatusApproved, v.Status)

	// mapbiomas plus a sustainable-use UC lands in the warning band
	gw = &stubGateway{overlaps: map[model.LayerType]storage.OverlapResult{
		model.LayerMapBiomas: overlap(0.8, nil),
		model.LayerUC:        overlap(1.0, map[string]any{"categoria": "APA"}),
	}}
	v, err = newTestEngine(gw, nil).Screen(context.Background(), testParcel(t))
	require.NoError(t, err)
	assert.Equal(t, 73.5, v.Score)
	assert.Equal(t, model.StatusWarning, v.Status)

	// mapbiomas fail with every other layer down falls below the band
	errs := make(map[model.LayerType]error)
	for _, l := range model.AllLayerTypes() {
		if l != model.LayerMapBiomas {
			errs[l] = errors.New("down")
		}
	}
	gw = &stubGateway{
		overlaps: map[model.LayerType]storage.OverlapResult{
			model.LayerMapBiomas: overlap(0.8, nil),
		},
		errs: errs,
	}
	v, err = newTestEngine(gw, nil).Screen(context.Background(), testParcel(t))
	require.NoError(t, err)
	assert.Equal(t, 37.5, v.Score)
	assert.Equal(t, model.StatusRejected, v.Status)
}

func TestCheckWeightsSumToHundred(t *testing.T) {
	weights := model.CheckWeights()
	assert.Equal(t, 35, weights[model.CheckProdes])
	assert.Equal(t, 25, weights[model.CheckMapBiomas])
	assert.Equal(t, 15, weights[model.CheckTerraIndigena])
	assert.Equal(t, 15, weights[model.CheckEmbargoIbama])
	assert.Equal(t, 5, weights[model.CheckUC])
	assert.Equal(t, 5, weights[model.CheckQuilombola])

	total := 0
	for _, w := range weights {
		total += w
	}
	assert.Equal(t, 100, total)
}

func TestScreenLayerErrorDegradesToSkip(t *testing.T) {
	gw := &stubGateway{errs: map[model.LayerType]error{
		model.LayerQuilombola: errors.New("relation does not exist"),
	}}
	e := newTestEngine(gw, nil)

	v, err := e.Screen(context.Background(), testParcel(t))
	require.NoError(t, err)

	q := v.Checks[4]
	assert.Equal(t, model.CheckSkip, q.Status)
	assert.Equal(t, SkipScore, q.Score)
	assert.Contains(t, q.Detail, "layer unavailable")
	// 100*95 + 50*5 over 100
	assert.Equal(t, 97.5, v.Score)
	assert.Equal(t, model.StatusApproved, v.Status)
}

func TestScreenAllSkippedRejected(t *testing.T) {
	errs := make(map[model.LayerType]error)
	for _, l := range model.AllLayerTypes() {
		errs[l] = errors.New("down")
	}
	e := newTestEngine(&stubGateway{errs: errs}, nil)

	v, err := e.Screen(context.Background(), testParcel(t))
	require.NoError(t, err)
	assert.Equal(t, 50.0, v.Score)
	assert.Equal(t, model.StatusRejected, v.Status)
}

func TestScreenStampsDatasetVersions(t *testing.T) {
	ingested := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	vs := &stubVersions{active: map[model.LayerType]model.DatasetVersion{
		model.LayerProdes: {LayerType: model.LayerProdes, Version: "2024.1", IngestedAt: ingested},
	}}
	e := newTestEngine(&stubGateway{}, vs)

	v, err := e.Screen(context.Background(), testParcel(t))
	require.NoError(t, err)
	assert.Equal(t, "2024.1", v.DatasetVersions[model.LayerProdes])
	assert.Equal(t, model.LegacyDatasetVersion, v.DatasetVersions[model.LayerUC])

	prodes := v.Checks[0]
	require.NotNil(t, prodes.DataUpdatedAt)
	assert.Equal(t, ingested, *prodes.DataUpdatedAt)
	assert.Equal(t, model.EngineVersion, v.EngineVersion)
	assert.Equal(t, model.RulesetVersion, v.RulesetVersion)
}

func TestScreenIgnoresSubFloorOverlapAlreadyFiltered(t *testing.T) {
	// the gateway filters slivers; a zero-total result must pass
	gw := &stubGateway{overlaps: map[model.LayerType]storage.OverlapResult{
		model.LayerEmbargoIbama: {TotalHa: 0},
	}}
	v, err := newTestEngine(gw, nil).Screen(context.Background(), testParcel(t))
	require.NoError(t, err)
	assert.Equal(t, model.CheckPass, v.Checks[5].Status)
}

func TestScreenRegistryFailureFallsBackToStore(t *testing.T) {
	ingested := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	gw := &stubGateway{
		counts: map[model.LayerType]int64{model.LayerProdes: 1200},
		fresh:  map[model.LayerType]time.Time{model.LayerProdes: ingested},
	}
	vs := &stubVersions{err: errors.New(`relation "dataset_versions" does not exist`)}

	v, err := newTestEngine(gw, vs).Screen(context.Background(), testParcel(t))
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, v.Status)
	for _, dv := range v.DatasetVersions {
		assert.Equal(t, model.LegacyDatasetVersion, dv)
	}

	prodes := v.Checks[0]
	require.NotNil(t, prodes.DataUpdatedAt)
	assert.Equal(t, ingested, *prodes.DataUpdatedAt)
}
