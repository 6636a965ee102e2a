package storage_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greengate-br/greengate/internal/integrity"
	"github.com/greengate-br/greengate/internal/model"
	"github.com/greengate-br/greengate/internal/report"
	"github.com/greengate-br/greengate/internal/storage"
	"github.com/greengate-br/greengate/internal/testutil"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	tc := testutil.MustStartPostGIS()
	defer tc.Terminate()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	db, err := tc.NewTestDB(ctx, logger)
	if err != nil {
		tc.Terminate()
		slog.Error("test db setup failed", "error", err)
		os.Exit(1)
	}
	testDB = db

	code := m.Run()
	db.Close()
	tc.Terminate()
	os.Exit(code)
}

const testPolygon = `{"type":"Polygon","coordinates":[[[-52.00,-10.00],[-51.99,-10.00],[-51.99,-9.99],[-52.00,-9.99],[-52.00,-10.00]]]}`

func newKey(t *testing.T, plan model.Plan) model.APIKey {
	t.Helper()
	raw := "gg_live_" + uuid.NewString()[:32]
	k, err := testDB.CreateAPIKey(context.Background(), model.APIKey{
		Name:         "Integration " + t.Name(),
		Email:        uuid.NewString()[:8] + "@example.com",
		KeyHash:      integrity.HashAPIKey(raw),
		KeyPrefix:    raw[:12] + "...",
		Plan:         plan,
		MonthlyQuota: plan.MonthlyQuota(),
		IsActive:     true,
	})
	require.NoError(t, err)
	return k
}

func TestAdmitKeyCountsDown(t *testing.T) {
	ctx := context.Background()
	k := newKey(t, model.PlanFree)

	for i := 1; i <= 3; i++ {
		grant, err := testDB.AdmitKey(ctx, k.KeyHash)
		require.NoError(t, err)
		require.NotNil(t, grant.Remaining)
		assert.Equal(t, 3-i, *grant.Remaining)
	}

	grant, err := testDB.AdmitKey(ctx, k.KeyHash)
	require.ErrorIs(t, err, storage.ErrQuotaExceeded)
	// grant is still populated so the handler can set headers
	require.NotNil(t, grant.Limit)
	assert.Equal(t, 3, *grant.Limit)
	assert.False(t, grant.ResetAt.IsZero())
}

func TestAdmitKeyRejectsRevokedAndUnknown(t *testing.T) {
	ctx := context.Background()
	k := newKey(t, model.PlanProfessional)

	require.NoError(t, testDB.RevokeAPIKey(ctx, k.ID))
	_, err := testDB.AdmitKey(ctx, k.KeyHash)
	assert.ErrorIs(t, err, storage.ErrKeyInvalid)

	_, err = testDB.AdmitKey(ctx, integrity.HashAPIKey("gg_live_00000000000000000000000000000000"))
	assert.ErrorIs(t, err, storage.ErrKeyInvalid)
}

func TestAdmitKeyEnterpriseUnmetered(t *testing.T) {
	ctx := context.Background()
	k := newKey(t, model.PlanEnterprise)

	grant, err := testDB.AdmitKey(ctx, k.KeyHash)
	require.NoError(t, err)
	assert.Nil(t, grant.Limit)
	assert.Nil(t, grant.Remaining)
}

func TestAdmitKeyConcurrent(t *testing.T) {
	ctx := context.Background()
	k := newKey(t, model.PlanProfessional)

	// 20 concurrent admissions on a 50-call quota must all land.
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := testDB.AdmitKey(ctx, k.KeyHash)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := testDB.GetAPIKey(ctx, k.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, got.CurrentUsage)
}

func TestAdmitKeyAccumulatesTotalRequests(t *testing.T) {
	ctx := context.Background()
	k := newKey(t, model.PlanFree)

	for range 2 {
		_, err := testDB.AdmitKey(ctx, k.KeyHash)
		require.NoError(t, err)
	}
	got, err := testDB.GetAPIKey(ctx, k.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentUsage)
	assert.Equal(t, int64(2), got.TotalRequests)

	// a window rollover clears current usage but never the lifetime counter
	_, err = testDB.Pool().Exec(ctx,
		`UPDATE api_keys SET last_reset_at = now() - interval '31 days' WHERE id = $1`, k.ID)
	require.NoError(t, err)

	_, err = testDB.AdmitKey(ctx, k.KeyHash)
	require.NoError(t, err)
	got, err = testDB.GetAPIKey(ctx, k.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentUsage)
	assert.Equal(t, int64(3), got.TotalRequests)
}

func TestCreateAPIKeyRejectsDuplicateHash(t *testing.T) {
	ctx := context.Background()
	k := newKey(t, model.PlanFree)

	_, err := testDB.CreateAPIKey(ctx, model.APIKey{
		Name:         "Clone",
		Email:        "clone@example.com",
		KeyHash:      k.KeyHash,
		KeyPrefix:    k.KeyPrefix,
		Plan:         model.PlanFree,
		MonthlyQuota: model.PlanFree.MonthlyQuota(),
		IsActive:     true,
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKeyHash)
}

func TestKeyLifecycle(t *testing.T) {
	ctx := context.Background()
	k := newKey(t, model.PlanFree)

	// delete refuses while the key is live
	err := testDB.DeleteAPIKey(ctx, k.ID)
	assert.ErrorIs(t, err, storage.ErrKeyNotRevoked)

	upgraded, err := testDB.ChangeKeyPlan(ctx, k.ID, model.PlanProfessional)
	require.NoError(t, err)
	require.NotNil(t, upgraded.MonthlyQuota)
	assert.Equal(t, 50, *upgraded.MonthlyQuota)
	assert.Equal(t, 0, upgraded.CurrentUsage)

	require.NoError(t, testDB.RevokeAPIKey(ctx, k.ID))
	require.NoError(t, testDB.ReactivateAPIKey(ctx, k.ID))
	require.NoError(t, testDB.RevokeAPIKey(ctx, k.ID))
	require.NoError(t, testDB.DeleteAPIKey(ctx, k.ID))

	_, err = testDB.GetAPIKey(ctx, k.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func seedFeature(t *testing.T, layer model.LayerType, geom string, refDate string, props map[string]any) {
	t.Helper()
	propsJSON, err := json.Marshal(props)
	require.NoError(t, err)
	_, err = testDB.Pool().Exec(context.Background(),
		`INSERT INTO reference_features (layer_type, geom, reference_date, properties)
		 VALUES ($1, ST_Multi(ST_SetSRID(ST_GeomFromGeoJSON($2), 4326)), $3, $4)`,
		layer, geom, refDate, propsJSON)
	require.NoError(t, err)
}

func TestOverlapDetectsIntersection(t *testing.T) {
	ctx := context.Background()
	seedFeature(t, model.LayerEmbargoIbama, testPolygon, "2023-05-01", map[string]any{"source": "ibama"})

	res, err := testDB.Overlap(ctx, json.RawMessage(testPolygon), model.LayerEmbargoIbama, nil)
	require.NoError(t, err)
	require.Len(t, res.Features, 1)
	assert.Greater(t, res.TotalHa, 100.0)
	assert.Equal(t, "ibama", res.Features[0].Properties["source"])

	// disjoint parcel sees nothing
	disjoint := json.RawMessage(`{"type":"Polygon","coordinates":[[[-50.00,-12.00],[-49.99,-12.00],[-49.99,-11.99],[-50.00,-11.99],[-50.00,-12.00]]]}`)
	res, err = testDB.Overlap(ctx, disjoint, model.LayerEmbargoIbama, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Features)
	assert.Zero(t, res.TotalHa)
}

func TestOverlapHonorsCutoff(t *testing.T) {
	ctx := context.Background()
	old := `{"type":"Polygon","coordinates":[[[-53.00,-11.00],[-52.99,-11.00],[-52.99,-10.99],[-53.00,-10.99],[-53.00,-11.00]]]}`
	seedFeature(t, model.LayerProdes, old, "2019-06-01", map[string]any{"year": 2019})

	cutoff := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	res, err := testDB.Overlap(ctx, json.RawMessage(old), model.LayerProdes, &cutoff)
	require.NoError(t, err)
	assert.Empty(t, res.Features, "pre-cutoff deforestation must not count")

	res, err = testDB.Overlap(ctx, json.RawMessage(old), model.LayerProdes, nil)
	require.NoError(t, err)
	assert.Len(t, res.Features, 1)
}

func TestOverlapIgnoresInactiveFeatures(t *testing.T) {
	ctx := context.Background()
	poly := `{"type":"Polygon","coordinates":[[[-55.00,-14.00],[-54.99,-14.00],[-54.99,-13.99],[-55.00,-13.99],[-55.00,-14.00]]]}`
	seedFeature(t, model.LayerUC, poly, "2022-01-01", map[string]any{"name": "REBIO Velha"})

	res, err := testDB.Overlap(ctx, json.RawMessage(poly), model.LayerUC, nil)
	require.NoError(t, err)
	require.Len(t, res.Features, 1)

	// superseded rows are kept for lineage but must never match again
	_, err = testDB.Pool().Exec(ctx,
		`UPDATE reference_features SET is_active = false WHERE layer_type = $1`, model.LayerUC)
	require.NoError(t, err)

	res, err = testDB.Overlap(ctx, json.RawMessage(poly), model.LayerUC, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Features)

	counts, err := testDB.LayerCounts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts[model.LayerUC])
}

func TestAuditRecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	rec := model.AuditRecord{
		ID:              uuid.New(),
		ReportCode:      report.NewCode(now),
		Geometry:        json.RawMessage(testPolygon),
		GeometryHash:    "deadbeef",
		Status:          model.StatusApproved,
		Score:           100,
		EngineVersion:   model.EngineVersion,
		RulesetVersion:  model.RulesetVersion,
		DatasetVersions: map[model.LayerType]string{model.LayerProdes: "2024.1"},
		Checks:          json.RawMessage(`[]`),
		AreaHa:          121.5,
		CentroidLat:     -9.995,
		CentroidLon:     -51.995,
		GeometryBBox:    []float64{-52.00, -10.00, -51.99, -9.99},
		PlotName:        "Talhão 3",
		PropertyName:    "Fazenda Santa Rita",
		State:           "MT",
		APIKeyHash:      "abcd1234",
		Language:        "pt",
		CreatedAt:       now,
		ExpiresAt:       now.Add(model.ReportExpiry),
	}
	saved, err := testDB.InsertAuditRecord(ctx, rec, func() string { return report.NewCode(now) })
	require.NoError(t, err)

	require.NoError(t, testDB.SetReportPDF(ctx, saved.ID, "cafebabe", 48213))

	got, err := testDB.GetAuditRecordByCode(ctx, saved.ReportCode)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, got.ID)
	assert.Equal(t, "cafebabe", got.PDFHash)
	assert.Equal(t, int64(48213), got.PDFSizeBytes)
	assert.Equal(t, "2024.1", got.DatasetVersions[model.LayerProdes])
	assert.Equal(t, []float64{-52.00, -10.00, -51.99, -9.99}, got.GeometryBBox)
	assert.Equal(t, "Talhão 3", got.PlotName)
	assert.Equal(t, "Fazenda Santa Rita", got.PropertyName)
	assert.Equal(t, "MT", got.State)
	assert.Equal(t, "abcd1234", got.APIKeyHash)
	assert.JSONEq(t, testPolygon, string(got.Geometry))

	_, err = testDB.GetAuditRecordByCode(ctx, "GG-20200101000000-XXXX")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestInsertAuditRecordRetriesCodeCollision(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	code := report.NewCode(now)

	mk := func() model.AuditRecord {
		return model.AuditRecord{
			ID:             uuid.New(),
			ReportCode:     code,
			Geometry:       json.RawMessage(testPolygon),
			GeometryHash:   "feed",
			Status:         model.StatusWarning,
			Score:          65,
			EngineVersion:  model.EngineVersion,
			RulesetVersion: model.RulesetVersion,
			Checks:         json.RawMessage(`[]`),
			Language:       "en",
			CreatedAt:      now,
			ExpiresAt:      now.Add(model.ReportExpiry),
		}
	}

	first, err := testDB.InsertAuditRecord(ctx, mk(), func() string { return report.NewCode(now) })
	require.NoError(t, err)

	second, err := testDB.InsertAuditRecord(ctx, mk(), func() string { return report.NewCode(now) })
	require.NoError(t, err)
	assert.NotEqual(t, first.ReportCode, second.ReportCode)
}

func TestPlotsAndValidations(t *testing.T) {
	ctx := context.Background()
	k := newKey(t, model.PlanProfessional)

	plot, err := testDB.CreatePlot(ctx, model.Plot{
		OwnerKey: k.ID,
		Name:     "Gleba Sul",
		Geometry: json.RawMessage(testPolygon),
		AreaHa:   121.5,
	})
	require.NoError(t, err)

	// owner scoping: another key cannot see the plot
	other := newKey(t, model.PlanFree)
	_, err = testDB.GetPlot(ctx, other.ID, plot.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	got, err := testDB.GetPlot(ctx, k.ID, plot.ID)
	require.NoError(t, err)
	assert.JSONEq(t, testPolygon, string(got.Geometry))

	now := time.Now().UTC()
	v, err := testDB.InsertValidation(ctx, model.PlotValidation{
		PlotID:        plot.ID,
		Status:        model.StatusApproved,
		Score:         100,
		Checks:        json.RawMessage(`[]`),
		EngineVersion: model.EngineVersion,
		EvaluatedAt:   now,
		ExpiresAt:     now.Add(30 * 24 * time.Hour),
	})
	require.NoError(t, err)

	latest, err := testDB.LatestValidation(ctx, plot.ID)
	require.NoError(t, err)
	assert.Equal(t, v.ID, latest.ID)

	hist, err := testDB.ValidationHistory(ctx, k.ID, plot.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestLatestValidationIgnoresExpired(t *testing.T) {
	ctx := context.Background()
	k := newKey(t, model.PlanProfessional)

	plot, err := testDB.CreatePlot(ctx, model.Plot{
		OwnerKey: k.ID,
		Name:     "Gleba Norte",
		Geometry: json.RawMessage(testPolygon),
		AreaHa:   121.5,
	})
	require.NoError(t, err)

	stale := time.Now().UTC().Add(-40 * 24 * time.Hour)
	_, err = testDB.InsertValidation(ctx, model.PlotValidation{
		PlotID:        plot.ID,
		Status:        model.StatusApproved,
		Score:         100,
		Checks:        json.RawMessage(`[]`),
		EngineVersion: model.EngineVersion,
		EvaluatedAt:   stale,
		ExpiresAt:     stale.Add(30 * 24 * time.Hour),
	})
	require.NoError(t, err)

	_, err = testDB.LatestValidation(ctx, plot.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDatasetVersionRegistration(t *testing.T) {
	ctx := context.Background()

	v1, err := testDB.RegisterDatasetVersion(ctx, model.DatasetVersion{
		LayerType:   model.LayerTerraIndigena,
		Version:     "2023.2",
		SourceURL:   "https://geoserver.funai.gov.br",
		RecordCount: 600,
	})
	require.NoError(t, err)
	assert.True(t, v1.IsActive)

	v2, err := testDB.RegisterDatasetVersion(ctx, model.DatasetVersion{
		LayerType:   model.LayerTerraIndigena,
		Version:     "2024.1",
		RecordCount: 618,
	})
	require.NoError(t, err)

	active, err := testDB.ActiveDatasetVersions(ctx)
	require.NoError(t, err)
	for _, v := range active {
		if v.LayerType == model.LayerTerraIndigena {
			assert.Equal(t, v2.ID, v.ID, "new registration must displace the old active row")
		}
	}

	hist, err := testDB.DatasetVersionHistory(ctx, model.LayerTerraIndigena, 10)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(hist), 2)
}

func TestPurgeExpired(t *testing.T) {
	ctx := context.Background()
	old := time.Now().UTC().Add(-2 * 365 * 24 * time.Hour)

	_, err := testDB.InsertAuditRecord(ctx, model.AuditRecord{
		ID:             uuid.New(),
		ReportCode:     report.NewCode(old),
		Geometry:       json.RawMessage(testPolygon),
		GeometryHash:   "old",
		Status:         model.StatusApproved,
		Score:          100,
		EngineVersion:  model.EngineVersion,
		RulesetVersion: model.RulesetVersion,
		Checks:         json.RawMessage(`[]`),
		Language:       "pt",
		CreatedAt:      old,
		ExpiresAt:      old.Add(model.ReportExpiry),
	}, func() string { return report.NewCode(old) })
	require.NoError(t, err)

	res, err := testDB.PurgeExpired(ctx, time.Now().UTC().Add(-365*24*time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Reports, int64(1))
}

func TestPostGISAvailable(t *testing.T) {
	v, err := testDB.PostGISVersion(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, v)
}
