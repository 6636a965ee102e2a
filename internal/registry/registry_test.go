package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greengate-br/greengate/internal/model"
)

type fakeStore struct {
	versions []model.DatasetVersion
	loads    int
}

func (f *fakeStore) ActiveDatasetVersions(context.Context) ([]model.DatasetVersion, error) {
	f.loads++
	return f.versions, nil
}

func (f *fakeStore) RegisterDatasetVersion(_ context.Context, v model.DatasetVersion) (model.DatasetVersion, error) {
	f.versions = append(f.versions, v)
	return v, nil
}

func (f *fakeStore) DatasetVersionHistory(context.Context, model.LayerType, int) ([]model.DatasetVersion, error) {
	return f.versions, nil
}

func TestSnapshotFallsBackToLegacy(t *testing.T) {
	store := &fakeStore{versions: []model.DatasetVersion{
		{LayerType: model.LayerProdes, Version: "2024.1"},
	}}
	r := New(store, time.Minute)

	snap, err := r.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2024.1", snap[model.LayerProdes])
	assert.Equal(t, model.LegacyDatasetVersion, snap[model.LayerUC])
	assert.Len(t, snap, len(model.AllLayerTypes()))
}

func TestCacheAvoidsRepeatLoads(t *testing.T) {
	store := &fakeStore{}
	r := New(store, time.Minute)

	_, err := r.Snapshot(context.Background())
	require.NoError(t, err)
	_, err = r.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, store.loads)
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	store := &fakeStore{}
	r := New(store, 300*time.Second)
	current := time.Now()
	r.now = func() time.Time { return current }

	_, err := r.Active(context.Background())
	require.NoError(t, err)
	current = current.Add(301 * time.Second)
	_, err = r.Active(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, store.loads)
}

func TestRegisterInvalidatesCache(t *testing.T) {
	store := &fakeStore{}
	r := New(store, time.Minute)

	_, err := r.Active(context.Background())
	require.NoError(t, err)

	_, err = r.Register(context.Background(), model.DatasetVersion{
		LayerType: model.LayerEmbargoIbama, Version: "2025-08",
	})
	require.NoError(t, err)

	snap, err := r.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025-08", snap[model.LayerEmbargoIbama])
	assert.Equal(t, 2, store.loads)
}
