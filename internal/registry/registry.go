// Package registry tracks which version of each reference dataset is
// active, caching the registry table so the hot screening path does not
// query it per request.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/greengate-br/greengate/internal/model"
)

// DefaultCacheTTL bounds how stale the cached version snapshot may get.
const DefaultCacheTTL = 300 * time.Second

// Store is the persistence surface the registry needs.
type Store interface {
	ActiveDatasetVersions(ctx context.Context) ([]model.DatasetVersion, error)
	RegisterDatasetVersion(ctx context.Context, v model.DatasetVersion) (model.DatasetVersion, error)
	DatasetVersionHistory(ctx context.Context, layer model.LayerType, limit int) ([]model.DatasetVersion, error)
}

// Registry caches the active dataset versions.
type Registry struct {
	store Store
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	cache     map[model.LayerType]model.DatasetVersion
	fetchedAt time.Time
}

// New builds a Registry. ttl <= 0 selects DefaultCacheTTL.
func New(store Store, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Registry{store: store, ttl: ttl, now: time.Now}
}

// Active returns the active version rows keyed by layer. Layers without a
// registry row are absent.
func (r *Registry) Active(ctx context.Context) (map[model.LayerType]model.DatasetVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache != nil && r.now().Sub(r.fetchedAt) < r.ttl {
		return r.cache, nil
	}
	versions, err := r.store.ActiveDatasetVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: load active versions: %w", err)
	}
	cache := make(map[model.LayerType]model.DatasetVersion, len(versions))
	for _, v := range versions {
		cache[v.LayerType] = v
	}
	r.cache = cache
	r.fetchedAt = r.now()
	return cache, nil
}

// Snapshot returns a version label for every layer the engine consults.
// Layers missing from the registry report "legacy".
func (r *Registry) Snapshot(ctx context.Context) (map[model.LayerType]string, error) {
	active, err := r.Active(ctx)
	if err != nil {
		return nil, err
	}
	snap := make(map[model.LayerType]string, len(model.AllLayerTypes()))
	for _, layer := range model.AllLayerTypes() {
		if v, ok := active[layer]; ok {
			snap[layer] = v.Version
		} else {
			snap[layer] = model.LegacyDatasetVersion
		}
	}
	return snap, nil
}

// Register records a new active version for a layer and drops the cache
// so the next read sees it.
func (r *Registry) Register(ctx context.Context, v model.DatasetVersion) (model.DatasetVersion, error) {
	out, err := r.store.RegisterDatasetVersion(ctx, v)
	if err != nil {
		return model.DatasetVersion{}, err
	}
	r.Invalidate()
	return out, nil
}

// History returns past versions of one layer, newest first.
func (r *Registry) History(ctx context.Context, layer model.LayerType, limit int) ([]model.DatasetVersion, error) {
	return r.store.DatasetVersionHistory(ctx, layer, limit)
}

// Invalidate drops the cached snapshot.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.cache = nil
	r.mu.Unlock()
}
