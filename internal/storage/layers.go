package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/greengate-br/greengate/internal/model"
)

// OverlapFloorHa is the minimum intersection area that counts as a real
// overlap. Anything smaller is treated as a sliver artifact of coordinate
// precision and discarded.
const OverlapFloorHa = 0.0001

// OverlapResult is the outcome of intersecting a parcel with one
// reference layer.
type OverlapResult struct {
	TotalHa  float64
	Features []model.Overlap
}

// Overlap intersects a GeoJSON geometry with one reference layer and
// returns every feature whose intersection area clears the floor.
// The geometry travels as a bound parameter; it is never interpolated
// into SQL. Areas are computed in geography so hectares are geodesic.
// cutoff, when non-nil, keeps only features dated on or after it.
// Deactivated features (superseded by a newer ingest) never match.
func (db *DB) Overlap(ctx context.Context, geometry json.RawMessage, layer model.LayerType, cutoff *time.Time) (OverlapResult, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT COALESCE(f.properties, '{}'::jsonb),
		        ST_Area(ST_Intersection(f.geom, ST_SetSRID(ST_GeomFromGeoJSON($1), 4326))::geography) / 10000.0
		 FROM reference_features f
		 WHERE f.layer_type = $2
		   AND f.is_active
		   AND f.geom && ST_SetSRID(ST_GeomFromGeoJSON($1), 4326)
		   AND ST_Intersects(f.geom, ST_SetSRID(ST_GeomFromGeoJSON($1), 4326))
		   AND ($3::date IS NULL OR f.reference_date >= $3)`,
		string(geometry), layer, cutoff,
	)
	if err != nil {
		return OverlapResult{}, fmt.Errorf("storage: overlap %s: %w", layer, err)
	}
	defer rows.Close()

	var res OverlapResult
	for rows.Next() {
		var props map[string]any
		var areaHa float64
		if err := rows.Scan(&props, &areaHa); err != nil {
			return OverlapResult{}, fmt.Errorf("storage: scan overlap %s: %w", layer, err)
		}
		if areaHa < OverlapFloorHa {
			continue
		}
		res.TotalHa += areaHa
		res.Features = append(res.Features, model.Overlap{AreaHa: areaHa, Properties: props})
	}
	if err := rows.Err(); err != nil {
		return OverlapResult{}, fmt.Errorf("storage: overlap %s: %w", layer, err)
	}
	return res, nil
}

// LayerCounts returns the number of stored features per layer, for the
// detailed health endpoint.
func (db *DB) LayerCounts(ctx context.Context) (map[model.LayerType]int64, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT layer_type, COUNT(*) FROM reference_features WHERE is_active GROUP BY layer_type`)
	if err != nil {
		return nil, fmt.Errorf("storage: layer counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.LayerType]int64)
	for rows.Next() {
		var layer model.LayerType
		var n int64
		if err := rows.Scan(&layer, &n); err != nil {
			return nil, fmt.Errorf("storage: scan layer count: %w", err)
		}
		counts[layer] = n
	}
	return counts, rows.Err()
}

// LayerFreshness returns the newest ingestion timestamp per layer. Layers
// with no features are absent from the map.
func (db *DB) LayerFreshness(ctx context.Context) (map[model.LayerType]time.Time, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT layer_type, MAX(ingested_at) FROM reference_features WHERE is_active GROUP BY layer_type`)
	if err != nil {
		return nil, fmt.Errorf("storage: layer freshness: %w", err)
	}
	defer rows.Close()

	fresh := make(map[model.LayerType]time.Time)
	for rows.Next() {
		var layer model.LayerType
		var ts time.Time
		if err := rows.Scan(&layer, &ts); err != nil {
			return nil, fmt.Errorf("storage: scan layer freshness: %w", err)
		}
		fresh[layer] = ts
	}
	return fresh, rows.Err()
}
