package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/greengate-br/greengate/internal/model"
)

// GetPlot retrieves a stored parcel owned by the given key.
func (db *DB) GetPlot(ctx context.Context, ownerKey, plotID uuid.UUID) (model.Plot, error) {
	var p model.Plot
	err := db.pool.QueryRow(ctx,
		`SELECT id, owner_key_id, name, ST_AsGeoJSON(geom), area_ha, created_at
		 FROM plots WHERE id = $1 AND owner_key_id = $2`,
		plotID, ownerKey,
	).Scan(&p.ID, &p.OwnerKey, &p.Name, &p.Geometry, &p.AreaHa, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Plot{}, fmt.Errorf("storage: plot %s: %w", plotID, ErrNotFound)
		}
		return model.Plot{}, fmt.Errorf("storage: get plot: %w", err)
	}
	return p, nil
}

// CreatePlot stores a parcel for later repeat screening.
func (db *DB) CreatePlot(ctx context.Context, p model.Plot) (model.Plot, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO plots (id, owner_key_id, name, geom, area_ha)
		 VALUES ($1, $2, $3, ST_SetSRID(ST_GeomFromGeoJSON($4), 4326), $5)
		 RETURNING created_at`,
		p.ID, p.OwnerKey, p.Name, string(p.Geometry), p.AreaHa,
	).Scan(&p.CreatedAt)
	if err != nil {
		return model.Plot{}, fmt.Errorf("storage: create plot: %w", err)
	}
	return p, nil
}
