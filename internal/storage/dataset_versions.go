package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/greengate-br/greengate/internal/model"
)

const datasetColumns = `id, layer_type, version, source_url, description,
	record_count, ingested_at, is_active, archived_at`

func scanDatasetVersion(row pgx.Row) (model.DatasetVersion, error) {
	var v model.DatasetVersion
	err := row.Scan(
		&v.ID, &v.LayerType, &v.Version, &v.SourceURL, &v.Description,
		&v.RecordCount, &v.IngestedAt, &v.IsActive, &v.ArchivedAt,
	)
	return v, err
}

// ActiveDatasetVersions returns the active registry row for every layer
// that has one.
func (db *DB) ActiveDatasetVersions(ctx context.Context) ([]model.DatasetVersion, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+datasetColumns+` FROM dataset_versions WHERE is_active ORDER BY layer_type`)
	if err != nil {
		return nil, fmt.Errorf("storage: active dataset versions: %w", err)
	}
	defer rows.Close()

	var versions []model.DatasetVersion
	for rows.Next() {
		v, err := scanDatasetVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan dataset version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// RegisterDatasetVersion archives the current active version for the layer
// and inserts the new one as active, atomically. At most one active row
// per layer can exist afterwards.
func (db *DB) RegisterDatasetVersion(ctx context.Context, v model.DatasetVersion) (model.DatasetVersion, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.DatasetVersion{}, fmt.Errorf("storage: begin register version tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`UPDATE dataset_versions SET is_active = false, archived_at = now()
		 WHERE layer_type = $1 AND is_active`,
		v.LayerType,
	)
	if err != nil {
		return model.DatasetVersion{}, fmt.Errorf("storage: archive dataset version: %w", err)
	}

	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.IngestedAt.IsZero() {
		v.IngestedAt = time.Now().UTC()
	}
	v.IsActive = true
	v.ArchivedAt = nil

	_, err = tx.Exec(ctx,
		`INSERT INTO dataset_versions (`+datasetColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		v.ID, v.LayerType, v.Version, v.SourceURL, v.Description,
		v.RecordCount, v.IngestedAt, v.IsActive, v.ArchivedAt,
	)
	if err != nil {
		return model.DatasetVersion{}, fmt.Errorf("storage: insert dataset version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.DatasetVersion{}, fmt.Errorf("storage: commit register version tx: %w", err)
	}
	return v, nil
}

// DatasetVersionHistory returns all versions of one layer, newest first.
func (db *DB) DatasetVersionHistory(ctx context.Context, layer model.LayerType, limit int) ([]model.DatasetVersion, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+datasetColumns+` FROM dataset_versions
		 WHERE layer_type = $1 ORDER BY ingested_at DESC LIMIT $2`,
		layer, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: dataset version history: %w", err)
	}
	defer rows.Close()

	var versions []model.DatasetVersion
	for rows.Next() {
		v, err := scanDatasetVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan dataset version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}
