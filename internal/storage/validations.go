package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/greengate-br/greengate/internal/model"
)

const validationColumns = `id, plot_id, status, score, checks, engine_version, evaluated_at, expires_at`

func scanValidation(row pgx.Row) (model.PlotValidation, error) {
	var v model.PlotValidation
	err := row.Scan(
		&v.ID, &v.PlotID, &v.Status, &v.Score, &v.Checks,
		&v.EngineVersion, &v.EvaluatedAt, &v.ExpiresAt,
	)
	return v, err
}

// InsertValidation persists one screening of a stored plot.
func (db *DB) InsertValidation(ctx context.Context, v model.PlotValidation) (model.PlotValidation, error) {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.EvaluatedAt.IsZero() {
		v.EvaluatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO plot_validations (`+validationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		v.ID, v.PlotID, v.Status, v.Score, v.Checks,
		v.EngineVersion, v.EvaluatedAt, v.ExpiresAt,
	)
	if err != nil {
		return model.PlotValidation{}, fmt.Errorf("storage: insert validation: %w", err)
	}
	return v, nil
}

// GetValidation retrieves one screening by id, scoped to plots owned by
// the given key.
func (db *DB) GetValidation(ctx context.Context, ownerKey, id uuid.UUID) (model.PlotValidation, error) {
	v, err := scanValidation(db.pool.QueryRow(ctx,
		`SELECT v.id, v.plot_id, v.status, v.score, v.checks, v.engine_version, v.evaluated_at, v.expires_at
		 FROM plot_validations v
		 JOIN plots p ON p.id = v.plot_id
		 WHERE v.id = $1 AND p.owner_key_id = $2`,
		id, ownerKey,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PlotValidation{}, fmt.Errorf("storage: validation %s: %w", id, ErrNotFound)
		}
		return model.PlotValidation{}, fmt.Errorf("storage: get validation: %w", err)
	}
	return v, nil
}

// LatestValidation returns the most recent unexpired screening of a plot,
// or ErrNotFound when none is current.
func (db *DB) LatestValidation(ctx context.Context, plotID uuid.UUID) (model.PlotValidation, error) {
	v, err := scanValidation(db.pool.QueryRow(ctx,
		`SELECT `+validationColumns+` FROM plot_validations
		 WHERE plot_id = $1 AND expires_at > now()
		 ORDER BY evaluated_at DESC LIMIT 1`,
		plotID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PlotValidation{}, ErrNotFound
		}
		return model.PlotValidation{}, fmt.Errorf("storage: latest validation: %w", err)
	}
	return v, nil
}

// ValidationHistory returns past screenings of a plot, newest first.
func (db *DB) ValidationHistory(ctx context.Context, ownerKey, plotID uuid.UUID, limit, offset int) ([]model.PlotValidation, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := db.pool.Query(ctx,
		`SELECT v.id, v.plot_id, v.status, v.score, v.checks, v.engine_version, v.evaluated_at, v.expires_at
		 FROM plot_validations v
		 JOIN plots p ON p.id = v.plot_id
		 WHERE v.plot_id = $1 AND p.owner_key_id = $2
		 ORDER BY v.evaluated_at DESC
		 LIMIT $3 OFFSET $4`,
		plotID, ownerKey, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: validation history: %w", err)
	}
	defer rows.Close()

	var out []model.PlotValidation
	for rows.Next() {
		v, err := scanValidation(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan validation: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
