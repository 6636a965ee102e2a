package storage

import (
	"context"
	"fmt"
	"time"
)

// RetentionResult counts the rows removed by one retention sweep.
type RetentionResult struct {
	Reports     int64 `json:"reports"`
	Validations int64 `json:"validations"`
}

// PurgeExpired removes audit reports whose verification window closed
// before the cutoff and plot validations that expired before it. Expired
// reports stay verifiable (flagged expired) until the grace period runs
// out, so callers pass a cutoff well behind time.Now.
func (db *DB) PurgeExpired(ctx context.Context, cutoff time.Time) (RetentionResult, error) {
	var res RetentionResult

	tag, err := db.pool.Exec(ctx,
		`DELETE FROM validation_reports WHERE expires_at < $1`, cutoff)
	if err != nil {
		return res, fmt.Errorf("storage: purge reports: %w", err)
	}
	res.Reports = tag.RowsAffected()

	tag, err = db.pool.Exec(ctx,
		`DELETE FROM plot_validations WHERE expires_at < $1`, cutoff)
	if err != nil {
		return res, fmt.Errorf("storage: purge validations: %w", err)
	}
	res.Validations = tag.RowsAffected()

	return res, nil
}
