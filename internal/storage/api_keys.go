package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/greengate-br/greengate/internal/model"
)

const apiKeyColumns = `id, name, email, key_hash, key_prefix, plan, monthly_quota,
	current_usage, total_requests, last_reset_at, is_active, is_revoked, expires_at,
	last_used_at, notes, created_at, updated_at`

func scanAPIKey(row pgx.Row) (model.APIKey, error) {
	var k model.APIKey
	err := row.Scan(
		&k.ID, &k.Name, &k.Email, &k.KeyHash, &k.KeyPrefix, &k.Plan,
		&k.MonthlyQuota, &k.CurrentUsage, &k.TotalRequests, &k.LastResetAt,
		&k.IsActive, &k.IsRevoked, &k.ExpiresAt, &k.LastUsedAt, &k.Notes,
		&k.CreatedAt, &k.UpdatedAt,
	)
	return k, err
}

// AdmitKey performs quota admission for one report-generating request.
// The key row is locked with FOR UPDATE for the duration of the
// transaction, so concurrent requests on the same key serialize and the
// counter can never over-admit. The sequence is: lock, check liveness,
// roll the 30-day window if due, check quota, increment, commit.
// On ErrQuotaExceeded the returned grant still carries the limit and
// reset time so the caller can populate rate-limit headers.
func (db *DB) AdmitKey(ctx context.Context, keyHash string) (model.QuotaGrant, error) {
	// The FOR UPDATE admission can deadlock against plan changes and
	// quota resets under load; those abort with a retriable code.
	var grant model.QuotaGrant
	err := WithRetry(ctx, 2, 25*time.Millisecond, func() error {
		var err error
		grant, err = db.admitKey(ctx, keyHash)
		return err
	})
	return grant, err
}

func (db *DB) admitKey(ctx context.Context, keyHash string) (model.QuotaGrant, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.QuotaGrant{}, fmt.Errorf("storage: begin admit tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	k, err := scanAPIKey(tx.QueryRow(ctx,
		`SELECT `+apiKeyColumns+`
		 FROM api_keys
		 WHERE key_hash = $1 AND is_active AND NOT is_revoked
		 FOR UPDATE`,
		keyHash,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.QuotaGrant{}, ErrKeyInvalid
		}
		return model.QuotaGrant{}, fmt.Errorf("storage: admit lookup: %w", err)
	}

	now := time.Now().UTC()
	if k.ExpiresAt != nil && now.After(*k.ExpiresAt) {
		return model.QuotaGrant{}, ErrKeyExpired
	}

	if now.Sub(k.LastResetAt) >= model.QuotaResetInterval {
		k.CurrentUsage = 0
		k.LastResetAt = now
	}
	resetAt := k.LastResetAt.Add(model.QuotaResetInterval)

	if k.MonthlyQuota != nil && k.CurrentUsage >= *k.MonthlyQuota {
		zero := 0
		return model.QuotaGrant{
			Key:       &k,
			Limit:     k.MonthlyQuota,
			Remaining: &zero,
			ResetAt:   resetAt,
		}, ErrQuotaExceeded
	}

	// total_requests is a lifetime counter; it never rolls with the window
	k.CurrentUsage++
	k.TotalRequests++
	k.LastUsedAt = &now
	_, err = tx.Exec(ctx,
		`UPDATE api_keys
		 SET current_usage = $2, total_requests = $3, last_reset_at = $4, last_used_at = $5, updated_at = $5
		 WHERE id = $1`,
		k.ID, k.CurrentUsage, k.TotalRequests, k.LastResetAt, now,
	)
	if err != nil {
		return model.QuotaGrant{}, fmt.Errorf("storage: admit increment: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.QuotaGrant{}, fmt.Errorf("storage: commit admit tx: %w", err)
	}

	grant := model.QuotaGrant{Key: &k, ResetAt: resetAt}
	if k.MonthlyQuota != nil {
		remaining := *k.MonthlyQuota - k.CurrentUsage
		grant.Limit = k.MonthlyQuota
		grant.Remaining = &remaining
	}
	return grant, nil
}

// GetKeyByHash authenticates a key without consuming quota. Used on
// endpoints that require a key but are not metered.
func (db *DB) GetKeyByHash(ctx context.Context, keyHash string) (model.APIKey, error) {
	k, err := scanAPIKey(db.pool.QueryRow(ctx,
		`SELECT `+apiKeyColumns+`
		 FROM api_keys
		 WHERE key_hash = $1 AND is_active AND NOT is_revoked`,
		keyHash,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.APIKey{}, ErrKeyInvalid
		}
		return model.APIKey{}, fmt.Errorf("storage: get key by hash: %w", err)
	}
	if k.ExpiresAt != nil && time.Now().UTC().After(*k.ExpiresAt) {
		return model.APIKey{}, ErrKeyExpired
	}
	return k, nil
}

// CreateAPIKey inserts a new key row. The caller supplies the hash and
// prefix; the raw key never reaches storage.
func (db *DB) CreateAPIKey(ctx context.Context, k model.APIKey) (model.APIKey, error) {
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	now := time.Now().UTC()
	if k.CreatedAt.IsZero() {
		k.CreatedAt = now
	}
	if k.LastResetAt.IsZero() {
		k.LastResetAt = now
	}
	k.UpdatedAt = now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, email, key_hash, key_prefix, plan, monthly_quota,
		                       current_usage, total_requests, last_reset_at, is_active, is_revoked,
		                       expires_at, notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		k.ID, k.Name, k.Email, k.KeyHash, k.KeyPrefix, k.Plan, k.MonthlyQuota,
		k.CurrentUsage, k.TotalRequests, k.LastResetAt, k.IsActive, k.IsRevoked,
		k.ExpiresAt, k.Notes, k.CreatedAt, k.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.APIKey{}, ErrDuplicateKeyHash
		}
		return model.APIKey{}, fmt.Errorf("storage: create api key: %w", err)
	}
	return k, nil
}

// GetAPIKey retrieves one key by id.
func (db *DB) GetAPIKey(ctx context.Context, id uuid.UUID) (model.APIKey, error) {
	k, err := scanAPIKey(db.pool.QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.APIKey{}, fmt.Errorf("storage: api key %s: %w", id, ErrNotFound)
		}
		return model.APIKey{}, fmt.Errorf("storage: get api key: %w", err)
	}
	return k, nil
}

// CountActiveKeysByEmail returns how many live keys an email address holds.
// Registration allows at most one.
func (db *DB) CountActiveKeysByEmail(ctx context.Context, email string) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM api_keys WHERE lower(email) = lower($1) AND is_active AND NOT is_revoked`,
		email,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count keys by email: %w", err)
	}
	return n, nil
}

// ListKeysFilter narrows ListAPIKeys. Nil fields match everything.
type ListKeysFilter struct {
	Plan     *model.Plan
	IsActive *bool
	Limit    int
	Offset   int
}

// ListAPIKeys returns keys matching the filter, newest first, plus the
// unpaginated total.
func (db *DB) ListAPIKeys(ctx context.Context, f ListKeysFilter) ([]model.APIKey, int, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	where := `($1::text IS NULL OR plan = $1) AND ($2::boolean IS NULL OR is_active = $2)`

	var total int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM api_keys WHERE `+where, f.Plan, f.IsActive,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count api keys: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys
		 WHERE `+where+`
		 ORDER BY created_at DESC
		 LIMIT $3 OFFSET $4`,
		f.Plan, f.IsActive, f.Limit, f.Offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list api keys: %w", err)
	}
	defer rows.Close()

	var keys []model.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("storage: list api keys: %w", err)
	}
	return keys, total, nil
}

// UpdateAPIKey patches the mutable fields of a key and returns the result.
func (db *DB) UpdateAPIKey(ctx context.Context, id uuid.UUID, req model.UpdateKeyRequest) (model.APIKey, error) {
	k, err := scanAPIKey(db.pool.QueryRow(ctx,
		`UPDATE api_keys
		 SET name  = COALESCE($2, name),
		     email = COALESCE($3, email),
		     notes = COALESCE($4, notes),
		     updated_at = now()
		 WHERE id = $1
		 RETURNING `+apiKeyColumns,
		id, req.Name, req.Email, req.Notes,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.APIKey{}, fmt.Errorf("storage: api key %s: %w", id, ErrNotFound)
		}
		return model.APIKey{}, fmt.Errorf("storage: update api key: %w", err)
	}
	return k, nil
}

// RevokeAPIKey permanently deactivates a key.
func (db *DB) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE api_keys SET is_revoked = true, is_active = false, updated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("storage: revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: api key %s: %w", id, ErrNotFound)
	}
	return nil
}

// ReactivateAPIKey brings a revoked key back into service.
func (db *DB) ReactivateAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE api_keys SET is_revoked = false, is_active = true, updated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("storage: reactivate api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: api key %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteAPIKey removes a key row. Only revoked keys may be deleted so an
// accidental delete cannot bypass revocation history.
func (db *DB) DeleteAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM api_keys WHERE id = $1 AND is_revoked`, id,
	)
	if err != nil {
		return fmt.Errorf("storage: delete api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := db.GetAPIKey(ctx, id); err != nil {
			return err
		}
		return ErrKeyNotRevoked
	}
	return nil
}

// ChangeKeyPlan moves a key to a new plan. The usage counter and window
// restart so the new quota applies immediately.
func (db *DB) ChangeKeyPlan(ctx context.Context, id uuid.UUID, plan model.Plan) (model.APIKey, error) {
	k, err := scanAPIKey(db.pool.QueryRow(ctx,
		`UPDATE api_keys
		 SET plan = $2, monthly_quota = $3, current_usage = 0, last_reset_at = now(), updated_at = now()
		 WHERE id = $1
		 RETURNING `+apiKeyColumns,
		id, plan, plan.MonthlyQuota(),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.APIKey{}, fmt.Errorf("storage: api key %s: %w", id, ErrNotFound)
		}
		return model.APIKey{}, fmt.Errorf("storage: change key plan: %w", err)
	}
	return k, nil
}

// ResetKeyQuota zeroes the usage counter and restarts the window.
func (db *DB) ResetKeyQuota(ctx context.Context, id uuid.UUID) (model.APIKey, error) {
	k, err := scanAPIKey(db.pool.QueryRow(ctx,
		`UPDATE api_keys
		 SET current_usage = 0, last_reset_at = now(), updated_at = now()
		 WHERE id = $1
		 RETURNING `+apiKeyColumns,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.APIKey{}, fmt.Errorf("storage: api key %s: %w", id, ErrNotFound)
		}
		return model.APIKey{}, fmt.Errorf("storage: reset key quota: %w", err)
	}
	return k, nil
}

// KeyStats aggregates the key population for the admin dashboard.
func (db *DB) KeyStats(ctx context.Context) (model.APIKeyStats, error) {
	stats := model.APIKeyStats{KeysByPlan: make(map[model.Plan]int)}

	rows, err := db.pool.Query(ctx,
		`SELECT plan, COUNT(*), COUNT(*) FILTER (WHERE is_active), COUNT(*) FILTER (WHERE is_revoked),
		        COALESCE(SUM(current_usage), 0)
		 FROM api_keys GROUP BY plan`)
	if err != nil {
		return model.APIKeyStats{}, fmt.Errorf("storage: key stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var plan model.Plan
		var total, active, revoked, usage int
		if err := rows.Scan(&plan, &total, &active, &revoked, &usage); err != nil {
			return model.APIKeyStats{}, fmt.Errorf("storage: scan key stats: %w", err)
		}
		stats.KeysByPlan[plan] = total
		stats.TotalKeys += total
		stats.ActiveKeys += active
		stats.RevokedKeys += revoked
		stats.UsageThisWindow += usage
	}
	return stats, rows.Err()
}
