// Package storage provides the PostgreSQL/PostGIS storage layer for GreenGate.
//
// It manages connection pooling via pgxpool, the spatial overlap queries
// against the reference layers, and query methods for all tables.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pgxpool.Pool and the query methods for every table.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a new DB with a connection pool. statementTimeout is applied
// as a session parameter so a runaway spatial query cannot hold a
// connection indefinitely.
func New(ctx context.Context, dsn string, statementTimeout time.Duration, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}
	if statementTimeout > 0 {
		poolCfg.ConnConfig.RuntimeParams["statement_timeout"] =
			fmt.Sprintf("%d", statementTimeout.Milliseconds())
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &DB{pool: pool, logger: logger}, nil
}

// Pool returns the underlying connection pool for use by other packages.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// PostGISVersion returns the PostGIS version string, for health reporting.
func (db *DB) PostGISVersion(ctx context.Context) (string, error) {
	var v string
	if err := db.pool.QueryRow(ctx, `SELECT PostGIS_Lib_Version()`).Scan(&v); err != nil {
		return "", fmt.Errorf("storage: postgis version: %w", err)
	}
	return v, nil
}

// PoolStats reports connection pool gauges for health endpoints.
func (db *DB) PoolStats() map[string]int32 {
	s := db.pool.Stat()
	return map[string]int32{
		"total":    s.TotalConns(),
		"idle":     s.IdleConns(),
		"acquired": s.AcquiredConns(),
		"max":      s.MaxConns(),
	}
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}
