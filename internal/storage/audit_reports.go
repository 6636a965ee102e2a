package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/greengate-br/greengate/internal/model"
)

// maxCodeRetries bounds regeneration when a report code collides with an
// existing row.
const maxCodeRetries = 10

const auditColumns = `id, report_code, geometry, geometry_hash, pdf_hash, status, score,
	engine_version, ruleset_version, dataset_versions, checks, area_ha,
	centroid_lat, centroid_lon, geometry_bbox, pdf_size_bytes, plot_name,
	property_name, state, api_key_hash, request_ip, user_agent, language,
	created_at, expires_at`

func scanAuditRecord(row pgx.Row) (model.AuditRecord, error) {
	var r model.AuditRecord
	var versions, bbox []byte
	err := row.Scan(
		&r.ID, &r.ReportCode, &r.Geometry, &r.GeometryHash, &r.PDFHash,
		&r.Status, &r.Score, &r.EngineVersion, &r.RulesetVersion,
		&versions, &r.Checks, &r.AreaHa, &r.CentroidLat, &r.CentroidLon,
		&bbox, &r.PDFSizeBytes, &r.PlotName, &r.PropertyName, &r.State,
		&r.APIKeyHash, &r.RequestIP, &r.UserAgent, &r.Language,
		&r.CreatedAt, &r.ExpiresAt,
	)
	if err != nil {
		return model.AuditRecord{}, err
	}
	if len(versions) > 0 {
		if err := json.Unmarshal(versions, &r.DatasetVersions); err != nil {
			return model.AuditRecord{}, fmt.Errorf("storage: decode dataset versions: %w", err)
		}
	}
	if len(bbox) > 0 {
		if err := json.Unmarshal(bbox, &r.GeometryBBox); err != nil {
			return model.AuditRecord{}, fmt.Errorf("storage: decode geometry bbox: %w", err)
		}
	}
	return r, nil
}

// InsertAuditRecord writes one immutable report row. The record arrives
// with a code already assigned; if that code collides with an existing
// row, regenCode supplies a fresh one and the insert is retried, bounded
// by maxCodeRetries.
func (db *DB) InsertAuditRecord(ctx context.Context, rec model.AuditRecord, regenCode func() string) (model.AuditRecord, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.ExpiresAt.IsZero() {
		rec.ExpiresAt = rec.CreatedAt.Add(model.ReportExpiry)
	}

	versions, err := json.Marshal(rec.DatasetVersions)
	if err != nil {
		return model.AuditRecord{}, fmt.Errorf("storage: encode dataset versions: %w", err)
	}
	var bbox []byte
	if rec.GeometryBBox != nil {
		if bbox, err = json.Marshal(rec.GeometryBBox); err != nil {
			return model.AuditRecord{}, fmt.Errorf("storage: encode geometry bbox: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		_, err := db.pool.Exec(ctx,
			`INSERT INTO validation_reports (`+auditColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`,
			rec.ID, rec.ReportCode, rec.Geometry, rec.GeometryHash, rec.PDFHash,
			rec.Status, rec.Score, rec.EngineVersion, rec.RulesetVersion,
			versions, rec.Checks, rec.AreaHa, rec.CentroidLat, rec.CentroidLon,
			bbox, rec.PDFSizeBytes, rec.PlotName, rec.PropertyName, rec.State,
			rec.APIKeyHash, rec.RequestIP, rec.UserAgent, rec.Language,
			rec.CreatedAt, rec.ExpiresAt,
		)
		if err == nil {
			return rec, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && attempt < maxCodeRetries {
			rec.ReportCode = regenCode()
			continue
		}
		return model.AuditRecord{}, fmt.Errorf("storage: insert audit record: %w", err)
	}
}

// SetReportPDF stamps the rendered document hash and size onto a record.
// Runs after insert because the final report code, which the PDF embeds,
// is only settled once the insert survives collision retries.
func (db *DB) SetReportPDF(ctx context.Context, id uuid.UUID, pdfHash string, sizeBytes int64) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE validation_reports SET pdf_hash = $2, pdf_size_bytes = $3 WHERE id = $1`,
		id, pdfHash, sizeBytes,
	)
	if err != nil {
		return fmt.Errorf("storage: set pdf hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: report %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetAuditRecordByCode retrieves one report row by its public code.
func (db *DB) GetAuditRecordByCode(ctx context.Context, code string) (model.AuditRecord, error) {
	r, err := scanAuditRecord(db.pool.QueryRow(ctx,
		`SELECT `+auditColumns+` FROM validation_reports WHERE report_code = $1`, code,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AuditRecord{}, fmt.Errorf("storage: report %s: %w", code, ErrNotFound)
		}
		return model.AuditRecord{}, fmt.Errorf("storage: get audit record: %w", err)
	}
	return r, nil
}

// ReportStats summarizes issued reports for the status endpoint.
type ReportStats struct {
	Total      int64                            `json:"total"`
	Last24h    int64                            `json:"last_24h"`
	ByStatus   map[model.ComplianceStatus]int64 `json:"by_status"`
	LastIssued *time.Time                       `json:"last_issued,omitempty"`
}

// CountReports aggregates issued-report counts.
func (db *DB) CountReports(ctx context.Context) (ReportStats, error) {
	stats := ReportStats{ByStatus: make(map[model.ComplianceStatus]int64)}

	rows, err := db.pool.Query(ctx,
		`SELECT status, COUNT(*),
		        COUNT(*) FILTER (WHERE created_at > now() - interval '24 hours'),
		        MAX(created_at)
		 FROM validation_reports GROUP BY status`)
	if err != nil {
		return ReportStats{}, fmt.Errorf("storage: count reports: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status model.ComplianceStatus
		var total, recent int64
		var last *time.Time
		if err := rows.Scan(&status, &total, &recent, &last); err != nil {
			return ReportStats{}, fmt.Errorf("storage: scan report stats: %w", err)
		}
		stats.ByStatus[status] = total
		stats.Total += total
		stats.Last24h += recent
		if last != nil && (stats.LastIssued == nil || last.After(*stats.LastIssued)) {
			stats.LastIssued = last
		}
	}
	return stats, rows.Err()
}
