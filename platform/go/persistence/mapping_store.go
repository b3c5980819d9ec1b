package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MappingRecord is the durable correspondence between one external entity and
// one ERP record. Rows are never removed; source-entity deletion sets the
// tombstone flag so the audit trail survives.
type MappingRecord struct {
	ID             int64
	TenantID       string
	ExternalID     string
	ExternalType   string
	ErpModel       string
	ErpRecordID    int
	ErpDisplayName string
	Deleted        bool
	LastSync       time.Time
	CreatedAt      time.Time
}

// MappingStore provides access to the odoo_entity_mappings table.
type MappingStore struct {
	pool *pgxpool.Pool
}

// NewMappingStore creates a store; assumes EnsureSchema already ran.
func NewMappingStore(pool *pgxpool.Pool) (*MappingStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &MappingStore{pool: pool}, nil
}

const mappingColumns = `id, tenant_id, external_id, external_type, erp_model,
    erp_record_id, erp_display_name, deleted, last_sync, created_at`

// Get fetches the mapping for one (tenant, external id) pair.
func (s *MappingStore) Get(ctx context.Context, tenantID, externalID string) (MappingRecord, error) {
	query := `SELECT ` + mappingColumns + ` FROM odoo_entity_mappings
        WHERE tenant_id = $1 AND external_id = $2`
	rec, err := scanMappingRows(s.pool.QueryRow(ctx, query, tenantID, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return MappingRecord{}, ErrNotFound
	}
	return rec, err
}

// CreateIfAbsent inserts the mapping unless one already exists for the
// (tenant, external id) pair. The unique constraint makes this the single
// serialization point for racing creators: exactly one caller observes
// inserted=true, every other caller gets the winning row back.
func (s *MappingStore) CreateIfAbsent(ctx context.Context, rec MappingRecord) (MappingRecord, bool, error) {
	query := `
        INSERT INTO odoo_entity_mappings
            (tenant_id, external_id, external_type, erp_model, erp_record_id, erp_display_name, last_sync)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (tenant_id, external_id) DO NOTHING
        RETURNING ` + mappingColumns

	inserted, err := scanMappingRows(s.pool.QueryRow(ctx, query,
		rec.TenantID, rec.ExternalID, rec.ExternalType, rec.ErpModel,
		rec.ErpRecordID, rec.ErpDisplayName, rec.LastSync,
	))
	if err == nil {
		return inserted, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return MappingRecord{}, false, fmt.Errorf("insert mapping: %w", err)
	}

	existing, err := s.Get(ctx, rec.TenantID, rec.ExternalID)
	if err != nil {
		return MappingRecord{}, false, fmt.Errorf("fetch mapping after conflict: %w", err)
	}
	return existing, false, nil
}

// Refresh records a successful sync: display name and last-sync move forward
// and any tombstone is cleared (the source entity evidently exists again).
func (s *MappingStore) Refresh(ctx context.Context, tenantID, externalID, displayName string, at time.Time) (MappingRecord, error) {
	query := `
        UPDATE odoo_entity_mappings
        SET erp_display_name = $3, last_sync = $4, deleted = FALSE
        WHERE tenant_id = $1 AND external_id = $2
        RETURNING ` + mappingColumns

	rec, err := scanMappingRows(s.pool.QueryRow(ctx, query, tenantID, externalID, displayName, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return MappingRecord{}, ErrNotFound
	}
	return rec, err
}

// MarkDeleted tombstones the mapping without removing the row.
func (s *MappingStore) MarkDeleted(ctx context.Context, tenantID, externalID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
        UPDATE odoo_entity_mappings
        SET deleted = TRUE, last_sync = $3
        WHERE tenant_id = $1 AND external_id = $2`,
		tenantID, externalID, at,
	)
	if err != nil {
		return fmt.Errorf("tombstone mapping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns the tenant's mappings, optionally filtered by external type.
// Tombstoned rows are included; callers filter when they only want live ones.
func (s *MappingStore) List(ctx context.Context, tenantID string, externalType *string) ([]MappingRecord, error) {
	query := `SELECT ` + mappingColumns + ` FROM odoo_entity_mappings WHERE tenant_id = $1`
	args := []any{tenantID}
	if externalType != nil {
		query += ` AND external_type = $2`
		args = append(args, *externalType)
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	var out []MappingRecord
	for rows.Next() {
		rec, err := scanMappingRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountByType returns live-mapping counts per external type for one tenant.
func (s *MappingStore) CountByType(ctx context.Context, tenantID string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT external_type, COUNT(*) FROM odoo_entity_mappings
        WHERE tenant_id = $1 AND deleted = FALSE
        GROUP BY external_type`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("count mappings: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		counts[typ] = n
	}
	return counts, rows.Err()
}

// CountDeleted returns the number of tombstoned mappings for one tenant.
func (s *MappingStore) CountDeleted(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM odoo_entity_mappings WHERE tenant_id = $1 AND deleted = TRUE`,
		tenantID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tombstones: %w", err)
	}
	return n, nil
}

func scanMappingRows(row pgx.Row) (MappingRecord, error) {
	var rec MappingRecord
	err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.ExternalID, &rec.ExternalType,
		&rec.ErpModel, &rec.ErpRecordID, &rec.ErpDisplayName,
		&rec.Deleted, &rec.LastSync, &rec.CreatedAt,
	)
	return rec, err
}
