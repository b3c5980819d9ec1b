package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Sync statuses persisted per tenant. "degraded" means the context-broker
// subscription could not be established; provisioning is unaffected.
const (
	SyncStatusNeverSynced = "never_synced"
	SyncStatusSynced      = "synced"
	SyncStatusPartial     = "partial"
	SyncStatusFailed      = "failed"
	SyncStatusDegraded    = "degraded"
)

// SyncStatusRecord is the per-tenant sync summary row.
type SyncStatusRecord struct {
	TenantID       string
	Status         string
	LastSync       *time.Time
	EntitiesSynced int
	Errors         []string
	UpdatedAt      time.Time
}

// SyncStatusStore provides access to the odoo_sync_status table.
type SyncStatusStore struct {
	pool *pgxpool.Pool
}

// NewSyncStatusStore creates a store; assumes EnsureSchema already ran.
func NewSyncStatusStore(pool *pgxpool.Pool) (*SyncStatusStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &SyncStatusStore{pool: pool}, nil
}

// Get fetches the sync summary for a tenant.
func (s *SyncStatusStore) Get(ctx context.Context, tenantID string) (SyncStatusRecord, error) {
	var rec SyncStatusRecord
	var errsJSON []byte
	err := s.pool.QueryRow(ctx, `
        SELECT tenant_id, status, last_sync, entities_synced, errors, updated_at
        FROM odoo_sync_status WHERE tenant_id = $1`,
		tenantID,
	).Scan(&rec.TenantID, &rec.Status, &rec.LastSync, &rec.EntitiesSynced, &errsJSON, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SyncStatusRecord{}, ErrNotFound
	}
	if err != nil {
		return SyncStatusRecord{}, fmt.Errorf("get sync status: %w", err)
	}
	if len(errsJSON) > 0 {
		if err := json.Unmarshal(errsJSON, &rec.Errors); err != nil {
			return SyncStatusRecord{}, fmt.Errorf("decode sync errors: %w", err)
		}
	}
	return rec, nil
}

// Upsert replaces the tenant's sync summary with the outcome of the latest run.
func (s *SyncStatusStore) Upsert(ctx context.Context, rec SyncStatusRecord) error {
	if rec.Errors == nil {
		rec.Errors = []string{}
	}
	errsJSON, err := json.Marshal(rec.Errors)
	if err != nil {
		return fmt.Errorf("encode sync errors: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
        INSERT INTO odoo_sync_status (tenant_id, status, last_sync, entities_synced, errors, updated_at)
        VALUES ($1, $2, $3, $4, $5::jsonb, NOW())
        ON CONFLICT (tenant_id) DO UPDATE SET
            status = EXCLUDED.status,
            last_sync = EXCLUDED.last_sync,
            entities_synced = EXCLUDED.entities_synced,
            errors = EXCLUDED.errors,
            updated_at = NOW()`,
		rec.TenantID, rec.Status, rec.LastSync, rec.EntitiesSynced, string(errsJSON),
	)
	if err != nil {
		return fmt.Errorf("upsert sync status: %w", err)
	}
	return nil
}

// MarkDegraded flags the tenant's sync as degraded without touching the last
// successful run's counters.
func (s *SyncStatusStore) MarkDegraded(ctx context.Context, tenantID, cause string) error {
	causeJSON, err := json.Marshal([]string{cause})
	if err != nil {
		return fmt.Errorf("encode degraded cause: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
        INSERT INTO odoo_sync_status (tenant_id, status, errors, updated_at)
        VALUES ($1, $2, $3::jsonb, NOW())
        ON CONFLICT (tenant_id) DO UPDATE SET
            status = EXCLUDED.status,
            errors = EXCLUDED.errors,
            updated_at = NOW()`,
		tenantID, SyncStatusDegraded, string(causeJSON),
	)
	if err != nil {
		return fmt.Errorf("mark sync degraded: %w", err)
	}
	return nil
}

// Delete removes the tenant's sync summary (tenant teardown).
func (s *SyncStatusStore) Delete(ctx context.Context, tenantID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM odoo_sync_status WHERE tenant_id = $1`, tenantID); err != nil {
		return fmt.Errorf("delete sync status: %w", err)
	}
	return nil
}
