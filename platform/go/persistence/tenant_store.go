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

// ErrNotFound is returned by stores when the requested row does not exist.
var ErrNotFound = errors.New("record not found")

// Tenant lifecycle statuses persisted on the tenants table. A missing row is
// the "unprovisioned" state; it never appears in the column.
const (
	TenantStatusProvisioning = "provisioning"
	TenantStatusActive       = "active"
	TenantStatusError        = "error"
)

// TenantRecord is one row of the tenant registry.
type TenantRecord struct {
	TenantID             string
	Name                 string
	DatabaseName         string
	Status               string
	EnergyModulesEnabled bool
	InstalledModules     []string
	AdminEmail           *string
	LastSync             *time.Time
	LastError            *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// TenantStore provides access to the odoo_tenants table.
type TenantStore struct {
	pool *pgxpool.Pool
}

// NewTenantStore creates a store; assumes EnsureSchema already ran.
func NewTenantStore(pool *pgxpool.Pool) (*TenantStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &TenantStore{pool: pool}, nil
}

const tenantColumns = `tenant_id, name, database_name, status, energy_modules_enabled,
    installed_modules, admin_email, last_sync, last_error, created_at, updated_at`

// Get fetches a tenant row by id.
func (s *TenantStore) Get(ctx context.Context, tenantID string) (TenantRecord, error) {
	query := `SELECT ` + tenantColumns + ` FROM odoo_tenants WHERE tenant_id = $1`
	return scanTenantRecord(s.pool.QueryRow(ctx, query, tenantID))
}

// BeginProvisioning atomically claims the provisioning state for a tenant.
// It inserts the row when the tenant is unprovisioned, or flips an errored
// tenant back to provisioning for a retry. The WHERE guard on the upsert makes
// the row's status the serialization point: when the tenant is already
// provisioning or active no row comes back and claimed is false.
func (s *TenantStore) BeginProvisioning(ctx context.Context, rec TenantRecord) (bool, error) {
	if rec.TenantID == "" {
		return false, errors.New("tenant id is required")
	}
	if rec.DatabaseName == "" {
		return false, errors.New("database name is required")
	}

	query := `
        INSERT INTO odoo_tenants (tenant_id, name, database_name, status, energy_modules_enabled, installed_modules)
        VALUES ($1, $2, $3, $4, $5, '[]'::jsonb)
        ON CONFLICT (tenant_id) DO UPDATE SET
            status = EXCLUDED.status,
            energy_modules_enabled = EXCLUDED.energy_modules_enabled,
            last_error = NULL,
            updated_at = NOW()
        WHERE odoo_tenants.status = $6
        RETURNING tenant_id`

	var claimed string
	err := s.pool.QueryRow(ctx, query,
		rec.TenantID, rec.Name, rec.DatabaseName, TenantStatusProvisioning,
		rec.EnergyModulesEnabled, TenantStatusError,
	).Scan(&claimed)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim provisioning: %w", err)
	}
	return true, nil
}

// MarkActive completes provisioning. The status guard keeps the transition
// monotonic: only an in-flight provisioning run can activate the tenant.
func (s *TenantStore) MarkActive(ctx context.Context, tenantID string, installedModules []string, adminEmail string) (bool, error) {
	modules, err := json.Marshal(installedModules)
	if err != nil {
		return false, fmt.Errorf("encode installed modules: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
        UPDATE odoo_tenants
        SET status = $2, installed_modules = $3::jsonb, admin_email = $4, last_error = NULL, updated_at = NOW()
        WHERE tenant_id = $1 AND status = $5`,
		tenantID, TenantStatusActive, string(modules), adminEmail, TenantStatusProvisioning,
	)
	if err != nil {
		return false, fmt.Errorf("mark tenant active: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkError records a provisioning failure with its cause. The error state is
// terminal until an explicit provision retry or delete.
func (s *TenantStore) MarkError(ctx context.Context, tenantID, cause string) error {
	_, err := s.pool.Exec(ctx, `
        UPDATE odoo_tenants
        SET status = $2, last_error = $3, updated_at = NOW()
        WHERE tenant_id = $1 AND status = $4`,
		tenantID, TenantStatusError, cause, TenantStatusProvisioning,
	)
	if err != nil {
		return fmt.Errorf("mark tenant error: %w", err)
	}
	return nil
}

// Delete removes the tenant row, but only from a settled state. A tenant that
// is mid-provisioning is left untouched and deleted=false is returned so the
// caller can surface a conflict.
func (s *TenantStore) Delete(ctx context.Context, tenantID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
        DELETE FROM odoo_tenants
        WHERE tenant_id = $1 AND status IN ($2, $3)`,
		tenantID, TenantStatusActive, TenantStatusError,
	)
	if err != nil {
		return false, fmt.Errorf("delete tenant: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// TouchLastSync records the completion time of the latest sync run.
func (s *TenantStore) TouchLastSync(ctx context.Context, tenantID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE odoo_tenants SET last_sync = $2, updated_at = NOW() WHERE tenant_id = $1`,
		tenantID, at,
	)
	if err != nil {
		return fmt.Errorf("touch last sync: %w", err)
	}
	return nil
}

// ListByStatus returns all tenants currently in the given status.
func (s *TenantStore) ListByStatus(ctx context.Context, status string) ([]TenantRecord, error) {
	query := `SELECT ` + tenantColumns + ` FROM odoo_tenants WHERE status = $1 ORDER BY created_at`
	rows, err := s.pool.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var out []TenantRecord
	for rows.Next() {
		rec, err := scanTenantRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of registered tenants.
func (s *TenantStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM odoo_tenants`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tenants: %w", err)
	}
	return n, nil
}

func scanTenantRecord(row pgx.Row) (TenantRecord, error) {
	rec, err := scanTenantRows(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return TenantRecord{}, ErrNotFound
	}
	return rec, err
}

func scanTenantRows(row pgx.Row) (TenantRecord, error) {
	var rec TenantRecord
	var modules []byte
	err := row.Scan(
		&rec.TenantID, &rec.Name, &rec.DatabaseName, &rec.Status,
		&rec.EnergyModulesEnabled, &modules, &rec.AdminEmail,
		&rec.LastSync, &rec.LastError, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return TenantRecord{}, err
	}
	if len(modules) > 0 {
		if err := json.Unmarshal(modules, &rec.InstalledModules); err != nil {
			return TenantRecord{}, fmt.Errorf("decode installed modules: %w", err)
		}
	}
	return rec, nil
}
