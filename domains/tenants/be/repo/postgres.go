package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/nekazari/odoo-bridge/domains/tenants/be/service"
	"github.com/nekazari/odoo-bridge/platform/go/persistence"
)

// Postgres adapts the platform persistence stores to the tenants service
// repository contract.
type Postgres struct {
	tenants *persistence.TenantStore
	sync    *persistence.SyncStatusStore
}

// NewPostgres constructs the postgres-backed repository.
func NewPostgres(tenants *persistence.TenantStore, sync *persistence.SyncStatusStore) (*Postgres, error) {
	if tenants == nil || sync == nil {
		return nil, errors.New("tenant and sync status stores are required")
	}
	return &Postgres{tenants: tenants, sync: sync}, nil
}

// Get fetches a tenant; a missing row maps to service.ErrTenantNotFound.
func (p *Postgres) Get(ctx context.Context, tenantID string) (service.Tenant, error) {
	rec, err := p.tenants.Get(ctx, tenantID)
	if errors.Is(err, persistence.ErrNotFound) {
		return service.Tenant{}, fmt.Errorf("%w: %s", service.ErrTenantNotFound, tenantID)
	}
	if err != nil {
		return service.Tenant{}, err
	}
	return toDomain(rec), nil
}

// BeginProvisioning claims the provisioning state for a tenant.
func (p *Postgres) BeginProvisioning(ctx context.Context, t service.Tenant) (bool, error) {
	return p.tenants.BeginProvisioning(ctx, persistence.TenantRecord{
		TenantID:             t.TenantID,
		Name:                 t.Name,
		DatabaseName:         t.DatabaseName,
		EnergyModulesEnabled: t.EnergyModulesEnabled,
	})
}

// MarkActive completes provisioning.
func (p *Postgres) MarkActive(ctx context.Context, tenantID string, installedModules []string, adminEmail string) (bool, error) {
	return p.tenants.MarkActive(ctx, tenantID, installedModules, adminEmail)
}

// MarkError records a provisioning failure.
func (p *Postgres) MarkError(ctx context.Context, tenantID, cause string) error {
	return p.tenants.MarkError(ctx, tenantID, cause)
}

// Delete removes a settled tenant row.
func (p *Postgres) Delete(ctx context.Context, tenantID string) (bool, error) {
	return p.tenants.Delete(ctx, tenantID)
}

// SyncSummary fetches the tenant's sync state; absence maps to
// service.ErrTenantNotFound so the service can default it.
func (p *Postgres) SyncSummary(ctx context.Context, tenantID string) (service.SyncSummary, error) {
	rec, err := p.sync.Get(ctx, tenantID)
	if errors.Is(err, persistence.ErrNotFound) {
		return service.SyncSummary{}, fmt.Errorf("%w: %s", service.ErrTenantNotFound, tenantID)
	}
	if err != nil {
		return service.SyncSummary{}, err
	}
	return service.SyncSummary{
		Status:         rec.Status,
		LastSync:       rec.LastSync,
		EntitiesSynced: rec.EntitiesSynced,
		Errors:         rec.Errors,
	}, nil
}

// InitSyncStatus seeds the never-synced summary for a fresh tenant.
func (p *Postgres) InitSyncStatus(ctx context.Context, tenantID string) error {
	return p.sync.Upsert(ctx, persistence.SyncStatusRecord{
		TenantID: tenantID,
		Status:   persistence.SyncStatusNeverSynced,
	})
}

// DeleteSyncStatus removes the tenant's sync summary.
func (p *Postgres) DeleteSyncStatus(ctx context.Context, tenantID string) error {
	return p.sync.Delete(ctx, tenantID)
}

func toDomain(rec persistence.TenantRecord) service.Tenant {
	return service.Tenant{
		TenantID:             rec.TenantID,
		Name:                 rec.Name,
		DatabaseName:         rec.DatabaseName,
		Status:               rec.Status,
		EnergyModulesEnabled: rec.EnergyModulesEnabled,
		InstalledModules:     rec.InstalledModules,
		AdminEmail:           rec.AdminEmail,
		LastSync:             rec.LastSync,
		LastError:            rec.LastError,
		CreatedAt:            rec.CreatedAt,
	}
}
