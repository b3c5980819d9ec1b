package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nekazari/odoo-bridge/domains/sync/be/service"
	"github.com/nekazari/odoo-bridge/platform/go/persistence"
)

// Postgres adapts the platform persistence stores to the sync service
// repository contract.
type Postgres struct {
	tenants  *persistence.TenantStore
	mappings *persistence.MappingStore
	status   *persistence.SyncStatusStore
}

// NewPostgres constructs the postgres-backed repository.
func NewPostgres(tenants *persistence.TenantStore, mappings *persistence.MappingStore, status *persistence.SyncStatusStore) (*Postgres, error) {
	if tenants == nil || mappings == nil || status == nil {
		return nil, errors.New("tenant, mapping and sync status stores are required")
	}
	return &Postgres{tenants: tenants, mappings: mappings, status: status}, nil
}

// ActiveTenantDatabase resolves the tenant's ERP database name; anything but
// an active tenant maps to service.ErrTenantNotActive.
func (p *Postgres) ActiveTenantDatabase(ctx context.Context, tenantID string) (string, error) {
	rec, err := p.tenants.Get(ctx, tenantID)
	if errors.Is(err, persistence.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", service.ErrTenantNotActive, tenantID)
	}
	if err != nil {
		return "", err
	}
	if rec.Status != persistence.TenantStatusActive {
		return "", fmt.Errorf("%w: %s is %s", service.ErrTenantNotActive, tenantID, rec.Status)
	}
	return rec.DatabaseName, nil
}

// TenantCount returns the number of registered tenants.
func (p *Postgres) TenantCount(ctx context.Context) (int, error) {
	return p.tenants.Count(ctx)
}

// GetMapping fetches one mapping; absence maps to service.ErrMappingNotFound.
func (p *Postgres) GetMapping(ctx context.Context, tenantID, externalID string) (service.Mapping, error) {
	rec, err := p.mappings.Get(ctx, tenantID, externalID)
	if errors.Is(err, persistence.ErrNotFound) {
		return service.Mapping{}, fmt.Errorf("%w: %s", service.ErrMappingNotFound, externalID)
	}
	if err != nil {
		return service.Mapping{}, err
	}
	return toDomainMapping(rec), nil
}

// CreateMappingIfAbsent inserts the mapping unless one exists; the existing
// winner is returned with inserted=false.
func (p *Postgres) CreateMappingIfAbsent(ctx context.Context, m service.Mapping) (service.Mapping, bool, error) {
	rec, inserted, err := p.mappings.CreateIfAbsent(ctx, persistence.MappingRecord{
		TenantID:       m.TenantID,
		ExternalID:     m.ExternalID,
		ExternalType:   m.ExternalType,
		ErpModel:       m.ErpModel,
		ErpRecordID:    m.ErpRecordID,
		ErpDisplayName: m.ErpDisplayName,
		LastSync:       m.LastSync,
	})
	if err != nil {
		return service.Mapping{}, false, err
	}
	return toDomainMapping(rec), inserted, nil
}

// RefreshMapping records a successful sync for an existing mapping.
func (p *Postgres) RefreshMapping(ctx context.Context, tenantID, externalID, displayName string, at time.Time) (service.Mapping, error) {
	rec, err := p.mappings.Refresh(ctx, tenantID, externalID, displayName, at)
	if errors.Is(err, persistence.ErrNotFound) {
		return service.Mapping{}, fmt.Errorf("%w: %s", service.ErrMappingNotFound, externalID)
	}
	if err != nil {
		return service.Mapping{}, err
	}
	return toDomainMapping(rec), nil
}

// TombstoneMapping marks the mapping deleted without removing the row.
func (p *Postgres) TombstoneMapping(ctx context.Context, tenantID, externalID string, at time.Time) error {
	err := p.mappings.MarkDeleted(ctx, tenantID, externalID, at)
	if errors.Is(err, persistence.ErrNotFound) {
		return fmt.Errorf("%w: %s", service.ErrMappingNotFound, externalID)
	}
	return err
}

// ListMappings returns the tenant's mappings, optionally filtered by type.
func (p *Postgres) ListMappings(ctx context.Context, tenantID string, externalType *string) ([]service.Mapping, error) {
	recs, err := p.mappings.List(ctx, tenantID, externalType)
	if err != nil {
		return nil, err
	}
	out := make([]service.Mapping, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toDomainMapping(rec))
	}
	return out, nil
}

// MappingCountsByType returns live-mapping counts per external type.
func (p *Postgres) MappingCountsByType(ctx context.Context, tenantID string) (map[string]int, error) {
	return p.mappings.CountByType(ctx, tenantID)
}

// TombstoneCount returns the tenant's tombstoned mapping count.
func (p *Postgres) TombstoneCount(ctx context.Context, tenantID string) (int, error) {
	return p.mappings.CountDeleted(ctx, tenantID)
}

// SyncSummary returns the tenant's sync state; a tenant that never synced
// reports never_synced.
func (p *Postgres) SyncSummary(ctx context.Context, tenantID string) (service.Summary, error) {
	rec, err := p.status.Get(ctx, tenantID)
	if errors.Is(err, persistence.ErrNotFound) {
		return service.Summary{Status: service.StatusNeverSynced}, nil
	}
	if err != nil {
		return service.Summary{}, err
	}
	return service.Summary{
		Status:         rec.Status,
		LastSync:       rec.LastSync,
		EntitiesSynced: rec.EntitiesSynced,
		Errors:         rec.Errors,
	}, nil
}

// UpsertSyncSummary replaces the tenant's sync state.
func (p *Postgres) UpsertSyncSummary(ctx context.Context, tenantID string, s service.Summary) error {
	return p.status.Upsert(ctx, persistence.SyncStatusRecord{
		TenantID:       tenantID,
		Status:         s.Status,
		LastSync:       s.LastSync,
		EntitiesSynced: s.EntitiesSynced,
		Errors:         s.Errors,
	})
}

// TouchTenantLastSync records the completion time of the latest run.
func (p *Postgres) TouchTenantLastSync(ctx context.Context, tenantID string, at time.Time) error {
	return p.tenants.TouchLastSync(ctx, tenantID, at)
}

func toDomainMapping(rec persistence.MappingRecord) service.Mapping {
	return service.Mapping{
		TenantID:       rec.TenantID,
		ExternalID:     rec.ExternalID,
		ExternalType:   rec.ExternalType,
		ErpModel:       rec.ErpModel,
		ErpRecordID:    rec.ErpRecordID,
		ErpDisplayName: rec.ErpDisplayName,
		Deleted:        rec.Deleted,
		LastSync:       rec.LastSync,
		CreatedAt:      rec.CreatedAt,
	}
}
