package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nekazari/odoo-bridge/domains/sync/be/service"
)

// Memory is an in-memory repository mirroring the postgres semantics,
// including the insert-if-absent race behavior. Used by tests and local
// development.
type Memory struct {
	mu        sync.Mutex
	databases map[string]string // tenant id -> active database name
	mappings  map[string]service.Mapping
	summaries map[string]service.Summary
	lastSync  map[string]time.Time
}

// NewMemory constructs an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		databases: make(map[string]string),
		mappings:  make(map[string]service.Mapping),
		summaries: make(map[string]service.Summary),
		lastSync:  make(map[string]time.Time),
	}
}

// AddActiveTenant registers an active tenant with its database name.
func (m *Memory) AddActiveTenant(tenantID, database string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.databases[tenantID] = database
}

func mappingKey(tenantID, externalID string) string {
	return tenantID + "\x00" + externalID
}

// ActiveTenantDatabase resolves the tenant's ERP database name.
func (m *Memory) ActiveTenantDatabase(ctx context.Context, tenantID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	db, ok := m.databases[tenantID]
	if !ok {
		return "", fmt.Errorf("%w: %s", service.ErrTenantNotActive, tenantID)
	}
	return db, nil
}

// TenantCount returns the number of registered tenants.
func (m *Memory) TenantCount(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.databases), nil
}

// GetMapping fetches one mapping.
func (m *Memory) GetMapping(ctx context.Context, tenantID, externalID string) (service.Mapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, ok := m.mappings[mappingKey(tenantID, externalID)]
	if !ok {
		return service.Mapping{}, fmt.Errorf("%w: %s", service.ErrMappingNotFound, externalID)
	}
	return mp, nil
}

// CreateMappingIfAbsent inserts the mapping unless one exists.
func (m *Memory) CreateMappingIfAbsent(ctx context.Context, mp service.Mapping) (service.Mapping, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := mappingKey(mp.TenantID, mp.ExternalID)
	if existing, ok := m.mappings[key]; ok {
		return existing, false, nil
	}
	mp.CreatedAt = time.Now().UTC()
	m.mappings[key] = mp
	return mp, true, nil
}

// RefreshMapping records a successful sync and clears any tombstone.
func (m *Memory) RefreshMapping(ctx context.Context, tenantID, externalID, displayName string, at time.Time) (service.Mapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := mappingKey(tenantID, externalID)
	mp, ok := m.mappings[key]
	if !ok {
		return service.Mapping{}, fmt.Errorf("%w: %s", service.ErrMappingNotFound, externalID)
	}
	mp.ErpDisplayName = displayName
	mp.LastSync = at
	mp.Deleted = false
	m.mappings[key] = mp
	return mp, nil
}

// TombstoneMapping marks the mapping deleted.
func (m *Memory) TombstoneMapping(ctx context.Context, tenantID, externalID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := mappingKey(tenantID, externalID)
	mp, ok := m.mappings[key]
	if !ok {
		return fmt.Errorf("%w: %s", service.ErrMappingNotFound, externalID)
	}
	mp.Deleted = true
	mp.LastSync = at
	m.mappings[key] = mp
	return nil
}

// ListMappings returns the tenant's mappings, optionally filtered by type.
func (m *Memory) ListMappings(ctx context.Context, tenantID string, externalType *string) ([]service.Mapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []service.Mapping
	for _, mp := range m.mappings {
		if mp.TenantID != tenantID {
			continue
		}
		if externalType != nil && mp.ExternalType != *externalType {
			continue
		}
		out = append(out, mp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out, nil
}

// MappingCountsByType returns live-mapping counts per external type.
func (m *Memory) MappingCountsByType(ctx context.Context, tenantID string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, mp := range m.mappings {
		if mp.TenantID == tenantID && !mp.Deleted {
			counts[mp.ExternalType]++
		}
	}
	return counts, nil
}

// TombstoneCount returns the tenant's tombstoned mapping count.
func (m *Memory) TombstoneCount(ctx context.Context, tenantID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, mp := range m.mappings {
		if mp.TenantID == tenantID && mp.Deleted {
			n++
		}
	}
	return n, nil
}

// SyncSummary returns the tenant's sync state, defaulting to never_synced.
func (m *Memory) SyncSummary(ctx context.Context, tenantID string) (service.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.summaries[tenantID]
	if !ok {
		return service.Summary{Status: service.StatusNeverSynced}, nil
	}
	return s, nil
}

// UpsertSyncSummary replaces the tenant's sync state.
func (m *Memory) UpsertSyncSummary(ctx context.Context, tenantID string, s service.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[tenantID] = s
	return nil
}

// TouchTenantLastSync records the completion time of the latest run.
func (m *Memory) TouchTenantLastSync(ctx context.Context, tenantID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSync[tenantID] = at
	return nil
}
