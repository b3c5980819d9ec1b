package repo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nekazari/odoo-bridge/domains/tenants/be/service"
)

// Memory is an in-memory repository with the same claim semantics as the
// postgres one. Used by tests and local development.
type Memory struct {
	mu        sync.Mutex
	tenants   map[string]service.Tenant
	summaries map[string]service.SyncSummary
}

// NewMemory constructs an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		tenants:   make(map[string]service.Tenant),
		summaries: make(map[string]service.SyncSummary),
	}
}

// Get fetches a tenant by id.
func (m *Memory) Get(ctx context.Context, tenantID string) (service.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[tenantID]
	if !ok {
		return service.Tenant{}, fmt.Errorf("%w: %s", service.ErrTenantNotFound, tenantID)
	}
	return t, nil
}

// BeginProvisioning claims the provisioning state; only an absent or errored
// tenant can be claimed.
func (m *Memory) BeginProvisioning(ctx context.Context, t service.Tenant) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.tenants[t.TenantID]
	if ok && existing.Status != service.StatusError {
		return false, nil
	}
	t.Status = service.StatusProvisioning
	t.LastError = nil
	if ok {
		t.CreatedAt = existing.CreatedAt
	} else {
		t.CreatedAt = time.Now().UTC()
	}
	m.tenants[t.TenantID] = t
	return true, nil
}

// MarkActive completes provisioning for an in-flight run.
func (m *Memory) MarkActive(ctx context.Context, tenantID string, installedModules []string, adminEmail string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tenants[tenantID]
	if !ok || t.Status != service.StatusProvisioning {
		return false, nil
	}
	t.Status = service.StatusActive
	t.InstalledModules = installedModules
	t.AdminEmail = &adminEmail
	t.LastError = nil
	m.tenants[tenantID] = t
	return true, nil
}

// MarkError records a provisioning failure.
func (m *Memory) MarkError(ctx context.Context, tenantID, cause string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tenants[tenantID]
	if !ok || t.Status != service.StatusProvisioning {
		return nil
	}
	t.Status = service.StatusError
	t.LastError = &cause
	m.tenants[tenantID] = t
	return nil
}

// Delete removes a settled tenant.
func (m *Memory) Delete(ctx context.Context, tenantID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tenants[tenantID]
	if !ok || t.Status == service.StatusProvisioning {
		return false, nil
	}
	delete(m.tenants, tenantID)
	return true, nil
}

// SyncSummary fetches the tenant's sync state.
func (m *Memory) SyncSummary(ctx context.Context, tenantID string) (service.SyncSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.summaries[tenantID]
	if !ok {
		return service.SyncSummary{}, fmt.Errorf("%w: %s", service.ErrTenantNotFound, tenantID)
	}
	return s, nil
}

// InitSyncStatus seeds the never-synced summary.
func (m *Memory) InitSyncStatus(ctx context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[tenantID] = service.SyncSummary{Status: "never_synced"}
	return nil
}

// DeleteSyncStatus removes the tenant's sync summary.
func (m *Memory) DeleteSyncStatus(ctx context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.summaries, tenantID)
	return nil
}
