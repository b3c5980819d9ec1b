package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nekazari/odoo-bridge/domains/sync/be/repo"
	"github.com/nekazari/odoo-bridge/domains/sync/be/service"
	"github.com/nekazari/odoo-bridge/platform/go/broker"
	"github.com/nekazari/odoo-bridge/platform/go/odoo"
	"github.com/nekazari/odoo-bridge/platform/go/syncjobs"
)

type erpRecord struct {
	model  string
	values map[string]any
}

type stubERP struct {
	mu          sync.Mutex
	nextID      int
	records     map[int]*erpRecord
	createCalls int
	updateCalls int
	rejectNGSI  map[string]bool // reject create/update for these x_ngsi_id values
}

func newStubERP() *stubERP {
	return &stubERP{records: make(map[int]*erpRecord), rejectNGSI: make(map[string]bool)}
}

func (s *stubERP) CreateRecord(ctx context.Context, database, model string, values map[string]any) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	if id, _ := values["x_ngsi_id"].(string); s.rejectNGSI[id] {
		return 0, fmt.Errorf("%w: validation error", odoo.ErrRejectedByERP)
	}
	s.nextID++
	s.records[s.nextID] = &erpRecord{model: model, values: values}
	return s.nextID, nil
}

func (s *stubERP) UpdateRecord(ctx context.Context, database, model string, recordID int, values map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	if id, _ := values["x_ngsi_id"].(string); s.rejectNGSI[id] {
		return fmt.Errorf("%w: validation error", odoo.ErrRejectedByERP)
	}
	rec, ok := s.records[recordID]
	if !ok {
		return fmt.Errorf("%w: %s/%d not found", odoo.ErrRejectedByERP, model, recordID)
	}
	for k, v := range values {
		rec.values[k] = v
	}
	return nil
}

func (s *stubERP) ReadRecord(ctx context.Context, database, model string, recordID int, fields []string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordID]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%d not found", odoo.ErrRejectedByERP, model, recordID)
	}
	out := make(map[string]any, len(rec.values))
	for k, v := range rec.values {
		out[k] = v
	}
	return out, nil
}

func (s *stubERP) record(id int) *erpRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id]
}

type stubBroker struct {
	mu       sync.Mutex
	entities map[string]map[string]any // entity id -> payload
}

func newStubBroker() *stubBroker {
	return &stubBroker{entities: make(map[string]map[string]any)}
}

func (b *stubBroker) put(entity map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entities[entity["id"].(string)] = entity
}

func (b *stubBroker) remove(entityID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entities, entityID)
}

func (b *stubBroker) Entity(ctx context.Context, tenantID, entityID string) (map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entities[entityID]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", entityID, broker.ErrNotFound)
	}
	return e, nil
}

func (b *stubBroker) EntitiesByType(ctx context.Context, tenantID, entityType string) ([]map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	for _, e := range b.entities {
		if e["type"] == entityType {
			out = append(out, e)
		}
	}
	return out, nil
}

func device(n int) map[string]any {
	return map[string]any{
		"id":           fmt.Sprintf("urn:ngsi-ld:Device:%d", n),
		"type":         "Device",
		"name":         map[string]any{"value": fmt.Sprintf("Pump %d", n)},
		"serialNumber": map[string]any{"value": fmt.Sprintf("SN-%04d", n)},
	}
}

func parcel(n int) map[string]any {
	return map[string]any{
		"id":   fmt.Sprintf("urn:ngsi-ld:AgriParcel:%d", n),
		"type": "AgriParcel",
		"name": map[string]any{"value": fmt.Sprintf("Parcel %d", n)},
		"area": map[string]any{"value": 12.5},
	}
}

type fixture struct {
	svc  *service.Service
	repo *repo.Memory
	erp  *stubERP
	brk  *stubBroker
	jobs *syncjobs.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := repo.NewMemory()
	mem.AddActiveTenant("tenant-1", "nkz_odoo_tenant_1")
	erp := newStubERP()
	brk := newStubBroker()
	jobs := syncjobs.NewMemoryStore(time.Hour)
	svc := service.New(mem, erp, brk, jobs,
		service.Config{TenantDomain: "odoo.nekazari.example"}, zap.NewNop())
	return &fixture{svc: svc, repo: mem, erp: erp, brk: brk, jobs: jobs}
}

func TestTriggerSyncCreatesMappingsAndRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		f.brk.put(parcel(i))
	}
	f.brk.put(device(1))
	f.brk.put(device(2))

	job, err := f.svc.TriggerSync(ctx, "tenant-1", syncjobs.TriggerManual)
	require.NoError(t, err)
	require.Equal(t, syncjobs.ResultSuccess, job.Result)
	require.Equal(t, 5, job.EntitiesProcessed)
	require.Empty(t, job.Errors)

	m, url, err := f.svc.MappingByExternal(ctx, "tenant-1", "urn:ngsi-ld:Device:1")
	require.NoError(t, err)
	require.Equal(t, "maintenance.equipment", m.ErpModel)
	require.Equal(t, "Pump 1", m.ErpDisplayName)
	require.Contains(t, url, "https://tenant-1.odoo.nekazari.example/web#id=")

	rec := f.erp.record(m.ErpRecordID)
	require.NotNil(t, rec)
	require.Equal(t, "urn:ngsi-ld:Device:1", rec.values["x_ngsi_id"])
	require.Equal(t, "SN-0001", rec.values["serial_no"])

	summary, _, err := f.svc.Status(ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, service.StatusSynced, summary.Status)
	require.Equal(t, 5, summary.EntitiesSynced)
}

func TestTriggerSyncIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.brk.put(device(1))
	f.brk.put(device(2))

	_, err := f.svc.TriggerSync(ctx, "tenant-1", syncjobs.TriggerManual)
	require.NoError(t, err)
	created := f.erp.createCalls

	// Re-running must update existing records, never create duplicates.
	job, err := f.svc.TriggerSync(ctx, "tenant-1", syncjobs.TriggerManual)
	require.NoError(t, err)
	require.Equal(t, syncjobs.ResultSuccess, job.Result)
	require.Equal(t, created, f.erp.createCalls)

	counts, err := f.repo.MappingCountsByType(ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, 2, counts["Device"])
}

func TestPartialFailureIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		f.brk.put(device(i))
	}
	f.erp.rejectNGSI["urn:ngsi-ld:Device:3"] = true

	job, err := f.svc.TriggerSync(ctx, "tenant-1", syncjobs.TriggerManual)
	require.NoError(t, err)
	require.Equal(t, syncjobs.ResultPartial, job.Result)
	require.Equal(t, 4, job.EntitiesProcessed)
	require.Len(t, job.Errors, 1)
	require.Contains(t, job.Errors[0], "urn:ngsi-ld:Device:3")

	// The other four entities landed despite the failure.
	counts, err := f.repo.MappingCountsByType(ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, 4, counts["Device"])

	summary, _, err := f.svc.Status(ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, service.StatusPartial, summary.Status)
}

func TestTombstoneSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.brk.put(device(1))
	f.brk.put(device(2))
	_, err := f.svc.TriggerSync(ctx, "tenant-1", syncjobs.TriggerManual)
	require.NoError(t, err)

	m1, _, err := f.svc.MappingByExternal(ctx, "tenant-1", "urn:ngsi-ld:Device:1")
	require.NoError(t, err)

	f.brk.remove("urn:ngsi-ld:Device:1")
	_, err = f.svc.TriggerSync(ctx, "tenant-1", syncjobs.TriggerManual)
	require.NoError(t, err)

	// The mapping survives as a tombstone and the ERP record is archived.
	m, _, err := f.svc.MappingByExternal(ctx, "tenant-1", "urn:ngsi-ld:Device:1")
	require.NoError(t, err)
	require.True(t, m.Deleted)
	require.Equal(t, false, f.erp.record(m1.ErpRecordID).values["active"])

	tombstones, err := f.repo.TombstoneCount(ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, 1, tombstones)

	// Tombstoned mappings stay out of default listings.
	live, err := f.svc.Mappings(ctx, "tenant-1", nil, false)
	require.NoError(t, err)
	require.Len(t, live, 1)
	all, err := f.svc.Mappings(ctx, "tenant-1", nil, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestTombstonedEntityRevives(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.brk.put(device(1))
	_, err := f.svc.TriggerSync(ctx, "tenant-1", syncjobs.TriggerManual)
	require.NoError(t, err)

	f.brk.remove("urn:ngsi-ld:Device:1")
	_, err = f.svc.TriggerSync(ctx, "tenant-1", syncjobs.TriggerManual)
	require.NoError(t, err)

	f.brk.put(device(1))
	_, err = f.svc.TriggerSync(ctx, "tenant-1", syncjobs.TriggerManual)
	require.NoError(t, err)

	m, _, err := f.svc.MappingByExternal(ctx, "tenant-1", "urn:ngsi-ld:Device:1")
	require.NoError(t, err)
	require.False(t, m.Deleted)
}

func TestHandleNotificationUpsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.svc.HandleNotification(ctx, "tenant-1", service.Notification{
		ID:             "urn:ngsi-ld:Notification:1",
		Type:           "Notification",
		SubscriptionID: "urn:ngsi-ld:Subscription:nkz-odoo-tenant-1-device",
		Data:           []map[string]any{device(7)},
	})
	require.NoError(t, err)
	require.Equal(t, syncjobs.TriggerSubscription, job.Trigger)
	require.Equal(t, syncjobs.ResultSuccess, job.Result)
	require.Equal(t, 1, job.EntitiesProcessed)

	m, _, err := f.svc.MappingByExternal(ctx, "tenant-1", "urn:ngsi-ld:Device:7")
	require.NoError(t, err)
	require.Equal(t, "Pump 7", m.ErpDisplayName)

	latest, err := f.jobs.Latest(ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, job.ID, latest.ID)
}

func TestHandleNotificationBareEntityTombstones(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.brk.put(device(1))
	_, err := f.svc.TriggerSync(ctx, "tenant-1", syncjobs.TriggerManual)
	require.NoError(t, err)

	// The broker notifies with a bare envelope and no longer knows the
	// entity: that is a deletion.
	f.brk.remove("urn:ngsi-ld:Device:1")
	job, err := f.svc.HandleNotification(ctx, "tenant-1", service.Notification{
		ID:             "urn:ngsi-ld:Notification:2",
		Type:           "Notification",
		SubscriptionID: "urn:ngsi-ld:Subscription:nkz-odoo-tenant-1-device",
		Data: []map[string]any{
			{"id": "urn:ngsi-ld:Device:1", "type": "Device"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, syncjobs.ResultSuccess, job.Result)

	m, _, err := f.svc.MappingByExternal(ctx, "tenant-1", "urn:ngsi-ld:Device:1")
	require.NoError(t, err)
	require.True(t, m.Deleted)
}

func TestHandleNotificationSkipsUnsupportedTypes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.svc.HandleNotification(ctx, "tenant-1", service.Notification{
		ID:             "urn:ngsi-ld:Notification:3",
		Type:           "Notification",
		SubscriptionID: "urn:ngsi-ld:Subscription:nkz-odoo-tenant-1-device",
		Data: []map[string]any{
			{"id": "urn:ngsi-ld:Vehicle:1", "type": "Vehicle", "speed": map[string]any{"value": 40}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, syncjobs.ResultSuccess, job.Result)
	require.Equal(t, 0, job.EntitiesProcessed)
	require.Empty(t, job.Errors)
}

func TestConcurrentSyncSameEntitySingleMapping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.brk.put(device(1))

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateFromExternal(ctx, "tenant-1", "urn:ngsi-ld:Device:1")
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	// Exactly one ERP record exists and every caller converged on it.
	require.Equal(t, 1, f.erp.createCalls)
	counts, err := f.repo.MappingCountsByType(ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, 1, counts["Device"])
}

func TestCreateFromExternalUnknownEntity(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateFromExternal(context.Background(), "tenant-1", "urn:ngsi-ld:Device:404")
	require.ErrorIs(t, err, service.ErrEntityNotFound)
}

func TestTriggerSyncInactiveTenant(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.TriggerSync(context.Background(), "ghost", syncjobs.TriggerManual)
	require.ErrorIs(t, err, service.ErrTenantNotActive)
}

func TestTenantStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.brk.put(device(1))
	f.brk.put(parcel(1))
	_, err := f.svc.TriggerSync(ctx, "tenant-1", syncjobs.TriggerManual)
	require.NoError(t, err)

	stats, err := f.svc.TenantStats(ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, 1, stats.TenantCount)
	require.Equal(t, 1, stats.MappingsByType["Device"])
	require.Equal(t, 1, stats.MappingsByType["AgriParcel"])
	require.Equal(t, 0, stats.TombstonedMappings)
	require.Equal(t, service.StatusSynced, stats.Sync.Status)
}
