package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nekazari/odoo-bridge/platform/go/broker"
	"github.com/nekazari/odoo-bridge/platform/go/keyedmutex"
	"github.com/nekazari/odoo-bridge/platform/go/odoo"
	"github.com/nekazari/odoo-bridge/platform/go/syncjobs"
	"github.com/nekazari/odoo-bridge/platform/go/tenant"
)

// Errors returned by the service layer.
var (
	ErrMappingNotFound = errors.New("entity mapping not found")
	ErrUnsupportedType = errors.New("entity type is not synchronized")
	ErrTenantNotActive = errors.New("tenant is not active")
	ErrEntityNotFound  = errors.New("entity not found in context broker")
)

// Sync summary statuses as reported by the service.
const (
	StatusNeverSynced = "never_synced"
	StatusSynced      = "synced"
	StatusPartial     = "partial"
	StatusFailed      = "failed"
	StatusDegraded    = "degraded"
)

// maxRecordedErrors caps the error list persisted per run.
const maxRecordedErrors = 20

// Mapping is the domain view of one external-entity-to-ERP-record link.
type Mapping struct {
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

// Summary is the per-tenant sync state.
type Summary struct {
	Status         string
	LastSync       *time.Time
	EntitiesSynced int
	Errors         []string
}

// Stats aggregates the bridge's view of one tenant.
type Stats struct {
	TenantCount        int
	MappingsByType     map[string]int
	TombstonedMappings int
	Sync               Summary
}

// RecordView is an ERP record read back for display, with its deep link.
type RecordView struct {
	Model    string
	RecordID int
	URL      string
	Values   map[string]any
}

// Repository abstracts mapping, sync-status and tenant-registry persistence.
type Repository interface {
	ActiveTenantDatabase(ctx context.Context, tenantID string) (string, error)
	TenantCount(ctx context.Context) (int, error)

	GetMapping(ctx context.Context, tenantID, externalID string) (Mapping, error)
	CreateMappingIfAbsent(ctx context.Context, m Mapping) (Mapping, bool, error)
	RefreshMapping(ctx context.Context, tenantID, externalID, displayName string, at time.Time) (Mapping, error)
	TombstoneMapping(ctx context.Context, tenantID, externalID string, at time.Time) error
	ListMappings(ctx context.Context, tenantID string, externalType *string) ([]Mapping, error)
	MappingCountsByType(ctx context.Context, tenantID string) (map[string]int, error)
	TombstoneCount(ctx context.Context, tenantID string) (int, error)

	// SyncSummary never fails on absence: a tenant with no summary row is
	// reported as never_synced.
	SyncSummary(ctx context.Context, tenantID string) (Summary, error)
	UpsertSyncSummary(ctx context.Context, tenantID string, s Summary) error
	TouchTenantLastSync(ctx context.Context, tenantID string, at time.Time) error
}

// ERP abstracts the Odoo record operations the engine needs.
type ERP interface {
	CreateRecord(ctx context.Context, database, model string, values map[string]any) (int, error)
	UpdateRecord(ctx context.Context, database, model string, recordID int, values map[string]any) error
	ReadRecord(ctx context.Context, database, model string, recordID int, fields []string) (map[string]any, error)
}

// Broker abstracts context-broker entity reads.
type Broker interface {
	Entity(ctx context.Context, tenantID, entityID string) (map[string]any, error)
	EntitiesByType(ctx context.Context, tenantID, entityType string) ([]map[string]any, error)
}

// Jobs persists sync job records for status reporting.
type Jobs interface {
	Save(ctx context.Context, job syncjobs.Job) error
	Get(ctx context.Context, tenantID, jobID string) (syncjobs.Job, error)
	Latest(ctx context.Context, tenantID string) (syncjobs.Job, error)
}

// Config carries the engine settings.
type Config struct {
	TenantDomain string
}

// Service is the sync engine: it lands external entities in the tenant's ERP
// database and keeps the mapping table truthful about it.
type Service struct {
	repo   Repository
	erp    ERP
	brk    Broker
	jobs   Jobs
	locks  *keyedmutex.KeyedMutex
	cfg    Config
	logger *zap.Logger
}

// New constructs a Service with required dependencies. Broker implementations
// signal entity absence with broker.ErrNotFound.
func New(repo Repository, erp ERP, brk Broker, jobs Jobs, cfg Config, logger *zap.Logger) *Service {
	if repo == nil {
		panic("sync repo is required")
	}
	if erp == nil {
		panic("erp client is required")
	}
	if brk == nil {
		panic("broker client is required")
	}
	if jobs == nil {
		panic("job store is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Service{
		repo:   repo,
		erp:    erp,
		brk:    brk,
		jobs:   jobs,
		locks:  keyedmutex.New(),
		cfg:    cfg,
		logger: logger,
	}
}

// syncOne lands one entity payload in the ERP and returns the resulting
// mapping. Writes for the same (tenant, external id) serialize on a keyed
// lock; the mapping table's unique constraint backstops races across
// processes.
func (s *Service) syncOne(ctx context.Context, tenantID, dbName, externalID string, payload map[string]any) (Mapping, error) {
	externalType, _ := payload["type"].(string)
	mm, ok := odoo.LookupModel(externalType)
	if !ok {
		return Mapping{}, fmt.Errorf("%w: %s", ErrUnsupportedType, externalType)
	}

	unlock := s.locks.Lock(tenantID + "/" + externalID)
	defer unlock()

	values := mm.Transform(externalID, payload)
	now := time.Now().UTC()

	existing, err := s.repo.GetMapping(ctx, tenantID, externalID)
	switch {
	case err == nil:
		if err := s.erp.UpdateRecord(ctx, dbName, existing.ErpModel, existing.ErpRecordID, values); err != nil {
			return Mapping{}, fmt.Errorf("update %s/%d: %w", existing.ErpModel, existing.ErpRecordID, err)
		}
		return s.repo.RefreshMapping(ctx, tenantID, externalID, odoo.DisplayName(values), now)

	case errors.Is(err, ErrMappingNotFound):
		recordID, err := s.erp.CreateRecord(ctx, dbName, mm.ErpModel, values)
		if err != nil {
			return Mapping{}, fmt.Errorf("create %s: %w", mm.ErpModel, err)
		}

		m, inserted, err := s.repo.CreateMappingIfAbsent(ctx, Mapping{
			TenantID:       tenantID,
			ExternalID:     externalID,
			ExternalType:   externalType,
			ErpModel:       mm.ErpModel,
			ErpRecordID:    recordID,
			ErpDisplayName: odoo.DisplayName(values),
			LastSync:       now,
		})
		if err != nil {
			return Mapping{}, err
		}
		if !inserted {
			// A writer in another process got there first. Point the data at
			// its record and archive the one we just created.
			s.logger.Warn("duplicate erp record after mapping race",
				zap.String("tenant_id", tenantID),
				zap.String("external_id", externalID),
				zap.Int("orphan_record_id", recordID))
			if err := s.erp.UpdateRecord(ctx, dbName, m.ErpModel, m.ErpRecordID, values); err != nil {
				return Mapping{}, fmt.Errorf("update %s/%d: %w", m.ErpModel, m.ErpRecordID, err)
			}
			if err := s.erp.UpdateRecord(ctx, dbName, mm.ErpModel, recordID, map[string]any{"active": false}); err != nil {
				s.logger.Warn("could not archive orphan record", zap.Error(err))
			}
			return s.repo.RefreshMapping(ctx, tenantID, externalID, odoo.DisplayName(values), now)
		}
		return m, nil

	default:
		return Mapping{}, err
	}
}

// removeOne tombstones the mapping for a source entity that no longer exists
// and archives its ERP record. The ERP row is kept (archived) so the tenant's
// history survives.
func (s *Service) removeOne(ctx context.Context, tenantID, dbName, externalID string) error {
	unlock := s.locks.Lock(tenantID + "/" + externalID)
	defer unlock()

	m, err := s.repo.GetMapping(ctx, tenantID, externalID)
	if err != nil {
		return err
	}
	if m.Deleted {
		return nil
	}

	if err := s.erp.UpdateRecord(ctx, dbName, m.ErpModel, m.ErpRecordID, map[string]any{"active": false}); err != nil {
		if errors.Is(err, odoo.ErrRemoteUnavailable) {
			return fmt.Errorf("archive %s/%d: %w", m.ErpModel, m.ErpRecordID, err)
		}
		s.logger.Warn("could not archive erp record for deleted entity",
			zap.String("tenant_id", tenantID),
			zap.String("external_id", externalID),
			zap.Error(err))
	}
	return s.repo.TombstoneMapping(ctx, tenantID, externalID, time.Now().UTC())
}

// HandleNotification processes one context-broker notification batch.
// Entities of unsynchronized types are skipped; entities the broker no
// longer knows are tombstoned.
func (s *Service) HandleNotification(ctx context.Context, tenantID string, n Notification) (syncjobs.Job, error) {
	dbName, err := s.repo.ActiveTenantDatabase(ctx, tenantID)
	if err != nil {
		return syncjobs.Job{}, err
	}

	started := time.Now().UTC()
	processed := 0
	var runErrors []string

	for _, entity := range n.Data {
		externalID, _ := entity["id"].(string)
		if externalID == "" {
			continue
		}

		payload := entity
		if bareEntity(entity) {
			// The broker notified without attributes; fetch the full entity
			// to decide between update and deletion.
			payload, err = s.brk.Entity(ctx, tenantID, externalID)
			if err != nil {
				if errors.Is(err, broker.ErrNotFound) {
					if err := s.removeOne(ctx, tenantID, dbName, externalID); err != nil && !errors.Is(err, ErrMappingNotFound) {
						runErrors = append(runErrors, fmt.Sprintf("%s: %v", externalID, err))
					} else {
						processed++
					}
					continue
				}
				runErrors = append(runErrors, fmt.Sprintf("%s: %v", externalID, err))
				continue
			}
		}

		if _, err := s.syncOne(ctx, tenantID, dbName, externalID, payload); err != nil {
			if errors.Is(err, ErrUnsupportedType) {
				continue
			}
			runErrors = append(runErrors, fmt.Sprintf("%s: %v", externalID, err))
			continue
		}
		processed++
	}

	return s.finishRun(ctx, tenantID, syncjobs.TriggerSubscription, started, processed, runErrors)
}

// bareEntity reports whether the notification carried only the entity
// envelope, with no attributes to sync.
func bareEntity(entity map[string]any) bool {
	for k := range entity {
		switch k {
		case "id", "type", "@context":
		default:
			return false
		}
	}
	return true
}

// TriggerSync runs a full reconciliation for the tenant: every entity of
// every synchronized type is upserted, and mappings whose source entity
// disappeared are tombstoned. One entity failing never aborts the run.
func (s *Service) TriggerSync(ctx context.Context, tenantID, trigger string) (syncjobs.Job, error) {
	dbName, err := s.repo.ActiveTenantDatabase(ctx, tenantID)
	if err != nil {
		return syncjobs.Job{}, err
	}

	started := time.Now().UTC()
	processed := 0
	var runErrors []string

	for _, entityType := range odoo.SyncedTypes() {
		entities, err := s.brk.EntitiesByType(ctx, tenantID, entityType)
		if err != nil {
			runErrors = append(runErrors, fmt.Sprintf("%s: %v", entityType, err))
			continue
		}

		seen := make(map[string]bool, len(entities))
		for _, entity := range entities {
			externalID, _ := entity["id"].(string)
			if externalID == "" {
				continue
			}
			seen[externalID] = true
			if _, err := s.syncOne(ctx, tenantID, dbName, externalID, entity); err != nil {
				runErrors = append(runErrors, fmt.Sprintf("%s: %v", externalID, err))
				continue
			}
			processed++
		}

		// Tombstone sweep: live mappings whose source entity is gone.
		mappings, err := s.repo.ListMappings(ctx, tenantID, &entityType)
		if err != nil {
			runErrors = append(runErrors, fmt.Sprintf("%s: %v", entityType, err))
			continue
		}
		for _, m := range mappings {
			if m.Deleted || seen[m.ExternalID] {
				continue
			}
			if err := s.removeOne(ctx, tenantID, dbName, m.ExternalID); err != nil {
				runErrors = append(runErrors, fmt.Sprintf("%s: %v", m.ExternalID, err))
				continue
			}
			processed++
		}
	}

	return s.finishRun(ctx, tenantID, trigger, started, processed, runErrors)
}

// finishRun persists the job record and the tenant's sync summary.
func (s *Service) finishRun(ctx context.Context, tenantID, trigger string, started time.Time, processed int, runErrors []string) (syncjobs.Job, error) {
	if len(runErrors) > maxRecordedErrors {
		dropped := len(runErrors) - maxRecordedErrors
		runErrors = append(runErrors[:maxRecordedErrors], fmt.Sprintf("(%d more errors omitted)", dropped))
	}

	result := syncjobs.ResultSuccess
	status := StatusSynced
	switch {
	case len(runErrors) > 0 && processed == 0:
		result = syncjobs.ResultFailed
		status = StatusFailed
	case len(runErrors) > 0:
		result = syncjobs.ResultPartial
		status = StatusPartial
	}

	completed := time.Now().UTC()
	job := syncjobs.Job{
		ID:                uuid.NewString(),
		TenantID:          tenantID,
		Trigger:           trigger,
		RequestedAt:       started,
		CompletedAt:       &completed,
		Result:            result,
		EntitiesProcessed: processed,
		Errors:            runErrors,
	}
	if err := s.jobs.Save(ctx, job); err != nil {
		s.logger.Warn("could not persist sync job", zap.String("tenant_id", tenantID), zap.Error(err))
	}

	summary := Summary{
		Status:         status,
		LastSync:       &completed,
		EntitiesSynced: processed,
		Errors:         runErrors,
	}
	if err := s.repo.UpsertSyncSummary(ctx, tenantID, summary); err != nil {
		return job, err
	}
	if err := s.repo.TouchTenantLastSync(ctx, tenantID, completed); err != nil {
		s.logger.Warn("could not record tenant last sync", zap.String("tenant_id", tenantID), zap.Error(err))
	}

	s.logger.Info("sync run finished",
		zap.String("tenant_id", tenantID),
		zap.String("trigger", trigger),
		zap.String("result", result),
		zap.Int("entities_processed", processed),
		zap.Int("errors", len(runErrors)))
	return job, nil
}

// CreateFromExternal fetches one entity from the broker and lands it in the
// ERP on demand.
func (s *Service) CreateFromExternal(ctx context.Context, tenantID, externalID string) (Mapping, error) {
	dbName, err := s.repo.ActiveTenantDatabase(ctx, tenantID)
	if err != nil {
		return Mapping{}, err
	}

	payload, err := s.brk.Entity(ctx, tenantID, externalID)
	if err != nil {
		if errors.Is(err, broker.ErrNotFound) {
			return Mapping{}, fmt.Errorf("%w: %s", ErrEntityNotFound, externalID)
		}
		return Mapping{}, err
	}
	return s.syncOne(ctx, tenantID, dbName, externalID, payload)
}

// MappingByExternal returns the mapping for one external id plus the deep
// link into the tenant's ERP UI.
func (s *Service) MappingByExternal(ctx context.Context, tenantID, externalID string) (Mapping, string, error) {
	m, err := s.repo.GetMapping(ctx, tenantID, externalID)
	if err != nil {
		return Mapping{}, "", err
	}
	url := odoo.DeepLink(tenant.InstanceURL(tenantID, s.cfg.TenantDomain), m.ErpModel, m.ErpRecordID)
	return m, url, nil
}

// Mappings lists the tenant's mappings, optionally filtered by type.
// Tombstoned mappings are included only when requested.
func (s *Service) Mappings(ctx context.Context, tenantID string, externalType *string, includeDeleted bool) ([]Mapping, error) {
	mappings, err := s.repo.ListMappings(ctx, tenantID, externalType)
	if err != nil {
		return nil, err
	}
	if includeDeleted {
		return mappings, nil
	}
	live := mappings[:0]
	for _, m := range mappings {
		if !m.Deleted {
			live = append(live, m)
		}
	}
	return live, nil
}

// OpenRecord reads one ERP record back and builds its deep link.
func (s *Service) OpenRecord(ctx context.Context, tenantID, erpModel string, recordID int) (RecordView, error) {
	dbName, err := s.repo.ActiveTenantDatabase(ctx, tenantID)
	if err != nil {
		return RecordView{}, err
	}

	values, err := s.erp.ReadRecord(ctx, dbName, erpModel, recordID, nil)
	if err != nil {
		return RecordView{}, err
	}
	return RecordView{
		Model:    erpModel,
		RecordID: recordID,
		URL:      odoo.DeepLink(tenant.InstanceURL(tenantID, s.cfg.TenantDomain), erpModel, recordID),
		Values:   values,
	}, nil
}

// Status returns the tenant's sync summary and its most recent job, when one
// is still retained.
func (s *Service) Status(ctx context.Context, tenantID string) (Summary, *syncjobs.Job, error) {
	if _, err := s.repo.ActiveTenantDatabase(ctx, tenantID); err != nil {
		return Summary{}, nil, err
	}

	summary, err := s.repo.SyncSummary(ctx, tenantID)
	if err != nil {
		return Summary{}, nil, err
	}

	job, err := s.jobs.Latest(ctx, tenantID)
	if err != nil {
		if errors.Is(err, syncjobs.ErrNotFound) {
			return summary, nil, nil
		}
		return Summary{}, nil, err
	}
	return summary, &job, nil
}

// TenantStats aggregates counts and sync state for one tenant.
func (s *Service) TenantStats(ctx context.Context, tenantID string) (Stats, error) {
	if _, err := s.repo.ActiveTenantDatabase(ctx, tenantID); err != nil {
		return Stats{}, err
	}

	counts, err := s.repo.MappingCountsByType(ctx, tenantID)
	if err != nil {
		return Stats{}, err
	}
	tombstones, err := s.repo.TombstoneCount(ctx, tenantID)
	if err != nil {
		return Stats{}, err
	}
	tenants, err := s.repo.TenantCount(ctx)
	if err != nil {
		return Stats{}, err
	}

	summary, err := s.repo.SyncSummary(ctx, tenantID)
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		TenantCount:        tenants,
		MappingsByType:     counts,
		TombstonedMappings: tombstones,
		Sync:               summary,
	}, nil
}

// SyncAllActive runs a scheduled reconciliation across every active tenant.
// Used by the background ticker; per-tenant failures are logged, not fatal.
func (s *Service) SyncAllActive(ctx context.Context, tenantIDs []string) {
	for _, tenantID := range tenantIDs {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.TriggerSync(ctx, tenantID, syncjobs.TriggerScheduled); err != nil {
			s.logger.Warn("scheduled sync failed", zap.String("tenant_id", tenantID), zap.Error(err))
		}
	}
}
