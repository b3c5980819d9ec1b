package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nekazari/odoo-bridge/platform/go/tenant"
)

// Errors returned by the service layer.
var (
	ErrTenantNotFound     = errors.New("tenant not provisioned")
	ErrTenantConflict     = errors.New("tenant provisioning already in progress")
	ErrProvisioningFailed = errors.New("tenant provisioning failed")
)

// Tenant lifecycle statuses as the service reports them. A tenant with no
// registry row is "unprovisioned" and surfaces as ErrTenantNotFound instead.
const (
	StatusProvisioning = "provisioning"
	StatusActive       = "active"
	StatusError        = "error"
)

// Modules installed in every tenant database.
var baseModules = []string{"base", "sale", "purchase", "stock", "account"}

// Modules added when the tenant opts into the energy-community vertical.
var energyModules = []string{"energy_community", "energy_selfconsumption", "energy_import_statement"}

// Tenant is the domain model for one provisioned ERP tenant.
type Tenant struct {
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
}

// SyncSummary is the per-tenant sync state shown alongside tenant info.
type SyncSummary struct {
	Status         string
	LastSync       *time.Time
	EntitiesSynced int
	Errors         []string
}

// Info is the full tenant view returned by GetInfo.
type Info struct {
	Tenant      Tenant
	InstanceURL string
	Sync        SyncSummary
}

// ProvisionInput carries the request to provision (or retry provisioning of)
// a tenant.
type ProvisionInput struct {
	TenantID             string
	Name                 string
	AdminEmail           string
	AdminName            string
	EnergyModulesEnabled bool
	AdditionalModules    []string
}

// Repository abstracts tenant registry and sync-status persistence.
type Repository interface {
	Get(ctx context.Context, tenantID string) (Tenant, error)
	BeginProvisioning(ctx context.Context, t Tenant) (bool, error)
	MarkActive(ctx context.Context, tenantID string, installedModules []string, adminEmail string) (bool, error)
	MarkError(ctx context.Context, tenantID, cause string) error
	Delete(ctx context.Context, tenantID string) (bool, error)
	SyncSummary(ctx context.Context, tenantID string) (SyncSummary, error)
	InitSyncStatus(ctx context.Context, tenantID string) error
	DeleteSyncStatus(ctx context.Context, tenantID string) error
}

// ERP abstracts the Odoo operations provisioning needs.
type ERP interface {
	DuplicateDatabase(ctx context.Context, source, target string) error
	DropDatabase(ctx context.Context, name string) error
	InstallModules(ctx context.Context, database string, modules []string) error
	InstalledModules(ctx context.Context, database string) ([]string, error)
	CreateUser(ctx context.Context, database, email, name string, isAdmin bool) (int, error)
}

// Subscriptions abstracts context-broker subscription management.
type Subscriptions interface {
	EnsureAll(ctx context.Context, tenantID string) error
	TeardownAll(ctx context.Context, tenantID string) error
}

// Config carries the provisioning settings.
type Config struct {
	TemplateDB   string
	TenantDomain string
}

// Service provides the tenant provisioning lifecycle.
type Service struct {
	repo   Repository
	erp    ERP
	subs   Subscriptions
	cfg    Config
	logger *zap.Logger
}

// New constructs a Service with required dependencies.
func New(repo Repository, erp ERP, subs Subscriptions, cfg Config, logger *zap.Logger) *Service {
	if repo == nil {
		panic("tenants repo is required")
	}
	if erp == nil {
		panic("erp client is required")
	}
	if subs == nil {
		panic("subscription manager is required")
	}
	if cfg.TemplateDB == "" {
		panic("template database is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Service{repo: repo, erp: erp, subs: subs, cfg: cfg, logger: logger}
}

// Provision provisions the tenant's ERP database, or retries a failed run.
// The registry row is the serialization point: exactly one caller wins the
// claim, concurrent callers see a conflict, and repeating the call on an
// already-active tenant succeeds without touching the ERP again.
func (s *Service) Provision(ctx context.Context, input ProvisionInput) (Tenant, error) {
	if input.TenantID == "" {
		return Tenant{}, errors.New("tenant id is required")
	}
	if input.AdminEmail == "" {
		return Tenant{}, errors.New("admin email is required")
	}

	dbName := tenant.DatabaseName(input.TenantID)
	claimed, err := s.repo.BeginProvisioning(ctx, Tenant{
		TenantID:             input.TenantID,
		Name:                 input.Name,
		DatabaseName:         dbName,
		Status:               StatusProvisioning,
		EnergyModulesEnabled: input.EnergyModulesEnabled,
	})
	if err != nil {
		return Tenant{}, err
	}
	if !claimed {
		existing, err := s.repo.Get(ctx, input.TenantID)
		if err != nil {
			return Tenant{}, err
		}
		if existing.Status == StatusActive {
			return existing, nil
		}
		return Tenant{}, fmt.Errorf("%w: tenant %s", ErrTenantConflict, input.TenantID)
	}

	log := s.logger.With(zap.String("tenant_id", input.TenantID), zap.String("database", dbName))
	log.Info("provisioning tenant")

	modules := s.moduleSet(input)
	if err := s.runProvisioning(ctx, input, dbName, modules); err != nil {
		log.Error("provisioning failed", zap.Error(err))
		if markErr := s.repo.MarkError(ctx, input.TenantID, err.Error()); markErr != nil {
			log.Error("could not record provisioning failure", zap.Error(markErr))
		}
		return Tenant{}, fmt.Errorf("%w: %v", ErrProvisioningFailed, err)
	}

	activated, err := s.repo.MarkActive(ctx, input.TenantID, modules, input.AdminEmail)
	if err != nil {
		return Tenant{}, err
	}
	if !activated {
		// The row moved out of provisioning underneath us (e.g. a forced
		// delete). Nothing sensible to return.
		return Tenant{}, fmt.Errorf("%w: tenant %s state changed during provisioning", ErrProvisioningFailed, input.TenantID)
	}
	if err := s.repo.InitSyncStatus(ctx, input.TenantID); err != nil {
		log.Warn("could not initialize sync status", zap.Error(err))
	}

	// Subscription failure degrades sync but never fails provisioning; the
	// manager records the degraded state itself.
	if err := s.subs.EnsureAll(ctx, input.TenantID); err != nil {
		log.Warn("context broker subscriptions not established", zap.Error(err))
	}

	log.Info("tenant provisioned", zap.Strings("modules", modules))
	return s.repo.Get(ctx, input.TenantID)
}

// runProvisioning performs the ERP-side steps of one provisioning attempt.
func (s *Service) runProvisioning(ctx context.Context, input ProvisionInput, dbName string, modules []string) error {
	if err := s.erp.DuplicateDatabase(ctx, s.cfg.TemplateDB, dbName); err != nil {
		// A retry after a mid-run failure may find the database already
		// cloned; installing modules below is idempotent either way.
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("duplicate database: %w", err)
		}
	}
	if err := s.erp.InstallModules(ctx, dbName, modules); err != nil {
		return fmt.Errorf("install modules: %w", err)
	}

	adminName := input.AdminName
	if adminName == "" {
		adminName = input.AdminEmail
	}
	if _, err := s.erp.CreateUser(ctx, dbName, input.AdminEmail, adminName, true); err != nil {
		// Re-running provisioning trips over the login's unique constraint;
		// an existing user is fine.
		if !strings.Contains(strings.ToLower(err.Error()), "already exist") {
			return fmt.Errorf("create admin user: %w", err)
		}
	}
	return nil
}

func (s *Service) moduleSet(input ProvisionInput) []string {
	modules := append([]string{}, baseModules...)
	if input.EnergyModulesEnabled {
		modules = append(modules, energyModules...)
	}
	for _, m := range input.AdditionalModules {
		m = strings.TrimSpace(m)
		if m != "" {
			modules = append(modules, m)
		}
	}
	return modules
}

// GetInfo returns the tenant registry entry plus its sync summary.
func (s *Service) GetInfo(ctx context.Context, tenantID string) (Info, error) {
	t, err := s.repo.Get(ctx, tenantID)
	if err != nil {
		return Info{}, err
	}

	sync, err := s.repo.SyncSummary(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, ErrTenantNotFound) {
			return Info{}, err
		}
		sync = SyncSummary{Status: "never_synced"}
	}

	return Info{
		Tenant:      t,
		InstanceURL: tenant.InstanceURL(tenantID, s.cfg.TenantDomain),
		Sync:        sync,
	}, nil
}

// Delete tears the tenant down: broker subscriptions, the ERP database, then
// the registry row. A tenant that is mid-provisioning cannot be deleted.
func (s *Service) Delete(ctx context.Context, tenantID string) error {
	t, err := s.repo.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if t.Status == StatusProvisioning {
		return fmt.Errorf("%w: tenant %s", ErrTenantConflict, tenantID)
	}

	log := s.logger.With(zap.String("tenant_id", tenantID), zap.String("database", t.DatabaseName))

	if err := s.subs.TeardownAll(ctx, tenantID); err != nil {
		log.Warn("subscription teardown incomplete", zap.Error(err))
	}

	if err := s.erp.DropDatabase(ctx, t.DatabaseName); err != nil {
		// A missing database means an earlier delete got this far; keep
		// going so the registry row is cleaned up.
		if !strings.Contains(strings.ToLower(err.Error()), "not exist") {
			return fmt.Errorf("drop tenant database: %w", err)
		}
		log.Warn("tenant database already absent", zap.Error(err))
	}

	deleted, err := s.repo.Delete(ctx, tenantID)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%w: tenant %s", ErrTenantConflict, tenantID)
	}
	if err := s.repo.DeleteSyncStatus(ctx, tenantID); err != nil {
		log.Warn("could not remove sync status", zap.Error(err))
	}

	log.Info("tenant deleted")
	return nil
}
