package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nekazari/odoo-bridge/domains/tenants/be/service"
	"github.com/nekazari/odoo-bridge/platform/go/httpx"
	"github.com/nekazari/odoo-bridge/platform/go/odoo"
	"github.com/nekazari/odoo-bridge/platform/go/tenant"
)

// Handler exposes the tenant lifecycle endpoints.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("tenants service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the tenant endpoints. The router already carries the tenant
// identity middleware.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/provision", h.provision)
	r.Get("/info", h.info)
	r.Delete("/delete", h.delete)
	return r
}

type provisionRequest struct {
	Name                 string   `json:"name"`
	AdminEmail           string   `json:"adminEmail"`
	AdminName            string   `json:"adminName,omitempty"`
	EnergyModulesEnabled bool     `json:"energyModulesEnabled,omitempty"`
	AdditionalModules    []string `json:"additionalModules,omitempty"`
}

type tenantResponse struct {
	TenantID             string     `json:"tenantId"`
	Name                 string     `json:"name,omitempty"`
	DatabaseName         string     `json:"databaseName"`
	Status               string     `json:"status"`
	EnergyModulesEnabled bool       `json:"energyModulesEnabled"`
	InstalledModules     []string   `json:"installedModules,omitempty"`
	AdminEmail           *string    `json:"adminEmail,omitempty"`
	LastError            *string    `json:"lastError,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	LastSync             *time.Time `json:"lastSync,omitempty"`
}

type syncSummaryResponse struct {
	Status         string     `json:"status"`
	LastSync       *time.Time `json:"lastSync,omitempty"`
	EntitiesSynced int        `json:"entitiesSynced"`
	Errors         []string   `json:"errors,omitempty"`
}

type infoResponse struct {
	Tenant      tenantResponse      `json:"tenant"`
	InstanceURL string              `json:"instanceUrl"`
	Sync        syncSummaryResponse `json:"sync"`
}

// provision implements POST /tenant/provision
func (h *Handler) provision(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant.FromContext(r.Context())
	if !ok {
		httpx.WriteProblem(w, http.StatusUnauthorized, httpx.ProblemTypeValidation, "Unauthorized", "tenant identity required")
		return
	}

	var req provisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteProblem(w, http.StatusBadRequest, httpx.ProblemTypeValidation, "Invalid request body", err.Error())
		return
	}
	if req.AdminEmail == "" {
		httpx.WriteProblem(w, http.StatusBadRequest, httpx.ProblemTypeValidation, "Invalid request body", "adminEmail is required")
		return
	}

	t, err := h.svc.Provision(r.Context(), service.ProvisionInput{
		TenantID:             tenantID,
		Name:                 req.Name,
		AdminEmail:           req.AdminEmail,
		AdminName:            req.AdminName,
		EnergyModulesEnabled: req.EnergyModulesEnabled,
		AdditionalModules:    req.AdditionalModules,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toAPITenant(t))
}

// info implements GET /tenant/info
func (h *Handler) info(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant.FromContext(r.Context())
	if !ok {
		httpx.WriteProblem(w, http.StatusUnauthorized, httpx.ProblemTypeValidation, "Unauthorized", "tenant identity required")
		return
	}

	info, err := h.svc.GetInfo(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, infoResponse{
		Tenant:      toAPITenant(info.Tenant),
		InstanceURL: info.InstanceURL,
		Sync: syncSummaryResponse{
			Status:         info.Sync.Status,
			LastSync:       info.Sync.LastSync,
			EntitiesSynced: info.Sync.EntitiesSynced,
			Errors:         info.Sync.Errors,
		},
	})
}

// delete implements DELETE /tenant/delete
func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant.FromContext(r.Context())
	if !ok {
		httpx.WriteProblem(w, http.StatusUnauthorized, httpx.ProblemTypeValidation, "Unauthorized", "tenant identity required")
		return
	}

	if err := h.svc.Delete(r.Context(), tenantID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrTenantNotFound):
		httpx.WriteProblem(w, http.StatusNotFound, httpx.ProblemTypeNotFound, "Not found", err.Error())
	case errors.Is(err, service.ErrTenantConflict):
		httpx.WriteProblem(w, http.StatusConflict, httpx.ProblemTypeConflict, "Conflict", err.Error())
	case errors.Is(err, odoo.ErrRemoteUnavailable):
		httpx.WriteProblem(w, http.StatusBadGateway, httpx.ProblemTypeUpstream, "ERP unavailable", err.Error())
	case errors.Is(err, service.ErrProvisioningFailed):
		httpx.WriteProblem(w, http.StatusBadGateway, httpx.ProblemTypeUpstream, "Provisioning failed", err.Error())
	default:
		h.logger.Error("tenant operation failed", zap.Error(err))
		httpx.WriteProblem(w, http.StatusInternalServerError, httpx.ProblemTypeInternal, "Internal error", "internal error")
	}
}

func toAPITenant(t service.Tenant) tenantResponse {
	return tenantResponse{
		TenantID:             t.TenantID,
		Name:                 t.Name,
		DatabaseName:         t.DatabaseName,
		Status:               t.Status,
		EnergyModulesEnabled: t.EnergyModulesEnabled,
		InstalledModules:     t.InstalledModules,
		AdminEmail:           t.AdminEmail,
		LastError:            t.LastError,
		CreatedAt:            t.CreatedAt,
		LastSync:             t.LastSync,
	}
}
