package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nekazari/odoo-bridge/domains/sync/be/service"
	"github.com/nekazari/odoo-bridge/platform/go/httpx"
	"github.com/nekazari/odoo-bridge/platform/go/odoo"
	"github.com/nekazari/odoo-bridge/platform/go/syncjobs"
	"github.com/nekazari/odoo-bridge/platform/go/tenant"
)

// maxNotificationBody bounds webhook payload size.
const maxNotificationBody = 4 << 20

// Handler exposes the sync, mapping and webhook endpoints.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("sync service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Register attaches the tenant-scoped sync endpoints to r. The router
// already carries the tenant identity middleware.
func (h *Handler) Register(r chi.Router) {
	r.Post("/sync/trigger", h.trigger)
	r.Get("/sync/status", h.status)
	r.Get("/sync/mappings", h.mappings)
	r.Get("/entity/by-external/{externalID}", h.byExternal)
	r.Post("/entity/create-from-external", h.createFromExternal)
	r.Get("/entity/open/{erpModel}/{erpRecordID}", h.openRecord)
	r.Get("/stats", h.stats)
}

// WebhookRoutes mounts the notification endpoint called by the context
// broker. It authenticates by subscription id, not by tenant header.
func (h *Handler) WebhookRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/notifications", h.notifications)
	return r
}

type jobResponse struct {
	ID                string     `json:"id"`
	Trigger           string     `json:"trigger"`
	RequestedAt       time.Time  `json:"requestedAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	Result            string     `json:"result"`
	EntitiesProcessed int        `json:"entitiesProcessed"`
	Errors            []string   `json:"errors,omitempty"`
}

type mappingResponse struct {
	ExternalID     string    `json:"externalId"`
	ExternalType   string    `json:"externalType"`
	ErpModel       string    `json:"erpModel"`
	ErpRecordID    int       `json:"erpRecordId"`
	ErpDisplayName string    `json:"erpDisplayName,omitempty"`
	Deleted        bool      `json:"deleted"`
	LastSync       time.Time `json:"lastSync"`
	URL            string    `json:"url,omitempty"`
}

type statusResponse struct {
	Status         string       `json:"status"`
	LastSync       *time.Time   `json:"lastSync,omitempty"`
	EntitiesSynced int          `json:"entitiesSynced"`
	Errors         []string     `json:"errors,omitempty"`
	LatestJob      *jobResponse `json:"latestJob,omitempty"`
}

type statsResponse struct {
	Tenants            int            `json:"tenants"`
	MappingsByType     map[string]int `json:"mappingsByType"`
	TombstonedMappings int            `json:"tombstonedMappings"`
	SyncStatus         string         `json:"syncStatus"`
	LastSync           *time.Time     `json:"lastSync,omitempty"`
}

// trigger implements POST /sync/trigger
func (h *Handler) trigger(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant.FromContext(r.Context())
	if !ok {
		httpx.WriteProblem(w, http.StatusUnauthorized, httpx.ProblemTypeValidation, "Unauthorized", "tenant identity required")
		return
	}

	job, err := h.svc.TriggerSync(r.Context(), tenantID, syncjobs.TriggerManual)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAPIJob(job))
}

// status implements GET /sync/status
func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant.FromContext(r.Context())
	if !ok {
		httpx.WriteProblem(w, http.StatusUnauthorized, httpx.ProblemTypeValidation, "Unauthorized", "tenant identity required")
		return
	}

	summary, latest, err := h.svc.Status(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := statusResponse{
		Status:         summary.Status,
		LastSync:       summary.LastSync,
		EntitiesSynced: summary.EntitiesSynced,
		Errors:         summary.Errors,
	}
	if latest != nil {
		j := toAPIJob(*latest)
		resp.LatestJob = &j
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// mappings implements GET /sync/mappings?type=&includeDeleted=
func (h *Handler) mappings(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant.FromContext(r.Context())
	if !ok {
		httpx.WriteProblem(w, http.StatusUnauthorized, httpx.ProblemTypeValidation, "Unauthorized", "tenant identity required")
		return
	}

	var externalType *string
	if v := r.URL.Query().Get("type"); v != "" {
		externalType = &v
	}
	includeDeleted := r.URL.Query().Get("includeDeleted") == "true"

	mappings, err := h.svc.Mappings(r.Context(), tenantID, externalType, includeDeleted)
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]mappingResponse, 0, len(mappings))
	for _, m := range mappings {
		out = append(out, toAPIMapping(m, ""))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": out})
}

// byExternal implements GET /entity/by-external/{externalID}
func (h *Handler) byExternal(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant.FromContext(r.Context())
	if !ok {
		httpx.WriteProblem(w, http.StatusUnauthorized, httpx.ProblemTypeValidation, "Unauthorized", "tenant identity required")
		return
	}

	externalID := chi.URLParam(r, "externalID")
	m, url, err := h.svc.MappingByExternal(r.Context(), tenantID, externalID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAPIMapping(m, url))
}

type createFromExternalRequest struct {
	ExternalID   string `json:"externalId"`
	ExternalType string `json:"externalType,omitempty"`
}

// createFromExternal implements POST /entity/create-from-external
func (h *Handler) createFromExternal(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant.FromContext(r.Context())
	if !ok {
		httpx.WriteProblem(w, http.StatusUnauthorized, httpx.ProblemTypeValidation, "Unauthorized", "tenant identity required")
		return
	}

	var req createFromExternalRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteProblem(w, http.StatusBadRequest, httpx.ProblemTypeValidation, "Invalid request body", err.Error())
		return
	}
	if req.ExternalID == "" {
		httpx.WriteProblem(w, http.StatusBadRequest, httpx.ProblemTypeValidation, "Invalid request body", "externalId is required")
		return
	}
	if req.ExternalType != "" {
		if _, ok := odoo.LookupModel(req.ExternalType); !ok {
			httpx.WriteProblem(w, http.StatusBadRequest, httpx.ProblemTypeValidation, "Unsupported entity type", req.ExternalType+" is not synchronized")
			return
		}
	}

	m, err := h.svc.CreateFromExternal(r.Context(), tenantID, req.ExternalID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toAPIMapping(m, ""))
}

// openRecord implements GET /entity/open/{erpModel}/{erpRecordID}
func (h *Handler) openRecord(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant.FromContext(r.Context())
	if !ok {
		httpx.WriteProblem(w, http.StatusUnauthorized, httpx.ProblemTypeValidation, "Unauthorized", "tenant identity required")
		return
	}

	recordID, err := strconv.Atoi(chi.URLParam(r, "erpRecordID"))
	if err != nil || recordID <= 0 {
		httpx.WriteProblem(w, http.StatusBadRequest, httpx.ProblemTypeValidation, "Invalid record id", "erpRecordID must be a positive integer")
		return
	}

	view, err := h.svc.OpenRecord(r.Context(), tenantID, chi.URLParam(r, "erpModel"), recordID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"model":    view.Model,
		"recordId": view.RecordID,
		"url":      view.URL,
		"values":   view.Values,
	})
}

// stats implements GET /stats
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant.FromContext(r.Context())
	if !ok {
		httpx.WriteProblem(w, http.StatusUnauthorized, httpx.ProblemTypeValidation, "Unauthorized", "tenant identity required")
		return
	}

	stats, err := h.svc.TenantStats(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, statsResponse{
		Tenants:            stats.TenantCount,
		MappingsByType:     stats.MappingsByType,
		TombstonedMappings: stats.TombstonedMappings,
		SyncStatus:         stats.Sync.Status,
		LastSync:           stats.Sync.LastSync,
	})
}

// notifications implements POST /webhook/notifications. The broker is the
// caller; tenant identity is recovered from the subscription id.
func (h *Handler) notifications(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBody))
	if err != nil {
		httpx.WriteProblem(w, http.StatusBadRequest, httpx.ProblemTypeValidation, "Invalid notification", "could not read body")
		return
	}

	n, err := service.ParseNotification(body)
	if err != nil {
		httpx.WriteProblem(w, http.StatusBadRequest, httpx.ProblemTypeValidation, "Invalid notification", err.Error())
		return
	}

	tenantID, ok := tenant.ParseSubscriptionID(n.SubscriptionID)
	if !ok {
		httpx.WriteProblem(w, http.StatusBadRequest, httpx.ProblemTypeValidation, "Invalid notification",
			"subscription id is not managed by this bridge: "+n.SubscriptionID)
		return
	}

	job, err := h.svc.HandleNotification(r.Context(), tenantID, n)
	if err != nil {
		// A notification for a deleted tenant is stale, not an error worth
		// making the broker retry.
		if errors.Is(err, service.ErrTenantNotActive) {
			h.logger.Warn("dropping notification for inactive tenant",
				zap.String("tenant_id", tenantID),
				zap.String("subscription_id", n.SubscriptionID))
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAPIJob(job))
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrMappingNotFound), errors.Is(err, service.ErrEntityNotFound):
		httpx.WriteProblem(w, http.StatusNotFound, httpx.ProblemTypeNotFound, "Not found", err.Error())
	case errors.Is(err, service.ErrTenantNotActive):
		httpx.WriteProblem(w, http.StatusConflict, httpx.ProblemTypeConflict, "Tenant not active", err.Error())
	case errors.Is(err, service.ErrUnsupportedType):
		httpx.WriteProblem(w, http.StatusBadRequest, httpx.ProblemTypeValidation, "Unsupported entity type", err.Error())
	case errors.Is(err, odoo.ErrRemoteUnavailable):
		httpx.WriteProblem(w, http.StatusBadGateway, httpx.ProblemTypeUpstream, "ERP unavailable", err.Error())
	case errors.Is(err, odoo.ErrRejectedByERP):
		httpx.WriteProblem(w, http.StatusUnprocessableEntity, httpx.ProblemTypeValidation, "Rejected by ERP", err.Error())
	default:
		h.logger.Error("sync operation failed", zap.Error(err))
		httpx.WriteProblem(w, http.StatusInternalServerError, httpx.ProblemTypeInternal, "Internal error", "internal error")
	}
}

func toAPIJob(j syncjobs.Job) jobResponse {
	return jobResponse{
		ID:                j.ID,
		Trigger:           j.Trigger,
		RequestedAt:       j.RequestedAt,
		CompletedAt:       j.CompletedAt,
		Result:            j.Result,
		EntitiesProcessed: j.EntitiesProcessed,
		Errors:            j.Errors,
	}
}

func toAPIMapping(m service.Mapping, url string) mappingResponse {
	return mappingResponse{
		ExternalID:     m.ExternalID,
		ExternalType:   m.ExternalType,
		ErpModel:       m.ErpModel,
		ErpRecordID:    m.ErpRecordID,
		ErpDisplayName: m.ErpDisplayName,
		Deleted:        m.Deleted,
		LastSync:       m.LastSync,
		URL:            url,
	}
}
