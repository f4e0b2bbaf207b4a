// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/meridianhq/meridian/internal/logging"
	"github.com/meridianhq/meridian/internal/models"
	"github.com/meridianhq/meridian/internal/scheduler"
	"github.com/meridianhq/meridian/internal/store"
)

// SchedulerAPI is the scheduler surface the handlers use.
type SchedulerAPI interface {
	Apply(cfg models.ScheduledJobConfig)
	TriggerNow(tenantID string, kind models.JobKind) bool
	Snapshot() []scheduler.TriggerStatus
}

// AuthorizerAPI is the token-manager surface the handlers use.
type AuthorizerAPI interface {
	Authorize(ctx context.Context, tenantID string, p models.Provider, purpose models.Purpose, code string, scopes []string) error
	AuthorizationURL(tenantID string, p models.Provider, scopes []string) (string, error)
}

// Handlers implements the admin endpoints.
type Handlers struct {
	stores    *store.Stores
	scheduler SchedulerAPI
	auth      AuthorizerAPI

	// ready reports whether the process finished startup. Nil means always
	// ready.
	ready func() bool
}

// NewHandlers wires the handler set.
func NewHandlers(stores *store.Stores, sched SchedulerAPI, auth AuthorizerAPI, ready func() bool) *Handlers {
	return &Handlers{stores: stores, scheduler: sched, auth: auth, ready: ready}
}

// Healthz reports process liveness.
func (h *Handlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz reports whether the supervision tree finished startup.
func (h *Handlers) Readyz(w http.ResponseWriter, _ *http.Request) {
	if h.ready != nil && !h.ready() {
		writeError(w, http.StatusServiceUnavailable, "starting")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ListJobs returns every installed trigger with its last run state.
func (h *Handlers) ListJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": h.scheduler.Snapshot()})
}

type putJobRequest struct {
	TenantID   string   `json:"tenant_id"`
	JobKind    string   `json:"job_kind"`
	Cadence    string   `json:"cadence"`
	Enabled    bool     `json:"enabled"`
	Partitions []string `json:"partitions"`
}

// PutJob persists a job config and installs (or removes) its trigger.
func (h *Handlers) PutJob(w http.ResponseWriter, r *http.Request) {
	var req putJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.TenantID == "" || req.JobKind == "" {
		writeError(w, http.StatusBadRequest, "tenant_id and job_kind are required")
		return
	}
	kind := models.JobKind(req.JobKind)
	switch kind {
	case models.JobLeadSync, models.JobCampaignSync, models.JobCampaignReconcile:
	default:
		writeError(w, http.StatusBadRequest, "unknown job_kind")
		return
	}

	cfg := models.ScheduledJobConfig{
		TenantID:   req.TenantID,
		JobKind:    kind,
		Cadence:    models.Cadence(req.Cadence),
		Enabled:    req.Enabled,
		Partitions: req.Partitions,
	}
	if _, ok := cfg.Cadence.Interval(); !ok {
		cfg.Cadence = models.DefaultCadence
	}
	for _, p := range cfg.Partitions {
		if _, err := models.ParsePartitionKey(p); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if err := h.stores.JobConfigs.Put(&cfg); err != nil {
		logging.Error().Err(err).Msg("Failed to persist job config")
		writeError(w, http.StatusInternalServerError, "failed to persist job config")
		return
	}
	h.scheduler.Apply(cfg)
	writeJSON(w, http.StatusOK, cfg)
}

type triggerRequest struct {
	TenantID string `json:"tenant_id"`
	JobKind  string `json:"job_kind"`
}

// TriggerSync fires one job occurrence outside its cadence. A busy or
// uninstalled job returns 409.
func (h *Handlers) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if !h.scheduler.TriggerNow(req.TenantID, models.JobKind(req.JobKind)) {
		writeError(w, http.StatusConflict, "job not installed or already running")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

// AuthorizeURL returns the tenant-facing authorization link.
func (h *Handlers) AuthorizeURL(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenantID := q.Get("tenant")
	providerName := q.Get("provider")
	if tenantID == "" || providerName == "" {
		writeError(w, http.StatusBadRequest, "tenant and provider are required")
		return
	}
	var scopes []string
	if raw := q.Get("scopes"); raw != "" {
		scopes = strings.Split(raw, ",")
	}
	url, err := h.auth.AuthorizationURL(tenantID, models.Provider(providerName), scopes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"authorization_url": url})
}

type authorizeRequest struct {
	TenantID string   `json:"tenant_id"`
	Provider string   `json:"provider"`
	Purpose  string   `json:"purpose"`
	Code     string   `json:"code"`
	Scopes   []string `json:"scopes"`
}

// Authorize completes an authorization-code exchange and stores the
// credential.
func (h *Handlers) Authorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.TenantID == "" || req.Provider == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "tenant_id, provider, and code are required")
		return
	}
	purpose := models.Purpose(req.Purpose)
	if purpose == "" {
		purpose = models.PurposePrimaryAuth
	}
	err := h.auth.Authorize(r.Context(), req.TenantID, models.Provider(req.Provider), purpose, req.Code, req.Scopes)
	if err != nil {
		logging.Error().Err(err).Str("tenant", req.TenantID).Msg("Authorization failed")
		writeError(w, http.StatusBadGateway, "authorization exchange failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "authorized"})
}

// ListLeads returns a tenant's leads.
func (h *Handlers) ListLeads(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant")
	leads, err := h.stores.Leads.ListByTenant(tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list leads")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leads": leads, "count": len(leads)})
}

// ListCampaigns returns a tenant's campaign mirrors.
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant")
	campaigns, err := h.stores.Campaigns.ListByTenant(tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list campaigns")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"campaigns": campaigns, "count": len(campaigns)})
}

// Disconnect removes a tenant's credentials and synced data for one provider.
// Outbound history is retained for audit.
func (h *Handlers) Disconnect(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant")
	providerName := chi.URLParam(r, "provider")
	if err := h.stores.Disconnect(tenantID, providerName); err != nil {
		logging.Error().Err(err).Str("tenant", tenantID).Str("provider", providerName).Msg("Disconnect failed")
		writeError(w, http.StatusInternalServerError, "disconnect failed")
		return
	}
	// Drop the provider's partitions from the tenant's sync jobs; a job with
	// no partitions left is disabled outright.
	for _, kind := range []models.JobKind{models.JobLeadSync, models.JobCampaignSync} {
		cfg, err := h.stores.JobConfigs.Get(tenantID, kind)
		if err != nil {
			continue
		}
		kept := cfg.Partitions[:0]
		for _, p := range cfg.Partitions {
			if !strings.HasPrefix(p, providerName+":") {
				kept = append(kept, p)
			}
		}
		if len(kept) == len(cfg.Partitions) {
			continue
		}
		cfg.Partitions = kept
		if len(kept) == 0 {
			cfg.Enabled = false
		}
		if err := h.stores.JobConfigs.Put(cfg); err != nil {
			logging.Warn().Err(err).Str("tenant", tenantID).Msg("Failed to update job config after disconnect")
			continue
		}
		h.scheduler.Apply(*cfg)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}
