// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

package diff

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/meridianhq/meridian/internal/logging"
	"github.com/meridianhq/meridian/internal/metrics"
	"github.com/meridianhq/meridian/internal/models"
	"github.com/meridianhq/meridian/internal/provider"
	"github.com/meridianhq/meridian/internal/token"
)

var campaignScopes = []string{"ads.read", "ads.manage"}

// TokenSource is the slice of the token manager the engine uses.
type TokenSource interface {
	GetValidToken(ctx context.Context, tenantID string, p models.Provider, purpose models.Purpose, requiredScopes []string) (token.Token, error)
}

// CampaignSource is the campaign persistence the engine reconciles against.
// Satisfied by *store.CampaignStore.
type CampaignSource interface {
	Get(localID string) (*models.Campaign, error)
	Put(c *models.Campaign) error
	ListByTenant(tenantID string) ([]models.Campaign, error)
	Delete(localID string) error
}

// Result describes one campaign reconciliation.
type Result struct {
	// Created is set when the campaign had no external ID and was created
	// remotely instead of patched.
	Created bool

	// Patched lists the field paths sent in the partial update.
	Patched []string

	// SkippedImmutable lists changed paths the lifecycle stage locks; they
	// were excluded from the patch and remain divergent.
	SkippedImmutable []string
}

// Engine pushes local desired-state edits to the ad platform as minimal
// patches.
type Engine struct {
	tokens    TokenSource
	campaigns CampaignSource
	providers *provider.Registry
}

// NewEngine wires a diff/patch engine.
func NewEngine(tokens TokenSource, campaigns CampaignSource, providers *provider.Registry) *Engine {
	return &Engine{tokens: tokens, campaigns: campaigns, providers: providers}
}

// Reconcile converges one campaign's remote state toward its desired state.
// No divergence means no network call at all. Changed fields the lifecycle
// locks are excluded from the patch and reported in the result; only fields
// actually patched advance the last-known-remote snapshot, so an excluded
// field stays visibly divergent.
func (e *Engine) Reconcile(ctx context.Context, c *models.Campaign) (Result, error) {
	var res Result

	api, ok := e.providers.Campaigns(c.Provider)
	if !ok {
		return res, fmt.Errorf("no campaign capability registered for provider %s", c.Provider)
	}

	if c.Lifecycle.Terminal() {
		return res, nil
	}

	if c.ExternalID == "" {
		return e.create(ctx, api, c)
	}

	changes, err := Changes(c.Desired, c.LastKnownRemote)
	if err != nil {
		return res, err
	}
	if len(changes) == 0 {
		return res, nil
	}

	mutable, immutable := Split(c.Lifecycle, changes)
	if len(immutable) > 0 {
		res.SkippedImmutable = Paths(immutable)
		logging.Warn().
			Str("tenant", c.TenantID).
			Str("campaign", c.LocalID).
			Str("lifecycle", string(c.Lifecycle)).
			Strs("fields", res.SkippedImmutable).
			Msg("Skipping immutable fields in campaign patch")
	}
	if len(mutable) == 0 {
		return res, nil
	}

	tok, err := e.tokens.GetValidToken(ctx, c.TenantID, c.Provider, models.PurposePrimaryAuth, campaignScopes)
	if err != nil {
		return res, err
	}

	patch := BuildPatch(mutable)
	if err := api.Patch(ctx, tok.AccessToken, c.ExternalID, patch); err != nil {
		return res, fmt.Errorf("patch campaign %s: %w", c.ExternalID, err)
	}

	updated, err := applyChanges(c.LastKnownRemote, mutable)
	if err != nil {
		return res, err
	}
	c.LastKnownRemote = updated
	if err := e.campaigns.Put(c); err != nil {
		return res, fmt.Errorf("persist reconciled campaign: %w", err)
	}

	res.Patched = Paths(mutable)
	metrics.PatchFields.Observe(float64(len(mutable)))
	logging.Info().
		Str("tenant", c.TenantID).
		Str("campaign", c.LocalID).
		Strs("fields", res.Patched).
		Msg("Campaign patched")
	return res, nil
}

// create pushes a local-only draft to the platform and records the assigned
// external ID.
func (e *Engine) create(ctx context.Context, api provider.CampaignAPI, c *models.Campaign) (Result, error) {
	tok, err := e.tokens.GetValidToken(ctx, c.TenantID, c.Provider, models.PurposePrimaryAuth, campaignScopes)
	if err != nil {
		return Result{}, err
	}
	externalID, err := api.Create(ctx, tok.AccessToken, c.AccountID, c.Desired)
	if err != nil {
		return Result{}, fmt.Errorf("create campaign: %w", err)
	}
	c.ExternalID = externalID
	c.LastKnownRemote = c.Desired
	if err := e.campaigns.Put(c); err != nil {
		return Result{}, fmt.Errorf("persist created campaign: %w", err)
	}
	logging.Info().
		Str("tenant", c.TenantID).
		Str("campaign", c.LocalID).
		Str("external_id", externalID).
		Msg("Campaign created remotely")
	return Result{Created: true}, nil
}

// ReconcileTenant reconciles every campaign mirror of a tenant. Campaigns
// fail independently; the first credential failure stops the pass since every
// remaining call would fail the same way.
func (e *Engine) ReconcileTenant(ctx context.Context, tenantID string) (patched, failed int, err error) {
	campaigns, err := e.campaigns.ListByTenant(tenantID)
	if err != nil {
		return 0, 0, fmt.Errorf("list campaigns: %w", err)
	}
	for i := range campaigns {
		c := &campaigns[i]
		res, rerr := e.Reconcile(ctx, c)
		if rerr != nil {
			if _, needsAuth := provider.AsNeedsAuth(rerr); needsAuth {
				return patched, failed, rerr
			}
			failed++
			logging.Warn().Err(rerr).
				Str("tenant", tenantID).
				Str("campaign", c.LocalID).
				Msg("Campaign reconciliation failed")
			continue
		}
		if res.Created || len(res.Patched) > 0 {
			patched++
		}
	}
	return patched, failed, nil
}

// RequestDelete starts the deletion protocol for a campaign. Drafts that
// never reached the platform, and drafts the platform still allows to
// hard-delete, are removed outright. Anything past draft is transitioned to
// pending deletion; the platform archives it on its own schedule and the
// changes feed brings the final lifecycle back.
func (e *Engine) RequestDelete(ctx context.Context, localID string) error {
	c, err := e.campaigns.Get(localID)
	if err != nil {
		return err
	}
	if c.Lifecycle.Terminal() {
		return nil
	}

	api, ok := e.providers.Campaigns(c.Provider)
	if !ok {
		return fmt.Errorf("no campaign capability registered for provider %s", c.Provider)
	}

	if c.Lifecycle == models.CampaignDraft {
		if c.ExternalID != "" {
			tok, err := e.tokens.GetValidToken(ctx, c.TenantID, c.Provider, models.PurposePrimaryAuth, campaignScopes)
			if err != nil {
				return err
			}
			if err := api.Delete(ctx, tok.AccessToken, c.ExternalID); err != nil {
				return fmt.Errorf("delete draft campaign %s: %w", c.ExternalID, err)
			}
		}
		return e.campaigns.Delete(localID)
	}

	tok, err := e.tokens.GetValidToken(ctx, c.TenantID, c.Provider, models.PurposePrimaryAuth, campaignScopes)
	if err != nil {
		return err
	}
	if err := api.UpdateStatus(ctx, tok.AccessToken, c.ExternalID, models.CampaignPendingDeletion); err != nil {
		return fmt.Errorf("request campaign deletion %s: %w", c.ExternalID, err)
	}
	c.Lifecycle = models.CampaignPendingDeletion
	if err := e.campaigns.Put(c); err != nil {
		return fmt.Errorf("persist pending deletion: %w", err)
	}
	logging.Info().
		Str("tenant", c.TenantID).
		Str("campaign", c.LocalID).
		Msg("Campaign deletion requested")
	return nil
}

// applyChanges folds patched leaves into the last-known-remote snapshot. Only
// the patched paths move; excluded immutable fields keep their old remote
// values so the divergence remains observable.
func applyChanges(remote models.CampaignState, changes []FieldChange) (models.CampaignState, error) {
	m, err := stateMap(remote)
	if err != nil {
		return remote, err
	}
	merge(m, BuildPatch(changes))

	data, err := json.Marshal(m)
	if err != nil {
		return remote, fmt.Errorf("encode merged state: %w", err)
	}
	var out models.CampaignState
	if err := json.Unmarshal(data, &out); err != nil {
		return remote, fmt.Errorf("decode merged state: %w", err)
	}
	return out, nil
}

func merge(dst, src map[string]any) {
	for k, v := range src {
		sv, sIsMap := v.(map[string]any)
		dv, dIsMap := dst[k].(map[string]any)
		if sIsMap && dIsMap {
			merge(dv, sv)
			continue
		}
		dst[k] = v
	}
}
