// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

// Package provider defines the capability interfaces Meridian's engines use
// to talk to external platforms, the shared error taxonomy, and the rate-gated
// circuit-broken HTTP transport the concrete clients are built on.
//
// Engines depend only on the capability set {exchange, refresh, list changes,
// patch}; one implementation exists per platform (mailgate, adstream). Adding
// a platform means adding one package, not branching in the engines.
package provider

import (
	"context"
	"time"

	"github.com/meridianhq/meridian/internal/models"
)

// TokenSet is the result of any authorization-provider call.
type TokenSet struct {
	AccessToken  string
	RefreshToken string // empty when the provider did not rotate it
	ExpiresIn    time.Duration
}

// AuthAPI is the authorization capability of a platform.
type AuthAPI interface {
	// ExchangeCode trades an authorization code for the initial token set.
	ExchangeCode(ctx context.Context, code string) (TokenSet, error)

	// Refresh trades a refresh token for a fresh access token. Providers may
	// rotate the refresh token; callers must persist a rotated value.
	Refresh(ctx context.Context, refreshToken string) (TokenSet, error)

	// ExchangeLongLived trades a short-lived token for a long-lived one.
	// Returns ErrNotSupported when the platform has no such mechanism.
	ExchangeLongLived(ctx context.Context, shortLived string) (TokenSet, error)

	// AuthorizationURL builds the tenant-facing reauthorization link for the
	// given scope set.
	AuthorizationURL(tenantID string, scopes []string) string
}

// MessagePage is one page of the mailgate changes feed.
type MessagePage struct {
	Items []models.Message

	// NextCursor is the continuation token for the following page. Empty
	// means the feed is exhausted; the caller keeps its previous cursor.
	NextCursor string
}

// MessageAPI is the message-resource capability of the email provider.
type MessageAPI interface {
	// ListChanges fetches the next page of mailbox changes. With an empty
	// cursor the provider returns a bounded window of lookback history
	// instead of full history.
	ListChanges(ctx context.Context, token, mailbox, cursor string, lookback time.Duration, pageSize int) (MessagePage, error)

	// ListSent returns recently sent messages, newest first, used to resolve
	// external IDs for sends the API did not confirm synchronously.
	ListSent(ctx context.Context, token string, since time.Time, limit int) ([]models.Message, error)

	// Send delivers a message through the primary endpoint. The returned
	// external ID may be empty: some deployments accept the send and assign
	// the ID asynchronously.
	Send(ctx context.Context, token string, payload models.OutboundPayload) (string, error)

	// SendFallback delivers through the secondary endpoint with equivalent
	// semantics, used when the primary path fails non-transiently.
	SendFallback(ctx context.Context, token string, payload models.OutboundPayload) (string, error)
}

// RemoteCampaign is one campaign as reported by the ad platform.
type RemoteCampaign struct {
	ExternalID string
	Lifecycle  models.CampaignLifecycle
	State      models.CampaignState
}

// CampaignPage is one page of the ad platform's campaign changes feed.
type CampaignPage struct {
	Items      []RemoteCampaign
	NextCursor string
}

// CampaignAPI is the campaign-resource capability of an ad platform.
type CampaignAPI interface {
	ListChanges(ctx context.Context, token, accountID, cursor string, lookback time.Duration, pageSize int) (CampaignPage, error)

	Create(ctx context.Context, token, accountID string, state models.CampaignState) (externalID string, err error)

	// Patch sends a partial update. The payload contains only changed fields
	// in the remote's nested shape; absent fields are left untouched.
	Patch(ctx context.Context, token, externalID string, payload map[string]any) error

	// UpdateStatus transitions the remote lifecycle (pause, pending-deletion).
	UpdateStatus(ctx context.Context, token, externalID string, lifecycle models.CampaignLifecycle) error

	// Delete hard-deletes a campaign. Only legal for drafts; active campaigns
	// go through UpdateStatus(pending_deletion) instead.
	Delete(ctx context.Context, token, externalID string) error
}

// Registry holds the per-platform capability implementations. Engines look up
// capabilities by provider name instead of branching on it.
type Registry struct {
	auth      map[models.Provider]AuthAPI
	messages  map[models.Provider]MessageAPI
	campaigns map[models.Provider]CampaignAPI
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		auth:      make(map[models.Provider]AuthAPI),
		messages:  make(map[models.Provider]MessageAPI),
		campaigns: make(map[models.Provider]CampaignAPI),
	}
}

// RegisterAuth registers the authorization capability for a platform.
func (r *Registry) RegisterAuth(p models.Provider, api AuthAPI) {
	r.auth[p] = api
}

// RegisterMessages registers the message capability for a platform.
func (r *Registry) RegisterMessages(p models.Provider, api MessageAPI) {
	r.messages[p] = api
}

// RegisterCampaigns registers the campaign capability for a platform.
func (r *Registry) RegisterCampaigns(p models.Provider, api CampaignAPI) {
	r.campaigns[p] = api
}

// Auth returns the authorization capability, or false if unregistered.
func (r *Registry) Auth(p models.Provider) (AuthAPI, bool) {
	api, ok := r.auth[p]
	return api, ok
}

// Messages returns the message capability, or false if unregistered.
func (r *Registry) Messages(p models.Provider) (MessageAPI, bool) {
	api, ok := r.messages[p]
	return api, ok
}

// Campaigns returns the campaign capability, or false if unregistered.
func (r *Registry) Campaigns(p models.Provider) (CampaignAPI, bool) {
	api, ok := r.campaigns[p]
	return api, ok
}
