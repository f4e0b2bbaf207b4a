// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

package models

import (
	"fmt"
	"time"
)

// Provider identifies an external platform Meridian synchronizes with.
type Provider string

const (
	// ProviderMailgate is the email/directory provider used for lead ingestion
	// and outbound replies.
	ProviderMailgate Provider = "mailgate"

	// ProviderAdstream is the advertising platform used for campaign mirroring.
	ProviderAdstream Provider = "adstream"
)

// Purpose distinguishes credential records held for the same tenant/provider
// pair. A tenant may hold a primary credential for account-level operations
// and a separate delegated credential for mailbox ingestion.
type Purpose string

const (
	PurposePrimaryAuth Purpose = "primary-auth"
	PurposeIngestion   Purpose = "secondary-ingestion"
)

// CredentialRecord is a persisted delegated credential for one
// (tenant, provider, purpose) triple. Records are created on first successful
// authorization, mutated on every refresh, and deleted only on explicit
// disconnect.
type CredentialRecord struct {
	TenantID     string    `json:"tenant_id"`
	Provider     Provider  `json:"provider"`
	Purpose      Purpose   `json:"purpose"`
	ScopeSet     []string  `json:"scope_set"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`

	// NeedsReauth is set when the provider rejects the refresh credential.
	// A marked record is unusable until the tenant reauthorizes.
	NeedsReauth bool `json:"needs_reauth"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CredentialKey builds the storage key for a (tenant, provider, purpose) triple.
func CredentialKey(tenantID string, provider Provider, purpose Purpose) string {
	return fmt.Sprintf("%s|%s|%s", tenantID, provider, purpose)
}

// Key returns the record's unique storage key.
func (c *CredentialRecord) Key() string {
	return CredentialKey(c.TenantID, c.Provider, c.Purpose)
}

// HasScopes reports whether every required scope is present in the record's
// scope set. An insufficient scope set requires a scope-upgrade
// reauthorization, never a silent downgrade.
func (c *CredentialRecord) HasScopes(required []string) bool {
	if len(required) == 0 {
		return true
	}
	held := make(map[string]struct{}, len(c.ScopeSet))
	for _, s := range c.ScopeSet {
		held[s] = struct{}{}
	}
	for _, r := range required {
		if _, ok := held[r]; !ok {
			return false
		}
	}
	return true
}

// ExpiredWithin reports whether the access token expires within the given
// safety margin from now.
func (c *CredentialRecord) ExpiredWithin(margin time.Duration, now time.Time) bool {
	return !c.ExpiresAt.After(now.Add(margin))
}
