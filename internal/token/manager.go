// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

// Package token manages the delegated-credential lifecycle: it serves
// currently-valid bearer tokens from storage, refreshing or re-deriving them
// on demand, and deduplicates concurrent refreshes for the same credential.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meridianhq/meridian/internal/logging"
	"github.com/meridianhq/meridian/internal/metrics"
	"github.com/meridianhq/meridian/internal/models"
	"github.com/meridianhq/meridian/internal/provider"
	"github.com/meridianhq/meridian/internal/store"
)

// DefaultExpiryMargin is the safety margin subtracted from a token's expiry:
// a token expiring within the margin is treated as already expired so callers
// never hold a token that dies mid-request.
const DefaultExpiryMargin = 60 * time.Second

// CredentialSource is the slice of the credential store the manager uses.
// Satisfied by *store.CredentialStore.
type CredentialSource interface {
	Get(tenantID string, p models.Provider, purpose models.Purpose) (*models.CredentialRecord, error)
	Put(rec *models.CredentialRecord) error
	Update(tenantID string, p models.Provider, purpose models.Purpose, fn func(*models.CredentialRecord) error) (*models.CredentialRecord, error)
}

// Token is a currently-valid bearer token.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Manager implements the credential lifecycle over a CredentialSource and the
// provider auth capabilities.
type Manager struct {
	creds     CredentialSource
	providers *provider.Registry
	margin    time.Duration

	// group collapses concurrent refreshes of the same credential into one
	// provider call. Losing a race to an equally valid concurrent refresh is
	// tolerated; tokens are idempotent resources, not ledger entries.
	group singleflight.Group
}

// NewManager creates a token lifecycle manager. A margin of zero selects
// DefaultExpiryMargin.
func NewManager(creds CredentialSource, providers *provider.Registry, margin time.Duration) *Manager {
	if margin <= 0 {
		margin = DefaultExpiryMargin
	}
	return &Manager{creds: creds, providers: providers, margin: margin}
}

// GetValidToken returns a bearer token for the credential identified by
// (tenant, provider, purpose), valid for at least the expiry margin.
//
// The unexpired case is the fast path and performs no network call. Expired
// credentials are refreshed (or long-lived-exchanged) through the provider;
// a missing record, insufficient scope set, or revoked refresh credential
// yields a NeedsAuthError carrying the tenant-facing reauthorization URL.
// Transient refresh failures surface as retryable errors distinct from
// NeedsAuth so callers back off instead of forcing reauthorization.
func (m *Manager) GetValidToken(ctx context.Context, tenantID string, p models.Provider, purpose models.Purpose, requiredScopes []string) (Token, error) {
	auth, ok := m.providers.Auth(p)
	if !ok {
		return Token{}, fmt.Errorf("no auth capability registered for provider %s", p)
	}

	rec, err := m.creds.Get(tenantID, p, purpose)
	if errors.Is(err, store.ErrNotFound) {
		return Token{}, m.needsAuth(auth, tenantID, p, requiredScopes, "no credential on file")
	}
	if err != nil {
		return Token{}, fmt.Errorf("load credential: %w", err)
	}

	if rec.NeedsReauth {
		return Token{}, m.needsAuth(auth, tenantID, p, requiredScopes, "credential marked for reauthorization")
	}
	if !rec.HasScopes(requiredScopes) {
		return Token{}, m.needsAuth(auth, tenantID, p, requiredScopes, "scope upgrade required")
	}

	if !rec.ExpiredWithin(m.margin, time.Now()) {
		metrics.TokenCacheHits.Inc()
		return Token{AccessToken: rec.AccessToken, ExpiresAt: rec.ExpiresAt}, nil
	}

	// Expired. Collapse concurrent callers onto one provider round trip.
	result, err, _ := m.group.Do(rec.Key(), func() (any, error) {
		return m.renew(ctx, auth, tenantID, p, purpose, requiredScopes)
	})
	if err != nil {
		return Token{}, err
	}
	return result.(Token), nil
}

// renew refreshes or re-derives an expired credential. Runs at most once per
// credential key at a time (under singleflight).
func (m *Manager) renew(ctx context.Context, auth provider.AuthAPI, tenantID string, p models.Provider, purpose models.Purpose, requiredScopes []string) (Token, error) {
	// Re-read inside the flight: a caller that queued behind a finished
	// refresh must not refresh again.
	rec, err := m.creds.Get(tenantID, p, purpose)
	if err != nil {
		return Token{}, fmt.Errorf("load credential: %w", err)
	}
	if !rec.ExpiredWithin(m.margin, time.Now()) {
		metrics.TokenCacheHits.Inc()
		return Token{AccessToken: rec.AccessToken, ExpiresAt: rec.ExpiresAt}, nil
	}

	if rec.RefreshToken != "" {
		return m.refresh(ctx, auth, rec)
	}
	return m.exchangeLongLived(ctx, auth, rec, requiredScopes)
}

func (m *Manager) refresh(ctx context.Context, auth provider.AuthAPI, rec *models.CredentialRecord) (Token, error) {
	ts, err := auth.Refresh(ctx, rec.RefreshToken)
	if err != nil {
		if errors.Is(err, provider.ErrUnauthorized) {
			// Refresh credential revoked. Mark the record so every caller
			// gets a reauthorization signal instead of a silent failure.
			metrics.TokenRefreshes.WithLabelValues(string(rec.Provider), "needs_auth").Inc()
			if _, markErr := m.creds.Update(rec.TenantID, rec.Provider, rec.Purpose, func(r *models.CredentialRecord) error {
				r.NeedsReauth = true
				return nil
			}); markErr != nil {
				logging.Error().Err(markErr).Str("tenant", rec.TenantID).Msg("Failed to mark credential for reauthorization")
			}
			return Token{}, m.needsAuth(auth, rec.TenantID, rec.Provider, rec.ScopeSet, "refresh credential revoked")
		}
		// Transient: surface as retryable, distinct from NeedsAuth.
		metrics.TokenRefreshes.WithLabelValues(string(rec.Provider), "transient").Inc()
		return Token{}, &provider.TransientError{Op: "token.refresh", Err: err}
	}

	updated, err := m.persistTokenSet(rec, ts)
	if err != nil {
		return Token{}, err
	}
	metrics.TokenRefreshes.WithLabelValues(string(rec.Provider), "success").Inc()
	logging.Debug().Str("tenant", rec.TenantID).Str("provider", string(rec.Provider)).Time("expires_at", updated.ExpiresAt).Msg("Credential refreshed")
	return Token{AccessToken: updated.AccessToken, ExpiresAt: updated.ExpiresAt}, nil
}

// exchangeLongLived handles the no-refresh-token path. Platforms with a
// long-lived exchange get one attempt; on failure the still-held token is
// returned so a degraded credential keeps limping rather than hard-failing.
// Without an exchange mechanism an expired refreshless credential is
// unusable and surfaces as NeedsAuth.
func (m *Manager) exchangeLongLived(ctx context.Context, auth provider.AuthAPI, rec *models.CredentialRecord, requiredScopes []string) (Token, error) {
	ts, err := auth.ExchangeLongLived(ctx, rec.AccessToken)
	if errors.Is(err, provider.ErrNotSupported) {
		return Token{}, m.needsAuth(auth, rec.TenantID, rec.Provider, requiredScopes, "expired credential with no refresh token")
	}
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(string(rec.Provider), "degraded").Inc()
		logging.Warn().Err(err).
			Str("tenant", rec.TenantID).
			Str("provider", string(rec.Provider)).
			Msg("Long-lived token exchange failed, continuing with expired token")
		return Token{AccessToken: rec.AccessToken, ExpiresAt: rec.ExpiresAt}, nil
	}

	updated, err := m.persistTokenSet(rec, ts)
	if err != nil {
		return Token{}, err
	}
	metrics.TokenRefreshes.WithLabelValues(string(rec.Provider), "success").Inc()
	return Token{AccessToken: updated.AccessToken, ExpiresAt: updated.ExpiresAt}, nil
}

// persistTokenSet stores a freshly obtained token set with a read-modify-write
// so concurrent refreshes cannot interleave a stale read with a write.
func (m *Manager) persistTokenSet(rec *models.CredentialRecord, ts provider.TokenSet) (*models.CredentialRecord, error) {
	updated, err := m.creds.Update(rec.TenantID, rec.Provider, rec.Purpose, func(r *models.CredentialRecord) error {
		r.AccessToken = ts.AccessToken
		r.ExpiresAt = time.Now().Add(ts.ExpiresIn)
		if ts.RefreshToken != "" {
			r.RefreshToken = ts.RefreshToken // provider rotated it
		}
		r.NeedsReauth = false
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persist refreshed credential: %w", err)
	}
	return updated, nil
}

// Authorize completes an authorization-code flow and creates (or replaces)
// the credential record for the triple. This is the only way a credential
// record comes into existence.
func (m *Manager) Authorize(ctx context.Context, tenantID string, p models.Provider, purpose models.Purpose, code string, scopes []string) error {
	auth, ok := m.providers.Auth(p)
	if !ok {
		return fmt.Errorf("no auth capability registered for provider %s", p)
	}
	ts, err := auth.ExchangeCode(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}
	rec := &models.CredentialRecord{
		TenantID:     tenantID,
		Provider:     p,
		Purpose:      purpose,
		ScopeSet:     scopes,
		AccessToken:  ts.AccessToken,
		RefreshToken: ts.RefreshToken,
		ExpiresAt:    time.Now().Add(ts.ExpiresIn),
	}
	if err := m.creds.Put(rec); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	logging.Info().Str("tenant", tenantID).Str("provider", string(p)).Str("purpose", string(purpose)).Msg("Credential authorized")
	return nil
}

// AuthorizationURL builds the tenant-facing reauthorization link.
func (m *Manager) AuthorizationURL(tenantID string, p models.Provider, scopes []string) (string, error) {
	auth, ok := m.providers.Auth(p)
	if !ok {
		return "", fmt.Errorf("no auth capability registered for provider %s", p)
	}
	return auth.AuthorizationURL(tenantID, scopes), nil
}

func (m *Manager) needsAuth(auth provider.AuthAPI, tenantID string, p models.Provider, scopes []string, reason string) error {
	return &provider.NeedsAuthError{
		TenantID:         tenantID,
		Provider:         p,
		Reason:           reason,
		AuthorizationURL: auth.AuthorizationURL(tenantID, scopes),
	}
}
