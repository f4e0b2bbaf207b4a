// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

// Package outbound delivers messages through the email provider with a
// durability-first protocol: the pending row is written before any network
// attempt, so a crash at any point leaves a record the sync-driven
// reconciliation pass can resolve. The engine may fail to send; it must never
// send twice for one correlation key.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meridianhq/meridian/internal/logging"
	"github.com/meridianhq/meridian/internal/metrics"
	"github.com/meridianhq/meridian/internal/models"
	"github.com/meridianhq/meridian/internal/provider"
	"github.com/meridianhq/meridian/internal/token"
)

var sendScopes = []string{"mail.read", "mail.send"}

// TokenSource is the slice of the token manager the engine uses.
type TokenSource interface {
	GetValidToken(ctx context.Context, tenantID string, p models.Provider, purpose models.Purpose, requiredScopes []string) (token.Token, error)
}

// ActionStore is the pending-action persistence. Satisfied by
// *store.OutboundStore.
type ActionStore interface {
	Create(tenantID, correlationKey string, payload models.OutboundPayload) (*models.PendingOutboundAction, bool, error)
	Confirm(tenantID, correlationKey, externalID string) error
}

// Config holds delivery tuning.
type Config struct {
	// Provider is the email platform deliveries go through.
	Provider models.Provider

	// PollAttempts and PollSpacing bound the sent-feed resolution of a send
	// the API accepted without returning an ID. Defaults: 3 attempts, 2s.
	PollAttempts int
	PollSpacing  time.Duration

	// SentLookback and SentLimit shape the sent-feed query.
	SentLookback time.Duration
	SentLimit    int
}

func (c *Config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = models.ProviderMailgate
	}
	if c.PollAttempts <= 0 {
		c.PollAttempts = 3
	}
	if c.PollSpacing <= 0 {
		c.PollSpacing = 2 * time.Second
	}
	if c.SentLookback <= 0 {
		c.SentLookback = 15 * time.Minute
	}
	if c.SentLimit <= 0 {
		c.SentLimit = 50
	}
}

// Engine is the outbound delivery engine.
type Engine struct {
	tokens  TokenSource
	actions ActionStore
	apis    *provider.Registry
	cfg     Config

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine wires a delivery engine.
func NewEngine(tokens TokenSource, actions ActionStore, apis *provider.Registry, cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{tokens: tokens, actions: actions, apis: apis, cfg: cfg, sleep: sleepCtx}
}

// Deliver sends one message identified by its correlation key. Returns the
// resolved external ID, or empty when the send was handed off but not yet
// confirmed; in that case the pending row remains and the sync reconciliation
// pass resolves it later.
//
// Deliver is idempotent per correlation key: a repeat call for a confirmed
// action returns the stored ID without any network traffic, and a repeat call
// for a still-pending action retries delivery against the same durable row.
func (e *Engine) Deliver(ctx context.Context, tenantID, correlationKey string, payload models.OutboundPayload) (string, error) {
	if err := validatePayload(payload); err != nil {
		return "", err
	}
	// The correlation key travels with the payload; the remote threads the
	// message into the conversation, which is what resolveFromSentFeed and the
	// sync-driven reconciliation match on.
	payload.ConversationID = correlationKey
	api, ok := e.apis.Messages(e.cfg.Provider)
	if !ok {
		return "", fmt.Errorf("no message capability registered for provider %s", e.cfg.Provider)
	}

	// Durable intent first. Crash after this point leaves a pending row the
	// reconciliation pass can resolve; crash before it means nothing was sent.
	action, created, err := e.actions.Create(tenantID, correlationKey, payload)
	if err != nil {
		return "", err
	}
	if !created && action.State == models.OutboundConfirmed {
		return action.ExternalID, nil
	}

	tok, err := e.tokens.GetValidToken(ctx, tenantID, e.cfg.Provider, models.PurposePrimaryAuth, sendScopes)
	if err != nil {
		return "", err
	}

	externalID, err := e.sendPrimary(ctx, api, tok.AccessToken, payload)
	route := "primary"
	if err != nil {
		logging.Warn().Err(err).
			Str("tenant", tenantID).
			Str("correlation", correlationKey).
			Msg("Primary send failed, trying fallback route")
		externalID, err = api.SendFallback(ctx, tok.AccessToken, payload)
		route = "fallback"
		if err != nil {
			metrics.OutboundDeliveries.WithLabelValues(route, "error").Inc()
			return "", fmt.Errorf("outbound delivery %s: %w", correlationKey, err)
		}
	}

	if externalID == "" {
		externalID, err = e.resolveFromSentFeed(ctx, api, tok.AccessToken, correlationKey)
		if err != nil {
			return "", err
		}
	}
	if externalID == "" {
		// Accepted but unconfirmed. The pending row stays; sync reconciles.
		metrics.OutboundDeliveries.WithLabelValues(route, "pending").Inc()
		logging.Info().
			Str("tenant", tenantID).
			Str("correlation", correlationKey).
			Msg("Send accepted without external ID, leaving action pending")
		return "", nil
	}

	if err := e.actions.Confirm(tenantID, correlationKey, externalID); err != nil {
		return "", err
	}
	metrics.OutboundDeliveries.WithLabelValues(route, "confirmed").Inc()
	logging.Info().
		Str("tenant", tenantID).
		Str("correlation", correlationKey).
		Str("external_id", externalID).
		Str("route", route).
		Msg("Outbound delivery confirmed")
	return externalID, nil
}

// sendPrimary attempts the primary route, honoring one rate-limit wait. Any
// other failure falls through to the caller's fallback decision.
func (e *Engine) sendPrimary(ctx context.Context, api provider.MessageAPI, accessToken string, payload models.OutboundPayload) (string, error) {
	externalID, err := api.Send(ctx, accessToken, payload)
	var rl *provider.RateLimitError
	if errors.As(err, &rl) {
		wait := rl.RetryAfter
		if wait <= 0 {
			wait = e.cfg.PollSpacing
		}
		logging.Debug().Dur("wait", wait).Msg("Primary send rate limited, retrying once")
		if serr := e.sleep(ctx, wait); serr != nil {
			return "", serr
		}
		return api.Send(ctx, accessToken, payload)
	}
	return externalID, err
}

// resolveFromSentFeed polls the provider's sent feed a bounded number of
// times looking for a message in the action's conversation. Gives up with an
// empty ID; never polls unboundedly.
func (e *Engine) resolveFromSentFeed(ctx context.Context, api provider.MessageAPI, accessToken, correlationKey string) (string, error) {
	since := time.Now().Add(-e.cfg.SentLookback)
	for attempt := 0; attempt < e.cfg.PollAttempts; attempt++ {
		if err := e.sleep(ctx, e.cfg.PollSpacing); err != nil {
			return "", err
		}
		sent, err := api.ListSent(ctx, accessToken, since, e.cfg.SentLimit)
		if err != nil {
			logging.Warn().Err(err).Int("attempt", attempt+1).Msg("Sent-feed poll failed")
			continue
		}
		for i := range sent {
			if sent[i].ConversationID == correlationKey && sent[i].ID != "" {
				return sent[i].ID, nil
			}
		}
	}
	return "", nil
}

func validatePayload(p models.OutboundPayload) error {
	if p.From == "" || p.To == "" {
		return &provider.ValidationError{Op: "outbound.deliver", Message: "payload requires from and to addresses"}
	}
	if p.Subject == "" && p.Body == "" {
		return &provider.ValidationError{Op: "outbound.deliver", Message: "payload requires a subject or body"}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
