// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

// Package sync implements the incremental fetch-and-upsert engine. One
// partition (a mailbox folder, an ad account) is synchronized per call:
// fetch a page at the saved cursor, classify and upsert every item, and
// advance the cursor only once the whole page has been processed.
//
// Failure isolation follows the containment ladder: a malformed item never
// aborts its page, a failed page never advances the cursor (the same page is
// retried next run), and a failed partition never blocks other partitions.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/meridianhq/meridian/internal/logging"
	"github.com/meridianhq/meridian/internal/metrics"
	"github.com/meridianhq/meridian/internal/models"
	"github.com/meridianhq/meridian/internal/notify"
	"github.com/meridianhq/meridian/internal/provider"
	"github.com/meridianhq/meridian/internal/store"
	"github.com/meridianhq/meridian/internal/token"
)

// Scope sets requested per resource. A credential lacking these surfaces a
// scope-upgrade NeedsAuth instead of a silent partial sync.
var (
	messageScopes  = []string{"mail.read", "mail.send"}
	campaignScopes = []string{"ads.read", "ads.manage"}
)

// TokenSource is the slice of the token manager the engine uses.
type TokenSource interface {
	GetValidToken(ctx context.Context, tenantID string, p models.Provider, purpose models.Purpose, requiredScopes []string) (token.Token, error)
}

// CursorStore persists partition positions. Satisfied by *store.CursorStore.
type CursorStore interface {
	Get(tenantID, partitionKey string) (*models.SyncCursor, error)
	Put(cur *models.SyncCursor) error
}

// LeadStore receives classified leads. Satisfied by *store.LeadStore.
type LeadStore interface {
	Upsert(incoming *models.Lead) (*models.Lead, bool, error)
	AdvanceStatus(tenantID, normalizedEmail string, source models.Provider, status models.LeadStatus) error
}

// CampaignStore receives mirrored campaigns. Satisfied by *store.CampaignStore.
type CampaignStore interface {
	UpsertRemote(tenantID string, p models.Provider, accountID, externalID string, lifecycle models.CampaignLifecycle, state models.CampaignState) (*models.Campaign, bool, error)
}

// OutboundStore lets the message pass reconcile pending outbound actions.
// Satisfied by *store.OutboundStore.
type OutboundStore interface {
	ListPending(tenantID string) ([]models.PendingOutboundAction, error)
	Confirm(tenantID, correlationKey, externalID string) error
}

// Deliverer sends the auto-reply for a freshly created lead. Satisfied by
// *outbound.Engine. An empty external ID means the send is unconfirmed and
// the lead must not be marked contacted.
type Deliverer interface {
	Deliver(ctx context.Context, tenantID, correlationKey string, payload models.OutboundPayload) (string, error)
}

// AutoReplyConfig is the reply sent to the first inbound message of a new
// lead. Disabled when Enabled is false or From is empty.
type AutoReplyConfig struct {
	Enabled bool
	From    string
	Subject string
	Body    string
}

// Config holds engine tuning.
type Config struct {
	// Lookback is the initial backfill window used when a partition has no
	// saved cursor. Default: 7 days.
	Lookback time.Duration

	// PageSize is the number of items requested per page. Default: 100.
	PageSize int

	// MaxPagesPerRun bounds one run so a huge backlog cannot starve other
	// tenants; the cursor resumes where the run stopped. Default: 10.
	MaxPagesPerRun int

	// RetryAttempts and RetryInitialDelay configure page-fetch backoff.
	RetryAttempts     int
	RetryInitialDelay time.Duration

	AutoReply AutoReplyConfig
}

func (c *Config) applyDefaults() {
	if c.Lookback <= 0 {
		c.Lookback = 7 * 24 * time.Hour
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.MaxPagesPerRun <= 0 {
		c.MaxPagesPerRun = 10
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 4
	}
	if c.RetryInitialDelay <= 0 {
		c.RetryInitialDelay = 2 * time.Second
	}
}

// Outcome is the result of one partition sync run.
type Outcome struct {
	Processed int
	Skipped   int
	Err       error

	// NeedsAuthURL carries the tenant-facing reauthorization link when the
	// run stopped on a credential problem.
	NeedsAuthURL string
}

// Engine is the delta sync engine.
type Engine struct {
	tokens     TokenSource
	cursors    CursorStore
	leads      LeadStore
	campaigns  CampaignStore
	outbound   OutboundStore
	deliverer  Deliverer
	providers  *provider.Registry
	classifier *Classifier
	notifier   notify.Notifier
	cfg        Config
}

// NewEngine wires a sync engine. deliverer and notifier may be nil.
func NewEngine(tokens TokenSource, cursors CursorStore, leads LeadStore, campaigns CampaignStore, outbound OutboundStore, deliverer Deliverer, providers *provider.Registry, classifier *Classifier, notifier notify.Notifier, cfg Config) *Engine {
	cfg.applyDefaults()
	if classifier == nil {
		classifier = NewClassifier(nil)
	}
	return &Engine{
		tokens:     tokens,
		cursors:    cursors,
		leads:      leads,
		campaigns:  campaigns,
		outbound:   outbound,
		deliverer:  deliverer,
		providers:  providers,
		classifier: classifier,
		notifier:   notifier,
		cfg:        cfg,
	}
}

// SyncPartition synchronizes one partition. The error inside the returned
// Outcome is the run's verdict; SyncPartition itself never panics across
// partitions and callers treat each partition independently.
func (e *Engine) SyncPartition(ctx context.Context, tenantID, partitionKey string) Outcome {
	started := time.Now()

	part, err := models.ParsePartitionKey(partitionKey)
	if err != nil {
		// Misconfiguration, not a remote failure: abort the run, advance
		// nothing.
		return Outcome{Err: fmt.Errorf("partition config: %w", err)}
	}

	var outcome Outcome
	switch part.Resource {
	case models.ResourceMessages:
		outcome = e.syncMessages(ctx, tenantID, part)
	case models.ResourceCampaigns:
		outcome = e.syncCampaigns(ctx, tenantID, part)
	default:
		outcome = Outcome{Err: fmt.Errorf("partition config: unsupported resource %q", part.Resource)}
	}

	resource := string(part.Resource)
	switch {
	case outcome.NeedsAuthURL != "":
		metrics.ObserveSyncRun(resource, "needs_auth", time.Since(started))
		logging.Warn().
			Str("tenant", tenantID).
			Str("partition", partitionKey).
			Msg("Sync stopped: tenant reauthorization required")
		if e.notifier != nil {
			e.notifier.Notify(ctx, tenantID, notify.EventNeedsReauth, map[string]any{
				"partition":         partitionKey,
				"authorization_url": outcome.NeedsAuthURL,
			})
		}
	case outcome.Err != nil:
		metrics.ObserveSyncRun(resource, "error", time.Since(started))
		logging.Error().Err(outcome.Err).
			Str("tenant", tenantID).
			Str("partition", partitionKey).
			Msg("Sync failed")
	default:
		metrics.ObserveSyncRun(resource, "success", time.Since(started))
		logging.Info().
			Str("tenant", tenantID).
			Str("partition", partitionKey).
			Int("processed", outcome.Processed).
			Int("skipped", outcome.Skipped).
			Dur("duration", time.Since(started)).
			Msg("Sync completed")
		if e.notifier != nil {
			e.notifier.Notify(ctx, tenantID, notify.EventSyncCompleted, map[string]any{
				"partition": partitionKey,
				"processed": outcome.Processed,
				"skipped":   outcome.Skipped,
			})
		}
	}
	return outcome
}

// loadCursor returns the saved cursor or a fresh zero cursor for an
// initial bounded backfill.
func (e *Engine) loadCursor(tenantID, partitionKey string) (*models.SyncCursor, error) {
	cur, err := e.cursors.Get(tenantID, partitionKey)
	if errors.Is(err, store.ErrNotFound) {
		return &models.SyncCursor{TenantID: tenantID, PartitionKey: partitionKey}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cursor: %w", err)
	}
	return cur, nil
}

// advanceCursor persists the position after a fully processed page. An empty
// next token means the feed returned no new continuation; the previous token
// is kept and only the sync timestamp moves.
func (e *Engine) advanceCursor(cur *models.SyncCursor, nextToken string) error {
	if nextToken != "" {
		cur.ContinuationToken = nextToken
	}
	if err := e.cursors.Put(cur); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

// fetchWithRetry runs a page fetch with exponential backoff. Only errors the
// taxonomy marks retryable are retried; everything else fails the page
// immediately.
func (e *Engine) fetchWithRetry(ctx context.Context, fetch func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.RetryInitialDelay
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(e.cfg.RetryAttempts-1)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := fetch()
		if err == nil {
			return nil
		}
		if !provider.Retryable(err) {
			return backoff.Permanent(err)
		}
		logging.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", e.cfg.RetryAttempts).Msg("Page fetch retry")
		return err
	}, policy)
}

// classifyOutcome turns a page-stopping error into an Outcome, extracting the
// reauthorization hint when present.
func classifyOutcome(base Outcome, err error) Outcome {
	if na, ok := provider.AsNeedsAuth(err); ok {
		base.NeedsAuthURL = na.AuthorizationURL
		base.Err = err
		return base
	}
	base.Err = err
	return base
}
