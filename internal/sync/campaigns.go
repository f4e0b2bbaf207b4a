// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

package sync

import (
	"context"
	"fmt"

	"github.com/meridianhq/meridian/internal/logging"
	"github.com/meridianhq/meridian/internal/metrics"
	"github.com/meridianhq/meridian/internal/models"
	"github.com/meridianhq/meridian/internal/provider"
)

// syncCampaigns runs the campaign mirroring pass for one ad account
// partition. Each observed remote campaign refreshes the local mirror's
// last-known-remote snapshot; local desired-state edits are never touched
// here, that is the reconciliation engine's job.
func (e *Engine) syncCampaigns(ctx context.Context, tenantID string, part models.Partition) Outcome {
	var out Outcome

	api, ok := e.providers.Campaigns(part.Provider)
	if !ok {
		out.Err = fmt.Errorf("no campaign capability registered for provider %s", part.Provider)
		return out
	}

	cur, err := e.loadCursor(tenantID, part.Key())
	if err != nil {
		out.Err = err
		return out
	}

	for page := 0; page < e.cfg.MaxPagesPerRun; page++ {
		tok, err := e.tokens.GetValidToken(ctx, tenantID, part.Provider, models.PurposePrimaryAuth, campaignScopes)
		if err != nil {
			return classifyOutcome(out, err)
		}

		var pg provider.CampaignPage
		err = e.fetchWithRetry(ctx, func() error {
			var ferr error
			pg, ferr = api.ListChanges(ctx, tok.AccessToken, part.Scope, cur.ContinuationToken, e.cfg.Lookback, e.cfg.PageSize)
			return ferr
		})
		if err != nil {
			return classifyOutcome(out, err)
		}

		for _, rc := range pg.Items {
			if rc.ExternalID == "" {
				out.Skipped++
				metrics.SyncItemsSkipped.WithLabelValues(string(models.ResourceCampaigns), "item_error").Inc()
				logging.Warn().Str("tenant", tenantID).Msg("Skipping campaign change without external ID")
				continue
			}
			_, created, err := e.campaigns.UpsertRemote(tenantID, part.Provider, part.Scope, rc.ExternalID, rc.Lifecycle, rc.State)
			if err != nil {
				out.Skipped++
				metrics.SyncItemsSkipped.WithLabelValues(string(models.ResourceCampaigns), "item_error").Inc()
				logging.Warn().Err(err).
					Str("tenant", tenantID).
					Str("external_id", rc.ExternalID).
					Msg("Skipping campaign change")
				continue
			}
			out.Processed++
			metrics.SyncItemsProcessed.WithLabelValues(string(models.ResourceCampaigns)).Inc()
			if created {
				logging.Debug().
					Str("tenant", tenantID).
					Str("external_id", rc.ExternalID).
					Msg("Mirrored new remote campaign")
			}
		}

		if err := e.advanceCursor(cur, pg.NextCursor); err != nil {
			out.Err = err
			return out
		}
		if pg.NextCursor == "" {
			break
		}
	}
	return out
}
