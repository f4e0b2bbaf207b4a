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
	"github.com/meridianhq/meridian/internal/notify"
	"github.com/meridianhq/meridian/internal/provider"
)

// syncMessages runs the message ingestion pass for one mailbox partition:
// fetch pages at the cursor, classify each message, upsert matched leads,
// resolve pending outbound actions the feed happens to confirm, and send the
// auto-reply for freshly created leads.
func (e *Engine) syncMessages(ctx context.Context, tenantID string, part models.Partition) Outcome {
	var out Outcome

	api, ok := e.providers.Messages(part.Provider)
	if !ok {
		out.Err = fmt.Errorf("no message capability registered for provider %s", part.Provider)
		return out
	}

	cur, err := e.loadCursor(tenantID, part.Key())
	if err != nil {
		out.Err = err
		return out
	}

	// Pending outbound actions are matched against the feed by conversation:
	// a sent message appearing in the changes stream resolves the external ID
	// the synchronous send never returned.
	pending, err := e.pendingByConversation(tenantID)
	if err != nil {
		out.Err = err
		return out
	}

	for page := 0; page < e.cfg.MaxPagesPerRun; page++ {
		// Token fetched per page: the unexpired path is a cache hit, and a
		// mid-run expiry gets a refresh instead of failing the page.
		tok, err := e.tokens.GetValidToken(ctx, tenantID, part.Provider, models.PurposeIngestion, messageScopes)
		if err != nil {
			return classifyOutcome(out, err)
		}

		var pg provider.MessagePage
		err = e.fetchWithRetry(ctx, func() error {
			var ferr error
			pg, ferr = api.ListChanges(ctx, tok.AccessToken, part.Scope, cur.ContinuationToken, e.cfg.Lookback, e.cfg.PageSize)
			return ferr
		})
		if err != nil {
			return classifyOutcome(out, err)
		}

		for i := range pg.Items {
			msg := &pg.Items[i]
			if err := e.processMessage(ctx, tenantID, part.Provider, msg, pending); err != nil {
				// One bad item never aborts its page.
				out.Skipped++
				metrics.SyncItemsSkipped.WithLabelValues(string(models.ResourceMessages), "item_error").Inc()
				logging.Warn().Err(err).
					Str("tenant", tenantID).
					Str("message_id", msg.ID).
					Msg("Skipping message")
				continue
			}
			out.Processed++
			metrics.SyncItemsProcessed.WithLabelValues(string(models.ResourceMessages)).Inc()
		}

		// The whole page is durably applied; only now may the position move.
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

// processMessage applies one feed item: reconcile pending outbound actions,
// classify, upsert the lead, and trigger the auto-reply for new leads.
func (e *Engine) processMessage(ctx context.Context, tenantID string, p models.Provider, msg *models.Message, pending map[string]string) error {
	e.reconcileOutbound(ctx, tenantID, msg, pending)

	email := models.NormalizeEmail(msg.From)
	if email == "" {
		return fmt.Errorf("message %s has no sender address", msg.ID)
	}
	if !e.classifier.IsLead(tenantID, msg.Subject, msg.Body) {
		return nil
	}

	stored, created, err := e.leads.Upsert(&models.Lead{
		TenantID:       tenantID,
		Email:          email,
		SourceProvider: p,
		Status:         models.LeadStatusNew,
		Subject:        msg.Subject,
		FirstMessageID: msg.ID,
		ConversationID: msg.ConversationID,
	})
	if err != nil {
		return fmt.Errorf("upsert lead: %w", err)
	}
	if created {
		e.autoReply(ctx, tenantID, stored, msg)
	}
	return nil
}

// pendingByConversation indexes the tenant's unconfirmed outbound actions by
// correlation key for the reconciliation pass. The value is the action's
// normalized sender address: only a feed message from that address is the sent
// copy the action is waiting for.
func (e *Engine) pendingByConversation(tenantID string) (map[string]string, error) {
	actions, err := e.outbound.ListPending(tenantID)
	if err != nil {
		return nil, fmt.Errorf("list pending outbound: %w", err)
	}
	index := make(map[string]string, len(actions))
	for _, a := range actions {
		index[a.CorrelationKey] = models.NormalizeEmail(a.Payload.From)
	}
	return index, nil
}

// reconcileOutbound confirms a pending outbound action when the feed surfaces
// the sent copy in its conversation. The feed's message ID is the external ID
// the synchronous send path never obtained. A conversation carries the lead's
// inbound messages too; those must never confirm the action, so the sender has
// to match the payload the action was created with.
func (e *Engine) reconcileOutbound(ctx context.Context, tenantID string, msg *models.Message, pending map[string]string) {
	if msg.ConversationID == "" || msg.ID == "" {
		return
	}
	sender, ok := pending[msg.ConversationID]
	if !ok || models.NormalizeEmail(msg.From) != sender {
		return
	}
	if err := e.outbound.Confirm(tenantID, msg.ConversationID, msg.ID); err != nil {
		logging.Warn().Err(err).
			Str("tenant", tenantID).
			Str("conversation", msg.ConversationID).
			Msg("Failed to reconcile pending outbound action")
		return
	}
	delete(pending, msg.ConversationID)
	metrics.OutboundDeliveries.WithLabelValues("reconciled", "confirmed").Inc()
	if e.notifier != nil {
		e.notifier.Notify(ctx, tenantID, notify.EventOutboundConfirmed, map[string]any{
			"conversation": msg.ConversationID,
			"external_id":  msg.ID,
		})
	}
	logging.Info().
		Str("tenant", tenantID).
		Str("conversation", msg.ConversationID).
		Str("external_id", msg.ID).
		Msg("Pending outbound action reconciled from changes feed")
}

// autoReply sends the configured first-touch reply for a newly created lead
// and advances its status once the send is confirmed with an external ID. An
// unconfirmed send leaves the lead at new; the pending action reconciles on a
// later run. Auto-reply failure is logged, never fatal to the sync run.
func (e *Engine) autoReply(ctx context.Context, tenantID string, lead *models.Lead, msg *models.Message) {
	if !e.cfg.AutoReply.Enabled || e.cfg.AutoReply.From == "" || e.deliverer == nil {
		return
	}
	correlationKey := lead.ConversationID
	if correlationKey == "" {
		correlationKey = lead.FirstMessageID
	}

	externalID, err := e.deliverer.Deliver(ctx, tenantID, correlationKey, models.OutboundPayload{
		From:    e.cfg.AutoReply.From,
		To:      msg.From,
		Subject: e.cfg.AutoReply.Subject,
		Body:    e.cfg.AutoReply.Body,
	})
	if err != nil {
		logging.Warn().Err(err).
			Str("tenant", tenantID).
			Str("lead", lead.ID).
			Msg("Auto-reply delivery failed")
		return
	}
	if externalID == "" {
		// Accepted but unconfirmed. Status stays at new until the pending
		// action resolves.
		return
	}
	if err := e.leads.AdvanceStatus(tenantID, lead.Email, lead.SourceProvider, models.LeadStatusContacted); err != nil {
		logging.Warn().Err(err).
			Str("tenant", tenantID).
			Str("lead", lead.ID).
			Msg("Failed to advance lead status after auto-reply")
	}
}
