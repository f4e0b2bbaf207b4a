// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

package scheduler

import (
	"context"
	"fmt"

	"github.com/meridianhq/meridian/internal/logging"
	"github.com/meridianhq/meridian/internal/models"
	"github.com/meridianhq/meridian/internal/sync"
)

// PartitionSyncer runs one partition sync. Satisfied by *sync.Engine.
type PartitionSyncer interface {
	SyncPartition(ctx context.Context, tenantID, partitionKey string) sync.Outcome
}

// TenantReconciler pushes a tenant's pending campaign edits. Satisfied by
// *diff.Engine.
type TenantReconciler interface {
	ReconcileTenant(ctx context.Context, tenantID string) (patched, failed int, err error)
}

// Dispatcher maps job kinds to the engines that execute them.
type Dispatcher struct {
	syncer     PartitionSyncer
	reconciler TenantReconciler
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(syncer PartitionSyncer, reconciler TenantReconciler) *Dispatcher {
	return &Dispatcher{syncer: syncer, reconciler: reconciler}
}

// RunJob executes one job occurrence. Sync jobs walk the config's partitions
// in order; each partition fails independently and the job is marked failed
// only when every partition failed.
func (d *Dispatcher) RunJob(ctx context.Context, cfg models.ScheduledJobConfig) error {
	switch cfg.JobKind {
	case models.JobLeadSync, models.JobCampaignSync:
		return d.runSync(ctx, cfg)
	case models.JobCampaignReconcile:
		_, failed, err := d.reconciler.ReconcileTenant(ctx, cfg.TenantID)
		if err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d campaigns failed to reconcile", failed)
		}
		return nil
	default:
		return fmt.Errorf("unknown job kind %q", cfg.JobKind)
	}
}

func (d *Dispatcher) runSync(ctx context.Context, cfg models.ScheduledJobConfig) error {
	if len(cfg.Partitions) == 0 {
		logging.Debug().
			Str("tenant", cfg.TenantID).
			Str("job_kind", string(cfg.JobKind)).
			Msg("No partitions configured, nothing to sync")
		return nil
	}

	succeeded := 0
	var lastErr error
	for _, key := range cfg.Partitions {
		out := d.syncer.SyncPartition(ctx, cfg.TenantID, key)
		if out.Err != nil {
			lastErr = out.Err
			continue
		}
		succeeded++
	}
	if succeeded == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}
