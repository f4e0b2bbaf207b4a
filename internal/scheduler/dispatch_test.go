// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/meridianhq/meridian/internal/models"
	"github.com/meridianhq/meridian/internal/sync"
)

type fakeSyncer struct {
	outcomes map[string]sync.Outcome
	calls    []string
}

func (f *fakeSyncer) SyncPartition(_ context.Context, _ string, partitionKey string) sync.Outcome {
	f.calls = append(f.calls, partitionKey)
	return f.outcomes[partitionKey]
}

type fakeReconciler struct {
	patched, failed int
	err             error
	calls           int
}

func (f *fakeReconciler) ReconcileTenant(context.Context, string) (int, int, error) {
	f.calls++
	return f.patched, f.failed, f.err
}

func TestRunJobSyncWalksAllPartitions(t *testing.T) {
	syncer := &fakeSyncer{outcomes: map[string]sync.Outcome{
		"mailgate:messages:inbox":   {Processed: 3},
		"mailgate:messages:support": {Err: errors.New("boom")},
	}}
	d := NewDispatcher(syncer, &fakeReconciler{})

	cfg := models.ScheduledJobConfig{
		TenantID:   "t1",
		JobKind:    models.JobLeadSync,
		Partitions: []string{"mailgate:messages:inbox", "mailgate:messages:support"},
	}
	if err := d.RunJob(context.Background(), cfg); err != nil {
		t.Errorf("RunJob() error = %v; one surviving partition keeps the job green", err)
	}
	if len(syncer.calls) != 2 {
		t.Errorf("partitions visited = %v, want both despite the failure", syncer.calls)
	}
}

func TestRunJobSyncFailsWhenAllPartitionsFail(t *testing.T) {
	syncer := &fakeSyncer{outcomes: map[string]sync.Outcome{
		"adstream:campaigns:acct-1": {Err: errors.New("unreachable")},
		"adstream:campaigns:acct-2": {Err: errors.New("unreachable")},
	}}
	d := NewDispatcher(syncer, &fakeReconciler{})

	cfg := models.ScheduledJobConfig{
		TenantID:   "t1",
		JobKind:    models.JobCampaignSync,
		Partitions: []string{"adstream:campaigns:acct-1", "adstream:campaigns:acct-2"},
	}
	if err := d.RunJob(context.Background(), cfg); err == nil {
		t.Error("RunJob() error = nil, want failure when every partition failed")
	}
}

func TestRunJobSyncNoPartitionsIsNoOp(t *testing.T) {
	syncer := &fakeSyncer{}
	d := NewDispatcher(syncer, &fakeReconciler{})

	cfg := models.ScheduledJobConfig{TenantID: "t1", JobKind: models.JobLeadSync}
	if err := d.RunJob(context.Background(), cfg); err != nil {
		t.Errorf("RunJob() error = %v, want nil for empty partition list", err)
	}
	if len(syncer.calls) != 0 {
		t.Error("syncer should not be called without partitions")
	}
}

func TestRunJobReconcile(t *testing.T) {
	tests := []struct {
		name    string
		rec     *fakeReconciler
		wantErr bool
	}{
		{"clean pass", &fakeReconciler{patched: 2}, false},
		{"partial failures", &fakeReconciler{patched: 1, failed: 2}, true},
		{"pass aborted", &fakeReconciler{err: errors.New("needs auth")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDispatcher(&fakeSyncer{}, tt.rec)
			cfg := models.ScheduledJobConfig{TenantID: "t1", JobKind: models.JobCampaignReconcile}
			err := d.RunJob(context.Background(), cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("RunJob() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.rec.calls != 1 {
				t.Errorf("reconciler calls = %d, want 1", tt.rec.calls)
			}
		})
	}
}

func TestRunJobUnknownKind(t *testing.T) {
	d := NewDispatcher(&fakeSyncer{}, &fakeReconciler{})
	cfg := models.ScheduledJobConfig{TenantID: "t1", JobKind: models.JobKind("backfill")}
	if err := d.RunJob(context.Background(), cfg); err == nil {
		t.Error("RunJob() error = nil, want unknown job kind error")
	}
}
