// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meridianhq/meridian/internal/models"
)

// blockingRunner counts runs and optionally blocks until released. It
// records whether a run was cut short by context cancellation; ignoreCtx
// makes the run block on release alone, modeling work that cannot be
// interrupted.
type blockingRunner struct {
	runs        atomic.Int32
	interrupted atomic.Bool
	started     chan struct{}
	release     chan struct{}
	ignoreCtx   bool
	err         error
}

func (r *blockingRunner) RunJob(ctx context.Context, _ models.ScheduledJobConfig) error {
	r.runs.Add(1)
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.release != nil {
		if r.ignoreCtx {
			<-r.release
			return r.err
		}
		select {
		case <-r.release:
		case <-ctx.Done():
			r.interrupted.Store(true)
			return ctx.Err()
		}
	}
	return r.err
}

type fakeConfigSource struct {
	configs []models.ScheduledJobConfig
	err     error
}

func (f *fakeConfigSource) List() ([]models.ScheduledJobConfig, error) {
	return f.configs, f.err
}

func jobConfig(tenant string, kind models.JobKind, cadence models.Cadence) models.ScheduledJobConfig {
	return models.ScheduledJobConfig{
		TenantID:   tenant,
		JobKind:    kind,
		Cadence:    cadence,
		Enabled:    true,
		Partitions: []string{"mailgate:messages:inbox"},
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestApplyInstallsAndReplaces(t *testing.T) {
	s := New(&blockingRunner{})
	defer s.Stop()

	s.Apply(jobConfig("t1", models.JobLeadSync, models.CadenceHourly))
	s.Apply(jobConfig("t2", models.JobLeadSync, models.CadenceDaily))

	snap := s.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("triggers = %d, want 2", len(snap))
	}

	// Cadence change replaces the trigger in place.
	s.Apply(jobConfig("t1", models.JobLeadSync, models.CadenceEvery5m))
	snap = s.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("triggers after replace = %d, want 2", len(snap))
	}
	for _, ts := range snap {
		if ts.TenantID == "t1" && ts.Interval != 5*time.Minute {
			t.Errorf("t1 interval = %s, want 5m after cadence change", ts.Interval)
		}
	}
}

func TestApplyDisabledRemovesTrigger(t *testing.T) {
	s := New(&blockingRunner{})
	defer s.Stop()

	cfg := jobConfig("t1", models.JobLeadSync, models.CadenceHourly)
	s.Apply(cfg)
	cfg.Enabled = false
	s.Apply(cfg)

	if snap := s.Snapshot(); len(snap) != 0 {
		t.Errorf("triggers = %d, want 0 after disable", len(snap))
	}
	if s.TriggerNow("t1", models.JobLeadSync) {
		t.Error("TriggerNow should report false for a removed trigger")
	}
}

func TestApplyUnknownCadenceFallsBack(t *testing.T) {
	s := New(&blockingRunner{})
	defer s.Stop()

	s.Apply(jobConfig("t1", models.JobLeadSync, models.Cadence("weekly")))

	snap := s.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("triggers = %d, want 1", len(snap))
	}
	want, _ := models.DefaultCadence.Interval()
	if snap[0].Interval != want {
		t.Errorf("interval = %s, want default %s", snap[0].Interval, want)
	}
}

func TestTriggerNowRunsOnce(t *testing.T) {
	runner := &blockingRunner{}
	s := New(runner)
	defer s.Stop()
	s.Apply(jobConfig("t1", models.JobLeadSync, models.CadenceDaily))

	if !s.TriggerNow("t1", models.JobLeadSync) {
		t.Fatal("TriggerNow() = false, want fired")
	}
	waitFor(t, func() bool { return runner.runs.Load() == 1 }, "manual trigger never ran")
	waitFor(t, func() bool {
		snap := s.Snapshot()
		return len(snap) == 1 && !snap[0].Running && !snap[0].LastCompleted.IsZero()
	}, "trigger never recorded completion")
}

func TestTriggerNowDropsWhileBusy(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}, 1), release: make(chan struct{})}
	s := New(runner)
	defer s.Stop()
	s.Apply(jobConfig("t1", models.JobLeadSync, models.CadenceDaily))

	if !s.TriggerNow("t1", models.JobLeadSync) {
		t.Fatal("first TriggerNow() = false, want fired")
	}
	<-runner.started

	// In-flight run holds the slot; overlapping triggers are dropped.
	if s.TriggerNow("t1", models.JobLeadSync) {
		t.Error("second TriggerNow() = true, want dropped while busy")
	}
	if got := runner.runs.Load(); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}

	close(runner.release)
	waitFor(t, func() bool {
		snap := s.Snapshot()
		return len(snap) == 1 && !snap[0].Running
	}, "run never released the slot")

	if !s.TriggerNow("t1", models.JobLeadSync) {
		t.Error("TriggerNow() after completion = false, want fired")
	}
	waitFor(t, func() bool { return runner.runs.Load() == 2 }, "post-completion trigger never ran")
}

func TestTriggerRecordsLastError(t *testing.T) {
	runner := &blockingRunner{err: errors.New("provider down")}
	s := New(runner)
	defer s.Stop()
	s.Apply(jobConfig("t1", models.JobCampaignSync, models.CadenceDaily))

	s.TriggerNow("t1", models.JobCampaignSync)
	waitFor(t, func() bool {
		snap := s.Snapshot()
		return len(snap) == 1 && snap[0].LastError == "provider down"
	}, "failed run never surfaced in the snapshot")
}

func TestRebuildFromStore(t *testing.T) {
	src := &fakeConfigSource{configs: []models.ScheduledJobConfig{
		jobConfig("t1", models.JobLeadSync, models.CadenceHourly),
		jobConfig("t1", models.JobCampaignReconcile, models.CadenceEvery15m),
		{TenantID: "t2", JobKind: models.JobLeadSync, Cadence: models.CadenceHourly, Enabled: false},
	}}

	s := New(&blockingRunner{})
	defer s.Stop()
	if err := s.RebuildFromStore(src); err != nil {
		t.Fatalf("RebuildFromStore() error: %v", err)
	}
	if snap := s.Snapshot(); len(snap) != 2 {
		t.Errorf("triggers = %d, want 2 (disabled config skipped)", len(snap))
	}

	s2 := New(&blockingRunner{})
	defer s2.Stop()
	if err := s2.RebuildFromStore(&fakeConfigSource{err: errors.New("db closed")}); err == nil {
		t.Error("RebuildFromStore() error = nil, want list failure")
	}
}

func TestCancellingTriggerDoesNotInterruptRun(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}, 1), release: make(chan struct{})}
	s := New(runner)
	defer s.Stop()

	// Install the timer loop directly with a short interval so a tick-fired
	// occurrence is in flight when the trigger is cancelled, exactly what a
	// cadence change or disable does to the old trigger.
	cfg := jobConfig("t1", models.JobLeadSync, models.CadenceHourly)
	ctx, cancel := context.WithCancel(s.baseCtx)
	tr := &trigger{cfg: cfg, interval: 10 * time.Millisecond, cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.triggers[cfg.Key()] = tr
	s.mu.Unlock()
	go s.loop(ctx, tr)

	<-runner.started
	cancel()

	// The run executes under the scheduler's base context; cancelling the
	// trigger must leave it untouched.
	time.Sleep(50 * time.Millisecond)
	if runner.interrupted.Load() {
		t.Fatal("cancelling the trigger interrupted the in-flight run")
	}

	close(runner.release)
	waitFor(t, func() bool {
		select {
		case <-tr.done:
			return true
		default:
			return false
		}
	}, "loop never exited after cancel")
	if runner.interrupted.Load() {
		t.Error("run reported interruption")
	}
	if got := runner.runs.Load(); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}
}

func TestApplyWhileRunInFlightDoesNotBlockOrOverlap(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}, 1), release: make(chan struct{})}
	s := New(runner)
	defer s.Stop()
	s.Apply(jobConfig("t1", models.JobLeadSync, models.CadenceDaily))

	if !s.TriggerNow("t1", models.JobLeadSync) {
		t.Fatal("TriggerNow() = false, want fired")
	}
	<-runner.started

	// Replacing the trigger must not wait for the in-flight run.
	applied := make(chan struct{})
	go func() {
		s.Apply(jobConfig("t1", models.JobLeadSync, models.CadenceEvery5m))
		close(applied)
	}()
	waitFor(t, func() bool {
		select {
		case <-applied:
			return true
		default:
			return false
		}
	}, "Apply blocked behind the in-flight run")

	// The replacement shares the job's run slot: no second occurrence while
	// the old trigger's run is still executing.
	if s.TriggerNow("t1", models.JobLeadSync) {
		t.Error("TriggerNow() across replacement = true, want dropped while busy")
	}
	if got := runner.runs.Load(); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}
	if runner.interrupted.Load() {
		t.Error("replacement interrupted the in-flight run")
	}

	close(runner.release)
	waitFor(t, func() bool {
		snap := s.Snapshot()
		return len(snap) == 1 && !snap[0].Running
	}, "run never released the slot")
	if !s.TriggerNow("t1", models.JobLeadSync) {
		t.Error("TriggerNow() after completion = false, want fired")
	}
	waitFor(t, func() bool { return runner.runs.Load() == 2 }, "post-completion trigger never ran")
}

func TestStopWaitsForManualRun(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}, 1), release: make(chan struct{}), ignoreCtx: true}
	s := New(runner)
	s.Apply(jobConfig("t1", models.JobLeadSync, models.CadenceDaily))

	if !s.TriggerNow("t1", models.JobLeadSync) {
		t.Fatal("TriggerNow() = false, want fired")
	}
	<-runner.started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop() returned while the manual run was still executing")
	case <-time.After(50 * time.Millisecond):
	}

	close(runner.release)
	waitFor(t, func() bool {
		select {
		case <-stopped:
			return true
		default:
			return false
		}
	}, "Stop never returned after the run finished")
}

func TestStopWaitsForTriggers(t *testing.T) {
	runner := &blockingRunner{}
	s := New(runner)
	s.Apply(jobConfig("t1", models.JobLeadSync, models.CadenceHourly))
	s.Apply(jobConfig("t2", models.JobLeadSync, models.CadenceHourly))

	s.Stop()
	if snap := s.Snapshot(); len(snap) != 0 {
		t.Errorf("triggers after Stop = %d, want 0", len(snap))
	}
	// Apply after Stop is ignored.
	s.Apply(jobConfig("t3", models.JobLeadSync, models.CadenceHourly))
	if snap := s.Snapshot(); len(snap) != 0 {
		t.Error("Apply() after Stop installed a trigger")
	}
}
