// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

// Package scheduler maintains one recurring trigger per (tenant, job kind)
// and fires them on their configured cadence. A tick that arrives while the
// previous run is still executing is dropped, not queued; sync work is
// convergent and the next tick covers whatever the dropped one would have.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meridianhq/meridian/internal/logging"
	"github.com/meridianhq/meridian/internal/metrics"
	"github.com/meridianhq/meridian/internal/models"
)

// Runner executes one job occurrence. Implementations own their error
// handling; a returned error marks the run failed but never stops the
// trigger.
type Runner interface {
	RunJob(ctx context.Context, cfg models.ScheduledJobConfig) error
}

// JobConfigSource lists persisted job configs for registry rebuild.
// Satisfied by *store.JobConfigStore.
type JobConfigSource interface {
	List() ([]models.ScheduledJobConfig, error)
}

// TriggerStatus is one trigger's observable state, for the admin API.
type TriggerStatus struct {
	TenantID      string         `json:"tenant_id"`
	JobKind       models.JobKind `json:"job_kind"`
	Cadence       models.Cadence `json:"cadence"`
	Interval      time.Duration  `json:"interval"`
	Running       bool           `json:"running"`
	LastStarted   time.Time      `json:"last_started,omitempty"`
	LastCompleted time.Time      `json:"last_completed,omitempty"`
	LastError     string         `json:"last_error,omitempty"`
}

// trigger is one installed recurring job.
type trigger struct {
	cfg      models.ScheduledJobConfig
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}

	mu            sync.Mutex
	lastStarted   time.Time
	lastCompleted time.Time
	lastError     string
}

// Scheduler owns the trigger registry. The no-overlap rule lives on the
// scheduler, not the trigger: inflight marks each (tenant, job kind) with a
// run in progress, so replacing a trigger cannot start a second occurrence
// while the old trigger's run is still executing.
type Scheduler struct {
	runner Runner

	mu       sync.Mutex
	triggers map[string]*trigger
	inflight map[string]bool
	baseCtx  context.Context
	cancel   context.CancelFunc
	stopped  bool

	runs sync.WaitGroup
}

// New creates a scheduler. Triggers run until Stop.
func New(runner Runner) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner:   runner,
		triggers: make(map[string]*trigger),
		inflight: make(map[string]bool),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Apply installs, replaces, or removes the trigger for a config. The old
// trigger's timer is cancelled before the replacement starts, but an
// occurrence it already began keeps running to completion; the inflight set
// keeps the replacement from overlapping with it. A disabled config removes
// the trigger entirely.
func (s *Scheduler) Apply(cfg models.ScheduledJobConfig) {
	key := cfg.Key()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	if old, ok := s.triggers[key]; ok {
		old.cancel()
		delete(s.triggers, key)
	}

	if !cfg.Enabled {
		logging.Info().
			Str("tenant", cfg.TenantID).
			Str("job_kind", string(cfg.JobKind)).
			Msg("Trigger removed")
		metrics.SchedulerTriggers.Set(float64(len(s.triggers)))
		return
	}

	interval, ok := cfg.Cadence.Interval()
	if !ok {
		interval, _ = models.DefaultCadence.Interval()
		logging.Warn().
			Str("tenant", cfg.TenantID).
			Str("job_kind", string(cfg.JobKind)).
			Str("cadence", string(cfg.Cadence)).
			Msg("Unknown cadence, falling back to default")
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	t := &trigger{
		cfg:      cfg,
		interval: interval,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.triggers[key] = t
	metrics.SchedulerTriggers.Set(float64(len(s.triggers)))

	go s.loop(ctx, t)
	logging.Info().
		Str("tenant", cfg.TenantID).
		Str("job_kind", string(cfg.JobKind)).
		Dur("interval", interval).
		Msg("Trigger installed")
}

// Remove cancels the trigger for a (tenant, job kind) if installed.
func (s *Scheduler) Remove(tenantID string, kind models.JobKind) {
	cfg := models.ScheduledJobConfig{TenantID: tenantID, JobKind: kind, Enabled: false}
	s.Apply(cfg)
}

// RebuildFromStore installs triggers for every persisted config. Called once
// at process start so schedules survive restarts.
func (s *Scheduler) RebuildFromStore(src JobConfigSource) error {
	configs, err := src.List()
	if err != nil {
		return fmt.Errorf("list job configs: %w", err)
	}
	for _, cfg := range configs {
		s.Apply(cfg)
	}
	logging.Info().Int("triggers", len(configs)).Msg("Scheduler rebuilt from store")
	return nil
}

// TriggerNow fires one job occurrence outside its cadence, with the same
// no-overlap rule: a busy job drops the manual trigger too. Returns false
// when no trigger is installed or the job was busy.
func (s *Scheduler) TriggerNow(tenantID string, kind models.JobKind) bool {
	key := (&models.ScheduledJobConfig{TenantID: tenantID, JobKind: kind}).Key()

	s.mu.Lock()
	t, ok := s.triggers[key]
	s.mu.Unlock()
	if !ok {
		return false
	}
	if !s.tryAcquire(key) {
		metrics.SchedulerDrops.WithLabelValues(string(kind)).Inc()
		return false
	}
	go func() {
		defer s.release(key)
		s.run(s.baseCtx, t)
	}()
	return true
}

// Snapshot returns the observable state of every installed trigger.
func (s *Scheduler) Snapshot() []TriggerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TriggerStatus, 0, len(s.triggers))
	for _, t := range s.triggers {
		t.mu.Lock()
		out = append(out, TriggerStatus{
			TenantID:      t.cfg.TenantID,
			JobKind:       t.cfg.JobKind,
			Cadence:       t.cfg.Cadence,
			Interval:      t.interval,
			Running:       s.inflight[t.cfg.Key()],
			LastStarted:   t.lastStarted,
			LastCompleted: t.lastCompleted,
			LastError:     t.lastError,
		})
		t.mu.Unlock()
	}
	return out
}

// Stop cancels every trigger and waits for all in-flight runs, scheduled and
// manual, to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	triggers := make([]*trigger, 0, len(s.triggers))
	for _, t := range s.triggers {
		triggers = append(triggers, t)
	}
	s.triggers = make(map[string]*trigger)
	s.mu.Unlock()

	s.cancel()
	for _, t := range triggers {
		<-t.done
	}
	s.runs.Wait()
	metrics.SchedulerTriggers.Set(0)
}

// tryAcquire claims the run slot for a (tenant, job kind). False means the
// job is busy or the scheduler is stopping.
func (s *Scheduler) tryAcquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.inflight[key] {
		return false
	}
	s.inflight[key] = true
	s.runs.Add(1)
	return true
}

func (s *Scheduler) release(key string) {
	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()
	s.runs.Done()
}

// loop is one trigger's timer goroutine. ctx governs only the timer;
// occurrences execute under the scheduler's base context, so replacing or
// disabling a trigger never interrupts a run it already started.
func (s *Scheduler) loop(ctx context.Context, t *trigger) {
	defer close(t.done)

	key := t.cfg.Key()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.tryAcquire(key) {
				// Previous occurrence still in flight. Drop, never queue.
				metrics.SchedulerDrops.WithLabelValues(string(t.cfg.JobKind)).Inc()
				logging.Warn().
					Str("tenant", t.cfg.TenantID).
					Str("job_kind", string(t.cfg.JobKind)).
					Msg("Dropping tick, previous run still in flight")
				continue
			}
			s.run(s.baseCtx, t)
			s.release(key)
		}
	}
}

// run executes one occurrence and records its outcome on the trigger.
func (s *Scheduler) run(ctx context.Context, t *trigger) {
	t.mu.Lock()
	t.lastStarted = time.Now()
	t.mu.Unlock()

	err := s.runner.RunJob(ctx, t.cfg)

	t.mu.Lock()
	t.lastCompleted = time.Now()
	if err != nil {
		t.lastError = err.Error()
	} else {
		t.lastError = ""
	}
	t.mu.Unlock()

	kind := string(t.cfg.JobKind)
	if err != nil {
		metrics.SchedulerRuns.WithLabelValues(kind, "error").Inc()
		logging.Error().Err(err).
			Str("tenant", t.cfg.TenantID).
			Str("job_kind", kind).
			Msg("Scheduled job failed")
		return
	}
	metrics.SchedulerRuns.WithLabelValues(kind, "success").Inc()
}
