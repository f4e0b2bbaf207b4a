// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

package services

import (
	"context"
	"fmt"

	"github.com/meridianhq/meridian/internal/scheduler"
)

// Lifecycle matches *scheduler.Scheduler: rebuild installs persisted
// triggers, Stop cancels them and waits for in-flight runs.
type Lifecycle interface {
	RebuildFromStore(src scheduler.JobConfigSource) error
	Stop()
}

// SchedulerService runs the trigger registry under supervision. The
// scheduler owns its own timer goroutines; this wrapper installs the
// persisted triggers on start and tears everything down on context
// cancellation.
type SchedulerService struct {
	scheduler Lifecycle
	configs   scheduler.JobConfigSource
}

// NewSchedulerService wraps a scheduler as a supervised service.
func NewSchedulerService(sched Lifecycle, configs scheduler.JobConfigSource) *SchedulerService {
	return &SchedulerService{scheduler: sched, configs: configs}
}

// Serve implements suture.Service.
func (s *SchedulerService) Serve(ctx context.Context) error {
	if err := s.scheduler.RebuildFromStore(s.configs); err != nil {
		return fmt.Errorf("scheduler rebuild failed: %w", err)
	}
	<-ctx.Done()
	s.scheduler.Stop()
	return ctx.Err()
}

// String identifies the service in supervisor logs.
func (s *SchedulerService) String() string {
	return "scheduler"
}
