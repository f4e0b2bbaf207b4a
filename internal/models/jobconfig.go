// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

package models

import (
	"fmt"
	"time"
)

// JobKind names a recurring per-tenant job.
type JobKind string

const (
	JobLeadSync          JobKind = "lead-sync"
	JobCampaignSync      JobKind = "campaign-sync"
	JobCampaignReconcile JobKind = "campaign-reconcile"
)

// Cadence is the fixed enumeration of trigger intervals a tenant may choose.
type Cadence string

const (
	CadenceEvery5m  Cadence = "every-5m"
	CadenceEvery15m Cadence = "every-15m"
	CadenceHourly   Cadence = "hourly"
	CadenceDaily    Cadence = "daily"
)

// DefaultCadence is used when a stored config carries an unknown cadence
// value, e.g. after a downgrade removed an enum member.
const DefaultCadence = CadenceHourly

// Interval returns the trigger interval for a cadence. The second return is
// false for unknown values; callers fall back to DefaultCadence.
func (c Cadence) Interval() (time.Duration, bool) {
	switch c {
	case CadenceEvery5m:
		return 5 * time.Minute, true
	case CadenceEvery15m:
		return 15 * time.Minute, true
	case CadenceHourly:
		return time.Hour, true
	case CadenceDaily:
		return 24 * time.Hour, true
	default:
		return 0, false
	}
}

// ScheduledJobConfig is the persisted recurring-job configuration for one
// (tenant, job kind) pair. Any cadence or enabled change reinstalls the
// trigger; stale triggers never coexist with the replacement.
type ScheduledJobConfig struct {
	TenantID string  `json:"tenant_id"`
	JobKind  JobKind `json:"job_kind"`
	Cadence  Cadence `json:"cadence"`
	Enabled  bool    `json:"enabled"`

	// Partitions are the partition keys this job drives, e.g. one per
	// mailbox folder or ad account.
	Partitions []string `json:"partitions,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the config's unique storage key.
func (c *ScheduledJobConfig) Key() string {
	return fmt.Sprintf("%s|%s", c.TenantID, c.JobKind)
}
