// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

package models

import "time"

// CampaignLifecycle is the stage of a mirrored campaign. The lifecycle
// determines which fields may still be patched remotely.
type CampaignLifecycle string

const (
	CampaignDraft           CampaignLifecycle = "draft"
	CampaignActive          CampaignLifecycle = "active"
	CampaignPaused          CampaignLifecycle = "paused"
	CampaignPendingDeletion CampaignLifecycle = "pending_deletion"
	CampaignArchived        CampaignLifecycle = "archived"
)

// Terminal reports whether the lifecycle stage accepts no further patches.
func (l CampaignLifecycle) Terminal() bool {
	return l == CampaignPendingDeletion || l == CampaignArchived
}

// TargetingGroup is one half of a targeting specification. The remote API
// groups targeting dimensions under include/exclude, and patches must
// preserve that nesting.
type TargetingGroup struct {
	Regions   []string `json:"regions,omitempty"`
	Keywords  []string `json:"keywords,omitempty"`
	AgeRanges []string `json:"age_ranges,omitempty"`
}

// TargetingSpec is the nested targeting structure mirrored from the ad
// platform.
type TargetingSpec struct {
	Include TargetingGroup `json:"include"`
	Exclude TargetingGroup `json:"exclude"`
}

// CampaignState is the patchable field set of a campaign. Both the desired
// state and the last-known remote state use this shape; the diff engine
// compares the two field by field, including the nested targeting tree.
type CampaignState struct {
	Name             string        `json:"name"`
	Objective        string        `json:"objective"`
	DailyBudgetCents int64         `json:"daily_budget_cents"`
	StartDate        string        `json:"start_date"`
	EndDate          string        `json:"end_date,omitempty"`
	Targeting        TargetingSpec `json:"targeting"`
}

// Campaign is a mirrored mutable entity: a locally edited campaign tracked
// against its remote counterpart on an ad platform.
type Campaign struct {
	LocalID    string            `json:"local_id"`
	TenantID   string            `json:"tenant_id"`
	Provider   Provider          `json:"provider"`
	AccountID  string            `json:"account_id"`
	ExternalID string            `json:"external_id,omitempty"`
	Lifecycle  CampaignLifecycle `json:"lifecycle"`

	Desired         CampaignState `json:"desired"`
	LastKnownRemote CampaignState `json:"last_known_remote"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
