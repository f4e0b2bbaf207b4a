// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

package diff

import (
	"reflect"
	"testing"

	"github.com/meridianhq/meridian/internal/models"
)

func baseState() models.CampaignState {
	return models.CampaignState{
		Name:             "Spring Sale",
		Objective:        "conversions",
		DailyBudgetCents: 5000,
		StartDate:        "2026-03-01",
		EndDate:          "2026-04-01",
		Targeting: models.TargetingSpec{
			Include: models.TargetingGroup{Regions: []string{"us", "ca"}, Keywords: []string{"shoes"}},
			Exclude: models.TargetingGroup{Regions: []string{"fr"}},
		},
	}
}

func TestChangesEmptyForIdenticalStates(t *testing.T) {
	changes, err := Changes(baseState(), baseState())
	if err != nil {
		t.Fatalf("Changes() error: %v", err)
	}
	if len(changes) != 0 {
		t.Errorf("changes = %v, want none for identical states", changes)
	}
}

func TestChangesFindsOnlyDivergentLeaves(t *testing.T) {
	desired := baseState()
	desired.DailyBudgetCents = 9000
	desired.Targeting.Include.Keywords = []string{"shoes", "boots"}

	changes, err := Changes(desired, baseState())
	if err != nil {
		t.Fatalf("Changes() error: %v", err)
	}
	got := Paths(changes)
	want := []string{"daily_budget_cents", "targeting.include.keywords"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("changed paths = %v, want %v", got, want)
	}
}

func TestMutablePerLifecycle(t *testing.T) {
	tests := []struct {
		lifecycle models.CampaignLifecycle
		path      string
		want      bool
	}{
		{models.CampaignDraft, "objective", true},
		{models.CampaignDraft, "start_date", true},
		{models.CampaignActive, "objective", false},
		{models.CampaignActive, "start_date", false},
		{models.CampaignActive, "daily_budget_cents", true},
		{models.CampaignPaused, "objective", false},
		{models.CampaignPaused, "targeting.include.regions", true},
		{models.CampaignPendingDeletion, "name", false},
		{models.CampaignArchived, "daily_budget_cents", false},
	}
	for _, tt := range tests {
		if got := Mutable(tt.lifecycle, tt.path); got != tt.want {
			t.Errorf("Mutable(%s, %s) = %v, want %v", tt.lifecycle, tt.path, got, tt.want)
		}
	}
}

func TestBuildPatchPreservesNesting(t *testing.T) {
	patch := BuildPatch([]FieldChange{
		{Path: "daily_budget_cents", Value: int64(9000)},
		{Path: "targeting.include.keywords", Value: []any{"shoes", "boots"}},
		{Path: "targeting.exclude.regions", Value: []any{"fr", "de"}},
	})

	want := map[string]any{
		"daily_budget_cents": int64(9000),
		"targeting": map[string]any{
			"include": map[string]any{"keywords": []any{"shoes", "boots"}},
			"exclude": map[string]any{"regions": []any{"fr", "de"}},
		},
	}
	if !reflect.DeepEqual(patch, want) {
		t.Errorf("patch = %#v, want %#v", patch, want)
	}
}

func TestApplyChangesAdvancesOnlyPatchedPaths(t *testing.T) {
	remote := baseState()
	desired := baseState()
	desired.DailyBudgetCents = 9000
	desired.Objective = "awareness" // immutable at active; excluded from patch

	changes, err := Changes(desired, remote)
	if err != nil {
		t.Fatalf("Changes() error: %v", err)
	}
	mutable, immutable := Split(models.CampaignActive, changes)
	if len(immutable) != 1 || immutable[0].Path != "objective" {
		t.Fatalf("immutable = %v, want [objective]", Paths(immutable))
	}

	updated, err := applyChanges(remote, mutable)
	if err != nil {
		t.Fatalf("applyChanges() error: %v", err)
	}
	if updated.DailyBudgetCents != 9000 {
		t.Errorf("budget = %d, want patched value", updated.DailyBudgetCents)
	}
	if updated.Objective != "conversions" {
		t.Errorf("objective = %q, must keep the old remote value", updated.Objective)
	}
	if !reflect.DeepEqual(updated.Targeting, remote.Targeting) {
		t.Error("untouched targeting tree must survive the merge")
	}
}
