// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

package diff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meridianhq/meridian/internal/models"
	"github.com/meridianhq/meridian/internal/provider"
	"github.com/meridianhq/meridian/internal/store"
	"github.com/meridianhq/meridian/internal/token"
)

type fakeTokens struct {
	err   error
	calls int
}

func (f *fakeTokens) GetValidToken(context.Context, string, models.Provider, models.Purpose, []string) (token.Token, error) {
	f.calls++
	if f.err != nil {
		return token.Token{}, f.err
	}
	return token.Token{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type fakeCampaignAPI struct {
	patches  []map[string]any
	statuses []models.CampaignLifecycle
	deletes  int
	creates  int

	patchErr           error
	patchErrExternalID string // limits patchErr to one campaign; empty fails all
	createdID          string
}

func (f *fakeCampaignAPI) ListChanges(context.Context, string, string, string, time.Duration, int) (provider.CampaignPage, error) {
	return provider.CampaignPage{}, nil
}

func (f *fakeCampaignAPI) Create(context.Context, string, string, models.CampaignState) (string, error) {
	f.creates++
	return f.createdID, nil
}

func (f *fakeCampaignAPI) Patch(_ context.Context, _, externalID string, payload map[string]any) error {
	if f.patchErr != nil && (f.patchErrExternalID == "" || f.patchErrExternalID == externalID) {
		return f.patchErr
	}
	f.patches = append(f.patches, payload)
	return nil
}

func (f *fakeCampaignAPI) UpdateStatus(_ context.Context, _, _ string, lifecycle models.CampaignLifecycle) error {
	f.statuses = append(f.statuses, lifecycle)
	return nil
}

func (f *fakeCampaignAPI) Delete(context.Context, string, string) error {
	f.deletes++
	return nil
}

type diffFixture struct {
	engine *Engine
	stores *store.Stores
	api    *fakeCampaignAPI
	tokens *fakeTokens
}

func newDiffFixture(t *testing.T) *diffFixture {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	stores := store.New(db)

	api := &fakeCampaignAPI{createdID: "ext-new"}
	tokens := &fakeTokens{}
	registry := provider.NewRegistry()
	registry.RegisterCampaigns(models.ProviderAdstream, api)

	return &diffFixture{engine: NewEngine(tokens, stores.Campaigns, registry), stores: stores, api: api, tokens: tokens}
}

func seedMirror(t *testing.T, fx *diffFixture, lifecycle models.CampaignLifecycle) *models.Campaign {
	t.Helper()
	remote := models.CampaignState{Name: "A", Objective: "conversions", DailyBudgetCents: 5000, StartDate: "2026-03-01"}
	c, _, err := fx.stores.Campaigns.UpsertRemote("t1", models.ProviderAdstream, "acct-1", "ext-1", lifecycle, remote)
	if err != nil {
		t.Fatalf("UpsertRemote() error: %v", err)
	}
	return c
}

func TestReconcileNoDivergenceIsNoNetworkCall(t *testing.T) {
	fx := newDiffFixture(t)
	c := seedMirror(t, fx, models.CampaignActive)

	res, err := fx.engine.Reconcile(context.Background(), c)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if len(res.Patched) != 0 || fx.tokens.calls != 0 || len(fx.api.patches) != 0 {
		t.Error("converged campaign must not touch the network at all")
	}
}

func TestReconcileSendsMinimalPatch(t *testing.T) {
	fx := newDiffFixture(t)
	c := seedMirror(t, fx, models.CampaignActive)
	c.Desired.DailyBudgetCents = 9000
	if err := fx.stores.Campaigns.Put(c); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	res, err := fx.engine.Reconcile(context.Background(), c)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if len(fx.api.patches) != 1 {
		t.Fatalf("patch calls = %d, want 1", len(fx.api.patches))
	}
	patch := fx.api.patches[0]
	if len(patch) != 1 {
		t.Errorf("patch = %v, want only the changed field", patch)
	}
	if _, ok := patch["daily_budget_cents"]; !ok {
		t.Error("patch is missing daily_budget_cents")
	}
	if len(res.Patched) != 1 || res.Patched[0] != "daily_budget_cents" {
		t.Errorf("res.Patched = %v", res.Patched)
	}

	stored, _ := fx.stores.Campaigns.Get(c.LocalID)
	if stored.LastKnownRemote.DailyBudgetCents != 9000 {
		t.Error("lastKnownRemote should advance for the patched field")
	}
	// Converged now; a second pass is a no-op.
	res, err = fx.engine.Reconcile(context.Background(), stored)
	if err != nil || len(res.Patched) != 0 {
		t.Errorf("second Reconcile() = (%v, %v), want converged no-op", res.Patched, err)
	}
}

func TestReconcileExcludesImmutableFields(t *testing.T) {
	fx := newDiffFixture(t)
	c := seedMirror(t, fx, models.CampaignActive)
	c.Desired.Objective = "awareness"
	c.Desired.DailyBudgetCents = 9000
	if err := fx.stores.Campaigns.Put(c); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	res, err := fx.engine.Reconcile(context.Background(), c)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if len(res.SkippedImmutable) != 1 || res.SkippedImmutable[0] != "objective" {
		t.Errorf("SkippedImmutable = %v, want [objective]", res.SkippedImmutable)
	}
	if _, ok := fx.api.patches[0]["objective"]; ok {
		t.Error("immutable field leaked into the patch")
	}

	// The excluded field stays divergent and visible on later runs.
	stored, _ := fx.stores.Campaigns.Get(c.LocalID)
	if stored.LastKnownRemote.Objective != "conversions" {
		t.Error("lastKnownRemote.objective must keep the real remote value")
	}
	res, err = fx.engine.Reconcile(context.Background(), stored)
	if err != nil {
		t.Fatalf("second Reconcile() error: %v", err)
	}
	if len(res.SkippedImmutable) != 1 {
		t.Error("immutable divergence should still be reported on later runs")
	}
}

func TestReconcileOnlyImmutableChangesSkipsPatch(t *testing.T) {
	fx := newDiffFixture(t)
	c := seedMirror(t, fx, models.CampaignActive)
	c.Desired.StartDate = "2026-05-01"
	if err := fx.stores.Campaigns.Put(c); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	res, err := fx.engine.Reconcile(context.Background(), c)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if len(fx.api.patches) != 0 || fx.tokens.calls != 0 {
		t.Error("a fully immutable change set must not produce a network call")
	}
	if len(res.SkippedImmutable) != 1 {
		t.Errorf("SkippedImmutable = %v", res.SkippedImmutable)
	}
}

func TestReconcileTerminalLifecycleIsNoOp(t *testing.T) {
	fx := newDiffFixture(t)
	c := seedMirror(t, fx, models.CampaignPendingDeletion)
	c.Desired.Name = "changed"

	res, err := fx.engine.Reconcile(context.Background(), c)
	if err != nil || len(res.Patched) != 0 || len(fx.api.patches) != 0 {
		t.Error("terminal campaigns accept no patches")
	}
}

func TestReconcileCreatesDraftWithoutExternalID(t *testing.T) {
	fx := newDiffFixture(t)
	c := &models.Campaign{
		TenantID: "t1", Provider: models.ProviderAdstream, AccountID: "acct-1",
		Lifecycle: models.CampaignDraft,
		Desired:   models.CampaignState{Name: "Local Draft", DailyBudgetCents: 100},
	}
	if err := fx.stores.Campaigns.Put(c); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	res, err := fx.engine.Reconcile(context.Background(), c)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if !res.Created || fx.api.creates != 1 {
		t.Errorf("res.Created = %v, creates = %d; want remote create", res.Created, fx.api.creates)
	}
	stored, _ := fx.stores.Campaigns.Get(c.LocalID)
	if stored.ExternalID != "ext-new" {
		t.Errorf("external ID = %q, want assigned ext-new", stored.ExternalID)
	}
}

func TestReconcilePatchErrorLeavesSnapshot(t *testing.T) {
	fx := newDiffFixture(t)
	c := seedMirror(t, fx, models.CampaignActive)
	c.Desired.DailyBudgetCents = 9000
	if err := fx.stores.Campaigns.Put(c); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	fx.api.patchErr = &provider.ValidationError{Op: "campaigns.patch", Message: "budget too low"}

	if _, err := fx.engine.Reconcile(context.Background(), c); err == nil {
		t.Fatal("Reconcile() error = nil, want patch failure")
	}
	stored, _ := fx.stores.Campaigns.Get(c.LocalID)
	if stored.LastKnownRemote.DailyBudgetCents != 5000 {
		t.Error("failed patch must not advance lastKnownRemote")
	}
}

func seedDivergent(t *testing.T, fx *diffFixture, externalID string) {
	t.Helper()
	remote := models.CampaignState{Name: "A", Objective: "conversions", DailyBudgetCents: 5000}
	c, _, err := fx.stores.Campaigns.UpsertRemote("t1", models.ProviderAdstream, "acct-1", externalID, models.CampaignActive, remote)
	if err != nil {
		t.Fatalf("UpsertRemote() error: %v", err)
	}
	c.Desired.DailyBudgetCents = 9000
	if err := fx.stores.Campaigns.Put(c); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
}

func TestReconcileTenantIsolatesFailures(t *testing.T) {
	fx := newDiffFixture(t)
	seedDivergent(t, fx, "ext-1")
	seedDivergent(t, fx, "ext-2")
	fx.api.patchErr = &provider.ValidationError{Op: "campaigns.patch", Message: "rejected"}
	fx.api.patchErrExternalID = "ext-1"

	patched, failed, err := fx.engine.ReconcileTenant(context.Background(), "t1")
	if err != nil {
		t.Fatalf("ReconcileTenant() error: %v", err)
	}
	if patched != 1 || failed != 1 {
		t.Errorf("ReconcileTenant() = (%d patched, %d failed), want (1, 1)", patched, failed)
	}
}

func TestReconcileTenantStopsOnNeedsAuth(t *testing.T) {
	fx := newDiffFixture(t)
	seedDivergent(t, fx, "ext-1")
	seedDivergent(t, fx, "ext-2")
	fx.tokens.err = &provider.NeedsAuthError{
		TenantID: "t1", Provider: models.ProviderAdstream, Reason: "token revoked",
		AuthorizationURL: "https://auth.example/reauth",
	}

	_, _, err := fx.engine.ReconcileTenant(context.Background(), "t1")
	if _, ok := provider.AsNeedsAuth(err); !ok {
		t.Fatalf("error = %v, want the credential failure to abort the pass", err)
	}
	if fx.tokens.calls != 1 {
		t.Errorf("token calls = %d, want 1; remaining campaigns would fail identically", fx.tokens.calls)
	}
}

func TestRequestDelete(t *testing.T) {
	t.Run("draft hard-deletes", func(t *testing.T) {
		fx := newDiffFixture(t)
		c := seedMirror(t, fx, models.CampaignDraft)

		if err := fx.engine.RequestDelete(context.Background(), c.LocalID); err != nil {
			t.Fatalf("RequestDelete() error: %v", err)
		}
		if fx.api.deletes != 1 {
			t.Errorf("remote deletes = %d, want 1", fx.api.deletes)
		}
		if _, err := fx.stores.Campaigns.Get(c.LocalID); !errors.Is(err, store.ErrNotFound) {
			t.Error("draft should be removed locally")
		}
	})

	t.Run("active transitions to pending deletion", func(t *testing.T) {
		fx := newDiffFixture(t)
		c := seedMirror(t, fx, models.CampaignActive)

		if err := fx.engine.RequestDelete(context.Background(), c.LocalID); err != nil {
			t.Fatalf("RequestDelete() error: %v", err)
		}
		if len(fx.api.statuses) != 1 || fx.api.statuses[0] != models.CampaignPendingDeletion {
			t.Errorf("status calls = %v, want [pending_deletion]", fx.api.statuses)
		}
		stored, err := fx.stores.Campaigns.Get(c.LocalID)
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if stored.Lifecycle != models.CampaignPendingDeletion {
			t.Errorf("lifecycle = %s, want pending_deletion", stored.Lifecycle)
		}
	})
}
