// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

package models

import (
	"testing"
	"time"
)

func TestLeadStatusRankOrdering(t *testing.T) {
	ordered := []LeadStatus{LeadStatusNew, LeadStatusContacted, LeadStatusQualified, LeadStatusClosed}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Rank() <= ordered[i-1].Rank() {
			t.Errorf("Rank(%s) = %d, want > Rank(%s) = %d",
				ordered[i], ordered[i].Rank(), ordered[i-1], ordered[i-1].Rank())
		}
	}
	if got := LeadStatus("bogus").Rank(); got != 0 {
		t.Errorf("Rank(bogus) = %d, want 0", got)
	}
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Alice@Example.COM", "alice@example.com"},
		{"  bob@example.com  ", "bob@example.com"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeEmail(tt.in); got != tt.want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPartitionKeyRoundTrip(t *testing.T) {
	p := Partition{Provider: ProviderMailgate, Resource: ResourceMessages, Scope: "inbox/support"}
	key := p.Key()
	got, err := ParsePartitionKey(key)
	if err != nil {
		t.Fatalf("ParsePartitionKey(%q) error: %v", key, err)
	}
	if got != p {
		t.Errorf("round trip = %+v, want %+v", got, p)
	}
}

func TestParsePartitionKeyRejectsMalformed(t *testing.T) {
	for _, key := range []string{"", "mailgate", "mailgate:messages", "mailgate::inbox", ":messages:inbox", "mailgate:widgets:inbox"} {
		if _, err := ParsePartitionKey(key); err == nil {
			t.Errorf("ParsePartitionKey(%q) = nil error, want error", key)
		}
	}
}

func TestCredentialHasScopes(t *testing.T) {
	rec := &CredentialRecord{ScopeSet: []string{"mail.read", "mail.send"}}

	tests := []struct {
		name     string
		required []string
		want     bool
	}{
		{"subset", []string{"mail.read"}, true},
		{"exact", []string{"mail.read", "mail.send"}, true},
		{"missing", []string{"mail.read", "ads.manage"}, false},
		{"empty required", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rec.HasScopes(tt.required); got != tt.want {
				t.Errorf("HasScopes(%v) = %v, want %v", tt.required, got, tt.want)
			}
		})
	}
}

func TestCredentialExpiredWithin(t *testing.T) {
	now := time.Now()
	rec := &CredentialRecord{ExpiresAt: now.Add(30 * time.Second)}

	if !rec.ExpiredWithin(60*time.Second, now) {
		t.Error("token expiring inside the margin should count as expired")
	}
	if rec.ExpiredWithin(10*time.Second, now) {
		t.Error("token expiring outside the margin should not count as expired")
	}
}

func TestCadenceInterval(t *testing.T) {
	tests := []struct {
		cadence Cadence
		want    time.Duration
		ok      bool
	}{
		{CadenceEvery5m, 5 * time.Minute, true},
		{CadenceEvery15m, 15 * time.Minute, true},
		{CadenceHourly, time.Hour, true},
		{CadenceDaily, 24 * time.Hour, true},
		{Cadence("weekly"), 0, false},
	}
	for _, tt := range tests {
		got, ok := tt.cadence.Interval()
		if got != tt.want || ok != tt.ok {
			t.Errorf("Interval(%s) = (%v, %v), want (%v, %v)", tt.cadence, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCampaignLifecycleTerminal(t *testing.T) {
	terminal := map[CampaignLifecycle]bool{
		CampaignDraft:           false,
		CampaignActive:          false,
		CampaignPaused:          false,
		CampaignPendingDeletion: true,
		CampaignArchived:        true,
	}
	for lc, want := range terminal {
		if got := lc.Terminal(); got != want {
			t.Errorf("Terminal(%s) = %v, want %v", lc, got, want)
		}
	}
}
