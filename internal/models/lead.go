// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

package models

import (
	"fmt"
	"strings"
	"time"
)

// LeadStatus is the lifecycle stage of an ingested lead. Statuses are ordered:
// a later-stage lead must never be regressed by a re-fetched duplicate of the
// message that originally created it.
type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "new"
	LeadStatusContacted LeadStatus = "contacted"
	LeadStatusQualified LeadStatus = "qualified"
	LeadStatusClosed    LeadStatus = "closed"
)

// Rank returns the ordering position of a status. Unknown statuses rank
// lowest so a malformed value can never overwrite real progress.
func (s LeadStatus) Rank() int {
	switch s {
	case LeadStatusNew:
		return 1
	case LeadStatusContacted:
		return 2
	case LeadStatusQualified:
		return 3
	case LeadStatusClosed:
		return 4
	default:
		return 0
	}
}

// Lead is a synced record derived from an inbound message that matched the
// tenant's lead classification rules. Deduplicated by natural key.
type Lead struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	Email          string     `json:"email"` // normalized
	SourceProvider Provider   `json:"source_provider"`
	Status         LeadStatus `json:"status"`

	Subject        string `json:"subject,omitempty"`
	FirstMessageID string `json:"first_message_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizeEmail lowercases and trims an address so the natural key is stable
// across provider formatting differences.
func NormalizeEmail(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// LeadNaturalKey builds the deduplication key for a lead.
func LeadNaturalKey(tenantID, normalizedEmail string, source Provider) string {
	return fmt.Sprintf("%s|%s|%s", tenantID, normalizedEmail, source)
}

// NaturalKey returns the lead's deduplication key.
func (l *Lead) NaturalKey() string {
	return LeadNaturalKey(l.TenantID, l.Email, l.SourceProvider)
}

// Message is an inbound or sent message returned by the mailgate changes feed.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	ReceivedAt     time.Time `json:"received_at"`
}
