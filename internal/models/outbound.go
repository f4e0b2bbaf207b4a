// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

package models

import "time"

// OutboundState is the lifecycle of a recorded outbound action.
type OutboundState string

const (
	OutboundPending   OutboundState = "pending"
	OutboundConfirmed OutboundState = "confirmed"
)

// OutboundPayload is the snapshot of an outbound message captured before any
// network attempt is made. ConversationID carries the correlation key to the
// provider so the remote threads the message into the conversation; without it
// neither the sent feed nor the changes feed can resolve the send later.
type OutboundPayload struct {
	From           string `json:"from"`
	To             string `json:"to"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// PendingOutboundAction is the durable record of a side-effecting remote send.
// The row is written before the first network attempt so a crash mid-attempt
// leaves evidence for later reconciliation. A confirmed action always carries
// exactly one external ID; at most one confirmed action exists per
// correlation key.
type PendingOutboundAction struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	CorrelationKey string          `json:"correlation_key"` // conversation id
	Payload        OutboundPayload `json:"payload"`
	State          OutboundState   `json:"state"`
	ExternalID     string          `json:"external_id,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	ConfirmedAt time.Time `json:"confirmed_at,omitempty"`
}
