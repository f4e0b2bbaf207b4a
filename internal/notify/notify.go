// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

// Package notify publishes fire-and-forget tenant events. Delivery is best
// effort: a lost event is acceptable, a blocked sync run is not.
package notify

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/meridianhq/meridian/internal/logging"
)

// EventKind names a published event.
type EventKind string

const (
	EventSyncCompleted     EventKind = "sync.completed"
	EventNeedsReauth       EventKind = "credential.needs_reauth"
	EventOutboundConfirmed EventKind = "outbound.confirmed"
)

// Notifier publishes one tenant event. Implementations must not block on
// delivery or return errors for downstream unavailability.
type Notifier interface {
	Notify(ctx context.Context, tenantID string, kind EventKind, payload map[string]any)
}

// NATSNotifier publishes events to meridian.events.<tenant>.<kind>.
type NATSNotifier struct {
	conn *nats.Conn
}

// NewNATSNotifier connects to a NATS server. Connection failures surface to
// the caller; publish failures later are logged and swallowed.
func NewNATSNotifier(url string) (*NATSNotifier, error) {
	conn, err := nats.Connect(url,
		nats.Name("meridian"),
		nats.RetryOnFailedConnect(true),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSNotifier{conn: conn}, nil
}

// Notify publishes the event. Payload is JSON-encoded; the tenant and kind
// travel in the subject.
func (n *NATSNotifier) Notify(_ context.Context, tenantID string, kind EventKind, payload map[string]any) {
	subject := fmt.Sprintf("meridian.events.%s.%s", tenantID, kind)
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Warn().Err(err).Str("subject", subject).Msg("Failed to encode event payload")
		return
	}
	if err := n.conn.Publish(subject, data); err != nil {
		logging.Warn().Err(err).Str("subject", subject).Msg("Failed to publish event")
	}
}

// Close drains the connection.
func (n *NATSNotifier) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}

// LogNotifier writes events to the structured log. Used when no NATS server
// is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, tenantID string, kind EventKind, payload map[string]any) {
	logging.Info().
		Str("tenant", tenantID).
		Str("event", string(kind)).
		Interface("payload", payload).
		Msg("Event")
}
