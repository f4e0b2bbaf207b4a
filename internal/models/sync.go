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

// PartitionResource names the kind of remote collection a partition covers.
type PartitionResource string

const (
	ResourceMessages  PartitionResource = "messages"
	ResourceCampaigns PartitionResource = "campaigns"
)

// Partition is an independently synchronized unit of work: one mailbox folder
// for message ingestion, or one ad account for campaign mirroring. Partitions
// of the same tenant fail and retry independently.
type Partition struct {
	Provider Provider
	Resource PartitionResource

	// Scope is the provider-side container: "mailbox/folder" for messages,
	// the ad account ID for campaigns.
	Scope string
}

// Key serializes the partition for cursor storage.
func (p Partition) Key() string {
	return fmt.Sprintf("%s:%s:%s", p.Provider, p.Resource, p.Scope)
}

// ParsePartitionKey is the inverse of Partition.Key.
func ParsePartitionKey(key string) (Partition, error) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Partition{}, fmt.Errorf("malformed partition key %q", key)
	}
	res := PartitionResource(parts[1])
	if res != ResourceMessages && res != ResourceCampaigns {
		return Partition{}, fmt.Errorf("unknown partition resource %q", parts[1])
	}
	return Partition{Provider: Provider(parts[0]), Resource: res, Scope: parts[2]}, nil
}

// SyncCursor is the saved position of one partition's incremental fetch. An
// empty continuation token means the partition has never completed a page and
// the next run performs a bounded initial backfill instead of full history.
type SyncCursor struct {
	TenantID          string    `json:"tenant_id"`
	PartitionKey      string    `json:"partition_key"`
	ContinuationToken string    `json:"continuation_token,omitempty"`
	LastSyncedAt      time.Time `json:"last_synced_at"`
}
