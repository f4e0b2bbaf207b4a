// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

package store

import (
	"github.com/dgraph-io/badger/v4"

	"github.com/meridianhq/meridian/internal/models"
)

// CursorStore persists per-partition sync cursors. A missing cursor means the
// partition has never completed a page; the sync engine then performs a
// bounded initial backfill instead of fetching full history.
type CursorStore struct {
	db *badger.DB
}

func cursorKey(tenantID, partitionKey string) string {
	return cursorPrefix + tenantID + "|" + partitionKey
}

// Get returns the saved cursor, or ErrNotFound.
func (s *CursorStore) Get(tenantID, partitionKey string) (*models.SyncCursor, error) {
	var cur models.SyncCursor
	if err := getJSON(s.db, cursorKey(tenantID, partitionKey), &cur); err != nil {
		return nil, err
	}
	return &cur, nil
}

// Put saves a cursor. Callers only invoke this after the batch the
// continuation token was obtained with has been fully processed.
func (s *CursorStore) Put(cur *models.SyncCursor) error {
	cur.LastSyncedAt = now()
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSONTxn(txn, cursorKey(cur.TenantID, cur.PartitionKey), cur)
	})
}

// DeleteByProvider removes all of a tenant's cursors for partitions on the
// given provider. Used by explicit disconnect.
func (s *CursorStore) DeleteByProvider(tenantID, providerName string) error {
	prefix := cursorKey(tenantID, providerName+":")
	_, err := deleteByPrefix(s.db, prefix, nil)
	return err
}
