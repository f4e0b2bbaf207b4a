// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

package store

import (
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/meridianhq/meridian/internal/models"
)

// CredentialStore persists CredentialRecords keyed by
// (tenant, provider, purpose).
type CredentialStore struct {
	db *badger.DB
}

func credKey(tenantID string, provider models.Provider, purpose models.Purpose) string {
	return credPrefix + models.CredentialKey(tenantID, provider, purpose)
}

// Get returns the credential record, or ErrNotFound.
func (s *CredentialStore) Get(tenantID string, provider models.Provider, purpose models.Purpose) (*models.CredentialRecord, error) {
	var rec models.CredentialRecord
	if err := getJSON(s.db, credKey(tenantID, provider, purpose), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Put creates or replaces a credential record.
func (s *CredentialStore) Put(rec *models.CredentialRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now()
	}
	rec.UpdatedAt = now()
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSONTxn(txn, credPrefix+rec.Key(), rec)
	})
}

// Update applies fn to the stored record inside one transaction. This is the
// read-modify-write used by token refresh: two concurrent refreshes cannot
// interleave a stale read with a write, and the surviving record is whichever
// transaction committed last with its own freshly fetched token.
func (s *CredentialStore) Update(tenantID string, provider models.Provider, purpose models.Purpose, fn func(*models.CredentialRecord) error) (*models.CredentialRecord, error) {
	key := credKey(tenantID, provider, purpose)
	var updated models.CredentialRecord

	err := s.db.Update(func(txn *badger.Txn) error {
		var rec models.CredentialRecord
		if err := getJSONTxn(txn, key, &rec); err != nil {
			return err
		}
		if err := fn(&rec); err != nil {
			return err
		}
		rec.UpdatedAt = now()
		updated = rec
		return setJSONTxn(txn, key, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("update credential %s: %w", key, err)
	}
	return &updated, nil
}

// Delete removes one credential record.
func (s *CredentialStore) Delete(tenantID string, provider models.Provider, purpose models.Purpose) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(credKey(tenantID, provider, purpose)))
	})
}

// DeleteByProvider removes every purpose's credential for the tenant/provider
// pair. Used by explicit disconnect.
func (s *CredentialStore) DeleteByProvider(tenantID, providerName string) error {
	prefix := credPrefix + tenantID + "|" + providerName + "|"
	_, err := deleteByPrefix(s.db, prefix, nil)
	return err
}

// ListTenants returns the distinct tenant IDs that hold any credential.
// Used by the ops API for a workspace overview.
func (s *CredentialStore) ListTenants() ([]string, error) {
	seen := make(map[string]struct{})
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(credPrefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := strings.TrimPrefix(string(it.Item().Key()), credPrefix)
			if idx := strings.IndexByte(key, '|'); idx > 0 {
				seen[key[:idx]] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	tenants := make([]string, 0, len(seen))
	for t := range seen {
		tenants = append(tenants, t)
	}
	return tenants, nil
}
