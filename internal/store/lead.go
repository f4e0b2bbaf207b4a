// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

package store

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/meridianhq/meridian/internal/models"
)

// LeadStore persists synced lead records keyed by natural key
// (tenant, normalized email, source provider).
type LeadStore struct {
	db *badger.DB
}

func leadKey(naturalKey string) string {
	return leadPrefix + naturalKey
}

// Get returns the lead for a natural key, or ErrNotFound.
func (s *LeadStore) Get(tenantID, normalizedEmail string, source models.Provider) (*models.Lead, error) {
	var lead models.Lead
	if err := getJSON(s.db, leadKey(models.LeadNaturalKey(tenantID, normalizedEmail, source)), &lead); err != nil {
		return nil, err
	}
	return &lead, nil
}

// Upsert inserts or merges a lead by natural key inside one transaction.
// Reprocessing the same remote message any number of times yields exactly one
// record, and a re-fetched duplicate never regresses the stored status: the
// higher-ranked status always survives the merge. Returns the stored lead and
// whether it was newly created.
func (s *LeadStore) Upsert(incoming *models.Lead) (*models.Lead, bool, error) {
	incoming.Email = models.NormalizeEmail(incoming.Email)
	key := leadKey(incoming.NaturalKey())

	var stored models.Lead
	var created bool

	err := s.db.Update(func(txn *badger.Txn) error {
		var existing models.Lead
		err := getJSONTxn(txn, key, &existing)
		switch {
		case errors.Is(err, ErrNotFound):
			created = true
			stored = *incoming
			if stored.ID == "" {
				stored.ID = uuid.NewString()
			}
			if stored.Status == "" {
				stored.Status = models.LeadStatusNew
			}
			stored.CreatedAt = now()
		case err != nil:
			return err
		default:
			created = false
			stored = existing
			// First-touch fields are kept from the original ingest.
			if stored.Subject == "" {
				stored.Subject = incoming.Subject
			}
			if stored.FirstMessageID == "" {
				stored.FirstMessageID = incoming.FirstMessageID
			}
			if stored.ConversationID == "" {
				stored.ConversationID = incoming.ConversationID
			}
			if incoming.Status.Rank() > stored.Status.Rank() {
				stored.Status = incoming.Status
			}
		}
		stored.UpdatedAt = now()
		return setJSONTxn(txn, key, &stored)
	})
	if err != nil {
		return nil, false, fmt.Errorf("upsert lead %s: %w", key, err)
	}
	return &stored, created, nil
}

// AdvanceStatus moves a lead's status forward. A lower- or equal-ranked
// status is a no-op, never an error; late or duplicated transitions are
// expected under at-least-once processing.
func (s *LeadStore) AdvanceStatus(tenantID, normalizedEmail string, source models.Provider, status models.LeadStatus) error {
	key := leadKey(models.LeadNaturalKey(tenantID, models.NormalizeEmail(normalizedEmail), source))
	return s.db.Update(func(txn *badger.Txn) error {
		var lead models.Lead
		if err := getJSONTxn(txn, key, &lead); err != nil {
			return err
		}
		if status.Rank() <= lead.Status.Rank() {
			return nil
		}
		lead.Status = status
		lead.UpdatedAt = now()
		return setJSONTxn(txn, key, &lead)
	})
}

// ListByTenant returns all leads for a tenant.
func (s *LeadStore) ListByTenant(tenantID string) ([]models.Lead, error) {
	var leads []models.Lead
	prefix := leadPrefix + tenantID + "|"
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefix), PrefetchValues: true})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var lead models.Lead
			if err := it.Item().Value(func(val []byte) error {
				return unmarshal(val, &lead)
			}); err != nil {
				return err
			}
			leads = append(leads, lead)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return leads, nil
}

// DeleteByProvider removes the tenant's leads sourced from the given
// provider. Returns the number removed. Used by explicit disconnect.
func (s *LeadStore) DeleteByProvider(tenantID, providerName string) (int, error) {
	prefix := leadPrefix + tenantID + "|"
	return deleteByPrefix(s.db, prefix, func(key string, val []byte) bool {
		var lead models.Lead
		if err := unmarshal(val, &lead); err != nil {
			return false
		}
		return string(lead.SourceProvider) != providerName
	})
}
