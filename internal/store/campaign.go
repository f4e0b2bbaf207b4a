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

// CampaignStore persists mirrored campaigns. Primary key is the local
// surrogate ID; a secondary index maps (tenant, external ID) back to it so
// the sync engine can match remote changes to local mirrors.
type CampaignStore struct {
	db *badger.DB
}

func campaignKey(localID string) string {
	return campaignPrefix + localID
}

func campaignExtKey(tenantID, externalID string) string {
	return campaignExtPrefix + tenantID + "|" + externalID
}

// Get returns the campaign by local ID, or ErrNotFound.
func (s *CampaignStore) Get(localID string) (*models.Campaign, error) {
	var c models.Campaign
	if err := getJSON(s.db, campaignKey(localID), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetByExternalID resolves the external-ID index, or ErrNotFound.
func (s *CampaignStore) GetByExternalID(tenantID, externalID string) (*models.Campaign, error) {
	var c models.Campaign
	err := s.db.View(func(txn *badger.Txn) error {
		var localID string
		if err := getJSONTxn(txn, campaignExtKey(tenantID, externalID), &localID); err != nil {
			return err
		}
		return getJSONTxn(txn, campaignKey(localID), &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Put creates or replaces a campaign and maintains the external-ID index.
func (s *CampaignStore) Put(c *models.Campaign) error {
	if c.LocalID == "" {
		c.LocalID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now()
	}
	c.UpdatedAt = now()
	return s.db.Update(func(txn *badger.Txn) error {
		if err := setJSONTxn(txn, campaignKey(c.LocalID), c); err != nil {
			return err
		}
		if c.ExternalID != "" {
			return setJSONTxn(txn, campaignExtKey(c.TenantID, c.ExternalID), c.LocalID)
		}
		return nil
	})
}

// UpsertRemote applies one remote campaign observation from the changes feed.
// A known external ID refreshes lastKnownRemote and the remote-authoritative
// lifecycle, leaving local desired-state edits untouched. An unknown external
// ID creates a new mirror whose desired state starts equal to the remote
// state. Idempotent: replaying the same page cannot create duplicates or
// clobber local edits. Returns the stored mirror and whether it was created.
func (s *CampaignStore) UpsertRemote(tenantID string, p models.Provider, accountID, externalID string, lifecycle models.CampaignLifecycle, state models.CampaignState) (*models.Campaign, bool, error) {
	var stored models.Campaign
	var created bool

	err := s.db.Update(func(txn *badger.Txn) error {
		var localID string
		err := getJSONTxn(txn, campaignExtKey(tenantID, externalID), &localID)
		switch {
		case errors.Is(err, ErrNotFound):
			created = true
			stored = models.Campaign{
				LocalID:         uuid.NewString(),
				TenantID:        tenantID,
				Provider:        p,
				AccountID:       accountID,
				ExternalID:      externalID,
				Lifecycle:       lifecycle,
				Desired:         state,
				LastKnownRemote: state,
				CreatedAt:       now(),
			}
		case err != nil:
			return err
		default:
			if err := getJSONTxn(txn, campaignKey(localID), &stored); err != nil {
				return err
			}
			created = false
			stored.LastKnownRemote = state
			stored.Lifecycle = lifecycle
		}
		stored.UpdatedAt = now()
		if err := setJSONTxn(txn, campaignKey(stored.LocalID), &stored); err != nil {
			return err
		}
		return setJSONTxn(txn, campaignExtKey(tenantID, externalID), stored.LocalID)
	})
	if err != nil {
		return nil, false, fmt.Errorf("upsert remote campaign %s: %w", externalID, err)
	}
	return &stored, created, nil
}

// ListByTenant returns all campaign mirrors for a tenant.
func (s *CampaignStore) ListByTenant(tenantID string) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(campaignPrefix), PrefetchValues: true})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var c models.Campaign
			if err := it.Item().Value(func(val []byte) error {
				return unmarshal(val, &c)
			}); err != nil {
				return err
			}
			if c.TenantID == tenantID {
				campaigns = append(campaigns, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return campaigns, nil
}

// Delete removes a campaign and its external-ID index entry.
func (s *CampaignStore) Delete(localID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var c models.Campaign
		err := getJSONTxn(txn, campaignKey(localID), &c)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := txn.Delete([]byte(campaignKey(localID))); err != nil {
			return err
		}
		if c.ExternalID != "" {
			return txn.Delete([]byte(campaignExtKey(c.TenantID, c.ExternalID)))
		}
		return nil
	})
}

// DeleteByProvider removes the tenant's campaign mirrors on the given
// provider. Returns the number removed. Used by explicit disconnect.
func (s *CampaignStore) DeleteByProvider(tenantID, providerName string) (int, error) {
	campaigns, err := s.ListByTenant(tenantID)
	if err != nil {
		return 0, err
	}
	removed := 0
	for i := range campaigns {
		c := &campaigns[i]
		if string(c.Provider) != providerName {
			continue
		}
		if err := s.Delete(c.LocalID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
