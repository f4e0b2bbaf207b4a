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

// OutboundStore persists pending outbound actions. One record exists per
// (tenant, correlation key): a repeated deliver for the same conversation
// reuses the existing row instead of duplicating it, and confirmation
// supersedes the pending state in place.
type OutboundStore struct {
	db *badger.DB
}

func outboundKey(tenantID, correlationKey string) string {
	return outboundPrefix + tenantID + "|" + correlationKey
}

// Create writes the durable pending row before any network attempt. If a row
// already exists for the correlation key it is returned unchanged; callers
// check State to decide whether the action still needs delivery. Returns the
// stored action and whether this call created it.
func (s *OutboundStore) Create(tenantID, correlationKey string, payload models.OutboundPayload) (*models.PendingOutboundAction, bool, error) {
	key := outboundKey(tenantID, correlationKey)
	var stored models.PendingOutboundAction
	var created bool

	err := s.db.Update(func(txn *badger.Txn) error {
		err := getJSONTxn(txn, key, &stored)
		if err == nil {
			return nil // existing row wins, pending or confirmed
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		created = true
		stored = models.PendingOutboundAction{
			ID:             uuid.NewString(),
			TenantID:       tenantID,
			CorrelationKey: correlationKey,
			Payload:        payload,
			State:          models.OutboundPending,
			CreatedAt:      now(),
		}
		return setJSONTxn(txn, key, &stored)
	})
	if err != nil {
		return nil, false, fmt.Errorf("create outbound action %s: %w", key, err)
	}
	return &stored, created, nil
}

// Get returns the action for a correlation key, or ErrNotFound.
func (s *OutboundStore) Get(tenantID, correlationKey string) (*models.PendingOutboundAction, error) {
	var action models.PendingOutboundAction
	if err := getJSON(s.db, outboundKey(tenantID, correlationKey), &action); err != nil {
		return nil, err
	}
	return &action, nil
}

// Confirm transitions the action to confirmed with its resolved external ID.
// Confirming an already-confirmed action with the same external ID is a
// no-op; a different external ID is rejected, since a confirmed action holds
// exactly one.
func (s *OutboundStore) Confirm(tenantID, correlationKey, externalID string) error {
	if externalID == "" {
		return fmt.Errorf("confirm outbound action: empty external id")
	}
	key := outboundKey(tenantID, correlationKey)
	return s.db.Update(func(txn *badger.Txn) error {
		var action models.PendingOutboundAction
		if err := getJSONTxn(txn, key, &action); err != nil {
			return err
		}
		if action.State == models.OutboundConfirmed {
			if action.ExternalID != externalID {
				return fmt.Errorf("outbound action %s already confirmed with %s", correlationKey, action.ExternalID)
			}
			return nil
		}
		action.State = models.OutboundConfirmed
		action.ExternalID = externalID
		action.ConfirmedAt = now()
		return setJSONTxn(txn, key, &action)
	})
}

// ListPending returns the tenant's unconfirmed actions, for the sync-driven
// reconciliation pass.
func (s *OutboundStore) ListPending(tenantID string) ([]models.PendingOutboundAction, error) {
	var pending []models.PendingOutboundAction
	prefix := outboundPrefix + tenantID + "|"
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefix), PrefetchValues: true})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var action models.PendingOutboundAction
			if err := it.Item().Value(func(val []byte) error {
				return unmarshal(val, &action)
			}); err != nil {
				return err
			}
			if action.State == models.OutboundPending {
				pending = append(pending, action)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pending, nil
}
