// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

// Package store persists Meridian's state in BadgerDB: credentials, sync
// cursors, synced records (leads, campaign mirrors), pending outbound actions,
// and scheduled job configs. Multi-row invariants (status non-regression,
// cursor gating, single confirmed action per correlation key) are enforced in
// the store methods inside single transactions; callers never need to
// compose raw reads and writes.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/meridianhq/meridian/internal/logging"
)

// Key prefixes. One keyspace, one DB, prefix-scanned per concern.
const (
	credPrefix        = "cred:"
	cursorPrefix      = "cursor:"
	leadPrefix        = "lead:"
	campaignPrefix    = "campaign:"
	campaignExtPrefix = "campaign_ext:"
	outboundPrefix    = "outbound:"
	jobConfigPrefix   = "jobcfg:"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Open opens (or creates) the badger database at path.
func Open(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return db, nil
}

// Stores bundles the per-concern stores sharing one badger DB.
type Stores struct {
	Credentials *CredentialStore
	Cursors     *CursorStore
	Leads       *LeadStore
	Campaigns   *CampaignStore
	Outbound    *OutboundStore
	JobConfigs  *JobConfigStore

	db *badger.DB
}

// New wires all stores over one open database.
func New(db *badger.DB) *Stores {
	return &Stores{
		Credentials: &CredentialStore{db: db},
		Cursors:     &CursorStore{db: db},
		Leads:       &LeadStore{db: db},
		Campaigns:   &CampaignStore{db: db},
		Outbound:    &OutboundStore{db: db},
		JobConfigs:  &JobConfigStore{db: db},
		db:          db,
	}
}

// RunGC runs one badger value-log GC cycle. Returns badger.ErrNoRewrite when
// there was nothing to collect.
func (s *Stores) RunGC() error {
	return s.db.RunValueLogGC(0.5)
}

// Disconnect removes every credential a tenant holds for a provider and
// cascades to the dependent synced state: leads sourced from the provider,
// campaign mirrors on it, and its sync cursors. Pending outbound actions are
// kept; they are tenant history, not provider state.
func (s *Stores) Disconnect(tenantID string, providerName string) error {
	if err := s.Credentials.DeleteByProvider(tenantID, providerName); err != nil {
		return fmt.Errorf("disconnect credentials: %w", err)
	}
	leads, err := s.Leads.DeleteByProvider(tenantID, providerName)
	if err != nil {
		return fmt.Errorf("disconnect leads: %w", err)
	}
	campaigns, err := s.Campaigns.DeleteByProvider(tenantID, providerName)
	if err != nil {
		return fmt.Errorf("disconnect campaigns: %w", err)
	}
	if err := s.Cursors.DeleteByProvider(tenantID, providerName); err != nil {
		return fmt.Errorf("disconnect cursors: %w", err)
	}
	logging.Info().
		Str("tenant", tenantID).
		Str("provider", providerName).
		Int("leads_removed", leads).
		Int("campaigns_removed", campaigns).
		Msg("Provider disconnected")
	return nil
}

// getJSON reads and decodes one key inside a view transaction.
func getJSON(db *badger.DB, key string, out any) error {
	return db.View(func(txn *badger.Txn) error {
		return getJSONTxn(txn, key, out)
	})
}

func getJSONTxn(txn *badger.Txn, key string, out any) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		return unmarshal(val, out)
	})
}

func setJSONTxn(txn *badger.Txn, key string, v any) error {
	data, err := marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := txn.Set([]byte(key), data); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// deleteByPrefix removes every key with the given prefix, optionally filtered.
// Returns the number of deleted records.
func deleteByPrefix(db *badger.DB, prefix string, keep func(key string, val []byte) bool) (int, error) {
	var doomed [][]byte

	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefix), PrefetchValues: keep != nil})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if keep != nil {
				skip := false
				if err := item.Value(func(val []byte) error {
					skip = keep(string(item.Key()), val)
					return nil
				}); err != nil {
					return err
				}
				if skip {
					continue
				}
			}
			doomed = append(doomed, item.KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	// Deletes batched separately; badger transactions have a size ceiling.
	for _, key := range doomed {
		if err := db.Update(func(txn *badger.Txn) error {
			return txn.Delete(key)
		}); err != nil {
			return 0, fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return len(doomed), nil
}

func now() time.Time { return time.Now().UTC() }
