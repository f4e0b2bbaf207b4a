// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

package store

import (
	"github.com/dgraph-io/badger/v4"

	"github.com/meridianhq/meridian/internal/models"
)

// JobConfigStore persists per-tenant recurring job configuration. The
// scheduler rebuilds its trigger registry from this table at process start.
type JobConfigStore struct {
	db *badger.DB
}

func jobConfigKey(tenantID string, kind models.JobKind) string {
	return jobConfigPrefix + tenantID + "|" + string(kind)
}

// Get returns the config for one (tenant, job kind), or ErrNotFound.
func (s *JobConfigStore) Get(tenantID string, kind models.JobKind) (*models.ScheduledJobConfig, error) {
	var cfg models.ScheduledJobConfig
	if err := getJSON(s.db, jobConfigKey(tenantID, kind), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Put creates or replaces a job config.
func (s *JobConfigStore) Put(cfg *models.ScheduledJobConfig) error {
	cfg.UpdatedAt = now()
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSONTxn(txn, jobConfigPrefix+cfg.Key(), cfg)
	})
}

// Delete removes a job config.
func (s *JobConfigStore) Delete(tenantID string, kind models.JobKind) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(jobConfigKey(tenantID, kind)))
	})
}

// List returns every stored job config.
func (s *JobConfigStore) List() ([]models.ScheduledJobConfig, error) {
	var configs []models.ScheduledJobConfig
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(jobConfigPrefix), PrefetchValues: true})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var cfg models.ScheduledJobConfig
			if err := it.Item().Value(func(val []byte) error {
				return unmarshal(val, &cfg)
			}); err != nil {
				return err
			}
			configs = append(configs, cfg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return configs, nil
}
