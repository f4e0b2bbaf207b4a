// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

package services

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/meridianhq/meridian/internal/logging"
)

// GarbageCollector matches *store.Stores.RunGC.
type GarbageCollector interface {
	RunGC() error
}

// GCService runs periodic value-log garbage collection on the embedded
// database. badger requires the caller to drive GC; without this service the
// value log grows without bound.
type GCService struct {
	stores   GarbageCollector
	interval time.Duration
}

// NewGCService wraps the store GC as a supervised service.
func NewGCService(stores GarbageCollector, interval time.Duration) *GCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &GCService{stores: stores, interval: interval}
}

// Serve implements suture.Service. ErrNoRewrite means nothing was worth
// collecting and is not a failure.
func (g *GCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// Repeat while there is something to rewrite; each call collects
			// at most one value-log file.
			for {
				err := g.stores.RunGC()
				if errors.Is(err, badger.ErrNoRewrite) {
					break
				}
				if err != nil {
					logging.Warn().Err(err).Msg("Value log GC failed")
					break
				}
				logging.Debug().Msg("Value log GC collected a file")
			}
		}
	}
}

// String identifies the service in supervisor logs.
func (g *GCService) String() string {
	return "badger-gc"
}
