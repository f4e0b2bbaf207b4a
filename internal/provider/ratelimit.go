// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

package provider

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Gate caps outbound calls to one platform process-wide: a bounded number of
// concurrent calls plus a minimum spacing between call starts. Calls over the
// cap queue on the context rather than fail.
type Gate struct {
	limiter *rate.Limiter
	slots   chan struct{}
}

// GateConfig configures a per-provider call gate.
type GateConfig struct {
	// MaxConcurrent is the number of in-flight calls allowed. Default: 4.
	MaxConcurrent int

	// MinSpacing is the minimum interval between call starts. Zero disables
	// spacing.
	MinSpacing rate.Limit
}

// NewGate creates a call gate. minSpacing is expressed as a rate.Limit, e.g.
// rate.Every(200*time.Millisecond) for at most five call starts per second.
func NewGate(cfg GateConfig) *Gate {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	limit := cfg.MinSpacing
	if limit == 0 {
		limit = rate.Inf
	}
	return &Gate{
		limiter: rate.NewLimiter(limit, 1),
		slots:   make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Acquire blocks until a slot and a rate token are available, or the context
// is done. Every successful Acquire must be paired with Release.
func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case g.slots <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("acquire call slot: %w", ctx.Err())
	}
	if err := g.limiter.Wait(ctx); err != nil {
		<-g.slots
		return fmt.Errorf("rate wait: %w", err)
	}
	return nil
}

// Release returns the slot taken by Acquire.
func (g *Gate) Release() {
	<-g.slots
}
