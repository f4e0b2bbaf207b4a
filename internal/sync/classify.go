// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

package sync

import (
	"strings"
	stdsync "sync"
)

// defaultKeywords matches the common buying-intent vocabulary when a tenant
// has not configured its own rules.
var defaultKeywords = []string{
	"quote", "pricing", "demo", "interested", "inquiry", "information",
}

// Classifier decides whether an inbound message represents a lead. Matching
// is a case-insensitive substring check of subject and body against the
// tenant's keyword rules, falling back to the default set.
type Classifier struct {
	defaults []string

	mu     stdsync.RWMutex
	tenant map[string][]string
}

// NewClassifier creates a classifier. A nil or empty defaults slice selects
// the built-in keyword set.
func NewClassifier(defaults []string) *Classifier {
	if len(defaults) == 0 {
		defaults = defaultKeywords
	}
	lowered := make([]string, len(defaults))
	for i, kw := range defaults {
		lowered[i] = strings.ToLower(kw)
	}
	return &Classifier{defaults: lowered, tenant: make(map[string][]string)}
}

// SetTenantRules installs per-tenant keyword rules, replacing any previous
// set. An empty slice reverts the tenant to the defaults.
func (c *Classifier) SetTenantRules(tenantID string, keywords []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(keywords) == 0 {
		delete(c.tenant, tenantID)
		return
	}
	lowered := make([]string, len(keywords))
	for i, kw := range keywords {
		lowered[i] = strings.ToLower(kw)
	}
	c.tenant[tenantID] = lowered
}

// IsLead reports whether the message matches the tenant's lead rules.
func (c *Classifier) IsLead(tenantID, subject, body string) bool {
	c.mu.RLock()
	keywords, ok := c.tenant[tenantID]
	c.mu.RUnlock()
	if !ok {
		keywords = c.defaults
	}

	haystack := strings.ToLower(subject + " " + body)
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}
