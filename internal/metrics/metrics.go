// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

// Package metrics exposes Prometheus instrumentation for the sync engines,
// token lifecycle, scheduler, and provider transport.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync engine

	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_sync_runs_total",
			Help: "Partition sync runs by resource and outcome",
		},
		[]string{"resource", "outcome"}, // outcome: success, needs_auth, error
	)

	SyncItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_sync_items_processed_total",
			Help: "Items upserted by partition resource",
		},
		[]string{"resource"},
	)

	SyncItemsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_sync_items_skipped_total",
			Help: "Items skipped by classification or per-item failure",
		},
		[]string{"resource", "reason"}, // reason: unclassified, item_error
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meridian_sync_duration_seconds",
			Help:    "Duration of partition sync runs",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"resource"},
	)

	// Token lifecycle

	TokenCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meridian_token_cache_hits_total",
			Help: "Token requests served from the stored unexpired credential",
		},
	)

	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_token_refreshes_total",
			Help: "Credential refresh attempts by provider and outcome",
		},
		[]string{"provider", "outcome"}, // outcome: success, needs_auth, transient, degraded
	)

	// Scheduler

	SchedulerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_scheduler_runs_total",
			Help: "Job invocations by kind and outcome",
		},
		[]string{"job_kind", "outcome"}, // outcome: success, error
	)

	SchedulerDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_scheduler_drops_total",
			Help: "Trigger firings dropped because the previous run was still in flight",
		},
		[]string{"job_kind"},
	)

	SchedulerTriggers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meridian_scheduler_triggers",
			Help: "Currently installed recurring triggers",
		},
	)

	// Outbound delivery

	OutboundDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_outbound_deliveries_total",
			Help: "Outbound delivery attempts by route and outcome",
		},
		[]string{"route", "outcome"}, // route: primary, fallback; outcome: confirmed, pending, failed
	)

	// Diff/patch engine

	PatchFields = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meridian_patch_changed_fields",
			Help:    "Number of changed fields per emitted patch",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)

	// Provider transport

	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_provider_requests_total",
			Help: "Provider API calls by platform and result",
		},
		[]string{"provider", "result"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meridian_breaker_state",
			Help: "Circuit breaker state per platform (0=closed, 1=half-open, 2=open)",
		},
		[]string{"provider"},
	)
)

// ObserveSyncRun records the outcome of one partition sync run.
func ObserveSyncRun(resource, outcome string, duration time.Duration) {
	SyncRuns.WithLabelValues(resource, outcome).Inc()
	SyncDuration.WithLabelValues(resource).Observe(duration.Seconds())
}
