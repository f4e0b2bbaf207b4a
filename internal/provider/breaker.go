// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

package provider

import (
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/meridianhq/meridian/internal/logging"
	"github.com/meridianhq/meridian/internal/metrics"
)

// Breaker wraps provider round trips with a circuit breaker so a degraded
// platform sheds load quickly instead of tying up sync workers.
//
// Only transport failures and 5xx responses count as breaker failures;
// remote-side validation rejections pass through as successes at this layer.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker[httpResult]
	name string
}

// NewBreaker creates a breaker for one platform:
//   - opens at >= 60% failures over a minimum of 10 requests
//   - 1 minute measurement window, 2 minutes before half-open
//   - 3 trial requests in half-open state
func NewBreaker(name string) *Breaker {
	metrics.BreakerState.WithLabelValues(name).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[httpResult](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("provider", name).
				Str("from", breakerStateString(from)).
				Str("to", breakerStateString(to)).
				Msg("Circuit breaker state transition")
			metrics.BreakerState.WithLabelValues(name).Set(breakerStateFloat(to))
		},
	})

	return &Breaker{cb: cb, name: name}
}

// Execute runs fn under breaker protection.
func (b *Breaker) Execute(fn func() (httpResult, error)) (httpResult, error) {
	return b.cb.Execute(fn)
}

func breakerStateFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func breakerStateString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
