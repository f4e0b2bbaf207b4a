// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

package provider

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/meridianhq/meridian/internal/models"
)

// The error taxonomy shared by every engine. Remote failures are classified
// exactly once, at the transport boundary, so callers branch on error kind
// instead of provider-specific payloads:
//
//   - NeedsAuthError: credential missing/revoked/insufficient scope. Surfaced
//     to the tenant as a reauthorization link; never retried automatically.
//   - TransientError: timeout, connection failure, 5xx. Retried with bounded
//     backoff.
//   - RateLimitError: 429. Retryable after the advertised delay.
//   - ValidationError: the remote rejected the payload. Not retried; carries
//     the offending fields.
//
// Per-item failures inside a batch are plain errors: logged, skipped, and
// never allowed to abort the page.

// ErrNotSupported is returned by capability methods a provider does not
// implement, e.g. long-lived token exchange on mailgate.
var ErrNotSupported = errors.New("operation not supported by provider")

// NeedsAuthError signals that no usable credential exists and the tenant must
// reauthorize. AuthorizationURL is an actionable link for the tenant.
type NeedsAuthError struct {
	TenantID         string
	Provider         models.Provider
	Reason           string
	AuthorizationURL string
}

func (e *NeedsAuthError) Error() string {
	return fmt.Sprintf("provider %s needs authorization for tenant %s: %s", e.Provider, e.TenantID, e.Reason)
}

// AsNeedsAuth unwraps a NeedsAuthError from an error chain.
func AsNeedsAuth(err error) (*NeedsAuthError, bool) {
	var na *NeedsAuthError
	if errors.As(err, &na) {
		return na, true
	}
	return nil, false
}

// TransientError wraps a failure worth retrying with backoff.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RateLimitError signals a 429 from the remote. RetryAfter is zero when the
// remote did not advertise a delay.
type RateLimitError struct {
	Op         string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited in %s (retry after %s)", e.Op, e.RetryAfter)
}

// ValidationError signals a payload the remote rejected. Not retryable.
type ValidationError struct {
	Op      string
	Message string
	Fields  []string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("validation rejected in %s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("validation rejected in %s: %s (fields: %s)", e.Op, e.Message, strings.Join(e.Fields, ", "))
}

// ErrUnauthorized is the transport-level signal for a 401/403 response. The
// token lifecycle manager translates it into NeedsAuthError with tenant
// context attached.
var ErrUnauthorized = errors.New("provider rejected credential")

// Retryable reports whether an error should be retried with backoff.
// Rate limits count as retryable; the caller decides the spacing.
func Retryable(err error) bool {
	var te *TransientError
	var rl *RateLimitError
	return errors.As(err, &te) || errors.As(err, &rl)
}

// IsRateLimited unwraps a RateLimitError from an error chain.
func IsRateLimited(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// IsValidation unwraps a ValidationError from an error chain.
func IsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
