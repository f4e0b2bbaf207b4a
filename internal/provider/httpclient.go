// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/meridianhq/meridian/internal/logging"
	"github.com/meridianhq/meridian/internal/metrics"
)

// defaultCallTimeout bounds every provider call. A timeout is a retryable
// failure, never a success.
const defaultCallTimeout = 30 * time.Second

// Client is the shared JSON-over-HTTP transport the concrete platform clients
// are built on. Every call passes the provider's rate gate and circuit
// breaker, carries a bounded timeout, and has its outcome classified into the
// package error taxonomy exactly once.
type Client struct {
	name    string
	baseURL string
	http    *http.Client
	gate    *Gate
	breaker *Breaker
}

// ClientConfig configures the shared transport for one platform.
type ClientConfig struct {
	// Name labels the platform in logs, metrics, and breaker state.
	Name string

	// BaseURL is the platform API root, without a trailing slash.
	BaseURL string

	// Timeout bounds each call. Default: 30s.
	Timeout time.Duration

	// Gate caps concurrency and call spacing. Required.
	Gate *Gate
}

// NewClient creates a transport for one platform.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Client{
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		gate:    cfg.Gate,
		breaker: NewBreaker(cfg.Name),
	}
}

// httpResult is the raw outcome of a round trip, classified by the caller.
type httpResult struct {
	status     int
	body       []byte
	retryAfter time.Duration
}

// remoteError is the generic error envelope the platforms return. Only the
// message and field list ever leave the transport; provider-internal payloads
// are not propagated.
type remoteError struct {
	Error struct {
		Message string   `json:"message"`
		Fields  []string `json:"fields"`
	} `json:"error"`
}

// Do performs one JSON call. body and out may be nil. op names the logical
// operation for error messages and metrics ("mailgate.list_changes").
func (c *Client) Do(ctx context.Context, op, method, path, token string, body, out any) error {
	if err := c.gate.Acquire(ctx); err != nil {
		return &TransientError{Op: op, Err: err}
	}
	defer c.gate.Release()

	res, err := c.breaker.Execute(func() (httpResult, error) {
		return c.roundTrip(ctx, method, path, token, body)
	})
	if err != nil {
		metrics.ProviderRequests.WithLabelValues(c.name, "transport_error").Inc()
		return &TransientError{Op: op, Err: err}
	}

	if err := classifyStatus(op, res); err != nil {
		metrics.ProviderRequests.WithLabelValues(c.name, strconv.Itoa(res.status)).Inc()
		return err
	}
	metrics.ProviderRequests.WithLabelValues(c.name, "success").Inc()

	if out == nil || len(res.body) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// roundTrip runs inside the circuit breaker. It returns an error only for
// transport failures and 5xx responses so that remote-side validation errors
// do not trip the breaker.
func (c *Client) roundTrip(ctx context.Context, method, path, token string, body any) (httpResult, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return httpResult{}, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return httpResult{}, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return httpResult{}, err
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return httpResult{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		logging.Warn().Str("provider", c.name).Int("status", resp.StatusCode).Str("path", path).Msg("Provider returned server error")
		return httpResult{}, fmt.Errorf("server error %d", resp.StatusCode)
	}

	return httpResult{
		status:     resp.StatusCode,
		body:       payload,
		retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}, nil
}

// classifyStatus maps non-5xx responses onto the error taxonomy.
func classifyStatus(op string, res httpResult) error {
	switch {
	case res.status >= 200 && res.status < 300:
		return nil
	case res.status == http.StatusUnauthorized || res.status == http.StatusForbidden:
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	case res.status == http.StatusTooManyRequests:
		return &RateLimitError{Op: op, RetryAfter: res.retryAfter}
	case res.status == http.StatusBadRequest || res.status == http.StatusUnprocessableEntity:
		var re remoteError
		//nolint:errcheck // an undecodable error body degrades to a generic message
		json.Unmarshal(res.body, &re)
		msg := re.Error.Message
		if msg == "" {
			msg = fmt.Sprintf("request rejected with status %d", res.status)
		}
		return &ValidationError{Op: op, Message: msg, Fields: re.Error.Fields}
	default:
		// Unexpected but well-formed response; treat as transient so the
		// caller backs off instead of discarding work.
		return &TransientError{Op: op, Err: fmt.Errorf("unexpected status %d", res.status)}
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
