// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

package mailgate

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/meridianhq/meridian/internal/models"
	"github.com/meridianhq/meridian/internal/provider"
)

// capturedRequest records one call the fake mailgate server received.
type capturedRequest struct {
	method string
	path   string
	auth   string
	body   map[string]any
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *[]capturedRequest) {
	t.Helper()
	var calls []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		req := capturedRequest{method: r.Method, path: r.URL.Path, auth: r.Header.Get("Authorization")}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &req.body); err != nil {
				t.Errorf("request body is not JSON: %v", err)
			}
		}
		calls = append(calls, req)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client := New(Config{
		BaseURL:      srv.URL,
		AuthorizeURL: srv.URL + "/oauth/authorize",
		ClientID:     "cid",
		ClientSecret: "secret",
		RedirectURI:  "https://meridian.test/callback",
		Timeout:      5 * time.Second,
		Gate:         provider.NewGate(provider.GateConfig{}),
	})
	return client, &calls
}

func respondJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func TestSendCarriesConversationID(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(t, w, map[string]string{"id": "ext-1"})
	})

	id, err := client.Send(context.Background(), "tok", models.OutboundPayload{
		From:           "sales@acme.test",
		To:             "buyer@corp.test",
		Subject:        "Re: quote",
		Body:           "Happy to help.",
		ConversationID: "conv-1",
	})
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if id != "ext-1" {
		t.Errorf("Send() ID = %q, want ext-1", id)
	}

	if len(*calls) != 1 {
		t.Fatalf("requests = %d, want 1", len(*calls))
	}
	got := (*calls)[0]
	if got.method != http.MethodPost || got.path != "/v1/messages/send" {
		t.Errorf("request = %s %s, want POST /v1/messages/send", got.method, got.path)
	}
	if got.auth != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", got.auth)
	}
	if got.body["conversation_id"] != "conv-1" {
		t.Errorf("conversation_id = %v, want conv-1; the remote cannot thread the send without it", got.body["conversation_id"])
	}
}

func TestSendFallbackCarriesConversationID(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(t, w, map[string]string{"id": ""})
	})

	if _, err := client.SendFallback(context.Background(), "tok", models.OutboundPayload{
		From:           "sales@acme.test",
		To:             "buyer@corp.test",
		Body:           "Happy to help.",
		ConversationID: "conv-1",
	}); err != nil {
		t.Fatalf("SendFallback() error: %v", err)
	}

	if len(*calls) != 1 {
		t.Fatalf("requests = %d, want 1", len(*calls))
	}
	got := (*calls)[0]
	if got.path != "/v1/outbox/submit" {
		t.Errorf("path = %s, want /v1/outbox/submit", got.path)
	}
	if got.body["conversation_id"] != "conv-1" {
		t.Errorf("conversation_id = %v, want conv-1 on the fallback route too", got.body["conversation_id"])
	}
}

func TestSendOmitsEmptyConversationID(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(t, w, map[string]string{"id": "ext-2"})
	})

	if _, err := client.Send(context.Background(), "tok", models.OutboundPayload{
		From: "sales@acme.test",
		To:   "buyer@corp.test",
		Body: "hi",
	}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if _, present := (*calls)[0].body["conversation_id"]; present {
		t.Error("conversation_id must be omitted when the payload has none")
	}
}

func TestExchangeCodePostsGrant(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(t, w, map[string]any{
			"access_token":  "at",
			"refresh_token": "rt",
			"expires_in":    3600,
		})
	})

	ts, err := client.ExchangeCode(context.Background(), "the-code")
	if err != nil {
		t.Fatalf("ExchangeCode() error: %v", err)
	}
	if ts.AccessToken != "at" || ts.RefreshToken != "rt" || ts.ExpiresIn != time.Hour {
		t.Errorf("token set = %+v, want at/rt/1h", ts)
	}

	got := (*calls)[0]
	if got.path != "/oauth/token" {
		t.Errorf("path = %s, want /oauth/token", got.path)
	}
	if got.body["grant_type"] != "authorization_code" || got.body["code"] != "the-code" {
		t.Errorf("grant body = %v, want authorization_code for the-code", got.body)
	}
}
