// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

// Package mailgate implements the provider capability set for the mailgate
// email/directory platform: OAuth code exchange and refresh, the mailbox
// delta feed, and primary/fallback message delivery.
package mailgate

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/meridianhq/meridian/internal/models"
	"github.com/meridianhq/meridian/internal/provider"
)

// Client talks to the mailgate REST API through the shared rate-gated
// transport. It implements provider.AuthAPI and provider.MessageAPI.
type Client struct {
	transport    *provider.Client
	clientID     string
	clientSecret string
	redirectURI  string
	authorizeURL string
}

// Config holds mailgate connection settings.
type Config struct {
	BaseURL      string
	AuthorizeURL string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Timeout      time.Duration
	Gate         *provider.Gate
}

// New creates a mailgate client.
func New(cfg Config) *Client {
	return &Client{
		transport: provider.NewClient(provider.ClientConfig{
			Name:    string(models.ProviderMailgate),
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
			Gate:    cfg.Gate,
		}),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURI:  cfg.RedirectURI,
		authorizeURL: cfg.AuthorizeURL,
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

func (r tokenResponse) toTokenSet() provider.TokenSet {
	return provider.TokenSet{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresIn:    time.Duration(r.ExpiresIn) * time.Second,
	}
}

// ExchangeCode implements provider.AuthAPI.
func (c *Client) ExchangeCode(ctx context.Context, code string) (provider.TokenSet, error) {
	req := map[string]string{
		"grant_type":    "authorization_code",
		"code":          code,
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"redirect_uri":  c.redirectURI,
	}
	var resp tokenResponse
	if err := c.transport.Do(ctx, "mailgate.exchange_code", "POST", "/oauth/token", "", req, &resp); err != nil {
		return provider.TokenSet{}, err
	}
	return resp.toTokenSet(), nil
}

// Refresh implements provider.AuthAPI.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (provider.TokenSet, error) {
	req := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
	}
	var resp tokenResponse
	if err := c.transport.Do(ctx, "mailgate.refresh", "POST", "/oauth/token", "", req, &resp); err != nil {
		return provider.TokenSet{}, err
	}
	return resp.toTokenSet(), nil
}

// ExchangeLongLived implements provider.AuthAPI. Mailgate has no long-lived
// token mechanism.
func (c *Client) ExchangeLongLived(ctx context.Context, shortLived string) (provider.TokenSet, error) {
	return provider.TokenSet{}, provider.ErrNotSupported
}

// AuthorizationURL implements provider.AuthAPI.
func (c *Client) AuthorizationURL(tenantID string, scopes []string) string {
	q := url.Values{}
	q.Set("client_id", c.clientID)
	q.Set("redirect_uri", c.redirectURI)
	q.Set("response_type", "code")
	q.Set("scope", strings.Join(scopes, " "))
	q.Set("state", tenantID)
	return c.authorizeURL + "?" + q.Encode()
}

type messageDTO struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	From           string `json:"from"`
	To             string `json:"to"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	ReceivedAt     int64  `json:"received_at"` // unix seconds
}

func (d messageDTO) toModel() models.Message {
	return models.Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		From:           d.From,
		To:             d.To,
		Subject:        d.Subject,
		Body:           d.Body,
		ReceivedAt:     time.Unix(d.ReceivedAt, 0).UTC(),
	}
}

type changesResponse struct {
	Items      []messageDTO `json:"items"`
	NextCursor string       `json:"next_cursor"`
}

// ListChanges implements provider.MessageAPI. With a cursor the native delta
// feed is used; without one a bounded lookback window is requested instead of
// full mailbox history.
func (c *Client) ListChanges(ctx context.Context, token, mailbox, cursor string, lookback time.Duration, pageSize int) (provider.MessagePage, error) {
	q := url.Values{}
	q.Set("mailbox", mailbox)
	q.Set("limit", fmt.Sprintf("%d", pageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	} else {
		q.Set("since", fmt.Sprintf("%d", time.Now().Add(-lookback).Unix()))
	}

	var resp changesResponse
	if err := c.transport.Do(ctx, "mailgate.list_changes", "GET", "/v1/messages/delta?"+q.Encode(), token, nil, &resp); err != nil {
		return provider.MessagePage{}, err
	}

	page := provider.MessagePage{NextCursor: resp.NextCursor}
	for _, item := range resp.Items {
		page.Items = append(page.Items, item.toModel())
	}
	return page, nil
}

// ListSent implements provider.MessageAPI.
func (c *Client) ListSent(ctx context.Context, token string, since time.Time, limit int) ([]models.Message, error) {
	q := url.Values{}
	q.Set("since", fmt.Sprintf("%d", since.Unix()))
	q.Set("limit", fmt.Sprintf("%d", limit))

	var resp changesResponse
	if err := c.transport.Do(ctx, "mailgate.list_sent", "GET", "/v1/messages/sent?"+q.Encode(), token, nil, &resp); err != nil {
		return nil, err
	}

	items := make([]models.Message, 0, len(resp.Items))
	for _, item := range resp.Items {
		items = append(items, item.toModel())
	}
	return items, nil
}

type sendRequest struct {
	From           string `json:"from"`
	To             string `json:"to"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

// Send implements provider.MessageAPI. The returned ID may be empty: some
// mailgate deployments queue the send and assign the ID asynchronously.
func (c *Client) Send(ctx context.Context, token string, payload models.OutboundPayload) (string, error) {
	var resp sendResponse
	err := c.transport.Do(ctx, "mailgate.send", "POST", "/v1/messages/send", token, sendRequest{
		From:           payload.From,
		To:             payload.To,
		Subject:        payload.Subject,
		Body:           payload.Body,
		ConversationID: payload.ConversationID,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// SendFallback implements provider.MessageAPI using the legacy submit
// endpoint, which is slower but availability-isolated from the primary path.
func (c *Client) SendFallback(ctx context.Context, token string, payload models.OutboundPayload) (string, error) {
	var resp sendResponse
	err := c.transport.Do(ctx, "mailgate.send_fallback", "POST", "/v1/outbox/submit", token, sendRequest{
		From:           payload.From,
		To:             payload.To,
		Subject:        payload.Subject,
		Body:           payload.Body,
		ConversationID: payload.ConversationID,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}
