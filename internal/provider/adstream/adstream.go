// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

// Package adstream implements the provider capability set for the adstream
// advertising platform: OAuth with long-lived token exchange, the campaign
// changes feed, and campaign create/patch/status/delete operations.
package adstream

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/meridianhq/meridian/internal/models"
	"github.com/meridianhq/meridian/internal/provider"
)

// Client talks to the adstream REST API through the shared rate-gated
// transport. It implements provider.AuthAPI and provider.CampaignAPI.
type Client struct {
	transport    *provider.Client
	clientID     string
	clientSecret string
	redirectURI  string
	authorizeURL string
}

// Config holds adstream connection settings.
type Config struct {
	BaseURL      string
	AuthorizeURL string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Timeout      time.Duration
	Gate         *provider.Gate
}

// New creates an adstream client.
func New(cfg Config) *Client {
	return &Client{
		transport: provider.NewClient(provider.ClientConfig{
			Name:    string(models.ProviderAdstream),
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
	if err := c.transport.Do(ctx, "adstream.exchange_code", "POST", "/oauth/access_token", "", req, &resp); err != nil {
		return provider.TokenSet{}, err
	}
	return resp.toTokenSet(), nil
}

// Refresh implements provider.AuthAPI. Adstream user tokens carry no refresh
// token; deployments that do issue one still go through this endpoint.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (provider.TokenSet, error) {
	req := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
	}
	var resp tokenResponse
	if err := c.transport.Do(ctx, "adstream.refresh", "POST", "/oauth/access_token", "", req, &resp); err != nil {
		return provider.TokenSet{}, err
	}
	return resp.toTokenSet(), nil
}

// ExchangeLongLived implements provider.AuthAPI. Adstream supports trading a
// short-lived user token for a ~60 day token without tenant interaction.
func (c *Client) ExchangeLongLived(ctx context.Context, shortLived string) (provider.TokenSet, error) {
	q := url.Values{}
	q.Set("grant_type", "exchange_token")
	q.Set("client_id", c.clientID)
	q.Set("client_secret", c.clientSecret)
	q.Set("access_token", shortLived)

	var resp tokenResponse
	if err := c.transport.Do(ctx, "adstream.exchange_long_lived", "GET", "/oauth/access_token?"+q.Encode(), "", nil, &resp); err != nil {
		return provider.TokenSet{}, err
	}
	return resp.toTokenSet(), nil
}

// AuthorizationURL implements provider.AuthAPI.
func (c *Client) AuthorizationURL(tenantID string, scopes []string) string {
	q := url.Values{}
	q.Set("client_id", c.clientID)
	q.Set("redirect_uri", c.redirectURI)
	q.Set("response_type", "code")
	q.Set("scope", strings.Join(scopes, ","))
	q.Set("state", tenantID)
	return c.authorizeURL + "?" + q.Encode()
}

type campaignDTO struct {
	ID        string               `json:"id"`
	Status    string               `json:"status"`
	Name      string               `json:"name"`
	Objective string               `json:"objective"`
	Budget    int64                `json:"daily_budget_cents"`
	StartDate string               `json:"start_date"`
	EndDate   string               `json:"end_date"`
	Targeting models.TargetingSpec `json:"targeting"`
}

func (d campaignDTO) toRemote() provider.RemoteCampaign {
	return provider.RemoteCampaign{
		ExternalID: d.ID,
		Lifecycle:  models.CampaignLifecycle(d.Status),
		State: models.CampaignState{
			Name:             d.Name,
			Objective:        d.Objective,
			DailyBudgetCents: d.Budget,
			StartDate:        d.StartDate,
			EndDate:          d.EndDate,
			Targeting:        d.Targeting,
		},
	}
}

type changesResponse struct {
	Items      []campaignDTO `json:"items"`
	NextCursor string        `json:"next_cursor"`
}

// ListChanges implements provider.CampaignAPI.
func (c *Client) ListChanges(ctx context.Context, token, accountID, cursor string, lookback time.Duration, pageSize int) (provider.CampaignPage, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", pageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	} else {
		q.Set("updated_since", fmt.Sprintf("%d", time.Now().Add(-lookback).Unix()))
	}

	var resp changesResponse
	path := fmt.Sprintf("/v2/accounts/%s/campaigns/changes?%s", url.PathEscape(accountID), q.Encode())
	if err := c.transport.Do(ctx, "adstream.list_changes", "GET", path, token, nil, &resp); err != nil {
		return provider.CampaignPage{}, err
	}

	page := provider.CampaignPage{NextCursor: resp.NextCursor}
	for _, item := range resp.Items {
		page.Items = append(page.Items, item.toRemote())
	}
	return page, nil
}

type createResponse struct {
	ID string `json:"id"`
}

// Create implements provider.CampaignAPI.
func (c *Client) Create(ctx context.Context, token, accountID string, state models.CampaignState) (string, error) {
	var resp createResponse
	path := fmt.Sprintf("/v2/accounts/%s/campaigns", url.PathEscape(accountID))
	if err := c.transport.Do(ctx, "adstream.create", "POST", path, token, state, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Patch implements provider.CampaignAPI. The payload is the minimal changed
// field set produced by the diff engine, already in the remote's nested shape.
func (c *Client) Patch(ctx context.Context, token, externalID string, payload map[string]any) error {
	path := fmt.Sprintf("/v2/campaigns/%s", url.PathEscape(externalID))
	return c.transport.Do(ctx, "adstream.patch", "PATCH", path, token, payload, nil)
}

// UpdateStatus implements provider.CampaignAPI.
func (c *Client) UpdateStatus(ctx context.Context, token, externalID string, lifecycle models.CampaignLifecycle) error {
	path := fmt.Sprintf("/v2/campaigns/%s/status", url.PathEscape(externalID))
	return c.transport.Do(ctx, "adstream.update_status", "POST", path, token, map[string]string{
		"status": string(lifecycle),
	}, nil)
}

// Delete implements provider.CampaignAPI. The engine only calls this for
// drafts; active campaigns are transitioned to pending_deletion instead.
func (c *Client) Delete(ctx context.Context, token, externalID string) error {
	path := fmt.Sprintf("/v2/campaigns/%s", url.PathEscape(externalID))
	return c.transport.Do(ctx, "adstream.delete", "DELETE", path, token, nil, nil)
}
