// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

// Package config defines the daemon configuration and its layered loader.
// Precedence: environment variables over config file over built-in defaults.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the complete daemon configuration.
type Config struct {
	Logging   LoggingConfig   `koanf:"logging"`
	Storage   StorageConfig   `koanf:"storage"`
	Server    ServerConfig    `koanf:"server"`
	Sync      SyncConfig      `koanf:"sync"`
	Outbound  OutboundConfig  `koanf:"outbound"`
	Token     TokenConfig     `koanf:"token"`
	Providers ProvidersConfig `koanf:"providers"`
	Notify    NotifyConfig    `koanf:"notify"`
	Classify  ClassifyConfig  `koanf:"classify"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// StorageConfig controls the embedded database.
type StorageConfig struct {
	Path       string        `koanf:"path" validate:"required"`
	GCInterval time.Duration `koanf:"gc_interval" validate:"min=1m"`
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout         time.Duration `koanf:"timeout"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"min=1s"`
}

// AutoReplyConfig is the first-touch reply for new leads.
type AutoReplyConfig struct {
	Enabled bool   `koanf:"enabled"`
	From    string `koanf:"from" validate:"omitempty,email"`
	Subject string `koanf:"subject"`
	Body    string `koanf:"body"`
}

// SyncConfig tunes the delta sync engine.
type SyncConfig struct {
	Lookback       time.Duration   `koanf:"lookback" validate:"min=1h"`
	PageSize       int             `koanf:"page_size" validate:"min=1,max=1000"`
	MaxPagesPerRun int             `koanf:"max_pages_per_run" validate:"min=1"`
	RetryAttempts  int             `koanf:"retry_attempts" validate:"min=1,max=10"`
	RetryDelay     time.Duration   `koanf:"retry_delay"`
	AutoReply      AutoReplyConfig `koanf:"auto_reply"`
}

// OutboundConfig tunes the delivery engine.
type OutboundConfig struct {
	PollAttempts int           `koanf:"poll_attempts" validate:"min=1,max=10"`
	PollSpacing  time.Duration `koanf:"poll_spacing" validate:"min=100ms"`
	SentLookback time.Duration `koanf:"sent_lookback"`
	SentLimit    int           `koanf:"sent_limit" validate:"min=1"`
}

// TokenConfig tunes the credential lifecycle manager.
type TokenConfig struct {
	ExpiryMargin time.Duration `koanf:"expiry_margin" validate:"min=1s"`
}

// PlatformConfig is the connection settings for one external platform.
type PlatformConfig struct {
	BaseURL       string        `koanf:"base_url" validate:"omitempty,url"`
	AuthorizeURL  string        `koanf:"authorize_url" validate:"omitempty,url"`
	ClientID      string        `koanf:"client_id"`
	ClientSecret  string        `koanf:"client_secret"`
	RedirectURI   string        `koanf:"redirect_uri" validate:"omitempty,url"`
	Timeout       time.Duration `koanf:"timeout"`
	MaxConcurrent int           `koanf:"max_concurrent" validate:"min=0,max=64"`
	MinSpacing    time.Duration `koanf:"min_spacing"`
}

// ProvidersConfig groups the platform connections.
type ProvidersConfig struct {
	Mailgate PlatformConfig `koanf:"mailgate"`
	Adstream PlatformConfig `koanf:"adstream"`
}

// NotifyConfig controls event publishing. With Enabled false, events go to
// the structured log only.
type NotifyConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url" validate:"required_if=Enabled true"`
}

// ClassifyConfig overrides the default lead keyword set.
type ClassifyConfig struct {
	Keywords []string `koanf:"keywords"`
}

// Validate checks the configuration with struct tags plus the cross-field
// rules tags cannot express.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Sync.AutoReply.Enabled && c.Sync.AutoReply.From == "" {
		return fmt.Errorf("invalid configuration: sync.auto_reply.from is required when auto-reply is enabled")
	}
	return nil
}
