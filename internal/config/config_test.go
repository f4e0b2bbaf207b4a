// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 8537 {
		t.Errorf("server.port = %d, want 8537", cfg.Server.Port)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v, want info/json defaults", cfg.Logging)
	}
	if cfg.Sync.Lookback != 7*24*time.Hour {
		t.Errorf("sync.lookback = %s, want 168h", cfg.Sync.Lookback)
	}
	if cfg.Outbound.PollAttempts != 3 || cfg.Outbound.PollSpacing != 2*time.Second {
		t.Errorf("outbound = %+v, want bounded 3x2s poll defaults", cfg.Outbound)
	}
	if cfg.Sync.AutoReply.Enabled {
		t.Error("auto-reply should be off by default")
	}
	if cfg.Notify.Enabled {
		t.Error("event publishing should be off by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MERIDIAN_SERVER_PORT", "9000")
	t.Setenv("MERIDIAN_LOGGING_LEVEL", "debug")
	t.Setenv("MERIDIAN_STORAGE_GC_INTERVAL", "30m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("server.port = %d, want env override 9000", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Storage.GCInterval != 30*time.Minute {
		t.Errorf("storage.gc_interval = %s, want 30m", cfg.Storage.GCInterval)
	}
}

func TestLoadNestedEnvOverrides(t *testing.T) {
	t.Setenv("MERIDIAN_SYNC__AUTO_REPLY__ENABLED", "true")
	t.Setenv("MERIDIAN_SYNC__AUTO_REPLY__FROM", "sales@acme.test")
	t.Setenv("MERIDIAN_PROVIDERS__MAILGATE__CLIENT_ID", "client-abc")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.Sync.AutoReply.Enabled || cfg.Sync.AutoReply.From != "sales@acme.test" {
		t.Errorf("auto_reply = %+v, want nested env override applied", cfg.Sync.AutoReply)
	}
	if cfg.Providers.Mailgate.ClientID != "client-abc" {
		t.Errorf("mailgate.client_id = %q, want client-abc", cfg.Providers.Mailgate.ClientID)
	}
}

func TestLoadKeywordListFromEnv(t *testing.T) {
	t.Setenv("MERIDIAN_CLASSIFY_KEYWORDS", "rfp, tender ,proposal")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	want := []string{"rfp", "tender", "proposal"}
	if !reflect.DeepEqual(cfg.Classify.Keywords, want) {
		t.Errorf("classify.keywords = %v, want %v", cfg.Classify.Keywords, want)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: 9100
sync:
  page_size: 250
providers:
  adstream:
    client_id: ads-client
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("server.port = %d, want 9100 from file", cfg.Server.Port)
	}
	if cfg.Sync.PageSize != 250 {
		t.Errorf("sync.page_size = %d, want 250", cfg.Sync.PageSize)
	}
	if cfg.Providers.Adstream.ClientID != "ads-client" {
		t.Errorf("adstream.client_id = %q, want ads-client", cfg.Providers.Adstream.ClientID)
	}
	// Untouched sections keep their defaults.
	if cfg.Storage.Path != "/data/meridian" {
		t.Errorf("storage.path = %q, want default", cfg.Storage.Path)
	}
}

func TestEnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9100\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("MERIDIAN_SERVER_PORT", "9200")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 9200 {
		t.Errorf("server.port = %d, want env to beat the file", cfg.Server.Port)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"port out of range", "MERIDIAN_SERVER_PORT", "0"},
		{"bad log level", "MERIDIAN_LOGGING_LEVEL", "verbose"},
		{"page size too large", "MERIDIAN_SYNC_PAGE_SIZE", "5000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load() error = nil, want validation failure for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestValidateAutoReplyCrossField(t *testing.T) {
	cfg := defaultConfig()
	cfg.Sync.AutoReply.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() error = nil, want failure for enabled auto-reply without a from address")
	}
	cfg.Sync.AutoReply.From = "sales@acme.test"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"MERIDIAN_SERVER_PORT", "server.port"},
		{"MERIDIAN_STORAGE_GC_INTERVAL", "storage.gc_interval"},
		{"MERIDIAN_SYNC__AUTO_REPLY__FROM", "sync.auto_reply.from"},
		{"MERIDIAN_PROVIDERS__MAILGATE__CLIENT_SECRET", "providers.mailgate.client_secret"},
	}
	for _, tt := range tests {
		if got := envTransformFunc(tt.in); got != tt.want {
			t.Errorf("envTransformFunc(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
