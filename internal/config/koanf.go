// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order. The
// first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/meridian/config.yaml",
	"/etc/meridian/config.yml",
}

// ConfigPathEnvVar overrides the config file search entirely.
const ConfigPathEnvVar = "MERIDIAN_CONFIG"

// envPrefix namespaces Meridian's environment variables:
// MERIDIAN_SERVER_PORT -> server.port.
const envPrefix = "MERIDIAN_"

func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Storage: StorageConfig{
			Path:       "/data/meridian",
			GCInterval: 10 * time.Minute,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8537,
			Timeout:         30 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Sync: SyncConfig{
			Lookback:       7 * 24 * time.Hour,
			PageSize:       100,
			MaxPagesPerRun: 10,
			RetryAttempts:  4,
			RetryDelay:     2 * time.Second,
			AutoReply: AutoReplyConfig{
				Enabled: false,
			},
		},
		Outbound: OutboundConfig{
			PollAttempts: 3,
			PollSpacing:  2 * time.Second,
			SentLookback: 15 * time.Minute,
			SentLimit:    50,
		},
		Token: TokenConfig{
			ExpiryMargin: 60 * time.Second,
		},
		Providers: ProvidersConfig{
			Mailgate: PlatformConfig{
				BaseURL:       "https://api.mailgate.example",
				AuthorizeURL:  "https://auth.mailgate.example/oauth/authorize",
				Timeout:       30 * time.Second,
				MaxConcurrent: 4,
				MinSpacing:    200 * time.Millisecond,
			},
			Adstream: PlatformConfig{
				BaseURL:       "https://graph.adstream.example",
				AuthorizeURL:  "https://auth.adstream.example/oauth/authorize",
				Timeout:       30 * time.Second,
				MaxConcurrent: 4,
				MinSpacing:    200 * time.Millisecond,
			},
		},
		Notify: NotifyConfig{
			Enabled: false,
			URL:     "nats://127.0.0.1:4222",
		},
	}
}

// Load builds the configuration from layered sources: struct defaults, then
// an optional YAML file, then MERIDIAN_-prefixed environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are the paths parsed as comma-separated lists when they
// arrive through environment variables.
var sliceConfigPaths = []string{
	"classify.keywords",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps MERIDIAN_SECTION_SUB_KEY to section.sub_key. The
// first underscore separates the section; the rest of the key keeps its
// underscores, matching the koanf tags. Nested sections use double
// underscores: MERIDIAN_SYNC__AUTO_REPLY__FROM -> sync.auto_reply.from.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	if strings.Contains(key, "__") {
		return strings.ReplaceAll(key, "__", ".")
	}
	section, rest, found := strings.Cut(key, "_")
	if !found {
		return key
	}
	return section + "." + rest
}
