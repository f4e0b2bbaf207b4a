// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

// Command meridiand runs the Meridian synchronization daemon: the token
// lifecycle manager, the delta sync and diff/patch engines, the per-tenant
// scheduler, and the admin HTTP API, all under one supervision tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/meridianhq/meridian/internal/api"
	"github.com/meridianhq/meridian/internal/config"
	"github.com/meridianhq/meridian/internal/diff"
	"github.com/meridianhq/meridian/internal/logging"
	"github.com/meridianhq/meridian/internal/models"
	"github.com/meridianhq/meridian/internal/notify"
	"github.com/meridianhq/meridian/internal/outbound"
	"github.com/meridianhq/meridian/internal/provider"
	"github.com/meridianhq/meridian/internal/provider/adstream"
	"github.com/meridianhq/meridian/internal/provider/mailgate"
	"github.com/meridianhq/meridian/internal/scheduler"
	"github.com/meridianhq/meridian/internal/store"
	"github.com/meridianhq/meridian/internal/supervisor"
	"github.com/meridianhq/meridian/internal/supervisor/services"
	"github.com/meridianhq/meridian/internal/sync"
	"github.com/meridianhq/meridian/internal/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("storage_path", cfg.Storage.Path).
		Int("port", cfg.Server.Port).
		Msg("Starting Meridian")

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing storage")
		}
	}()
	stores := store.New(db)

	registry := buildRegistry(cfg)
	tokenMgr := token.NewManager(stores.Credentials, registry, cfg.Token.ExpiryMargin)

	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.Notify.Enabled {
		natsNotifier, err := notify.NewNATSNotifier(cfg.Notify.URL)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to connect event publisher")
		}
		defer natsNotifier.Close()
		notifier = natsNotifier
		logging.Info().Str("url", cfg.Notify.URL).Msg("Event publishing enabled")
	}

	deliverer := outbound.NewEngine(tokenMgr, stores.Outbound, registry, outbound.Config{
		Provider:     models.ProviderMailgate,
		PollAttempts: cfg.Outbound.PollAttempts,
		PollSpacing:  cfg.Outbound.PollSpacing,
		SentLookback: cfg.Outbound.SentLookback,
		SentLimit:    cfg.Outbound.SentLimit,
	})

	classifier := sync.NewClassifier(cfg.Classify.Keywords)
	syncEngine := sync.NewEngine(
		tokenMgr, stores.Cursors, stores.Leads, stores.Campaigns, stores.Outbound,
		deliverer, registry, classifier, notifier,
		sync.Config{
			Lookback:          cfg.Sync.Lookback,
			PageSize:          cfg.Sync.PageSize,
			MaxPagesPerRun:    cfg.Sync.MaxPagesPerRun,
			RetryAttempts:     cfg.Sync.RetryAttempts,
			RetryInitialDelay: cfg.Sync.RetryDelay,
			AutoReply: sync.AutoReplyConfig{
				Enabled: cfg.Sync.AutoReply.Enabled,
				From:    cfg.Sync.AutoReply.From,
				Subject: cfg.Sync.AutoReply.Subject,
				Body:    cfg.Sync.AutoReply.Body,
			},
		},
	)
	diffEngine := diff.NewEngine(tokenMgr, stores.Campaigns, registry)

	sched := scheduler.New(scheduler.NewDispatcher(syncEngine, diffEngine))

	var ready atomic.Bool
	handlers := api.NewHandlers(stores, sched, tokenMgr, ready.Load)
	server := api.NewServer(api.Config{
		Timeout:         cfg.Server.Timeout,
		RateLimitReqs:   cfg.Server.RateLimitReqs,
		RateLimitWindow: cfg.Server.RateLimitWindow,
	}, handlers)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddStorageService(services.NewGCService(stores, cfg.Storage.GCInterval))
	tree.AddEngineService(services.NewSchedulerService(sched, stores.JobConfigs))
	tree.AddAPIService(services.NewHTTPServerService(httpServer, 10*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := tree.ServeBackground(ctx)
	ready.Store(true)
	logging.Info().Str("addr", httpServer.Addr).Msg("Meridian started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor exited with error")
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor exited unexpectedly")
		}
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop in time")
		}
	}
	logging.Info().Msg("Meridian stopped")
}

// buildRegistry wires the platform clients with their per-provider call
// gates.
func buildRegistry(cfg *config.Config) *provider.Registry {
	registry := provider.NewRegistry()

	mg := cfg.Providers.Mailgate
	mailgateClient := mailgate.New(mailgate.Config{
		BaseURL:      mg.BaseURL,
		AuthorizeURL: mg.AuthorizeURL,
		ClientID:     mg.ClientID,
		ClientSecret: mg.ClientSecret,
		RedirectURI:  mg.RedirectURI,
		Timeout:      mg.Timeout,
		Gate:         newGate(mg),
	})
	registry.RegisterAuth(models.ProviderMailgate, mailgateClient)
	registry.RegisterMessages(models.ProviderMailgate, mailgateClient)

	as := cfg.Providers.Adstream
	adstreamClient := adstream.New(adstream.Config{
		BaseURL:      as.BaseURL,
		AuthorizeURL: as.AuthorizeURL,
		ClientID:     as.ClientID,
		ClientSecret: as.ClientSecret,
		RedirectURI:  as.RedirectURI,
		Timeout:      as.Timeout,
		Gate:         newGate(as),
	})
	registry.RegisterAuth(models.ProviderAdstream, adstreamClient)
	registry.RegisterCampaigns(models.ProviderAdstream, adstreamClient)

	return registry
}

func newGate(cfg config.PlatformConfig) *provider.Gate {
	var spacing rate.Limit
	if cfg.MinSpacing > 0 {
		spacing = rate.Every(cfg.MinSpacing)
	}
	return provider.NewGate(provider.GateConfig{
		MaxConcurrent: cfg.MaxConcurrent,
		MinSpacing:    spacing,
	})
}
