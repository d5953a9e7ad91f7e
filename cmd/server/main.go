// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Tradeline Inbound Service
//
// Entry point for the inbound message service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to PostgreSQL and (optionally) Redis
//  3. Starts the enrichment worker pool
//  4. Starts the periodic mailbox sync
//  5. Serves the webhook and operations API
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tradeline/inbound/internal/app"
	"github.com/tradeline/inbound/internal/config"
	"github.com/tradeline/inbound/internal/webhook"
)

func main() {
	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting inbound service",
		"port", cfg.Port,
		"sync_interval", cfg.Sync.Interval,
		"sync_lookback", cfg.Sync.Lookback,
		"enrichment_workers", cfg.Enrichment.Workers,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Wire Components ---
	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise service", "error", err)
		os.Exit(1)
	}

	// --- Background Workers ---
	a.Enrichment.Start(ctx)
	a.Sync.Start(ctx)

	// --- HTTP API ---
	ready, err := webhook.Serve(ctx, cfg.Port, a.Handler().Routes())
	if err != nil {
		slog.Error("failed to start http server", "error", err)
		a.Sync.Stop()
		a.Enrichment.Stop()
		a.Close()
		os.Exit(1)
	}
	<-ready

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	slog.Info("received shutdown signal", "signal", sig)
	cancel()

	a.Sync.Stop()
	a.Enrichment.Stop()
	a.Close()

	slog.Info("inbound service stopped")
}
