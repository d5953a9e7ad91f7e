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

// Package app wires the service's components from configuration. It is
// shared by the server and the sync CLI so both run against the same components.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tradeline/inbound/internal/config"
	"github.com/tradeline/inbound/internal/conversation"
	"github.com/tradeline/inbound/internal/enrichment"
	"github.com/tradeline/inbound/internal/gmail"
	"github.com/tradeline/inbound/internal/identity"
	"github.com/tradeline/inbound/internal/mailsync"
	"github.com/tradeline/inbound/internal/models"
	"github.com/tradeline/inbound/internal/pipeline"
	"github.com/tradeline/inbound/internal/queue"
	"github.com/tradeline/inbound/internal/reasoning"
	"github.com/tradeline/inbound/internal/runlock"
	"github.com/tradeline/inbound/internal/store"
	"github.com/tradeline/inbound/internal/webhook"
)

// memoryQueueSize bounds the in-process queue used without Redis.
const memoryQueueSize = 1024

// Queue is the enrichment queue plus its dead-letter inspection.
type Queue interface {
	enrichment.TaskQueue
	DeadLetters(ctx context.Context, limit int) ([]models.EnrichmentTask, error)
}

// App holds the wired components.
type App struct {
	Config *config.Config
	Pool   *pgxpool.Pool
	Redis  *redis.Client // nil when REDIS_URL is unset
	Store  *store.Store
	Queue  Queue
	Locker mailsync.Locker

	Orchestrator *enrichment.Orchestrator
	Enrichment   *enrichment.Worker
	Router       *conversation.Router
	Ingestor     *pipeline.Ingestor
	Gmail        *gmail.Client
	Sync         *mailsync.Worker
}

// New connects to PostgreSQL (and Redis when configured) and builds every
// component. Background workers are created but not started.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	// --- PostgreSQL ---
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.Pool = pool
	slog.Info("connected to PostgreSQL")

	st, err := store.New(ctx, pool)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initialise store: %w", err)
	}
	a.Store = st

	// --- Redis (optional) ---
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		a.Redis = redis.NewClient(opt)

		rq := queue.NewRedisQueue(a.Redis, cfg.EnrichmentQueue, cfg.DeadLetterQueue)
		if err := rq.Ping(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.Queue = rq
		a.Locker = runlock.NewRedisLocker(a.Redis, cfg.Sync.LockTTL)
		slog.Info("connected to Redis")
	} else {
		a.Queue = queue.NewMemoryQueue(memoryQueueSize)
		a.Locker = runlock.NewLocalLocker()
		slog.Warn("REDIS_URL not set, using in-process queue and locks")
	}

	// --- Enrichment ---
	var reasoner enrichment.Reasoner
	if cfg.Reasoning.APIKey != "" {
		reasoner = reasoning.NewClient(reasoning.Config{
			APIKey:  cfg.Reasoning.APIKey,
			BaseURL: cfg.Reasoning.BaseURL,
			Model:   cfg.Reasoning.Model,
			Timeout: cfg.Reasoning.Timeout,
		})
	} else {
		slog.Warn("reasoning API key not set, enrichment disabled")
	}
	a.Orchestrator = enrichment.NewOrchestrator(st, reasoner)
	a.Enrichment = enrichment.NewWorker(enrichment.WorkerConfig{
		Queue:       a.Queue,
		Enricher:    a.Orchestrator,
		Workers:     cfg.Enrichment.Workers,
		MaxAttempts: cfg.Enrichment.MaxAttempts,
		Backoff:     cfg.Enrichment.Backoff,
	})

	// --- Ingestion pipeline ---
	a.Router = conversation.NewRouter(conversation.RouterConfig{
		Store:     st,
		IdleClose: cfg.IdleClose,
	})
	a.Ingestor = pipeline.NewIngestor(pipeline.IngestorConfig{
		Store:    st,
		Resolver: identity.NewResolver(st),
		Router:   a.Router,
		Enricher: enrichment.NewDispatcher(a.Queue),
	})

	// --- Mailbox sync ---
	a.Gmail = gmail.NewClient(gmail.Config{
		ClientID:     cfg.Gmail.ClientID,
		ClientSecret: cfg.Gmail.ClientSecret,
		BaseURL:      cfg.Gmail.BaseURL,
		Tokens:       st,
	})
	a.Sync = mailsync.NewWorker(mailsync.Config{
		Store:       st,
		Open:        a.openMailbox,
		Ingestor:    a.Ingestor,
		Locker:      a.Locker,
		Lookback:    cfg.Sync.Lookback,
		MaxMessages: cfg.Sync.MaxMessages,
		Concurrency: cfg.Sync.Concurrency,
		Interval:    cfg.Sync.Interval,
	})

	return a, nil
}

// openMailbox adapts gmail.Client.Open to mailsync.OpenFunc.
func (a *App) openMailbox(ctx context.Context, conn models.Connection) (mailsync.Mailbox, error) {
	mb, err := a.Gmail.Open(ctx, conn)
	if err != nil {
		return nil, err
	}
	return mb, nil
}

// Handler builds the HTTP API over the wired components.
func (a *App) Handler() *webhook.Handler {
	checks := map[string]webhook.HealthCheck{
		"postgres": a.Pool.Ping,
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		}
	}
	return webhook.NewHandler(webhook.HandlerConfig{
		Ingestor: a.Ingestor,
		Syncer:   a.Sync,
		Closer:   a.Router,
		Secret:   a.Config.WebhookSecret,
		Checks:   checks,
	})
}

// Close releases connections. Workers must be stopped first.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			slog.Warn("redis close error", "error", err)
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
