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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GmailConfig holds the OAuth client used to refresh connection tokens.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string // empty = Google production endpoint
}

// SyncConfig bounds a single sync run.
type SyncConfig struct {
	Interval    time.Duration
	Lookback    time.Duration
	MaxMessages int
	Concurrency int
	LockTTL     time.Duration
}

// ReasoningConfig points at an OpenAI-compatible chat-completions API.
// An empty APIKey disables enrichment.
type ReasoningConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// EnrichmentConfig controls the enrichment worker pool.
type EnrichmentConfig struct {
	Workers     int
	MaxAttempts int
	Backoff     time.Duration
}

// Config holds all configuration for the inbound service.
type Config struct {
	DatabaseURL string

	// Redis. Empty URL selects the in-process queue and local run-locks.
	RedisURL        string
	EnrichmentQueue string
	DeadLetterQueue string

	Gmail      GmailConfig
	Sync       SyncConfig
	Reasoning  ReasoningConfig
	Enrichment EnrichmentConfig

	// Open conversations idle longer than this are closed on the next
	// inbound message. Zero keeps conversations open until closed externally.
	IdleClose time.Duration

	WebhookSecret string
	Port          int
	LogLevel      slog.Level
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Enrichment string `yaml:"enrichment"`
			DeadLetter string `yaml:"dead_letter"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Gmail struct {
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		BaseURL      string `yaml:"base_url"`
	} `yaml:"gmail"`
	Sync struct {
		Interval    string `yaml:"interval"`
		Lookback    string `yaml:"lookback"`
		MaxMessages int    `yaml:"max_messages"`
		Concurrency int    `yaml:"concurrency"`
		LockTTL     string `yaml:"lock_ttl"`
	} `yaml:"sync"`
	Reasoning struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
		Timeout string `yaml:"timeout"`
	} `yaml:"reasoning"`
	Enrichment struct {
		Workers     int    `yaml:"workers"`
		MaxAttempts int    `yaml:"max_attempts"`
		Backoff     string `yaml:"backoff"`
	} `yaml:"enrichment"`
	Conversations struct {
		IdleClose string `yaml:"idle_close"`
	} `yaml:"conversations"`
	Webhook struct {
		Secret string `yaml:"secret"`
	} `yaml:"webhook"`
	Port int `yaml:"port"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// falls back to environment variables for anything the file leaves unset.
// A missing config file is not an error; the environment alone is enough.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	var raw rawConfig
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	case os.IsNotExist(err):
		slog.Debug("config file not found, using environment only", "path", configPath)
	default:
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	cfg := &Config{
		DatabaseURL:     firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		RedisURL:        firstNonEmpty(raw.Redis.URL, os.Getenv("REDIS_URL")),
		EnrichmentQueue: firstNonEmpty(raw.Redis.Queues.Enrichment, envOrDefault("ENRICHMENT_QUEUE", "inbound:enrichment")),
		DeadLetterQueue: firstNonEmpty(raw.Redis.Queues.DeadLetter, envOrDefault("DEAD_LETTER_QUEUE", "inbound:enrichment:dead")),
		Gmail: GmailConfig{
			ClientID:     firstNonEmpty(raw.Gmail.ClientID, os.Getenv("GMAIL_CLIENT_ID")),
			ClientSecret: firstNonEmpty(raw.Gmail.ClientSecret, os.Getenv("GMAIL_CLIENT_SECRET")),
			BaseURL:      firstNonEmpty(raw.Gmail.BaseURL, os.Getenv("GMAIL_BASE_URL")),
		},
		Sync: SyncConfig{
			Interval:    durationOr(raw.Sync.Interval, envOrDefaultDuration("SYNC_INTERVAL", 5*time.Minute)),
			Lookback:    durationOr(raw.Sync.Lookback, envOrDefaultDuration("SYNC_LOOKBACK", 72*time.Hour)),
			MaxMessages: intOr(raw.Sync.MaxMessages, envOrDefaultInt("SYNC_MAX_MESSAGES", 50)),
			Concurrency: intOr(raw.Sync.Concurrency, envOrDefaultInt("SYNC_CONCURRENCY", 1)),
			LockTTL:     durationOr(raw.Sync.LockTTL, envOrDefaultDuration("SYNC_LOCK_TTL", 10*time.Minute)),
		},
		Reasoning: ReasoningConfig{
			APIKey:  firstNonEmpty(raw.Reasoning.APIKey, os.Getenv("REASONING_API_KEY")),
			BaseURL: firstNonEmpty(raw.Reasoning.BaseURL, envOrDefault("REASONING_BASE_URL", "https://api.openai.com/v1")),
			Model:   firstNonEmpty(raw.Reasoning.Model, envOrDefault("REASONING_MODEL", "gpt-4o-mini")),
			Timeout: durationOr(raw.Reasoning.Timeout, envOrDefaultDuration("REASONING_TIMEOUT", 30*time.Second)),
		},
		Enrichment: EnrichmentConfig{
			Workers:     intOr(raw.Enrichment.Workers, envOrDefaultInt("ENRICHMENT_WORKERS", 4)),
			MaxAttempts: intOr(raw.Enrichment.MaxAttempts, envOrDefaultInt("ENRICHMENT_MAX_ATTEMPTS", 3)),
			Backoff:     durationOr(raw.Enrichment.Backoff, envOrDefaultDuration("ENRICHMENT_BACKOFF", 5*time.Second)),
		},
		IdleClose:     durationOr(raw.Conversations.IdleClose, envOrDefaultDuration("CONVERSATION_IDLE_CLOSE", 0)),
		WebhookSecret: firstNonEmpty(raw.Webhook.Secret, os.Getenv("WEBHOOK_SECRET")),
		Port:          intOr(raw.Port, envOrDefaultInt("PORT", 8080)),
		LogLevel:      parseLevel(os.Getenv("LOG_LEVEL")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database url is required (database.url or DATABASE_URL)")
	}
	if cfg.Sync.MaxMessages <= 0 {
		return nil, fmt.Errorf("sync.max_messages must be positive, got %d", cfg.Sync.MaxMessages)
	}
	if cfg.Sync.Concurrency <= 0 {
		cfg.Sync.Concurrency = 1
	}
	if cfg.Enrichment.MaxAttempts <= 0 {
		cfg.Enrichment.MaxAttempts = 1
	}

	return cfg, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// durationOr parses a YAML duration string, returning fallback when it is
// empty or malformed.
func durationOr(s string, fallback time.Duration) time.Duration {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("invalid duration in config, using default", "value", s, "default", fallback)
		return fallback
	}
	return d
}

func intOr(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
