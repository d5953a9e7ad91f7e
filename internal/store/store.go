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

// Package store provides the Postgres-backed repository for customers,
// conversations, messages and mailbox connections. Uniqueness invariants
// (customer phone/email, one open conversation per customer, message
// external id per channel) are enforced by partial unique indexes and
// surfaced as models.ErrConflict.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradeline/inbound/internal/models"
)

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Store implements the repository interfaces consumed by the pipeline
// components.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store backed by the given Postgres pool and ensures the
// schema exists.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure inbound schema: %w", err)
	}
	slog.Info("inbound store initialised")
	return s, nil
}

// Ping checks the Postgres connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS customers (
			id          TEXT PRIMARY KEY,
			full_name   TEXT,
			email       TEXT,
			phone       TEXT,
			address     TEXT,
			source      TEXT NOT NULL,
			notes       TEXT,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS uq_customers_phone ON customers(phone) WHERE phone IS NOT NULL;
		CREATE UNIQUE INDEX IF NOT EXISTS uq_customers_email ON customers(email) WHERE email IS NOT NULL;

		CREATE TABLE IF NOT EXISTS conversations (
			id              TEXT PRIMARY KEY,
			customer_id     TEXT NOT NULL REFERENCES customers(id),
			title           TEXT NOT NULL,
			status          TEXT NOT NULL DEFAULT 'open',
			primary_channel TEXT NOT NULL,
			lead_score      TEXT,
			last_message_at TIMESTAMPTZ,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS uq_conversations_open ON conversations(customer_id) WHERE status = 'open';
		CREATE INDEX IF NOT EXISTS idx_conversations_customer ON conversations(customer_id, updated_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			customer_id     TEXT NOT NULL REFERENCES customers(id),
			channel         TEXT NOT NULL,
			direction       TEXT NOT NULL,
			external_id     TEXT,
			raw_payload     JSONB,
			message_text    TEXT NOT NULL,
			attachments     JSONB NOT NULL DEFAULT '[]',
			received_at     TIMESTAMPTZ NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			ai_summary      TEXT,
			ai_category     TEXT,
			ai_urgency      TEXT,
			ai_next_action  TEXT,
			ai_extracted    JSONB,
			enriched_at     TIMESTAMPTZ
		);
		CREATE UNIQUE INDEX IF NOT EXISTS uq_messages_external ON messages(channel, external_id) WHERE external_id IS NOT NULL;
		CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, received_at);

		CREATE TABLE IF NOT EXISTS mail_connections (
			id             TEXT PRIMARY KEY,
			email_address  TEXT NOT NULL UNIQUE,
			access_token   TEXT NOT NULL DEFAULT '',
			refresh_token  TEXT NOT NULL DEFAULT '',
			token_expiry   TIMESTAMPTZ,
			is_active      BOOLEAN NOT NULL DEFAULT TRUE,
			last_sync_at   TIMESTAMPTZ,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

// mapError translates unique violations into models.ErrConflict.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", models.ErrConflict, pgErr.ConstraintName)
	}
	return err
}

// noRows reports whether err means the query matched nothing.
func noRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// nullIfEmpty maps "" to NULL so partial unique indexes ignore absent values.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
