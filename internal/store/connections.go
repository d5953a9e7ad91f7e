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

package store

import (
	"context"
	"time"

	"github.com/tradeline/inbound/internal/models"
)

// ListActiveConnections returns every mailbox connection with is_active set.
func (s *Store) ListActiveConnections(ctx context.Context) ([]models.Connection, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, email_address, access_token, refresh_token, token_expiry, is_active, last_sync_at
		FROM mail_connections
		WHERE is_active
		ORDER BY email_address
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []models.Connection
	for rows.Next() {
		var c models.Connection
		if err := rows.Scan(&c.ID, &c.EmailAddress, &c.AccessToken, &c.RefreshToken,
			&c.TokenExpiry, &c.IsActive, &c.LastSyncAt); err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

// UpsertConnection inserts or updates a connection keyed on email_address.
func (s *Store) UpsertConnection(ctx context.Context, c models.Connection) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mail_connections (id, email_address, access_token, refresh_token, token_expiry, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (email_address) DO UPDATE SET
			access_token  = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expiry  = EXCLUDED.token_expiry,
			is_active     = EXCLUDED.is_active,
			updated_at    = NOW()
	`, c.ID, c.EmailAddress, c.AccessToken, c.RefreshToken, c.TokenExpiry, c.IsActive)
	return err
}

// UpdateConnectionTokens persists a refreshed OAuth token. An empty
// refreshToken keeps the stored one.
func (s *Store) UpdateConnectionTokens(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE mail_connections
		SET access_token = $2,
		    refresh_token = COALESCE(NULLIF($3, ''), refresh_token),
		    token_expiry = $4,
		    updated_at = NOW()
		WHERE id = $1
	`, id, accessToken, refreshToken, expiry)
	return err
}

// MarkConnectionSynced records the completion time of a sync run.
func (s *Store) MarkConnectionSynced(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE mail_connections SET last_sync_at = $2, updated_at = NOW() WHERE id = $1
	`, id, at)
	return err
}
