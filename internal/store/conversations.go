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

	"github.com/jackc/pgx/v5"

	"github.com/tradeline/inbound/internal/models"
)

const conversationColumns = `id, customer_id, title, status, primary_channel, lead_score,
	last_message_at, created_at, updated_at`

// FindOpenConversation returns the most recently updated open conversation
// for a customer, or nil.
func (s *Store) FindOpenConversation(ctx context.Context, customerID string) (*models.Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE customer_id = $1 AND status = 'open'
		ORDER BY updated_at DESC
		LIMIT 1
	`, customerID)
	return scanConversation(row)
}

// GetConversation returns a conversation by id, or nil.
func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

// InsertConversation creates a conversation. A second open conversation for
// the same customer yields models.ErrConflict.
func (s *Store) InsertConversation(ctx context.Context, c *models.Conversation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations
			(id, customer_id, title, status, primary_channel, lead_score, last_message_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.ID, c.CustomerID, c.Title, string(c.Status), string(c.PrimaryChannel),
		nullIfEmpty(string(c.LeadScore)), c.LastMessageAt, c.CreatedAt, c.UpdatedAt)
	return mapError(err)
}

// TouchConversation advances last_message_at to at (never backwards) and
// bumps updated_at.
func (s *Store) TouchConversation(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET last_message_at = GREATEST(COALESCE(last_message_at, $2), $2),
		    updated_at = NOW()
		WHERE id = $1
	`, id, at)
	return err
}

// SetLeadScore records the enrichment-derived lead score.
func (s *Store) SetLeadScore(ctx context.Context, id string, score models.LeadScore) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE conversations SET lead_score = $2, updated_at = NOW() WHERE id = $1
	`, id, string(score))
	return err
}

// CloseConversation marks a conversation closed.
func (s *Store) CloseConversation(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE conversations SET status = 'closed', updated_at = NOW()
		WHERE id = $1 AND status = 'open'
	`, id)
	return err
}

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var c models.Conversation
	var status, primary string
	var leadScore *string
	err := row.Scan(&c.ID, &c.CustomerID, &c.Title, &status, &primary, &leadScore,
		&c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt)
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Status = models.ConversationStatus(status)
	c.PrimaryChannel = models.Channel(primary)
	c.LeadScore = models.LeadScore(deref(leadScore))
	return &c, nil
}
