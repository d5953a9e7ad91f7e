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
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tradeline/inbound/internal/models"
)

const messageColumns = `id, conversation_id, customer_id, channel, direction, external_id,
	raw_payload, message_text, attachments, received_at, created_at,
	ai_summary, ai_category, ai_urgency, ai_next_action, ai_extracted, enriched_at`

// InsertMessage stores a message with empty enrichment fields. It reports
// false without error when (channel, external_id) already exists.
func (s *Store) InsertMessage(ctx context.Context, m *models.Message) (bool, error) {
	attachments := m.Attachments
	if attachments == nil {
		attachments = []models.Attachment{}
	}
	attJSON, err := json.Marshal(attachments)
	if err != nil {
		return false, fmt.Errorf("marshal attachments: %w", err)
	}

	var raw []byte
	if len(m.RawPayload) > 0 {
		raw = m.RawPayload
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO messages
			(id, conversation_id, customer_id, channel, direction, external_id,
			 raw_payload, message_text, attachments, received_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (channel, external_id) WHERE external_id IS NOT NULL DO NOTHING
	`, m.ID, m.ConversationID, m.CustomerID, string(m.Channel), string(m.Direction),
		nullIfEmpty(m.ExternalID), raw, m.MessageText, attJSON, m.ReceivedAt, m.CreatedAt)
	if err != nil {
		return false, mapError(err)
	}
	return tag.RowsAffected() == 1, nil
}

// FindMessageByExternalID returns the message stored for a provider id on
// a channel, or nil.
func (s *Store) FindMessageByExternalID(ctx context.Context, channel models.Channel, externalID string) (*models.Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE channel = $1 AND external_id = $2
	`, string(channel), externalID)
	return scanMessage(row)
}

// GetMessage returns a message by id, or nil.
func (s *Store) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	return scanMessage(row)
}

// SaveEnrichment overwrites the ai_* fields of a message.
func (s *Store) SaveEnrichment(ctx context.Context, messageID string, e models.Enrichment) error {
	var extracted []byte
	if len(e.Extracted) > 0 {
		b, err := json.Marshal(e.Extracted)
		if err != nil {
			return fmt.Errorf("marshal extracted: %w", err)
		}
		extracted = b
	}
	enrichedAt := e.EnrichedAt
	if enrichedAt.IsZero() {
		enrichedAt = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET ai_summary = $2, ai_category = $3, ai_urgency = $4,
		    ai_next_action = $5, ai_extracted = $6, enriched_at = $7
		WHERE id = $1
	`, messageID, nullIfEmpty(e.Summary), string(e.Category), nullIfEmpty(string(e.Urgency)),
		nullIfEmpty(e.NextAction), extracted, enrichedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %s not found", messageID)
	}
	return nil
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	var channel, direction string
	var externalID *string
	var raw, attachments, extracted []byte
	var summary, category, urgency, nextAction *string
	var enrichedAt *time.Time

	err := row.Scan(&m.ID, &m.ConversationID, &m.CustomerID, &channel, &direction, &externalID,
		&raw, &m.MessageText, &attachments, &m.ReceivedAt, &m.CreatedAt,
		&summary, &category, &urgency, &nextAction, &extracted, &enrichedAt)
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	m.Channel = models.Channel(channel)
	m.Direction = models.Direction(direction)
	m.ExternalID = deref(externalID)
	if len(raw) > 0 {
		m.RawPayload = json.RawMessage(raw)
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments for message %s: %w", m.ID, err)
		}
	}

	if category != nil {
		e := &models.Enrichment{
			Summary:    deref(summary),
			Category:   models.Category(*category),
			Urgency:    models.Urgency(deref(urgency)),
			NextAction: deref(nextAction),
		}
		if enrichedAt != nil {
			e.EnrichedAt = *enrichedAt
		}
		if len(extracted) > 0 {
			if err := json.Unmarshal(extracted, &e.Extracted); err != nil {
				return nil, fmt.Errorf("decode ai_extracted for message %s: %w", m.ID, err)
			}
		}
		m.Enrichment = e
	}
	return &m, nil
}
