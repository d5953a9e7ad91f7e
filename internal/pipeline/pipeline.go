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

// Package pipeline is the single inbound entry point. It takes a
// NormalizedMessage through identity resolution, conversation routing and
// idempotent message storage, then hands the stored message to enrichment
// without waiting for it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tradeline/inbound/internal/models"
)

// ErrRecencyUpdate is returned alongside a valid Result when the message was
// stored but the conversation's recency marker could not be advanced.
var ErrRecencyUpdate = errors.New("conversation recency update failed")

// Ingestion stages reported by IngestError.
const (
	StageDedup        = "dedup"
	StageIdentity     = "identity"
	StageConversation = "conversation"
	StageMessage      = "message"
)

// IngestError reports a datastore failure that aborted ingestion of one
// message. Callers should treat it as retryable.
type IngestError struct {
	Stage string
	Err   error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest %s: %v", e.Stage, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

// Store is the message repository the pipeline needs.
// Implemented by store.Store.
type Store interface {
	FindMessageByExternalID(ctx context.Context, channel models.Channel, externalID string) (*models.Message, error)
	InsertMessage(ctx context.Context, m *models.Message) (bool, error)
	TouchConversation(ctx context.Context, conversationID string, at time.Time) error
}

// CustomerResolver maps contact fields to a customer.
type CustomerResolver interface {
	Resolve(ctx context.Context, contact models.Contact, source models.Channel) (*models.Customer, error)
}

// ConversationRouter maps a customer and message to a conversation.
type ConversationRouter interface {
	Route(ctx context.Context, customer *models.Customer, msg *models.NormalizedMessage) (*models.Conversation, error)
}

// Enricher starts enrichment for a stored message. Trigger must not block
// on the enrichment outcome and must not fail ingestion.
type Enricher interface {
	Trigger(ctx context.Context, messageID string)
}

// Result identifies the rows a message was stored as. Duplicate is set when
// the (channel, external id) pair had already been ingested.
type Result struct {
	CustomerID     string `json:"customer_id"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Duplicate      bool   `json:"duplicate"`
}

// Ingestor runs the inbound pipeline.
type Ingestor struct {
	store    Store
	resolver CustomerResolver
	router   ConversationRouter
	enricher Enricher
}

// IngestorConfig holds the ingestor's collaborators. Enricher may be nil.
type IngestorConfig struct {
	Store    Store
	Resolver CustomerResolver
	Router   ConversationRouter
	Enricher Enricher
}

// NewIngestor creates an ingestor.
func NewIngestor(cfg IngestorConfig) *Ingestor {
	return &Ingestor{
		store:    cfg.Store,
		resolver: cfg.Resolver,
		router:   cfg.Router,
		enricher: cfg.Enricher,
	}
}

// SaveNormalizedMessage ingests one message. The message counts as ingested
// once its row is inserted; a later recency failure is reported as
// ErrRecencyUpdate together with a non-nil Result.
func (i *Ingestor) SaveNormalizedMessage(ctx context.Context, msg *models.NormalizedMessage) (*Result, error) {
	msg.Normalize()
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	if msg.ExternalID != "" {
		existing, err := i.store.FindMessageByExternalID(ctx, msg.Channel, msg.ExternalID)
		if err != nil {
			return nil, &IngestError{Stage: StageDedup, Err: err}
		}
		if existing != nil {
			slog.Debug("message already ingested",
				"channel", msg.Channel,
				"external_id", msg.ExternalID,
				"message_id", existing.ID,
			)
			return duplicateResult(existing), nil
		}
	}

	customer, err := i.resolver.Resolve(ctx, msg.Customer, msg.Channel)
	if err != nil {
		return nil, &IngestError{Stage: StageIdentity, Err: err}
	}

	conv, err := i.router.Route(ctx, customer, msg)
	if err != nil {
		return nil, &IngestError{Stage: StageConversation, Err: err}
	}

	stored := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		CustomerID:     customer.ID,
		Channel:        msg.Channel,
		Direction:      msg.Direction,
		ExternalID:     msg.ExternalID,
		RawPayload:     msg.RawPayload,
		MessageText:    msg.MessageText,
		Attachments:    msg.Attachments,
		ReceivedAt:     msg.ReceivedAt,
		CreatedAt:      time.Now().UTC(),
	}
	inserted, err := i.store.InsertMessage(ctx, stored)
	if err != nil {
		return nil, &IngestError{Stage: StageMessage, Err: err}
	}
	if !inserted {
		// Lost a race with a concurrent ingest of the same external id.
		existing, err := i.store.FindMessageByExternalID(ctx, msg.Channel, msg.ExternalID)
		if err != nil || existing == nil {
			return nil, &IngestError{Stage: StageMessage, Err: fmt.Errorf("re-read duplicate %s: %v", msg.ExternalID, err)}
		}
		return duplicateResult(existing), nil
	}

	res := &Result{
		CustomerID:     customer.ID,
		ConversationID: conv.ID,
		MessageID:      stored.ID,
	}

	slog.Info("message ingested",
		"message_id", stored.ID,
		"customer_id", customer.ID,
		"conversation_id", conv.ID,
		"channel", msg.Channel,
	)

	var recencyErr error
	if err := i.store.TouchConversation(ctx, conv.ID, msg.ReceivedAt); err != nil {
		slog.Warn("conversation recency update failed",
			"conversation_id", conv.ID,
			"message_id", stored.ID,
			"error", err,
		)
		recencyErr = fmt.Errorf("%w: conversation %s: %w", ErrRecencyUpdate, conv.ID, err)
	}

	if i.enricher != nil {
		i.enricher.Trigger(ctx, stored.ID)
	}

	return res, recencyErr
}

func duplicateResult(m *models.Message) *Result {
	return &Result{
		CustomerID:     m.CustomerID,
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
		Duplicate:      true,
	}
}
