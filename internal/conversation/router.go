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

// Package conversation routes a resolved customer's message to a thread:
// the most recently updated open conversation is reused, otherwise a new
// one is opened.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tradeline/inbound/internal/models"
)

// FallbackTitle names conversations whose customer has no usable identity.
const FallbackTitle = "New conversation"

const maxAttempts = 3

// Store is the conversation repository the router needs.
// Implemented by store.Store.
type Store interface {
	FindOpenConversation(ctx context.Context, customerID string) (*models.Conversation, error)
	InsertConversation(ctx context.Context, c *models.Conversation) error
	CloseConversation(ctx context.Context, id string) error
}

// Router assigns messages to conversations.
type Router struct {
	store     Store
	idleClose time.Duration
	now       func() time.Time
}

// RouterConfig holds the router's dependencies and lifecycle policy.
type RouterConfig struct {
	Store Store

	// IdleClose closes an open conversation whose last activity is older
	// than this before routing a new message. Zero disables it.
	IdleClose time.Duration
}

// NewRouter creates a conversation router.
func NewRouter(cfg RouterConfig) *Router {
	return &Router{
		store:     cfg.Store,
		idleClose: cfg.IdleClose,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Route returns the conversation msg belongs to. A reused conversation is
// returned unchanged; recency is advanced by the message store.
func (r *Router) Route(ctx context.Context, customer *models.Customer, msg *models.NormalizedMessage) (*models.Conversation, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		open, err := r.store.FindOpenConversation(ctx, customer.ID)
		if err != nil {
			return nil, fmt.Errorf("find open conversation: %w", err)
		}
		if open != nil {
			if !r.idle(open) {
				return open, nil
			}
			slog.Info("closing idle conversation",
				"conversation_id", open.ID,
				"last_activity", open.LastActivity(),
			)
			if err := r.store.CloseConversation(ctx, open.ID); err != nil {
				return nil, fmt.Errorf("close idle conversation %s: %w", open.ID, err)
			}
		}

		now := r.now()
		conv := &models.Conversation{
			ID:             uuid.NewString(),
			CustomerID:     customer.ID,
			Title:          Title(customer),
			Status:         models.StatusOpen,
			PrimaryChannel: msg.Channel,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		err = r.store.InsertConversation(ctx, conv)
		if err == nil {
			slog.Info("conversation opened",
				"conversation_id", conv.ID,
				"customer_id", customer.ID,
				"channel", msg.Channel,
			)
			return conv, nil
		}
		if !errors.Is(err, models.ErrConflict) {
			return nil, fmt.Errorf("insert conversation: %w", err)
		}
		// Another writer opened one first; reuse it on the next pass.
		slog.Debug("conversation insert conflicted, re-reading", "customer_id", customer.ID, "attempt", attempt)
	}
	return nil, fmt.Errorf("route conversation after %d attempts: %w", maxAttempts, models.ErrConflict)
}

// Close closes a conversation so the customer's next message opens a new one.
func (r *Router) Close(ctx context.Context, conversationID string) error {
	if err := r.store.CloseConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("close conversation %s: %w", conversationID, err)
	}
	return nil
}

func (r *Router) idle(c *models.Conversation) bool {
	if r.idleClose <= 0 {
		return false
	}
	return r.now().Sub(c.LastActivity()) > r.idleClose
}

// Title is the customer's full name, falling back to email, phone, then
// FallbackTitle.
func Title(c *models.Customer) string {
	switch {
	case c.FullName != "":
		return c.FullName
	case c.Email != "":
		return c.Email
	case c.Phone != "":
		return c.Phone
	}
	return FallbackTitle
}
