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

// Package enrichment derives summary, category, urgency, next action and
// lead score for stored messages through an external reasoning service and
// writes them back. Work is scheduled off the ingestion path through a task
// queue consumed by a retrying worker pool.
package enrichment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tradeline/inbound/internal/models"
)

// Store is the repository the orchestrator reads and writes.
// Implemented by store.Store.
type Store interface {
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	GetCustomer(ctx context.Context, id string) (*models.Customer, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	SaveEnrichment(ctx context.Context, messageID string, e models.Enrichment) error
	SetLeadScore(ctx context.Context, conversationID string, score models.LeadScore) error
}

// Reasoner sends a prompt to the reasoning service and returns its raw JSON
// reply. Implemented by reasoning.Client.
type Reasoner interface {
	Complete(ctx context.Context, system, prompt string) ([]byte, error)
}

// Orchestrator performs enrichment of a single message.
type Orchestrator struct {
	store    Store
	reasoner Reasoner
	now      func() time.Time

	// detached tracks Trigger goroutines.
	detached sync.WaitGroup
}

// NewOrchestrator creates an orchestrator. A nil reasoner means no
// reasoning credential is configured and every Enrich call is skipped.
func NewOrchestrator(store Store, reasoner Reasoner) *Orchestrator {
	return &Orchestrator{
		store:    store,
		reasoner: reasoner,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Enabled reports whether a reasoning service is configured.
func (o *Orchestrator) Enabled() bool {
	return o.reasoner != nil
}

// Enrich derives and stores enrichment for messageID. Any failure is
// returned; nothing is written unless the reply parses and validates.
func (o *Orchestrator) Enrich(ctx context.Context, messageID string) error {
	if o.reasoner == nil {
		slog.Info("reasoning service not configured, skipping enrichment", "message_id", messageID)
		return nil
	}

	msg, err := o.store.GetMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("load message %s: %w", messageID, err)
	}
	if msg == nil {
		return fmt.Errorf("message %s not found", messageID)
	}
	customer, err := o.store.GetCustomer(ctx, msg.CustomerID)
	if err != nil {
		return fmt.Errorf("load customer %s: %w", msg.CustomerID, err)
	}
	if customer == nil {
		return fmt.Errorf("customer %s not found", msg.CustomerID)
	}
	conv, err := o.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("load conversation %s: %w", msg.ConversationID, err)
	}
	if conv == nil {
		return fmt.Errorf("conversation %s not found", msg.ConversationID)
	}

	raw, err := o.reasoner.Complete(ctx, systemPrompt, buildPrompt(msg, customer, conv))
	if err != nil {
		return fmt.Errorf("reasoning call: %w", err)
	}

	a, err := ParseAssessment(raw)
	if err != nil {
		return err
	}

	if err := o.store.SaveEnrichment(ctx, msg.ID, models.Enrichment{
		Summary:    a.Summary,
		Category:   a.Category,
		Urgency:    a.Urgency,
		NextAction: a.NextAction,
		Extracted:  a.Extracted,
		EnrichedAt: o.now(),
	}); err != nil {
		return fmt.Errorf("save enrichment for %s: %w", msg.ID, err)
	}

	if a.LeadScore != "" {
		if err := o.store.SetLeadScore(ctx, conv.ID, a.LeadScore); err != nil {
			return fmt.Errorf("set lead score on %s: %w", conv.ID, err)
		}
	}

	slog.Info("message enriched",
		"message_id", msg.ID,
		"category", a.Category,
		"urgency", a.Urgency,
		"lead_score", a.LeadScore,
	)
	return nil
}

// Trigger runs Enrich in the background, detached from ctx cancellation.
// Failures are logged and dropped; use Dispatcher for retried delivery.
func (o *Orchestrator) Trigger(ctx context.Context, messageID string) {
	bg := context.WithoutCancel(ctx)
	o.detached.Add(1)
	go func() {
		defer o.detached.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("enrichment panicked", "message_id", messageID, "panic", r)
			}
		}()
		if err := o.Enrich(bg, messageID); err != nil {
			slog.Error("enrichment failed", "message_id", messageID, "error", err)
		}
	}()
}

// Wait blocks until every Trigger goroutine has returned.
func (o *Orchestrator) Wait() {
	o.detached.Wait()
}
