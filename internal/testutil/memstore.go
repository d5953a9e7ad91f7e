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

// Package testutil provides an in-memory repository that enforces the same
// uniqueness rules as the Postgres schema, for use in package tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tradeline/inbound/internal/models"
)

// MemoryStore is a thread-safe in-memory implementation of every store
// interface in the pipeline. The exported error fields inject failures.
type MemoryStore struct {
	mu            sync.Mutex
	customers     map[string]*models.Customer
	conversations map[string]*models.Conversation
	messages      map[string]*models.Message
	connections   map[string]*models.Connection

	// BeforeInsertCustomer runs (without the lock held) before each customer
	// insert; tests use it to simulate a concurrent writer.
	BeforeInsertCustomer func(c *models.Customer)

	LookupErr       error // customer lookups
	ConversationErr error // open-conversation lookups
	InsertMsgErr    error
	TouchErr        error
	EnrichmentErr   error
	ListConnsErr    error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		customers:     make(map[string]*models.Customer),
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string]*models.Message),
		connections:   make(map[string]*models.Connection),
	}
}

// --- customers ---

func (s *MemoryStore) FindCustomerByPhone(_ context.Context, phone string) (*models.Customer, error) {
	return s.findCustomer(func(c *models.Customer) bool { return c.Phone == phone })
}

func (s *MemoryStore) FindCustomerByEmail(_ context.Context, email string) (*models.Customer, error) {
	return s.findCustomer(func(c *models.Customer) bool { return c.Email == email })
}

func (s *MemoryStore) GetCustomer(_ context.Context, id string) (*models.Customer, error) {
	return s.findCustomer(func(c *models.Customer) bool { return c.ID == id })
}

func (s *MemoryStore) findCustomer(match func(*models.Customer) bool) (*models.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LookupErr != nil {
		return nil, s.LookupErr
	}
	for _, c := range s.customers {
		if match(c) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) InsertCustomer(_ context.Context, c *models.Customer) error {
	if s.BeforeInsertCustomer != nil {
		s.BeforeInsertCustomer(c)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.customerConflict(c); err != nil {
		return err
	}
	cp := *c
	s.customers[c.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateCustomer(_ context.Context, c *models.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customers[c.ID]; !ok {
		return fmt.Errorf("customer %s not found", c.ID)
	}
	if err := s.customerConflict(c); err != nil {
		return err
	}
	cp := *c
	s.customers[c.ID] = &cp
	return nil
}

func (s *MemoryStore) customerConflict(c *models.Customer) error {
	for _, other := range s.customers {
		if other.ID == c.ID {
			continue
		}
		if c.Phone != "" && other.Phone == c.Phone {
			return fmt.Errorf("%w: uq_customers_phone", models.ErrConflict)
		}
		if c.Email != "" && other.Email == c.Email {
			return fmt.Errorf("%w: uq_customers_email", models.ErrConflict)
		}
	}
	return nil
}

// PutCustomer seeds a customer without conflict checks.
func (s *MemoryStore) PutCustomer(c models.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ID] = &c
}

// Customers returns a snapshot of all customers.
func (s *MemoryStore) Customers() []models.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// --- conversations ---

func (s *MemoryStore) FindOpenConversation(_ context.Context, customerID string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ConversationErr != nil {
		return nil, s.ConversationErr
	}
	var best *models.Conversation
	for _, c := range s.conversations {
		if c.CustomerID != customerID || c.Status != models.StatusOpen {
			continue
		}
		if best == nil || c.UpdatedAt.After(best.UpdatedAt) {
			best = c
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) InsertConversation(_ context.Context, c *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Status == models.StatusOpen {
		for _, other := range s.conversations {
			if other.CustomerID == c.CustomerID && other.Status == models.StatusOpen {
				return fmt.Errorf("%w: uq_conversations_open", models.ErrConflict)
			}
		}
	}
	cp := *c
	s.conversations[c.ID] = &cp
	return nil
}

func (s *MemoryStore) TouchConversation(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.TouchErr != nil {
		return s.TouchErr
	}
	c, ok := s.conversations[id]
	if !ok {
		return fmt.Errorf("conversation %s not found", id)
	}
	if c.LastMessageAt == nil || at.After(*c.LastMessageAt) {
		t := at
		c.LastMessageAt = &t
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SetLeadScore(_ context.Context, id string, score models.LeadScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return fmt.Errorf("conversation %s not found", id)
	}
	c.LeadScore = score
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) CloseConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[id]; ok {
		c.Status = models.StatusClosed
		c.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// Conversations returns a snapshot of all conversations.
func (s *MemoryStore) Conversations() []models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// --- messages ---

func (s *MemoryStore) InsertMessage(_ context.Context, m *models.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertMsgErr != nil {
		return false, s.InsertMsgErr
	}
	if m.ExternalID != "" {
		for _, other := range s.messages {
			if other.Channel == m.Channel && other.ExternalID == m.ExternalID {
				return false, nil
			}
		}
	}
	cp := *m
	s.messages[m.ID] = &cp
	return true, nil
}

func (s *MemoryStore) FindMessageByExternalID(_ context.Context, channel models.Channel, externalID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.Channel == channel && m.ExternalID == externalID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) SaveEnrichment(_ context.Context, messageID string, e models.Enrichment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EnrichmentErr != nil {
		return s.EnrichmentErr
	}
	m, ok := s.messages[messageID]
	if !ok {
		return fmt.Errorf("message %s not found", messageID)
	}
	m.Enrichment = &e
	return nil
}

// Messages returns a snapshot of all messages ordered by receipt time.
func (s *MemoryStore) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out
}

// --- connections ---

// PutConnection seeds a mailbox connection.
func (s *MemoryStore) PutConnection(c models.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[c.ID] = &c
}

// Connection returns a copy of a stored connection, or nil.
func (s *MemoryStore) Connection(id string) *models.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[id]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

func (s *MemoryStore) ListActiveConnections(_ context.Context) ([]models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListConnsErr != nil {
		return nil, s.ListConnsErr
	}
	var out []models.Connection
	for _, c := range s.connections {
		if c.IsActive {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmailAddress < out[j].EmailAddress })
	return out, nil
}

func (s *MemoryStore) UpdateConnectionTokens(_ context.Context, id, accessToken, refreshToken string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[id]
	if !ok {
		return fmt.Errorf("connection %s not found", id)
	}
	c.AccessToken = accessToken
	if refreshToken != "" {
		c.RefreshToken = refreshToken
	}
	c.TokenExpiry = &expiry
	return nil
}

func (s *MemoryStore) MarkConnectionSynced(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[id]
	if !ok {
		return fmt.Errorf("connection %s not found", id)
	}
	c.LastSyncAt = &at
	return nil
}
