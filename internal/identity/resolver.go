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

// Package identity maps a message's contact fields to one durable customer.
// Lookup is phone first, then email; a miss creates the customer. Races
// between concurrent writers are closed by the store's unique indexes: an
// insert that conflicts is retried as lookup-and-merge.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tradeline/inbound/internal/models"
)

// maxAttempts bounds the insert-conflict-then-retry loop.
const maxAttempts = 3

// Store is the customer repository the resolver needs.
// Implemented by store.Store.
type Store interface {
	FindCustomerByPhone(ctx context.Context, phone string) (*models.Customer, error)
	FindCustomerByEmail(ctx context.Context, email string) (*models.Customer, error)
	InsertCustomer(ctx context.Context, c *models.Customer) error
	UpdateCustomer(ctx context.Context, c *models.Customer) error
}

// Resolver resolves contacts to customers.
type Resolver struct {
	store Store
	now   func() time.Time
}

// NewResolver creates a resolver backed by store.
func NewResolver(store Store) *Resolver {
	return &Resolver{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Resolve returns the existing customer matching contact (merged with the
// new values) or a newly created one whose source is the given channel.
// It never returns a nil customer without an error.
func (r *Resolver) Resolve(ctx context.Context, contact models.Contact, source models.Channel) (*models.Customer, error) {
	contact = NormalizeContact(contact)
	if contact.Phone == "" && contact.Email == "" {
		return nil, fmt.Errorf("resolve customer: %w: no phone or email", models.ErrInvalidMessage)
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		existing, err := r.lookup(ctx, contact)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return r.merge(ctx, existing, contact)
		}

		now := r.now()
		c := &models.Customer{
			ID:        uuid.NewString(),
			FullName:  contact.FullName,
			Email:     contact.Email,
			Phone:     contact.Phone,
			Address:   contact.Address,
			Source:    source,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = r.store.InsertCustomer(ctx, c)
		if err == nil {
			slog.Info("customer created", "customer_id", c.ID, "source", source)
			return c, nil
		}
		if !errors.Is(err, models.ErrConflict) {
			return nil, fmt.Errorf("insert customer: %w", err)
		}
		slog.Debug("customer insert conflicted, retrying as update",
			"attempt", attempt,
			"error", err,
		)
	}

	return nil, fmt.Errorf("resolve customer after %d attempts: %w", maxAttempts, models.ErrConflict)
}

// lookup finds a customer by phone, then by email.
func (r *Resolver) lookup(ctx context.Context, contact models.Contact) (*models.Customer, error) {
	if contact.Phone != "" {
		c, err := r.store.FindCustomerByPhone(ctx, contact.Phone)
		if err != nil {
			return nil, fmt.Errorf("lookup customer by phone: %w", err)
		}
		if c != nil {
			return c, nil
		}
	}
	if contact.Email != "" {
		c, err := r.store.FindCustomerByEmail(ctx, contact.Email)
		if err != nil {
			return nil, fmt.Errorf("lookup customer by email: %w", err)
		}
		if c != nil {
			return c, nil
		}
	}
	return nil, nil
}

// merge overwrites existing fields with every non-empty new value and always
// refreshes UpdatedAt. If the new phone or email already belongs to a
// different customer, the existing value of that key is kept.
func (r *Resolver) merge(ctx context.Context, existing *models.Customer, contact models.Contact) (*models.Customer, error) {
	merged := *existing
	if contact.FullName != "" {
		merged.FullName = contact.FullName
	}
	if contact.Email != "" {
		merged.Email = contact.Email
	}
	if contact.Phone != "" {
		merged.Phone = contact.Phone
	}
	if contact.Address != "" {
		merged.Address = contact.Address
	}
	merged.UpdatedAt = r.now()

	err := r.store.UpdateCustomer(ctx, &merged)
	if errors.Is(err, models.ErrConflict) {
		slog.Warn("merged contact key belongs to another customer, keeping existing keys",
			"customer_id", existing.ID,
			"error", err,
		)
		merged.Email = existing.Email
		merged.Phone = existing.Phone
		err = r.store.UpdateCustomer(ctx, &merged)
	}
	if err != nil {
		return nil, fmt.Errorf("update customer %s: %w", existing.ID, err)
	}
	return &merged, nil
}

// NormalizeContact trims every field, lower-cases the email and reduces the
// phone to digits with an optional leading '+'.
func NormalizeContact(c models.Contact) models.Contact {
	return models.Contact{
		FullName: strings.Join(strings.Fields(c.FullName), " "),
		Email:    strings.ToLower(strings.TrimSpace(c.Email)),
		Phone:    NormalizePhone(c.Phone),
		Address:  strings.TrimSpace(c.Address),
	}
}

// NormalizePhone strips formatting from a phone number. A value without
// any digit normalizes to "".
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if strings.TrimPrefix(out, "+") == "" {
		return ""
	}
	return out
}
