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

	"github.com/jackc/pgx/v5"

	"github.com/tradeline/inbound/internal/models"
)

const customerColumns = `id, full_name, email, phone, address, source, notes, created_at, updated_at`

// FindCustomerByPhone returns the customer owning phone, or nil.
func (s *Store) FindCustomerByPhone(ctx context.Context, phone string) (*models.Customer, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE phone = $1`, phone)
	return scanCustomer(row)
}

// FindCustomerByEmail returns the customer owning email, or nil.
func (s *Store) FindCustomerByEmail(ctx context.Context, email string) (*models.Customer, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE email = $1`, email)
	return scanCustomer(row)
}

// GetCustomer returns a customer by id, or nil.
func (s *Store) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id)
	return scanCustomer(row)
}

// InsertCustomer creates a customer. A phone or email already owned by
// another customer yields models.ErrConflict.
func (s *Store) InsertCustomer(ctx context.Context, c *models.Customer) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO customers (id, full_name, email, phone, address, source, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.ID, nullIfEmpty(c.FullName), nullIfEmpty(c.Email), nullIfEmpty(c.Phone),
		nullIfEmpty(c.Address), string(c.Source), nullIfEmpty(c.Notes), c.CreatedAt, c.UpdatedAt)
	return mapError(err)
}

// UpdateCustomer overwrites the mutable fields of a customer.
func (s *Store) UpdateCustomer(ctx context.Context, c *models.Customer) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE customers
		SET full_name = $2, email = $3, phone = $4, address = $5, notes = $6, updated_at = $7
		WHERE id = $1
	`, c.ID, nullIfEmpty(c.FullName), nullIfEmpty(c.Email), nullIfEmpty(c.Phone),
		nullIfEmpty(c.Address), nullIfEmpty(c.Notes), c.UpdatedAt)
	return mapError(err)
}

func scanCustomer(row pgx.Row) (*models.Customer, error) {
	var c models.Customer
	var name, email, phone, address, notes *string
	var source string
	err := row.Scan(&c.ID, &name, &email, &phone, &address, &source, &notes, &c.CreatedAt, &c.UpdatedAt)
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.FullName = deref(name)
	c.Email = deref(email)
	c.Phone = deref(phone)
	c.Address = deref(address)
	c.Notes = deref(notes)
	c.Source = models.Channel(source)
	return &c, nil
}
