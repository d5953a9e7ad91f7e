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

package models

import (
	"errors"
	"time"
)

// ErrConflict is returned by stores when a write violates a unique
// constraint (customer phone/email, open conversation, message external id).
var ErrConflict = errors.New("unique constraint conflict")

// Customer is the durable identity a contact resolves to.
type Customer struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name,omitempty"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	Source    Channel   `json:"source"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationStatus is open or closed.
type ConversationStatus string

const (
	StatusOpen   ConversationStatus = "open"
	StatusClosed ConversationStatus = "closed"
)

// Conversation groups a customer's messages into one thread.
type Conversation struct {
	ID             string             `json:"id"`
	CustomerID     string             `json:"customer_id"`
	Title          string             `json:"title"`
	Status         ConversationStatus `json:"status"`
	PrimaryChannel Channel            `json:"primary_channel"`
	LeadScore      LeadScore          `json:"lead_score,omitempty"`
	LastMessageAt  *time.Time         `json:"last_message_at,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// LastActivity is the most recent message time, or UpdatedAt for a
// conversation that has no messages yet.
func (c *Conversation) LastActivity() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.UpdatedAt
}
