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

// Package models defines the data structures shared across the inbound
// message pipeline.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidMessage is returned when a NormalizedMessage cannot be resolved
// to a customer deterministically.
var ErrInvalidMessage = errors.New("invalid normalized message")

// Channel identifies the transport a message arrived on.
type Channel string

const (
	ChannelEmail     Channel = "email"
	ChannelSMS       Channel = "sms"
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelWebform   Channel = "webform"
	ChannelVoicemail Channel = "voicemail"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelWhatsApp, ChannelWebform, ChannelVoicemail:
		return true
	}
	return false
}

// Direction is incoming or outgoing relative to the business.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Contact holds the customer-identifying fields carried by a message.
// Empty strings mean "not supplied".
type Contact struct {
	FullName string `json:"full_name,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Address  string `json:"address,omitempty"`
}

// Attachment describes a file carried by a message. URL is a locator, not
// necessarily a downloadable link (e.g. gmail://<message>/<attachment>).
type Attachment struct {
	URL      string `json:"url"`
	Kind     string `json:"kind"`
	Filename string `json:"filename,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// NormalizedMessage is the single canonical shape every channel payload is
// converted into before it enters the pipeline. It is never persisted as-is.
type NormalizedMessage struct {
	Channel     Channel         `json:"channel"`
	Direction   Direction       `json:"direction"`
	ExternalID  string          `json:"external_id,omitempty"`
	Customer    Contact         `json:"customer"`
	MessageText string          `json:"message_text"`
	Attachments []Attachment    `json:"attachments,omitempty"`
	RawPayload  json.RawMessage `json:"raw_payload,omitempty"`
	ReceivedAt  time.Time       `json:"received_at"`
}

// Normalize fills defaults for optional fields.
func (m *NormalizedMessage) Normalize() {
	if m.Direction == "" {
		m.Direction = DirectionIncoming
	}
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = time.Now().UTC()
	}
	m.ExternalID = strings.TrimSpace(m.ExternalID)
}

// Validate checks that the message carries text and at least one of email
// or phone.
func (m *NormalizedMessage) Validate() error {
	if !m.Channel.Valid() {
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidMessage, m.Channel)
	}
	if m.Direction != DirectionIncoming && m.Direction != DirectionOutgoing {
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidMessage, m.Direction)
	}
	if strings.TrimSpace(m.MessageText) == "" {
		return fmt.Errorf("%w: empty message text", ErrInvalidMessage)
	}
	if strings.TrimSpace(m.Customer.Email) == "" && strings.TrimSpace(m.Customer.Phone) == "" {
		return fmt.Errorf("%w: neither email nor phone present", ErrInvalidMessage)
	}
	return nil
}

// Message is the persisted record of one communication. Transport fields
// never change after insert; only Enrichment is written later.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	CustomerID     string          `json:"customer_id"`
	Channel        Channel         `json:"channel"`
	Direction      Direction       `json:"direction"`
	ExternalID     string          `json:"external_id,omitempty"`
	RawPayload     json.RawMessage `json:"raw_payload,omitempty"`
	MessageText    string          `json:"message_text"`
	Attachments    []Attachment    `json:"attachments"`
	ReceivedAt     time.Time       `json:"received_at"`
	CreatedAt      time.Time       `json:"created_at"`

	// Nil until the message has been enriched.
	Enrichment *Enrichment `json:"enrichment,omitempty"`
}
