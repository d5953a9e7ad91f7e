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

package adapter

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/tradeline/inbound/internal/models"
)

// WebhookPayload is the JSON body accepted for non-email channels.
type WebhookPayload struct {
	ExternalID string `json:"external_id"`
	Direction  string `json:"direction"`
	Customer   struct {
		FullName string `json:"full_name"`
		Email    string `json:"email"`
		Phone    string `json:"phone"`
		Address  string `json:"address"`
	} `json:"customer"`
	MessageText string              `json:"message_text"`
	Attachments []models.Attachment `json:"attachments"`
	ReceivedAt  *time.Time          `json:"received_at"`
}

// FromWebhook converts a JSON webhook body for channel.
func FromWebhook(channel models.Channel, body []byte) (*models.NormalizedMessage, error) {
	if !channel.Valid() {
		return nil, adapterError("", "unknown channel "+string(channel), nil)
	}

	var p WebhookPayload
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return nil, adapterError("", "decode payload", err)
	}
	if strings.TrimSpace(p.MessageText) == "" && len(p.Attachments) == 0 {
		return nil, adapterError(p.ExternalID, "no message text", nil)
	}

	text := strings.TrimSpace(p.MessageText)
	if text == "" {
		// Media-only messages (voicemail, MMS) still need text to resolve.
		text = "[" + p.Attachments[0].Kind + " attachment]"
	}

	msg := &models.NormalizedMessage{
		Channel:    channel,
		Direction:  models.Direction(strings.ToLower(strings.TrimSpace(p.Direction))),
		ExternalID: p.ExternalID,
		Customer: models.Contact{
			FullName: strings.TrimSpace(p.Customer.FullName),
			Email:    strings.TrimSpace(p.Customer.Email),
			Phone:    strings.TrimSpace(p.Customer.Phone),
			Address:  strings.TrimSpace(p.Customer.Address),
		},
		MessageText: text,
		Attachments: p.Attachments,
		RawPayload:  json.RawMessage(body),
	}
	if p.ReceivedAt != nil {
		msg.ReceivedAt = p.ReceivedAt.UTC()
	}
	return msg, nil
}
