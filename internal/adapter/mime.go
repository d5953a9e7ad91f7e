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
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	// Register charset decoders (windows-1252, iso-8859-*, koi8-r, etc.)
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/tradeline/inbound/internal/models"
)

// MIMEAttachmentScheme prefixes synthetic locators for attachments found in
// raw messages: mime://<message-id>/<index>.
const MIMEAttachmentScheme = "mime://"

// maxRawPayload caps how much of the raw message is kept for audit.
const maxRawPayload = 256 << 10

// rawEmail is the audit record kept for a raw MIME message.
type rawEmail struct {
	MessageID string     `json:"message_id,omitempty"`
	From      string     `json:"from"`
	Subject   string     `json:"subject"`
	Date      *time.Time `json:"date,omitempty"`
	Size      int        `json:"size"`
	Truncated bool       `json:"truncated,omitempty"`
	Source    string     `json:"source"`
}

// FromMIME converts a raw RFC 5322 message, as delivered by an inbound
// email webhook.
func FromMIME(r io.Reader) (*models.NormalizedMessage, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, adapterError("", "read message", err)
	}
	if len(bytes.TrimSpace(src)) == 0 {
		return nil, adapterError("", "empty message", nil)
	}

	mr, err := mail.CreateReader(bytes.NewReader(src))
	if err != nil {
		return nil, adapterError("", "parse message", err)
	}
	defer mr.Close()

	msgID, _ := mr.Header.MessageID()

	var name, addr string
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		name, addr = strings.TrimSpace(from[0].Name), strings.TrimSpace(from[0].Address)
	} else {
		addr = strings.TrimSpace(mr.Header.Get("From"))
	}
	if addr == "" {
		return nil, adapterError(msgID, "missing sender", nil)
	}

	subject, err := mr.Header.Subject()
	if err != nil || strings.TrimSpace(subject) == "" {
		subject = NoSubject
	}

	received, err := mr.Header.Date()
	if err != nil {
		received = time.Time{}
	}

	var plain, htmlBody string
	var attachments []models.Attachment
	locatorID := msgID
	if locatorID == "" {
		locatorID = "message"
	}

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Keep whatever parts were readable.
			break
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			b, readErr := io.ReadAll(p.Body)
			if readErr != nil {
				continue
			}
			switch {
			case ct == "text/html" && htmlBody == "":
				htmlBody = string(b)
			case (ct == "text/plain" || ct == "") && plain == "":
				plain = string(b)
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			ct, _, _ := h.ContentType()
			n, _ := io.Copy(io.Discard, p.Body)
			attachments = append(attachments, models.Attachment{
				URL:      fmt.Sprintf("%s%s/%d", MIMEAttachmentScheme, locatorID, len(attachments)),
				Kind:     attachmentKind(ct),
				Filename: filename,
				MIMEType: ct,
				Size:     n,
			})
		}
	}

	body := plain
	if strings.TrimSpace(body) == "" && htmlBody != "" {
		body = htmlToText(htmlBody)
	}
	if strings.TrimSpace(body) == "" {
		return nil, adapterError(msgID, "no usable body", nil)
	}

	audit := rawEmail{
		MessageID: msgID,
		From:      mr.Header.Get("From"),
		Subject:   subject,
		Size:      len(src),
	}
	if !received.IsZero() {
		audit.Date = &received
	}
	if len(src) > maxRawPayload {
		audit.Source = string(src[:maxRawPayload])
		audit.Truncated = true
	} else {
		audit.Source = string(src)
	}
	raw, err := json.Marshal(audit)
	if err != nil {
		return nil, adapterError(msgID, "encode raw payload", err)
	}

	return &models.NormalizedMessage{
		Channel:     models.ChannelEmail,
		Direction:   models.DirectionIncoming,
		ExternalID:  msgID,
		Customer:    models.Contact{FullName: name, Email: strings.ToLower(addr)},
		MessageText: emailText(subject, body),
		Attachments: attachments,
		RawPayload:  raw,
		ReceivedAt:  received.UTC(),
	}, nil
}
