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
	"encoding/json"
	"fmt"
	"mime"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"google.golang.org/api/gmail/v1"

	"github.com/tradeline/inbound/internal/models"
)

// GmailAttachmentScheme prefixes synthetic attachment locators. Bytes are
// not downloaded; the locator is gmail://<message-id>/<attachment-id>.
const GmailAttachmentScheme = "gmail://"

// FromGmail converts a Gmail API message fetched with format=full.
func FromGmail(msg *gmail.Message) (*models.NormalizedMessage, error) {
	if msg == nil || msg.Payload == nil {
		id := ""
		if msg != nil {
			id = msg.Id
		}
		return nil, adapterError(id, "message has no payload", nil)
	}

	headers := gmailHeaders(msg.Payload.Headers)

	name, addr := splitFrom(headers["from"])
	if addr == "" {
		return nil, adapterError(msg.Id, "missing sender", nil)
	}

	subject := strings.TrimSpace(headers["subject"])
	if subject == "" {
		subject = NoSubject
	}

	body := gmailBody(msg.Payload)
	if strings.TrimSpace(body) == "" {
		body = msg.Snippet
	}
	if strings.TrimSpace(body) == "" {
		return nil, adapterError(msg.Id, "no usable body", nil)
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, adapterError(msg.Id, "encode raw payload", err)
	}

	return &models.NormalizedMessage{
		Channel:     models.ChannelEmail,
		Direction:   models.DirectionIncoming,
		ExternalID:  msg.Id,
		Customer:    models.Contact{FullName: name, Email: strings.ToLower(addr)},
		MessageText: emailText(subject, body),
		Attachments: gmailAttachments(msg.Id, msg.Payload),
		RawPayload:  raw,
		ReceivedAt:  gmailReceivedAt(msg, headers["date"]),
	}, nil
}

// gmailHeaders indexes headers by lower-cased name, keeping the first value.
func gmailHeaders(hs []*gmail.MessagePartHeader) map[string]string {
	out := make(map[string]string, len(hs))
	for _, h := range hs {
		if h == nil {
			continue
		}
		k := strings.ToLower(h.Name)
		if _, ok := out[k]; !ok {
			out[k] = h.Value
		}
	}
	return out
}

// splitFrom separates a From header into display name and address. An
// unparseable value is taken whole as the address.
func splitFrom(v string) (name, addr string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", ""
	}
	a, err := mail.ParseAddress(v)
	if err != nil {
		return "", v
	}
	return strings.TrimSpace(a.Name), strings.TrimSpace(a.Address)
}

// gmailBody applies the body priority: direct payload body, first
// text/plain part, first text/html part stripped of markup.
func gmailBody(p *gmail.MessagePart) string {
	if p.Body != nil && p.Body.Data != "" && !strings.HasPrefix(p.MimeType, "multipart/") {
		if text, ok := partText(p); ok {
			if strings.HasPrefix(p.MimeType, "text/html") {
				return htmlToText(text)
			}
			return text
		}
	}
	if plain := findPart(p, "text/plain"); plain != "" {
		return plain
	}
	if h := findPart(p, "text/html"); h != "" {
		return htmlToText(h)
	}
	return ""
}

// findPart returns the decoded data of the first non-attachment part with
// the given MIME type, depth first.
func findPart(p *gmail.MessagePart, mimeType string) string {
	for _, part := range p.Parts {
		if part == nil {
			continue
		}
		if part.Filename == "" && strings.HasPrefix(part.MimeType, mimeType) && part.Body != nil && part.Body.Data != "" {
			if text, ok := partText(part); ok {
				return text
			}
		}
		if s := findPart(part, mimeType); s != "" {
			return s
		}
	}
	return ""
}

// partText decodes a part body into UTF-8. Gmail returns part data in the
// charset named by the part's Content-Type header.
func partText(p *gmail.MessagePart) (string, bool) {
	data, err := decodeBase64URL(p.Body.Data)
	if err != nil {
		return "", false
	}
	return toUTF8(data, partCharset(p)), true
}

func partCharset(p *gmail.MessagePart) string {
	for _, h := range p.Headers {
		if h == nil || !strings.EqualFold(h.Name, "Content-Type") {
			continue
		}
		if _, params, err := mime.ParseMediaType(h.Value); err == nil {
			return params["charset"]
		}
	}
	return ""
}

func gmailAttachments(msgID string, p *gmail.MessagePart) []models.Attachment {
	var out []models.Attachment
	var walk func(*gmail.MessagePart)
	walk = func(part *gmail.MessagePart) {
		if part == nil {
			return
		}
		if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
			out = append(out, models.Attachment{
				URL:      fmt.Sprintf("%s%s/%s", GmailAttachmentScheme, msgID, part.Body.AttachmentId),
				Kind:     attachmentKind(part.MimeType),
				Filename: part.Filename,
				MIMEType: part.MimeType,
				Size:     part.Body.Size,
			})
		}
		for _, child := range part.Parts {
			walk(child)
		}
	}
	walk(p)
	return out
}

// gmailReceivedAt prefers Gmail's internal date (ms since epoch), then the
// Date header.
func gmailReceivedAt(msg *gmail.Message, date string) time.Time {
	if msg.InternalDate > 0 {
		return time.UnixMilli(msg.InternalDate).UTC()
	}
	if t, err := netmail.ParseDate(date); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
