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

// Package adapter converts channel-specific payloads into
// models.NormalizedMessage. Adapters are pure transforms; a payload that
// cannot be converted yields an *Error, which callers skip per message.
package adapter

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/emersion/go-message/charset"
)

// NoSubject is used when an email carries no Subject header.
const NoSubject = "(No Subject)"

// Error reports a payload that could not be converted.
type Error struct {
	MessageID string
	Reason    string
	Err       error
}

func (e *Error) Error() string {
	msg := "adapter"
	if e.MessageID != "" {
		msg += " " + e.MessageID
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func adapterError(id, reason string, err error) *Error {
	return &Error{MessageID: id, Reason: reason, Err: err}
}

// emailText composes the message text so every consumer sees the subject.
func emailText(subject, body string) string {
	if strings.TrimSpace(subject) == "" {
		subject = NoSubject
	}
	return fmt.Sprintf("Subject: %s\n\n%s", subject, strings.TrimSpace(body))
}

// attachmentKind buckets a MIME type into a coarse attachment kind.
func attachmentKind(mimeType string) string {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(mimeType))
	}
	switch {
	case strings.HasPrefix(mt, "image/"):
		return "image"
	case strings.HasPrefix(mt, "audio/"):
		return "audio"
	case strings.HasPrefix(mt, "video/"):
		return "video"
	case mt == "":
		return "file"
	default:
		return "document"
	}
}

// decodeBase64URL decodes provider body data, which may or may not be padded.
func decodeBase64URL(s string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// toUTF8 converts text in the named charset to UTF-8. Unknown charsets keep
// the raw bytes; invalid sequences are replaced so the text is always
// storable.
func toUTF8(data []byte, cs string) string {
	cs = strings.ToLower(strings.TrimSpace(cs))
	if cs != "" && cs != "utf-8" && cs != "utf8" && cs != "us-ascii" {
		if r, err := charset.Reader(cs, bytes.NewReader(data)); err == nil {
			if out, err := io.ReadAll(r); err == nil {
				data = out
			}
		}
	}
	return strings.ToValidUTF8(string(data), "\uFFFD")
}
