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
	"errors"
	"strings"
	"testing"
)

const multipartEmail = "From: \"Bob Builder\" <bob@example.com>\r\n" +
	"To: office@example.com\r\n" +
	"Subject: Leaking roof\r\n" +
	"Date: Tue, 10 Mar 2026 09:30:00 +0000\r\n" +
	"Message-ID: <abc123@mail.example.com>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"outer\"\r\n" +
	"\r\n" +
	"--outer\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Water is coming through the ceiling.\r\n" +
	"--outer\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"photos.pdf\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"JVBERi0xLjQK\r\n" +
	"--outer--\r\n"

func TestFromMIME_Multipart(t *testing.T) {
	got, err := FromMIME(strings.NewReader(multipartEmail))
	if err != nil {
		t.Fatalf("FromMIME: %v", err)
	}

	if got.ExternalID != "abc123@mail.example.com" {
		t.Errorf("external id = %q", got.ExternalID)
	}
	if got.Customer.FullName != "Bob Builder" || got.Customer.Email != "bob@example.com" {
		t.Errorf("customer = %+v", got.Customer)
	}
	if got.MessageText != "Subject: Leaking roof\n\nWater is coming through the ceiling." {
		t.Errorf("text = %q", got.MessageText)
	}
	if got.ReceivedAt.Day() != 10 || got.ReceivedAt.Month() != 3 {
		t.Errorf("received at = %v", got.ReceivedAt)
	}
	if len(got.Attachments) != 1 {
		t.Fatalf("attachments = %+v", got.Attachments)
	}
	a := got.Attachments[0]
	if a.URL != "mime://abc123@mail.example.com/0" || a.Kind != "document" || a.Filename != "photos.pdf" {
		t.Errorf("attachment = %+v", a)
	}
	if a.Size != 9 {
		t.Errorf("attachment size = %d, want decoded size 9", a.Size)
	}
}

func TestFromMIME_HTMLOnlyAndNoSubject(t *testing.T) {
	src := "From: carol@example.com\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<html><body><p>Please call me</p><script>x()</script></body></html>\r\n"

	got, err := FromMIME(strings.NewReader(src))
	if err != nil {
		t.Fatalf("FromMIME: %v", err)
	}
	if got.MessageText != "Subject: (No Subject)\n\nPlease call me" {
		t.Errorf("text = %q", got.MessageText)
	}
	if got.Customer.Email != "carol@example.com" || got.ExternalID != "" {
		t.Errorf("customer/external id = %+v / %q", got.Customer, got.ExternalID)
	}
	if strings.Contains(string(got.RawPayload), `"date"`) {
		t.Errorf("raw payload carries a date for a message without one: %s", got.RawPayload)
	}
}

func TestFromMIME_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"empty", ""},
		{"no sender", "Subject: hi\r\n\r\nbody\r\n"},
		{"no body", "From: a@example.com\r\nSubject: hi\r\n\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromMIME(strings.NewReader(tt.src))
			var aerr *Error
			if !errors.As(err, &aerr) {
				t.Fatalf("err = %v, want *Error", err)
			}
		})
	}
}
