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
	"testing"
)

func TestNormalizedMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     NormalizedMessage
		wantErr bool
	}{
		{
			name: "email only",
			msg:  NormalizedMessage{Channel: ChannelEmail, MessageText: "hi", Customer: Contact{Email: "a@b.com"}},
		},
		{
			name: "phone only",
			msg:  NormalizedMessage{Channel: ChannelSMS, MessageText: "hi", Customer: Contact{Phone: "+15551234567"}},
		},
		{
			name:    "no contact",
			msg:     NormalizedMessage{Channel: ChannelSMS, MessageText: "hi", Customer: Contact{FullName: "Ann"}},
			wantErr: true,
		},
		{
			name:    "blank text",
			msg:     NormalizedMessage{Channel: ChannelEmail, MessageText: "  ", Customer: Contact{Email: "a@b.com"}},
			wantErr: true,
		},
		{
			name:    "unknown channel",
			msg:     NormalizedMessage{Channel: "fax", MessageText: "hi", Customer: Contact{Email: "a@b.com"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.msg.Normalize()
			err := tt.msg.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidMessage) {
					t.Fatalf("err = %v, want ErrInvalidMessage", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestNormalizeDefaults(t *testing.T) {
	m := NormalizedMessage{Channel: ChannelEmail, ExternalID: " abc "}
	m.Normalize()

	if m.Direction != DirectionIncoming {
		t.Errorf("direction = %q, want incoming", m.Direction)
	}
	if m.ReceivedAt.IsZero() {
		t.Error("received_at not defaulted")
	}
	if m.ExternalID != "abc" {
		t.Errorf("external id = %q, want trimmed", m.ExternalID)
	}
}

func TestCategoryValid(t *testing.T) {
	if !CategorySpamAds.Valid() {
		t.Error("spam_ads should be valid")
	}
	if Category("marketing").Valid() {
		t.Error("marketing should not be valid")
	}
}
