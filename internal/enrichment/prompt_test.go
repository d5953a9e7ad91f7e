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

package enrichment

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/tradeline/inbound/internal/models"
)

func TestTruncateText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short kept", "héllo", 10, "héllo"},
		{"ascii cut", "abcdef", 3, "abc"},
		{"backs off split rune", "aé", 2, "a"},
		{"cut on rune boundary", "aéb", 3, "aé"},
		{"three-byte rune", "x€y", 3, "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateText(tt.in, tt.n); got != tt.want {
				t.Errorf("truncateText(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}

func TestBuildPrompt_TruncatesLongTextOnRuneBoundary(t *testing.T) {
	msg := &models.Message{
		Channel:     models.ChannelEmail,
		MessageText: "a" + strings.Repeat("é", maxPromptText),
	}
	prompt := buildPrompt(msg, &models.Customer{}, &models.Conversation{Title: "Quote"})

	if !utf8.ValidString(prompt) {
		t.Fatal("prompt is not valid UTF-8")
	}
	if strings.Contains(prompt, strings.Repeat("é", maxPromptText/2)) {
		t.Error("message text was not truncated")
	}
}
