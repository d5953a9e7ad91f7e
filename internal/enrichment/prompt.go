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
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tradeline/inbound/internal/models"
)

// maxPromptText caps the message text embedded in a prompt.
const maxPromptText = 6000

const systemPrompt = `You triage inbound customer messages for a home-services business.
Reply with a single JSON object and nothing else.`

// buildPrompt embeds the message and customer contact fields together with
// the classification rules.
func buildPrompt(msg *models.Message, customer *models.Customer, conv *models.Conversation) string {
	categories := make([]string, len(models.Categories))
	for i, c := range models.Categories {
		categories[i] = string(c)
	}

	text := truncateText(msg.MessageText, maxPromptText)

	var b strings.Builder
	fmt.Fprintf(&b, "Channel: %s\n", msg.Channel)
	fmt.Fprintf(&b, "Customer name: %s\n", orUnknown(customer.FullName))
	fmt.Fprintf(&b, "Customer email: %s\n", orUnknown(customer.Email))
	fmt.Fprintf(&b, "Customer phone: %s\n", orUnknown(customer.Phone))
	fmt.Fprintf(&b, "Customer address: %s\n", orUnknown(customer.Address))
	fmt.Fprintf(&b, "Conversation: %s\n", conv.Title)
	if len(msg.Attachments) > 0 {
		fmt.Fprintf(&b, "Attachments: %d\n", len(msg.Attachments))
	}
	b.WriteString("\nMessage:\n")
	b.WriteString(text)
	b.WriteString("\n\nRules:\n")
	fmt.Fprintf(&b, "- category must be one of: %s.\n", strings.Join(categories, ", "))
	b.WriteString("- Newsletters, promotions and generic marketing are spam_ads.\n")
	b.WriteString("- Personal messages and notes from staff or vendors are internal.\n")
	b.WriteString("- Use other when uncertain.\n")
	b.WriteString("- urgency is low, normal or high.\n")
	b.WriteString("- lead_score rates the sales opportunity: A (ready to buy), B (interested), C (unlikely).\n")
	b.WriteString("- extracted holds facts stated in the message such as address, deadline or budget_hint.\n")
	b.WriteString("\nRespond with JSON: {\"summary\": string, \"category\": string, \"urgency\": string, ")
	b.WriteString("\"lead_score\": string, \"next_action\": string, \"extracted\": object}")
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// truncateText cuts s to at most n bytes without splitting a rune.
func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
