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

import "time"

// Category is the closed taxonomy enrichment classifies messages into.
type Category string

const (
	CategoryNewLead      Category = "new_lead"
	CategoryQuoteRequest Category = "quote_request"
	CategoryScheduling   Category = "scheduling"
	CategoryExistingJob  Category = "existing_job"
	CategoryBilling      Category = "billing"
	CategoryComplaint    Category = "complaint"
	CategorySpamAds      Category = "spam_ads"
	CategoryInternal     Category = "internal"
	CategoryOther        Category = "other"
)

// Categories lists every valid category in prompt order.
var Categories = []Category{
	CategoryNewLead,
	CategoryQuoteRequest,
	CategoryScheduling,
	CategoryExistingJob,
	CategoryBilling,
	CategoryComplaint,
	CategorySpamAds,
	CategoryInternal,
	CategoryOther,
}

// Valid reports whether c belongs to the taxonomy.
func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// Urgency is low, normal or high.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// LeadScore is a coarse A/B/C rating of a conversation as a sales
// opportunity. Empty means unscored.
type LeadScore string

const (
	LeadScoreA LeadScore = "A"
	LeadScoreB LeadScore = "B"
	LeadScoreC LeadScore = "C"
)

// Enrichment holds the derived fields written onto a message row.
type Enrichment struct {
	Summary    string         `json:"summary"`
	Category   Category       `json:"category"`
	Urgency    Urgency        `json:"urgency,omitempty"`
	NextAction string         `json:"next_action,omitempty"`
	Extracted  map[string]any `json:"extracted,omitempty"`
	EnrichedAt time.Time      `json:"enriched_at"`
}

// EnrichmentTask is the queue payload asking for a message to be enriched.
type EnrichmentTask struct {
	ID         string    `json:"id"`
	MessageID  string    `json:"message_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	LastError  string    `json:"last_error,omitempty"`
}
