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
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/tradeline/inbound/internal/models"
)

// assessmentSchema constrains the reasoning service's JSON reply. Category
// is free text here; ParseAssessment maps unknown values to "other".
const assessmentSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["summary"],
	"properties": {
		"summary":     {"type": "string"},
		"category":    {"type": ["string", "null"]},
		"urgency":     {"enum": ["low", "normal", "high", null]},
		"lead_score":  {"enum": ["A", "B", "C", null]},
		"next_action": {"type": ["string", "null"]},
		"extracted":   {"type": ["object", "null"]}
	}
}`

const schemaURL = "mem://inbound/assessment.json"

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(assessmentSchema))
		if err != nil {
			compileErr = fmt.Errorf("decode assessment schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			compileErr = fmt.Errorf("add assessment schema: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile(schemaURL)
	})
	return compiledSchema, compileErr
}

// Assessment is a validated reasoning-service reply.
type Assessment struct {
	Summary    string           `json:"summary"`
	Category   models.Category  `json:"category"`
	Urgency    models.Urgency   `json:"urgency"`
	LeadScore  models.LeadScore `json:"lead_score"`
	NextAction string           `json:"next_action"`
	Extracted  map[string]any   `json:"extracted"`
}

// ParseAssessment decodes raw and validates it against the assessment
// schema. A missing or unknown category becomes "other".
func ParseAssessment(raw []byte) (*Assessment, error) {
	sch, err := schema()
	if err != nil {
		return nil, err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse reasoning response: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return nil, fmt.Errorf("reasoning response does not match schema: %w", err)
	}

	var a Assessment
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode reasoning response: %w", err)
	}
	a.Category = models.Category(strings.ToLower(strings.TrimSpace(string(a.Category))))
	if !a.Category.Valid() {
		a.Category = models.CategoryOther
	}
	return &a, nil
}
