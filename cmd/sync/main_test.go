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

package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/tradeline/inbound/internal/mailsync"
)

func execute(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// Each case fails during argument validation, before any connection is made.
func TestCommandValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"enrich needs an id", []string{"enrich"}, "accepts 1 arg(s)"},
		{"enrich rejects non-uuid", []string{"enrich", "msg-1"}, "invalid message id"},
		{"close rejects non-uuid", []string{"close", "abc"}, "invalid conversation id"},
		{"add needs refresh token", []string{"connections", "add", "--email", "a@example.com"}, `required flag(s) "refresh-token" not set`},
		{"add rejects bad email", []string{"connections", "add", "--email", "not an address", "--refresh-token", "r"}, "invalid --email"},
		{"dead-letters limit", []string{"dead-letters", "--limit", "0"}, "--limit must be positive"},
		{"run takes no args", []string{"run", "extra"}, "unknown command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want substring %q", err, tt.want)
			}
		})
	}
}

func TestPrintJSON_Summary(t *testing.T) {
	var buf bytes.Buffer
	s := &mailsync.Summary{TotalSynced: 3, Duplicates: 1, ElapsedMS: 12}
	if err := printJSON(&buf, s); err != nil {
		t.Fatalf("printJSON: %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"total_synced": 3`, `"duplicates": 1`, `"elapsed_ms": 12`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Elapsed\"") {
		t.Errorf("raw duration leaked into output:\n%s", out)
	}
}
