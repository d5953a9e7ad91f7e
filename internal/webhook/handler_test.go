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

package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tradeline/inbound/internal/conversation"
	"github.com/tradeline/inbound/internal/identity"
	"github.com/tradeline/inbound/internal/mailsync"
	"github.com/tradeline/inbound/internal/pipeline"
	"github.com/tradeline/inbound/internal/testutil"
)

const rawEmail = "From: Jane Doe <jane@example.com>\r\n" +
	"Subject: Quote\r\n" +
	"Message-ID: <q1@example.com>\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"Need a quote for kitchen painting\r\n"

// --- Fakes ---

type fakeSyncer struct {
	sum *mailsync.Summary
	err error
}

func (f *fakeSyncer) RunOnce(context.Context) (*mailsync.Summary, error) {
	return f.sum, f.err
}

type fakeCloser struct {
	closed []string
}

func (f *fakeCloser) Close(_ context.Context, id string) error {
	f.closed = append(f.closed, id)
	return nil
}

func newTestHandler(s *testutil.MemoryStore, cfg HandlerConfig) http.Handler {
	cfg.Ingestor = pipeline.NewIngestor(pipeline.IngestorConfig{
		Store:    s,
		Resolver: identity.NewResolver(s),
		Router:   conversation.NewRouter(conversation.RouterConfig{Store: s}),
	})
	return NewHandler(cfg).Routes()
}

func do(h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

// --- Tests ---

func TestServeEmail_IngestsAndDeduplicates(t *testing.T) {
	s := testutil.NewMemoryStore()
	h := newTestHandler(s, HandlerConfig{})

	rr := do(h, http.MethodPost, "/inbound/email", rawEmail)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	first := decode(t, rr)
	if first["message_id"] == "" || first["duplicate"] != false {
		t.Errorf("response = %v", first)
	}

	rr = do(h, http.MethodPost, "/inbound/email", rawEmail)
	second := decode(t, rr)
	if second["duplicate"] != true || second["message_id"] != first["message_id"] {
		t.Errorf("second response = %v, want duplicate of %v", second, first["message_id"])
	}
	if len(s.Messages()) != 1 || len(s.Customers()) != 1 {
		t.Errorf("messages = %d, customers = %d", len(s.Messages()), len(s.Customers()))
	}
}

func TestServeChannel_SMS(t *testing.T) {
	s := testutil.NewMemoryStore()
	h := newTestHandler(s, HandlerConfig{})

	rr := do(h, http.MethodPost, "/inbound/sms",
		`{"external_id":"SM1","customer":{"phone":"+15551234567"},"message_text":"Can you come Tuesday?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}

	customers := s.Customers()
	if len(customers) != 1 || customers[0].Phone != "+15551234567" {
		t.Errorf("customers = %+v", customers)
	}
	convs := s.Conversations()
	if len(convs) != 1 || convs[0].PrimaryChannel != "sms" {
		t.Errorf("conversations = %+v", convs)
	}
}

func TestIngest_StatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		setup  func(*testutil.MemoryStore)
		want   int
		warned bool
	}{
		{
			name: "unparseable email",
			path: "/inbound/email",
			body: "Subject: no sender\r\n\r\nhello\r\n",
			want: http.StatusBadRequest,
		},
		{
			name: "unknown channel",
			path: "/inbound/fax",
			body: `{"message_text":"hi","customer":{"phone":"+1555"}}`,
			want: http.StatusBadRequest,
		},
		{
			name: "no contact fields",
			path: "/inbound/webform",
			body: `{"message_text":"hi","customer":{"full_name":"Anon"}}`,
			want: http.StatusBadRequest,
		},
		{
			name:  "datastore down",
			path:  "/inbound/sms",
			body:  `{"message_text":"hi","customer":{"phone":"+15550001111"}}`,
			setup: func(s *testutil.MemoryStore) { s.LookupErr = errors.New("connection refused") },
			want:  http.StatusServiceUnavailable,
		},
		{
			name:   "recency update failed",
			path:   "/inbound/sms",
			body:   `{"message_text":"hi","customer":{"phone":"+15550001111"}}`,
			setup:  func(s *testutil.MemoryStore) { s.TouchErr = errors.New("row locked") },
			want:   http.StatusOK,
			warned: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testutil.NewMemoryStore()
			if tt.setup != nil {
				tt.setup(s)
			}
			h := newTestHandler(s, HandlerConfig{})

			rr := do(h, http.MethodPost, tt.path, tt.body)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", rr.Code, tt.want, rr.Body)
			}
			if tt.warned {
				out := decode(t, rr)
				if out["warning"] == nil || out["message_id"] == "" {
					t.Errorf("response = %v, want ids plus warning", out)
				}
			}
		})
	}
}

func TestAuthorized_RequiresSecret(t *testing.T) {
	s := testutil.NewMemoryStore()
	h := newTestHandler(s, HandlerConfig{Secret: "s3cret"})
	body := `{"message_text":"hi","customer":{"email":"a@example.com"}}`

	if rr := do(h, http.MethodPost, "/inbound/webform", body); rr.Code != http.StatusUnauthorized {
		t.Errorf("missing secret: status = %d, want 401", rr.Code)
	}
	if rr := do(h, http.MethodPost, "/inbound/webform", body, SecretHeader, "wrong"); rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret: status = %d, want 401", rr.Code)
	}
	if rr := do(h, http.MethodPost, "/inbound/webform", body, SecretHeader, "s3cret"); rr.Code != http.StatusOK {
		t.Errorf("correct secret: status = %d, want 200", rr.Code)
	}
	if rr := do(h, http.MethodGet, "/health", ""); rr.Code != http.StatusOK {
		t.Errorf("health: status = %d, want 200 without secret", rr.Code)
	}
}

func TestServeSyncRun(t *testing.T) {
	s := testutil.NewMemoryStore()

	h := newTestHandler(s, HandlerConfig{})
	if rr := do(h, http.MethodPost, "/sync/run", ""); rr.Code != http.StatusNotImplemented {
		t.Errorf("no syncer: status = %d, want 501", rr.Code)
	}

	sum := &mailsync.Summary{
		TotalSynced:        3,
		SkippedConnections: []string{},
		Errors:             []mailsync.SyncError{{Connection: "office@example.com", Err: "gmail 503"}},
	}
	h = newTestHandler(s, HandlerConfig{Syncer: &fakeSyncer{sum: sum}})
	rr := do(h, http.MethodPost, "/sync/run", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	out := decode(t, rr)
	if out["total_synced"] != float64(3) || len(out["errors"].([]any)) != 1 {
		t.Errorf("summary = %v", out)
	}

	h = newTestHandler(s, HandlerConfig{Syncer: &fakeSyncer{err: errors.New("database down")}})
	if rr := do(h, http.MethodPost, "/sync/run", ""); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("failing syncer: status = %d, want 503", rr.Code)
	}
}

func TestServeClose(t *testing.T) {
	closer := &fakeCloser{}
	h := newTestHandler(testutil.NewMemoryStore(), HandlerConfig{Closer: closer})

	if rr := do(h, http.MethodPost, "/conversations/not-a-uuid/close", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", rr.Code)
	}

	id := "3f2b8c1e-9a4d-4c7e-8f00-1a2b3c4d5e6f"
	if rr := do(h, http.MethodPost, "/conversations/"+id+"/close", ""); rr.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rr.Code)
	}
	if len(closer.closed) != 1 || closer.closed[0] != id {
		t.Errorf("closed = %v", closer.closed)
	}
}

func TestServeHealth(t *testing.T) {
	h := newTestHandler(testutil.NewMemoryStore(), HandlerConfig{Checks: map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("dial tcp: refused") },
	}})

	rr := do(h, http.MethodGet, "/health", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	out := decode(t, rr)
	if out["postgres"] != "ok" || out["redis"] != "dial tcp: refused" {
		t.Errorf("health = %v", out)
	}
}

func TestIngest_BodyTooLarge(t *testing.T) {
	h := newTestHandler(testutil.NewMemoryStore(), HandlerConfig{})
	big := strings.Repeat("a", maxBodyBytes+1)

	for _, path := range []string{"/inbound/email", "/inbound/sms"} {
		t.Run(path, func(t *testing.T) {
			rr := do(h, http.MethodPost, path, big)
			if rr.Code != http.StatusRequestEntityTooLarge {
				t.Errorf("status = %d, want 413", rr.Code)
			}
		})
	}
}
