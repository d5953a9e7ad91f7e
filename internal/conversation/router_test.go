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

package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/tradeline/inbound/internal/models"
	"github.com/tradeline/inbound/internal/testutil"
)

func seedCustomer(s *testutil.MemoryStore, name string) *models.Customer {
	c := models.Customer{ID: "cust-1", FullName: name, Email: "jane@example.com"}
	s.PutCustomer(c)
	return &c
}

func TestRoute_ReusesOpenConversation(t *testing.T) {
	s := testutil.NewMemoryStore()
	r := NewRouter(RouterConfig{Store: s})
	cust := seedCustomer(s, "Jane Doe")
	ctx := context.Background()

	first, err := r.Route(ctx, cust, &models.NormalizedMessage{Channel: models.ChannelEmail})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	second, err := r.Route(ctx, cust, &models.NormalizedMessage{Channel: models.ChannelSMS})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("second message routed to %s, want %s", second.ID, first.ID)
	}
	if second.PrimaryChannel != models.ChannelEmail {
		t.Errorf("primary channel = %q, want the first message's channel", second.PrimaryChannel)
	}
	if first.Title != "Jane Doe" {
		t.Errorf("title = %q", first.Title)
	}
}

func TestRoute_ClosedConversationStartsNewOne(t *testing.T) {
	s := testutil.NewMemoryStore()
	r := NewRouter(RouterConfig{Store: s})
	cust := seedCustomer(s, "")
	ctx := context.Background()

	first, err := r.Route(ctx, cust, &models.NormalizedMessage{Channel: models.ChannelEmail})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if err := r.Close(ctx, first.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	second, err := r.Route(ctx, cust, &models.NormalizedMessage{Channel: models.ChannelWebform})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}

	if second.ID == first.ID {
		t.Fatal("closed conversation was reused")
	}
	if second.PrimaryChannel != models.ChannelWebform {
		t.Errorf("primary channel = %q, want webform", second.PrimaryChannel)
	}
	if second.Title != "jane@example.com" {
		t.Errorf("title = %q, want email fallback", second.Title)
	}
}

func TestRoute_IdleCloseOpensNewConversation(t *testing.T) {
	s := testutil.NewMemoryStore()
	r := NewRouter(RouterConfig{Store: s, IdleClose: 24 * time.Hour})
	cust := seedCustomer(s, "Jane")
	ctx := context.Background()

	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	first, err := r.Route(ctx, cust, &models.NormalizedMessage{Channel: models.ChannelEmail})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}

	clock = clock.Add(2 * time.Hour)
	same, err := r.Route(ctx, cust, &models.NormalizedMessage{Channel: models.ChannelEmail})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if same.ID != first.ID {
		t.Fatal("conversation closed before the idle window elapsed")
	}

	clock = clock.Add(48 * time.Hour)
	fresh, err := r.Route(ctx, cust, &models.NormalizedMessage{Channel: models.ChannelEmail})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if fresh.ID == first.ID {
		t.Fatal("idle conversation was reused")
	}

	open := 0
	for _, c := range s.Conversations() {
		if c.Status == models.StatusOpen {
			open++
		}
	}
	if open != 1 {
		t.Errorf("open conversations = %d, want 1", open)
	}
}

func TestRoute_InsertConflictReusesWinner(t *testing.T) {
	s := testutil.NewMemoryStore()
	cust := seedCustomer(s, "Jane")
	winner := &models.Conversation{ID: "winner", CustomerID: cust.ID, Status: models.StatusOpen, UpdatedAt: time.Now()}

	r := NewRouter(RouterConfig{Store: &racingStore{MemoryStore: s, winner: winner}})
	got, err := r.Route(context.Background(), cust, &models.NormalizedMessage{Channel: models.ChannelEmail})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if got.ID != "winner" {
		t.Errorf("id = %s, want the concurrently created conversation", got.ID)
	}
}

func TestTitle(t *testing.T) {
	if got := Title(&models.Customer{Phone: "+1555"}); got != "+1555" {
		t.Errorf("Title = %q, want phone", got)
	}
	if got := Title(&models.Customer{}); got != FallbackTitle {
		t.Errorf("Title = %q, want fallback", got)
	}
}

// racingStore inserts a competing open conversation just before the
// router's own insert.
type racingStore struct {
	*testutil.MemoryStore
	winner *models.Conversation
	raced  bool
}

func (r *racingStore) InsertConversation(ctx context.Context, c *models.Conversation) error {
	if !r.raced {
		r.raced = true
		if err := r.MemoryStore.InsertConversation(ctx, r.winner); err != nil {
			return err
		}
	}
	return r.MemoryStore.InsertConversation(ctx, c)
}
