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

package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tradeline/inbound/internal/models"
	"github.com/tradeline/inbound/internal/testutil"
)

func TestResolve_CreatesNewCustomer(t *testing.T) {
	s := testutil.NewMemoryStore()
	r := NewResolver(s)

	c, err := r.Resolve(context.Background(), models.Contact{
		FullName: " Jane  Doe ",
		Email:    "Jane@Example.COM",
		Phone:    "+1 (555) 123-4567",
	}, models.ChannelEmail)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if c.Phone != "+15551234567" {
		t.Errorf("phone = %q, want normalized", c.Phone)
	}
	if c.Email != "jane@example.com" {
		t.Errorf("email = %q, want lower-cased", c.Email)
	}
	if c.FullName != "Jane Doe" {
		t.Errorf("name = %q", c.FullName)
	}
	if c.Source != models.ChannelEmail {
		t.Errorf("source = %q, want email", c.Source)
	}
	if n := len(s.Customers()); n != 1 {
		t.Errorf("customers = %d, want 1", n)
	}
}

// Two messages with the same phone and differing email/name collapse into
// one customer carrying the most recent values.
func TestResolve_SamePhoneMergesLatestValues(t *testing.T) {
	s := testutil.NewMemoryStore()
	r := NewResolver(s)
	ctx := context.Background()

	first, err := r.Resolve(ctx, models.Contact{FullName: "J", Email: "old@example.com", Phone: "+15551234567"}, models.ChannelSMS)
	if err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	second, err := r.Resolve(ctx, models.Contact{FullName: "Jane Doe", Email: "new@example.com", Phone: "+15551234567"}, models.ChannelEmail)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("ids differ: %s vs %s", first.ID, second.ID)
	}
	all := s.Customers()
	if len(all) != 1 {
		t.Fatalf("customers = %d, want 1", len(all))
	}
	if all[0].FullName != "Jane Doe" || all[0].Email != "new@example.com" {
		t.Errorf("stored = %+v, want latest name and email", all[0])
	}
	if all[0].Source != models.ChannelSMS {
		t.Errorf("source = %q, want the creating channel", all[0].Source)
	}
}

func TestResolve_EmptyFieldsDoNotOverwrite(t *testing.T) {
	s := testutil.NewMemoryStore()
	r := NewResolver(s)
	ctx := context.Background()

	if _, err := r.Resolve(ctx, models.Contact{FullName: "Jane", Email: "jane@example.com", Address: "1 Main St"}, models.ChannelEmail); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	c, err := r.Resolve(ctx, models.Contact{Email: "jane@example.com", Phone: "5551234567"}, models.ChannelEmail)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if c.FullName != "Jane" || c.Address != "1 Main St" {
		t.Errorf("existing fields lost: %+v", c)
	}
	if c.Phone != "5551234567" {
		t.Errorf("phone = %q, want merged in from the email match", c.Phone)
	}
}

func TestResolve_RefreshesUpdatedAt(t *testing.T) {
	s := testutil.NewMemoryStore()
	r := NewResolver(s)
	ctx := context.Background()

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }
	if _, err := r.Resolve(ctx, models.Contact{Email: "a@example.com"}, models.ChannelEmail); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	clock = clock.Add(time.Hour)
	c, err := r.Resolve(ctx, models.Contact{Email: "a@example.com"}, models.ChannelEmail)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !c.UpdatedAt.Equal(clock) {
		t.Errorf("updated_at = %v, want %v", c.UpdatedAt, clock)
	}
}

// A concurrent writer inserting the same phone between lookup and insert
// must not produce a second customer.
func TestResolve_InsertConflictRetriesAsUpdate(t *testing.T) {
	s := testutil.NewMemoryStore()
	var once sync.Once
	s.BeforeInsertCustomer = func(c *models.Customer) {
		once.Do(func() {
			s.PutCustomer(models.Customer{ID: "winner", Phone: c.Phone, Source: models.ChannelSMS})
		})
	}
	r := NewResolver(s)

	c, err := r.Resolve(context.Background(), models.Contact{FullName: "Late", Phone: "+15550001111"}, models.ChannelEmail)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if c.ID != "winner" {
		t.Errorf("id = %s, want the concurrently inserted customer", c.ID)
	}
	if c.FullName != "Late" {
		t.Errorf("name = %q, want merged value", c.FullName)
	}
	if n := len(s.Customers()); n != 1 {
		t.Errorf("customers = %d, want 1", n)
	}
}

func TestResolve_ConcurrentSameContact(t *testing.T) {
	s := testutil.NewMemoryStore()
	r := NewResolver(s)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	errs := make([]error, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := r.Resolve(context.Background(), models.Contact{Phone: "+15557654321"}, models.ChannelSMS)
			errs[i] = err
			if c != nil {
				ids[i] = c.ID
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("goroutine %d: %v", i, err)
		}
		if ids[i] != ids[0] {
			t.Errorf("goroutine %d resolved %s, want %s", i, ids[i], ids[0])
		}
	}
	if n := len(s.Customers()); n != 1 {
		t.Errorf("customers = %d, want 1", n)
	}
}

func TestResolve_MergeKeepsKeyOwnedByAnotherCustomer(t *testing.T) {
	s := testutil.NewMemoryStore()
	s.PutCustomer(models.Customer{ID: "a", Phone: "+15551110000", Email: "a@example.com"})
	s.PutCustomer(models.Customer{ID: "b", Email: "b@example.com"})
	r := NewResolver(s)

	c, err := r.Resolve(context.Background(), models.Contact{FullName: "Ann", Phone: "+15551110000", Email: "b@example.com"}, models.ChannelEmail)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if c.ID != "a" {
		t.Fatalf("id = %s, want phone match a", c.ID)
	}
	if c.Email != "a@example.com" {
		t.Errorf("email = %q, want existing value kept", c.Email)
	}
	if c.FullName != "Ann" {
		t.Errorf("name = %q, want merged", c.FullName)
	}
}

func TestResolve_LookupErrorIsSurfaced(t *testing.T) {
	s := testutil.NewMemoryStore()
	s.LookupErr = errors.New("connection refused")
	r := NewResolver(s)

	c, err := r.Resolve(context.Background(), models.Contact{Email: "a@example.com"}, models.ChannelEmail)
	if err == nil || c != nil {
		t.Fatalf("Resolve = %v, %v; want error", c, err)
	}
	if n := len(s.Customers()); n != 0 {
		t.Errorf("customers = %d, want none written", n)
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := map[string]string{
		"+1 (555) 123-4567": "+15551234567",
		"555.123.4567":      "5551234567",
		" 0044 20 7946 ":    "0044207946",
		"n/a":               "",
		"+":                 "",
		"1+2":               "12",
	}
	for in, want := range tests {
		if got := NormalizePhone(in); got != want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
}
