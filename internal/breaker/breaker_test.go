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

package breaker

import (
	"errors"
	"testing"

	"github.com/sony/gobreaker"
)

func TestDo_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := New("test")
	boom := errors.New("boom")

	for i := 0; i < 6; i++ {
		if _, err := Do(cb, func() (int, error) { return 0, boom }); !errors.Is(err, boom) {
			t.Fatalf("call %d: err = %v, want boom", i, err)
		}
	}

	_, err := Do(cb, func() (int, error) { return 1, nil })
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("err = %v, want open state", err)
	}
}

func TestDo_PermanentErrorsDoNotTrip(t *testing.T) {
	cb := New("test")
	bad := errors.New("400 bad request")

	for i := 0; i < 20; i++ {
		_, err := Do(cb, func() (string, error) { return "", Permanent(bad) })
		if err != bad {
			t.Fatalf("call %d: err = %v, want unwrapped bad request", i, err)
		}
	}

	got, err := Do(cb, func() (string, error) { return "ok", nil })
	if err != nil || got != "ok" {
		t.Fatalf("Do = %q, %v; breaker should stay closed", got, err)
	}
	if cb.State() != gobreaker.StateClosed {
		t.Errorf("state = %s, want closed", cb.State())
	}
}
