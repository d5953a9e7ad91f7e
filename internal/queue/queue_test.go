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

package queue

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tradeline/inbound/internal/models"
)

func TestMemoryQueue_FIFOAndTimeout(t *testing.T) {
	q := NewMemoryQueue(2)
	ctx := context.Background()

	for _, id := range []string{"m1", "m2"} {
		if err := q.Push(ctx, models.EnrichmentTask{MessageID: id}); err != nil {
			t.Fatalf("Push(%s): %v", id, err)
		}
	}
	if err := q.Push(ctx, models.EnrichmentTask{MessageID: "m3"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Push on full queue err = %v, want ErrQueueFull", err)
	}

	for _, want := range []string{"m1", "m2"} {
		task, err := q.Pop(ctx, time.Second)
		if err != nil || task == nil {
			t.Fatalf("Pop = %v, %v", task, err)
		}
		if task.MessageID != want {
			t.Errorf("Pop = %s, want %s", task.MessageID, want)
		}
	}

	task, err := q.Pop(ctx, 10*time.Millisecond)
	if err != nil || task != nil {
		t.Fatalf("Pop on empty queue = %v, %v; want nil, nil", task, err)
	}
}

func TestMemoryQueue_PopHonoursCancellation(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := q.Pop(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestMemoryQueue_DeadLetters(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx := context.Background()
	_ = q.DeadLetter(ctx, models.EnrichmentTask{MessageID: "a"})
	_ = q.DeadLetter(ctx, models.EnrichmentTask{MessageID: "b"})

	got, _ := q.DeadLetters(ctx, 1)
	if len(got) != 1 || got[0].MessageID != "b" {
		t.Errorf("DeadLetters = %+v, want newest first", got)
	}
}

// TestRedisQueue_RoundTrip runs against INBOUND_TEST_REDIS_URL when set.
func TestRedisQueue_RoundTrip(t *testing.T) {
	url := os.Getenv("INBOUND_TEST_REDIS_URL")
	if url == "" {
		t.Skip("INBOUND_TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("ParseURL: %v", err)
	}
	rdb := redis.NewClient(opt)
	t.Cleanup(func() { rdb.Close() })

	name := "test:enrich:" + uuid.NewString()
	q := NewRedisQueue(rdb, name, name+":dead")
	ctx := context.Background()
	t.Cleanup(func() { rdb.Del(ctx, name, name+":dead") })

	if err := q.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := q.Push(ctx, models.EnrichmentTask{ID: "t1", MessageID: "m1", Attempt: 2}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	task, err := q.Pop(ctx, time.Second)
	if err != nil || task == nil {
		t.Fatalf("Pop = %v, %v", task, err)
	}
	if task.MessageID != "m1" || task.Attempt != 2 {
		t.Errorf("task = %+v", task)
	}

	if err := q.DeadLetter(ctx, *task); err != nil {
		t.Fatalf("DeadLetter: %v", err)
	}
	dead, err := q.DeadLetters(ctx, 10)
	if err != nil || len(dead) != 1 {
		t.Fatalf("DeadLetters = %v, %v", dead, err)
	}
}
