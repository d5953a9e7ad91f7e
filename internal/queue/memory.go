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
	"sync"
	"time"

	"github.com/tradeline/inbound/internal/models"
)

// ErrQueueFull is returned by MemoryQueue.Push when the buffer is full.
var ErrQueueFull = errors.New("enrichment queue full")

// MemoryQueue is an in-process task queue used when Redis is not
// configured. Tasks do not survive a restart.
type MemoryQueue struct {
	tasks chan models.EnrichmentTask

	mu   sync.Mutex
	dead []models.EnrichmentTask
}

// NewMemoryQueue creates a queue buffering up to size tasks.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1024
	}
	return &MemoryQueue{tasks: make(chan models.EnrichmentTask, size)}
}

// Push enqueues without blocking.
func (q *MemoryQueue) Push(ctx context.Context, task models.EnrichmentTask) error {
	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Pop waits up to timeout for a task; nil, nil means none arrived.
func (q *MemoryQueue) Pop(ctx context.Context, timeout time.Duration) (*models.EnrichmentTask, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case t := <-q.tasks:
		return &t, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DeadLetter records a permanently failed task.
func (q *MemoryQueue) DeadLetter(_ context.Context, task models.EnrichmentTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, task)
	return nil
}

// DeadLetters returns up to limit dead-lettered tasks, newest first.
func (q *MemoryQueue) DeadLetters(_ context.Context, limit int) ([]models.EnrichmentTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.EnrichmentTask, 0, len(q.dead))
	for i := len(q.dead) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, q.dead[i])
	}
	return out, nil
}

// Len returns the number of queued tasks.
func (q *MemoryQueue) Len() int {
	return len(q.tasks)
}
