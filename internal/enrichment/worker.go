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
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tradeline/inbound/internal/models"
)

// TaskQueue is the queue the worker pool consumes.
// Implemented by queue.RedisQueue and queue.MemoryQueue.
type TaskQueue interface {
	Push(ctx context.Context, task models.EnrichmentTask) error
	Pop(ctx context.Context, timeout time.Duration) (*models.EnrichmentTask, error)
	DeadLetter(ctx context.Context, task models.EnrichmentTask) error
}

// Enricher does the work for one message. Implemented by Orchestrator.
type Enricher interface {
	Enrich(ctx context.Context, messageID string) error
}

// Worker consumes enrichment tasks with a fixed number of goroutines,
// retrying failures with exponential backoff and dead-lettering tasks that
// exhaust their attempts.
type Worker struct {
	queue       TaskQueue
	enricher    Enricher
	workers     int
	maxAttempts int
	backoff     time.Duration
	pollTimeout time.Duration
	taskTimeout time.Duration

	cancel  context.CancelFunc
	group   *errgroup.Group
	retries sync.WaitGroup
}

// WorkerConfig holds the worker pool's settings.
type WorkerConfig struct {
	Queue       TaskQueue
	Enricher    Enricher
	Workers     int
	MaxAttempts int
	Backoff     time.Duration
	PollTimeout time.Duration
	TaskTimeout time.Duration
}

// NewWorker creates an enrichment worker pool.
func NewWorker(cfg WorkerConfig) *Worker {
	w := &Worker{
		queue:       cfg.Queue,
		enricher:    cfg.Enricher,
		workers:     cfg.Workers,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		pollTimeout: cfg.PollTimeout,
		taskTimeout: cfg.TaskTimeout,
	}
	if w.workers <= 0 {
		w.workers = 1
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = 1
	}
	if w.pollTimeout <= 0 {
		w.pollTimeout = 5 * time.Second
	}
	if w.taskTimeout <= 0 {
		w.taskTimeout = 2 * time.Minute
	}
	return w
}

// Start launches the consumer goroutines.
func (w *Worker) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	g, gctx := errgroup.WithContext(loopCtx)
	for i := 0; i < w.workers; i++ {
		id := i
		g.Go(func() error {
			w.consume(gctx, id)
			return nil
		})
	}
	w.group = g

	slog.Info("enrichment workers started", "workers", w.workers, "max_attempts", w.maxAttempts)
}

// Stop cancels the consumers and waits for in-flight tasks and pending
// retries to be handed back to the queue.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.group != nil {
		_ = w.group.Wait()
	}
	w.retries.Wait()
}

func (w *Worker) consume(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}

		task, err := w.queue.Pop(ctx, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("enrichment queue pop failed", "worker", id, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if task == nil {
			continue
		}

		w.process(ctx, *task)
	}
}

// drainPoll is how long Drain waits on an empty queue before deciding it is
// drained.
const drainPoll = 50 * time.Millisecond

// Drain processes queued tasks on the calling goroutine until the queue is
// empty and no retry is pending, and returns how many tasks it ran. It is
// for one-shot processes whose queue does not outlive them.
func (w *Worker) Drain(ctx context.Context) int {
	processed := 0
	idle := false
	for ctx.Err() == nil {
		task, err := w.queue.Pop(ctx, drainPoll)
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("enrichment queue pop failed during drain", "error", err)
			}
			break
		}
		if task == nil {
			if idle {
				break
			}
			// Pending retries push back onto the queue; look once more after.
			w.retries.Wait()
			idle = true
			continue
		}
		idle = false
		w.process(ctx, *task)
		processed++
	}
	w.retries.Wait()
	return processed
}

// process runs one task to completion even if ctx is cancelled meanwhile.
func (w *Worker) process(ctx context.Context, task models.EnrichmentTask) {
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.taskTimeout)
	defer cancel()

	err := w.enricher.Enrich(taskCtx, task.MessageID)
	if err == nil {
		return
	}

	task.Attempt++
	task.LastError = err.Error()

	if task.Attempt >= w.maxAttempts {
		slog.Error("enrichment failed permanently, dead-lettering",
			"task_id", task.ID,
			"message_id", task.MessageID,
			"attempts", task.Attempt,
			"error", err,
		)
		if dlErr := w.queue.DeadLetter(taskCtx, task); dlErr != nil {
			slog.Error("dead-letter push failed", "task_id", task.ID, "error", dlErr)
		}
		return
	}

	delay := w.backoff << (task.Attempt - 1)
	slog.Warn("enrichment failed, scheduling retry",
		"task_id", task.ID,
		"message_id", task.MessageID,
		"attempt", task.Attempt,
		"retry_in", delay,
		"error", err,
	)
	w.scheduleRetry(ctx, task, delay)
}

// scheduleRetry re-enqueues task after delay. On shutdown the task is
// re-enqueued immediately so it is not lost.
func (w *Worker) scheduleRetry(ctx context.Context, task models.EnrichmentTask, delay time.Duration) {
	w.retries.Add(1)
	go func() {
		defer w.retries.Done()

		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
			}
		}

		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		task.EnqueuedAt = time.Now().UTC()
		if err := w.queue.Push(pushCtx, task); err != nil {
			slog.Error("re-enqueue failed, dead-lettering", "task_id", task.ID, "error", err)
			_ = w.queue.DeadLetter(pushCtx, task)
		}
	}()
}
