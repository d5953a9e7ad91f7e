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
	"time"

	"github.com/google/uuid"

	"github.com/tradeline/inbound/internal/models"
)

// Pusher enqueues enrichment tasks.
type Pusher interface {
	Push(ctx context.Context, task models.EnrichmentTask) error
}

// Dispatcher hands stored messages to the enrichment queue.
type Dispatcher struct {
	queue Pusher
}

// NewDispatcher creates a dispatcher publishing to queue.
func NewDispatcher(queue Pusher) *Dispatcher {
	return &Dispatcher{queue: queue}
}

// Trigger enqueues a task for messageID. Enqueue failures are logged and
// never reach the ingestion caller.
func (d *Dispatcher) Trigger(ctx context.Context, messageID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	task := models.EnrichmentTask{
		ID:         uuid.NewString(),
		MessageID:  messageID,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := d.queue.Push(ctx, task); err != nil {
		slog.Error("failed to enqueue enrichment task",
			"message_id", messageID,
			"error", err,
		)
		return
	}
	slog.Debug("enrichment task enqueued", "task_id", task.ID, "message_id", messageID)
}
