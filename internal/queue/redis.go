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

// Package queue carries enrichment tasks between the ingestion path and the
// enrichment workers, either through Redis lists or in-process.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradeline/inbound/internal/models"
)

// RedisQueue is a FIFO of enrichment tasks on a Redis list (LPUSH/BRPOP)
// with a second list for dead letters.
type RedisQueue struct {
	rdb        *redis.Client
	queueName  string
	deadLetter string
}

// NewRedisQueue creates a queue on the given list names.
func NewRedisQueue(rdb *redis.Client, queueName, deadLetter string) *RedisQueue {
	return &RedisQueue{
		rdb:        rdb,
		queueName:  queueName,
		deadLetter: deadLetter,
	}
}

// Push enqueues a task.
func (q *RedisQueue) Push(ctx context.Context, task models.EnrichmentTask) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal enrichment task: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.queueName, body).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}
	return nil
}

// Pop blocks up to timeout for the oldest task. It returns nil, nil when
// the queue stayed empty.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (*models.EnrichmentTask, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.queueName).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis BRPOP: %w", err)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("redis BRPOP: unexpected reply length %d", len(res))
	}

	var task models.EnrichmentTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		slog.Error("dropping undecodable enrichment task", "queue", q.queueName, "error", err)
		return nil, nil
	}
	return &task, nil
}

// DeadLetter records a task that exhausted its attempts.
func (q *RedisQueue) DeadLetter(ctx context.Context, task models.EnrichmentTask) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.deadLetter, body).Err(); err != nil {
		return fmt.Errorf("redis LPUSH dead letter: %w", err)
	}
	return nil
}

// DeadLetters returns up to limit dead-lettered tasks, newest first.
func (q *RedisQueue) DeadLetters(ctx context.Context, limit int) ([]models.EnrichmentTask, error) {
	vals, err := q.rdb.LRange(ctx, q.deadLetter, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis LRANGE: %w", err)
	}
	tasks := make([]models.EnrichmentTask, 0, len(vals))
	for _, v := range vals {
		var t models.EnrichmentTask
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Ping checks the Redis connection.
func (q *RedisQueue) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return q.rdb.Ping(ctx).Err()
}
