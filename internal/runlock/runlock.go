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

// Package runlock guarantees at most one sync run per mailbox connection at
// a time. The Redis locker holds a SET NX key with a TTL so that overlapping
// triggers across processes (the scheduled run, the HTTP trigger and the
// CLI) never sync the same connection concurrently.
package runlock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a crashed holder can block a connection.
	DefaultTTL = 10 * time.Minute

	keyPrefix = "inbound:sync-lock:"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the TTL only if the key still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker hands out per-key locks. Implemented by RedisLocker and LocalLocker.
type Locker interface {
	TryAcquire(ctx context.Context, key string) (release func(), acquired bool, err error)
}

// RedisLocker is a Locker shared by every process using the same Redis.
type RedisLocker struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisLocker creates a Redis-backed locker.
func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLocker{rdb: rdb, ttl: ttl}
}

// TryAcquire takes the lock for key without waiting. When acquired is
// false another holder has it and release is a no-op. A held lock is
// renewed every third of its TTL until released.
func (l *RedisLocker) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	k := keyPrefix + key
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, k, token, l.ttl).Result()
	if err != nil {
		return func() {}, false, fmt.Errorf("runlock SETNX %s: %w", key, err)
	}
	if !ok {
		return func() {}, false, nil
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.renew(k, token, stop)
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			wg.Wait()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.rdb, []string{k}, token).Err(); err != nil {
				slog.Warn("run-lock release failed, lock expires after TTL",
					"key", key,
					"ttl", l.ttl,
					"error", err,
				)
			}
		})
	}
	return release, true, nil
}

// renew keeps the lock alive while its holder runs. It stops when stop is
// closed or the key no longer carries token.
func (l *RedisLocker) renew(k, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		n, err := renewScript.Run(ctx, l.rdb, []string{k}, token, l.ttl.Milliseconds()).Int()
		cancel()
		if err != nil {
			slog.Warn("run-lock renewal failed", "key", k, "error", err)
			continue
		}
		if n == 0 {
			slog.Warn("run-lock lost before release", "key", k)
			return
		}
	}
}

// LocalLocker is an in-process Locker for single-instance deployments
// without Redis.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

// TryAcquire takes the lock for key without waiting.
func (l *LocalLocker) TryAcquire(_ context.Context, key string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return func() {}, false, nil
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, true, nil
}
