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

// Package mailsync pulls unseen messages from connected mailboxes into the
// inbound pipeline. A run visits every active connection, ingests at most a
// fixed number of recent unseen messages per connection, and acknowledges
// each one to the provider only after it has been stored. Failures are
// isolated per connection and per message and collected into a Summary.
package mailsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/tradeline/inbound/internal/adapter"
	"github.com/tradeline/inbound/internal/models"
	"github.com/tradeline/inbound/internal/pipeline"
)

// Store is the connection repository. Implemented by store.Store.
type Store interface {
	ListActiveConnections(ctx context.Context) ([]models.Connection, error)
	MarkConnectionSynced(ctx context.Context, id string, at time.Time) error
}

// Mailbox is one provider account. Implemented by gmail.Mailbox.
type Mailbox interface {
	ListUnseen(ctx context.Context, since time.Time, limit int) ([]string, error)
	GetMessage(ctx context.Context, id string) (*gmailapi.Message, error)
	MarkSeen(ctx context.Context, id string) error
}

// OpenFunc opens the mailbox for a connection.
type OpenFunc func(ctx context.Context, conn models.Connection) (Mailbox, error)

// Ingestor stores normalized messages. Implemented by pipeline.Ingestor.
type Ingestor interface {
	SaveNormalizedMessage(ctx context.Context, msg *models.NormalizedMessage) (*pipeline.Result, error)
}

// Locker guards a connection against concurrent runs.
// Implemented by runlock.RedisLocker and runlock.LocalLocker.
type Locker interface {
	TryAcquire(ctx context.Context, key string) (release func(), acquired bool, err error)
}

// SyncError is one failure recorded during a run.
type SyncError struct {
	Connection string `json:"connection"`
	MessageID  string `json:"message_id,omitempty"`
	Err        string `json:"error"`
}

// Summary reports the outcome of a run.
type Summary struct {
	TotalSynced        int           `json:"total_synced"`
	Duplicates         int           `json:"duplicates"`
	SkippedConnections []string      `json:"skipped_connections"`
	Errors             []SyncError   `json:"errors"`
	Elapsed            time.Duration `json:"-"`
	ElapsedMS          int64         `json:"elapsed_ms"`
}

// Worker runs sync cycles.
type Worker struct {
	store       Store
	open        OpenFunc
	ingestor    Ingestor
	locker      Locker
	lookback    time.Duration
	maxMessages int
	concurrency int
	interval    time.Duration
	now         func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds the sync worker's dependencies and bounds.
type Config struct {
	Store       Store
	Open        OpenFunc
	Ingestor    Ingestor
	Locker      Locker // optional
	Lookback    time.Duration
	MaxMessages int
	Concurrency int
	Interval    time.Duration
}

// NewWorker creates a sync worker.
func NewWorker(cfg Config) *Worker {
	w := &Worker{
		store:       cfg.Store,
		open:        cfg.Open,
		ingestor:    cfg.Ingestor,
		locker:      cfg.Locker,
		lookback:    cfg.Lookback,
		maxMessages: cfg.MaxMessages,
		concurrency: cfg.Concurrency,
		interval:    cfg.Interval,
		now:         func() time.Time { return time.Now().UTC() },
	}
	if w.lookback <= 0 {
		w.lookback = 72 * time.Hour
	}
	if w.maxMessages <= 0 {
		w.maxMessages = 50
	}
	if w.concurrency <= 0 {
		w.concurrency = 1
	}
	if w.interval <= 0 {
		w.interval = 5 * time.Minute
	}
	return w
}

// RunOnce syncs every active connection. Only a failure to list the
// connections themselves is returned as an error; everything else lands in
// the summary. Cancelling ctx stops new messages from being started while
// those already in flight finish.
func (w *Worker) RunOnce(ctx context.Context) (*Summary, error) {
	start := time.Now()

	conns, err := w.store.ListActiveConnections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active connections: %w", err)
	}

	slog.Info("starting mailbox sync", "connections", len(conns), "max_messages", w.maxMessages)

	sum := &Summary{SkippedConnections: []string{}, Errors: []SyncError{}}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for _, conn := range conns {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			cs := w.syncConnection(ctx, conn)
			mu.Lock()
			sum.merge(cs)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sum.Elapsed = time.Since(start)
	sum.ElapsedMS = sum.Elapsed.Milliseconds()

	slog.Info("mailbox sync complete",
		"total_synced", sum.TotalSynced,
		"duplicates", sum.Duplicates,
		"skipped", len(sum.SkippedConnections),
		"errors", len(sum.Errors),
		"elapsed", sum.Elapsed,
	)
	return sum, nil
}

func (s *Summary) merge(o *Summary) {
	s.TotalSynced += o.TotalSynced
	s.Duplicates += o.Duplicates
	s.SkippedConnections = append(s.SkippedConnections, o.SkippedConnections...)
	s.Errors = append(s.Errors, o.Errors...)
}

func (s *Summary) fail(conn, messageID string, err error) {
	s.Errors = append(s.Errors, SyncError{Connection: conn, MessageID: messageID, Err: err.Error()})
}

// syncConnection runs one connection under its run-lock.
func (w *Worker) syncConnection(ctx context.Context, conn models.Connection) *Summary {
	cs := &Summary{}
	account := conn.EmailAddress

	if w.locker != nil {
		release, ok, err := w.locker.TryAcquire(ctx, "connection:"+conn.ID)
		if err != nil {
			slog.Error("run-lock unavailable", "connection", account, "error", err)
			cs.fail(account, "", err)
			return cs
		}
		if !ok {
			slog.Info("connection already syncing, skipping", "connection", account)
			cs.SkippedConnections = append(cs.SkippedConnections, account)
			return cs
		}
		defer release()
	}

	mb, err := w.open(ctx, conn)
	if err != nil {
		slog.Error("open mailbox failed", "connection", account, "error", err)
		cs.fail(account, "", err)
		return cs
	}

	since := w.now().Add(-w.lookback)
	ids, err := mb.ListUnseen(ctx, since, w.maxMessages)
	if err != nil {
		slog.Error("list unseen failed", "connection", account, "error", err)
		cs.fail(account, "", err)
		return cs
	}
	if len(ids) > w.maxMessages {
		ids = ids[:w.maxMessages]
	}

	for i, id := range ids {
		if ctx.Err() != nil {
			slog.Warn("sync cancelled, not starting remaining messages",
				"connection", account,
				"remaining", len(ids)-i,
			)
			return cs
		}
		w.syncMessage(context.WithoutCancel(ctx), mb, account, id, cs)
	}

	if err := w.store.MarkConnectionSynced(context.WithoutCancel(ctx), conn.ID, w.now()); err != nil {
		slog.Warn("failed to record last sync time", "connection", account, "error", err)
	}
	return cs
}

// syncMessage fetches, adapts, ingests and acknowledges one message. The
// provider acknowledgement happens only after the message is stored.
func (w *Worker) syncMessage(ctx context.Context, mb Mailbox, account, id string, cs *Summary) {
	raw, err := mb.GetMessage(ctx, id)
	if err != nil {
		slog.Error("fetch message failed", "connection", account, "message_id", id, "error", err)
		cs.fail(account, id, err)
		return
	}

	msg, err := adapter.FromGmail(raw)
	if err != nil {
		slog.Warn("skipping unparseable message", "connection", account, "message_id", id, "error", err)
		cs.fail(account, id, err)
		return
	}

	res, err := w.ingestor.SaveNormalizedMessage(ctx, msg)
	if err != nil && res == nil {
		slog.Error("ingest failed", "connection", account, "message_id", id, "error", err)
		cs.fail(account, id, err)
		return
	}
	if errors.Is(err, pipeline.ErrRecencyUpdate) {
		slog.Warn("message stored with stale conversation recency", "connection", account, "message_id", id, "error", err)
		cs.fail(account, id, err)
	}

	if res.Duplicate {
		cs.Duplicates++
	} else {
		cs.TotalSynced++
	}

	if err := mb.MarkSeen(ctx, id); err != nil {
		slog.Warn("mark seen failed, message will be re-read next run",
			"connection", account,
			"message_id", id,
			"error", err,
		)
	}
}

// Start runs a sync cycle every interval until Stop is called.
func (w *Worker) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if _, err := w.RunOnce(loopCtx); err != nil {
					slog.Error("periodic mailbox sync failed", "error", err)
				}
			}
		}
	}()

	slog.Info("periodic mailbox sync started", "interval", w.interval)
}

// Stop shuts down the periodic loop and waits for a running cycle.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
