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

// Package webhook is the real-time inbound surface: channel providers POST
// messages here and they run through the same pipeline as the mailbox sync
// worker. It also exposes a manual sync trigger, a conversation close
// action and a health check.
package webhook

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tradeline/inbound/internal/adapter"
	"github.com/tradeline/inbound/internal/mailsync"
	"github.com/tradeline/inbound/internal/models"
	"github.com/tradeline/inbound/internal/pipeline"
)

// SecretHeader carries the shared webhook secret.
const SecretHeader = "X-Webhook-Secret"

// maxBodyBytes caps inbound request bodies.
const maxBodyBytes = 10 << 20

// Ingestor stores normalized messages. Implemented by pipeline.Ingestor.
type Ingestor interface {
	SaveNormalizedMessage(ctx context.Context, msg *models.NormalizedMessage) (*pipeline.Result, error)
}

// Syncer runs one mailbox sync cycle. Implemented by mailsync.Worker.
type Syncer interface {
	RunOnce(ctx context.Context) (*mailsync.Summary, error)
}

// Closer closes a conversation. Implemented by conversation.Router.
type Closer interface {
	Close(ctx context.Context, conversationID string) error
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Handler serves the inbound HTTP API.
type Handler struct {
	ingestor Ingestor
	syncer   Syncer
	closer   Closer
	secret   string
	checks   map[string]HealthCheck
}

// HandlerConfig holds the handler's collaborators. Syncer and Closer are
// optional; their routes answer 501 when unset.
type HandlerConfig struct {
	Ingestor Ingestor
	Syncer   Syncer
	Closer   Closer
	Secret   string
	Checks   map[string]HealthCheck
}

// NewHandler creates an inbound handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		ingestor: cfg.Ingestor,
		syncer:   cfg.Syncer,
		closer:   cfg.Closer,
		secret:   cfg.Secret,
		checks:   cfg.Checks,
	}
}

// ingestResponse is returned for every accepted message.
type ingestResponse struct {
	*pipeline.Result
	Warning string `json:"warning,omitempty"`
}

// Routes returns the handler's mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /inbound/email", h.authorized(http.HandlerFunc(h.ServeEmail)))
	mux.Handle("POST /inbound/{channel}", h.authorized(http.HandlerFunc(h.ServeChannel)))
	mux.Handle("POST /sync/run", h.authorized(http.HandlerFunc(h.ServeSyncRun)))
	mux.Handle("POST /conversations/{id}/close", h.authorized(http.HandlerFunc(h.ServeClose)))
	mux.HandleFunc("GET /health", h.ServeHealth)
	return mux
}

// authorized rejects requests without the shared secret when one is set.
func (h *Handler) authorized(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.secret != "" {
			got := r.Header.Get(SecretHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
				slog.Warn("rejected request with bad webhook secret",
					"path", r.URL.Path,
					"remote", r.RemoteAddr,
				)
				writeError(w, http.StatusUnauthorized, "invalid webhook secret")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// ServeEmail ingests a raw RFC 5322 message.
func (h *Handler) ServeEmail(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	msg, err := adapter.FromMIME(bytes.NewReader(body))
	if err != nil {
		slog.Warn("rejected inbound email", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.ingest(w, r, msg)
}

// readBody reads the request body up to maxBodyBytes. On failure it writes
// the error response and returns false.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "read request body: "+err.Error())
		}
		return nil, false
	}
	return body, true
}

// ServeChannel ingests a JSON payload for a non-email channel.
func (h *Handler) ServeChannel(w http.ResponseWriter, r *http.Request) {
	channel := models.Channel(r.PathValue("channel"))

	body, ok := readBody(w, r)
	if !ok {
		return
	}

	msg, err := adapter.FromWebhook(channel, body)
	if err != nil {
		slog.Warn("rejected inbound webhook", "channel", channel, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.ingest(w, r, msg)
}

func (h *Handler) ingest(w http.ResponseWriter, r *http.Request, msg *models.NormalizedMessage) {
	res, err := h.ingestor.SaveNormalizedMessage(r.Context(), msg)

	var ingestErr *pipeline.IngestError
	switch {
	case err == nil:
		slog.Info("inbound message ingested",
			"channel", msg.Channel,
			"message_id", res.MessageID,
			"customer_id", res.CustomerID,
			"duplicate", res.Duplicate,
		)
		writeJSON(w, http.StatusOK, ingestResponse{Result: res})

	case errors.Is(err, pipeline.ErrRecencyUpdate) && res != nil:
		slog.Warn("inbound message stored with stale conversation recency",
			"message_id", res.MessageID,
			"error", err,
		)
		writeJSON(w, http.StatusOK, ingestResponse{Result: res, Warning: err.Error()})

	case errors.Is(err, models.ErrInvalidMessage):
		writeError(w, http.StatusBadRequest, err.Error())

	case errors.As(err, &ingestErr):
		slog.Error("inbound ingestion failed", "stage", ingestErr.Stage, "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())

	default:
		slog.Error("inbound ingestion failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// ServeSyncRun runs one mailbox sync cycle and returns its summary.
func (h *Handler) ServeSyncRun(w http.ResponseWriter, r *http.Request) {
	if h.syncer == nil {
		writeError(w, http.StatusNotImplemented, "mailbox sync not configured")
		return
	}

	sum, err := h.syncer.RunOnce(r.Context())
	if err != nil {
		slog.Error("manual sync failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// ServeClose closes a conversation so the customer's next message opens a
// new one.
func (h *Handler) ServeClose(w http.ResponseWriter, r *http.Request) {
	if h.closer == nil {
		writeError(w, http.StatusNotImplemented, "conversation close not configured")
		return
	}

	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	if err := h.closer.Close(r.Context(), id); err != nil {
		slog.Error("close conversation failed", "conversation_id", id, "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ServeHealth pings every configured dependency.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	out := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			out[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		out[name] = "ok"
	}
	writeJSON(w, status, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Serve starts the HTTP server on the given port.
// It binds the port immediately and signals readiness via the returned channel
// before starting to accept connections. The server drains in-flight
// requests when ctx is cancelled.
func Serve(ctx context.Context, port int, handler http.Handler) (<-chan struct{}, error) {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind http port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
		}
	}()

	go func() {
		slog.Info("http server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	return ready, nil
}
