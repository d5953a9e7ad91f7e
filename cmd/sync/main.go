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

// Tradeline Inbound Operations CLI
//
// One-shot operations against the same database and queues the server uses:
// running a mailbox sync pass, re-enriching a message, registering a mail
// connection and inspecting dead-lettered enrichment tasks.
//
// Usage:
//
//	go run ./cmd/sync run
//	go run ./cmd/sync enrich <message-id>
//	go run ./cmd/sync connections add --email ops@example.com --refresh-token <token>
//	go run ./cmd/sync dead-letters --limit 20
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tradeline/inbound/internal/app"
	"github.com/tradeline/inbound/internal/config"
	"github.com/tradeline/inbound/internal/models"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "inbound-sync",
		Short:        "Operations for the inbound message service",
		SilenceUsage: true,
	}

	root.AddCommand(runCmd())
	root.AddCommand(enrichCmd())
	root.AddCommand(connectionsCmd())
	root.AddCommand(deadLettersCmd())
	root.AddCommand(closeCmd())
	return root
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one mailbox sync pass and print its summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				summary, err := a.Sync.RunOnce(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), summary)
			})
		},
	}
}

func enrichCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enrich <message-id>",
		Short: "Enrich a stored message synchronously",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid message id %q: %w", args[0], err)
			}
			return withApp(func(ctx context.Context, a *app.App) error {
				if !a.Orchestrator.Enabled() {
					return fmt.Errorf("enrichment disabled: no reasoning API key configured")
				}
				if err := a.Orchestrator.Enrich(ctx, id.String()); err != nil {
					return err
				}
				msg, err := a.Store.GetMessage(ctx, id.String())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), msg)
			})
		},
	}
}

func connectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connections",
		Short: "Manage mail connections",
	}

	var (
		email        string
		accessToken  string
		refreshToken string
		inactive     bool
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Register or update a Gmail connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := mail.ParseAddress(email)
			if err != nil {
				return fmt.Errorf("invalid --email %q: %w", email, err)
			}
			conn := models.Connection{
				ID:           uuid.NewString(),
				EmailAddress: strings.ToLower(addr.Address),
				AccessToken:  accessToken,
				RefreshToken: refreshToken,
				IsActive:     !inactive,
			}
			return withApp(func(ctx context.Context, a *app.App) error {
				if err := a.Store.UpsertConnection(ctx, conn); err != nil {
					return fmt.Errorf("save connection: %w", err)
				}
				slog.Info("connection saved", "email", conn.EmailAddress, "active", conn.IsActive)
				return nil
			})
		},
	}
	add.Flags().StringVar(&email, "email", "", "mailbox address (required)")
	add.Flags().StringVar(&refreshToken, "refresh-token", "", "OAuth refresh token (required)")
	add.Flags().StringVar(&accessToken, "access-token", "", "current OAuth access token (optional)")
	add.Flags().BoolVar(&inactive, "inactive", false, "store the connection without syncing it")
	_ = add.MarkFlagRequired("email")
	_ = add.MarkFlagRequired("refresh-token")

	list := &cobra.Command{
		Use:   "list",
		Short: "List active connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				conns, err := a.Store.ListActiveConnections(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), conns)
			})
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

func deadLettersCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "Print enrichment tasks that exhausted their retries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			return withApp(func(ctx context.Context, a *app.App) error {
				if a.Redis == nil {
					return fmt.Errorf("dead letters are only kept across runs with redis.url configured")
				}
				tasks, err := a.Queue.DeadLetters(ctx, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), tasks)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of tasks to print")
	return cmd
}

func closeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close <conversation-id>",
		Short: "Close a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid conversation id %q: %w", args[0], err)
			}
			return withApp(func(ctx context.Context, a *app.App) error {
				return a.Router.Close(ctx, id.String())
			})
		},
	}
}

// withApp loads configuration, wires the service and runs fn with a context
// cancelled on SIGINT/SIGTERM. Enrichment queued in memory is drained
// before returning.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	err = fn(ctx, a)

	// Without Redis the enrichment queue lives in this process; run what
	// the command queued before exiting.
	if a.Redis == nil {
		if n := a.Enrichment.Drain(ctx); n > 0 {
			slog.Info("enrichment tasks processed", "tasks", n)
		}
	}

	slog.Debug("command finished", "elapsed", time.Since(start))
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
