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

// MailSync — CRM Email Sync Service
//
// Entry point for the sync service. It:
//  1. Loads multi-account configuration from config.yaml
//  2. Connects to PostgreSQL and Redis
//  3. Builds an IMAP client and ingestion pipeline per account
//  4. Runs periodic sync cycles for every account
//  5. Serves a health check endpoint
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/jearle/mailsync/internal/comms"
	"github.com/jearle/mailsync/internal/config"
	"github.com/jearle/mailsync/internal/cursor"
	"github.com/jearle/mailsync/internal/dedup"
	"github.com/jearle/mailsync/internal/directory"
	"github.com/jearle/mailsync/internal/events"
	"github.com/jearle/mailsync/internal/mailbox"
	"github.com/jearle/mailsync/internal/meeting"
	"github.com/jearle/mailsync/internal/pipeline"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting mailsync service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"accounts", len(cfg.Accounts),
		"poll_interval", cfg.PollInterval,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	publisher := events.NewPublisher(rdb, cfg.EventsQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Dedup Filter ---
	filter := dedup.NewFilter(rdb)

	// --- Stores (Postgres) ---
	contacts, err := directory.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise contact store", "error", err)
		os.Exit(1)
	}
	meetings, err := meeting.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise meeting store", "error", err)
		os.Exit(1)
	}
	communications, err := comms.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise communication store", "error", err)
		os.Exit(1)
	}
	cursors, err := cursor.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise cursor store", "error", err)
		os.Exit(1)
	}

	reconciler := meeting.NewReconciler(meetings, contacts, contacts)

	// --- Build a pipeline per account ---
	var pipelines []*pipeline.Pipeline
	for _, account := range cfg.Accounts {
		client := mailbox.NewClient(mailboxOptions(ctx, account, cfg.DialTimeout))

		pipelines = append(pipelines, pipeline.New(pipeline.Config{
			AccountID: account.ID,
			Client: pipeline.ClientFunc(func(ctx context.Context) (pipeline.MailboxSession, error) {
				return client.Connect(ctx)
			}),
			Contacts:       contacts,
			Reconciler:     reconciler,
			Communications: communications,
			Cursor:         cursors,
			Dedup:          filter,
			Events:         publisher,
		}))
	}

	// --- Periodic Sync ---
	runner := pipeline.NewRunner(pipelines, cfg.PollInterval)
	runner.Start(ctx)

	// --- Health Check Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		// Check Redis
		if err := publisher.Ping(r.Context()); err != nil {
			http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
			return
		}
		// Check Postgres
		if err := pgPool.Ping(r.Context()); err != nil {
			http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel() // Stop all background goroutines

		runner.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
		pgPool.Close()
	}()

	slog.Info("mailsync service listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("mailsync service stopped")
}

// mailboxOptions translates account configuration into mailbox client
// options, building an OAuth2 token source when the account uses it.
func mailboxOptions(ctx context.Context, account config.AccountConfig, dialTimeout time.Duration) mailbox.Options {
	opts := mailbox.Options{
		Host:        account.IMAPHost,
		Port:        account.IMAPPort,
		Encryption:  account.Encryption,
		AuthMethod:  account.Auth,
		Username:    account.Username,
		Password:    account.Password,
		DialTimeout: dialTimeout,
	}

	if account.Auth == "oauth2" {
		creds := &clientcredentials.Config{
			ClientID:     account.ClientID,
			ClientSecret: account.ClientSecret,
			TokenURL:     account.TokenURL,
		}
		opts.TokenSource = creds.TokenSource(ctx)
	}

	return opts
}
