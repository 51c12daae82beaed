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

// MailSync — One-Shot Sync Command
//
// Standalone CLI tool that runs a single sync cycle for one configured
// account. Useful for seeding new deployments and for debugging an
// account without waiting for the service's poll interval.
//
// Usage:
//
//	go run ./cmd/syncnow/ --account <id>
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

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

	// --- CLI Flags ---
	accountFlag := flag.String("account", "", "Account ID to sync (required)")
	flag.Parse()

	if *accountFlag == "" {
		fmt.Fprintf(os.Stderr, "Error: --account is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Find the requested account
	var account *config.AccountConfig
	for i := range cfg.Accounts {
		if cfg.Accounts[i].ID == *accountFlag {
			account = &cfg.Accounts[i]
			break
		}
	}
	if account == nil {
		slog.Error("account not found in configuration", "account", *accountFlag)
		os.Exit(1)
	}

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

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	publisher := events.NewPublisher(rdb, cfg.EventsQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	// --- Stores ---
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

	// --- Mailbox Client ---
	opts := mailbox.Options{
		Host:        account.IMAPHost,
		Port:        account.IMAPPort,
		Encryption:  account.Encryption,
		AuthMethod:  account.Auth,
		Username:    account.Username,
		Password:    account.Password,
		DialTimeout: cfg.DialTimeout,
	}
	if account.Auth == "oauth2" {
		creds := &clientcredentials.Config{
			ClientID:     account.ClientID,
			ClientSecret: account.ClientSecret,
			TokenURL:     account.TokenURL,
		}
		opts.TokenSource = creds.TokenSource(ctx)
	}
	client := mailbox.NewClient(opts)

	// --- Run One Cycle ---
	p := pipeline.New(pipeline.Config{
		AccountID: account.ID,
		Client: pipeline.ClientFunc(func(ctx context.Context) (pipeline.MailboxSession, error) {
			return client.Connect(ctx)
		}),
		Contacts:       contacts,
		Reconciler:     meeting.NewReconciler(meetings, contacts, contacts),
		Communications: communications,
		Cursor:         cursors,
		Dedup:          dedup.NewFilter(rdb),
		Events:         publisher,
	})

	result, err := p.RunCycle(ctx)
	if err != nil {
		slog.Error("sync cycle failed", "account", account.ID, "error", err)
		os.Exit(1)
	}

	// --- Summary ---
	slog.Info("sync complete",
		"account", result.AccountID,
		"imported", result.ImportedCount,
		"meetings", result.MeetingCount,
		"skipped", result.Skipped,
		"errors", len(result.Errors),
		"elapsed", result.Elapsed,
	)

	for _, me := range result.Errors {
		slog.Warn("message error",
			"message_id", me.MessageID,
			"cause", me.Cause,
		)
	}
}
