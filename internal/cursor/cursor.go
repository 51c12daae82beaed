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

// Package cursor tracks the per-account sync watermark and derives the
// mailbox search window from it. The watermark only moves after a cycle
// completes, so an aborted cycle is retried over the same window.
package cursor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Window is the message selection criterion for one cycle. Either
// UnseenOnly is set (first sync for the account) or Since carries the
// inclusive lower bound at day granularity, matching the coarse date-only
// predicate of IMAP SEARCH.
type Window struct {
	Since      time.Time
	UnseenOnly bool
}

// Store persists sync watermarks in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a cursor store backed by the given Postgres pool.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure cursor schema: %w", err)
	}
	slog.Info("cursor store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS crm_sync_cursors (
			account_id   TEXT PRIMARY KEY,
			last_sync_at TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}

// GetLastSync returns the watermark for an account, or nil when the
// account has never completed a sync.
func (s *Store) GetLastSync(ctx context.Context, accountID string) (*time.Time, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT last_sync_at FROM crm_sync_cursors WHERE account_id = $1
	`, accountID)

	var t time.Time
	err := row.Scan(&t)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Window derives the search window for the account's next cycle.
func (s *Store) Window(ctx context.Context, accountID string) (Window, error) {
	last, err := s.GetLastSync(ctx, accountID)
	if err != nil {
		return Window{}, fmt.Errorf("load cursor for %s: %w", accountID, err)
	}
	return WindowFrom(last), nil
}

// WindowFrom computes the window for a given watermark. Exposed for the
// pipeline tests; no prior sync selects unseen messages only.
func WindowFrom(last *time.Time) Window {
	if last == nil {
		return Window{UnseenOnly: true}
	}
	y, m, d := last.Date()
	return Window{Since: time.Date(y, m, d, 0, 0, 0, 0, last.Location())}
}

// Commit records a completed cycle. Called exactly once per successful
// cycle, never mid-cycle.
func (s *Store) Commit(ctx context.Context, accountID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO crm_sync_cursors (account_id, last_sync_at)
		VALUES ($1, $2)
		ON CONFLICT (account_id) DO UPDATE SET
			last_sync_at = EXCLUDED.last_sync_at,
			updated_at   = NOW()
	`, accountID, at)
	return err
}
