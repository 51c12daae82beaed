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

// Package comms persists communication records for imported messages.
// The (account_id, email_message_id) unique constraint is the idempotency
// guarantee for re-delivered messages: two racing cycles can both pass the
// existence check, but only one insert lands.
package comms

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jearle/mailsync/internal/models"
)

// Store persists communications in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a communication store backed by the given Postgres pool.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure communication schema: %w", err)
	}
	slog.Info("communication store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS crm_communications (
			id                 BIGSERIAL PRIMARY KEY,
			account_id         TEXT NOT NULL,
			debtor_no          TEXT NOT NULL DEFAULT '',
			contact_id         BIGINT,
			communication_type TEXT NOT NULL DEFAULT 'email',
			direction          TEXT NOT NULL DEFAULT 'inbound',
			subject            TEXT NOT NULL DEFAULT '',
			message            TEXT NOT NULL DEFAULT '',
			email_from         TEXT NOT NULL DEFAULT '',
			email_to           TEXT NOT NULL DEFAULT '',
			status             TEXT NOT NULL DEFAULT 'completed',
			completed_date     TIMESTAMPTZ,
			email_message_id   TEXT NOT NULL,
			created_by         TEXT NOT NULL DEFAULT 'email_import',
			created_at         TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(account_id, email_message_id)
		);
		CREATE INDEX IF NOT EXISTS idx_comms_contact ON crm_communications(contact_id);
	`)
	return err
}

// ExistsByMessageID reports whether a communication was already recorded
// for the message in this account.
func (s *Store) ExistsByMessageID(ctx context.Context, accountID, messageID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM crm_communications
			WHERE account_id = $1 AND email_message_id = $2
		)
	`, accountID, messageID).Scan(&exists)
	return exists, err
}

// Insert records a communication. The second return value reports whether
// a row was actually inserted; a concurrent cycle that inserted the same
// message first makes this a no-op rather than an error.
func (s *Store) Insert(ctx context.Context, c *models.Communication) (int64, bool, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO crm_communications
			(account_id, debtor_no, contact_id, communication_type, direction,
			 subject, message, email_from, email_to, status, completed_date,
			 email_message_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (account_id, email_message_id) DO NOTHING
		RETURNING id
	`, c.AccountID, c.DebtorNo, c.ContactID, c.Type, c.Direction,
		c.Subject, c.Message, c.EmailFrom, c.EmailTo, c.Status, c.CompletedAt,
		c.MessageID, c.CreatedBy)

	var id int64
	err := row.Scan(&id)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}
