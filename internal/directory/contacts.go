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

// Package directory provides read access to the CRM contact table. The
// CRUD layer owns writes; this service only resolves email addresses to
// contacts.
package directory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jearle/mailsync/internal/models"
)

// Store resolves contacts in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a contact directory backed by the given Postgres pool.
// The contacts table is owned by the CRM CRUD layer; it is ensured here so
// the service starts cleanly on a fresh development database.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure contact schema: %w", err)
	}
	slog.Info("contact directory initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS crm_contacts (
			id         BIGSERIAL PRIMARY KEY,
			debtor_no  TEXT NOT NULL DEFAULT '',
			email      TEXT NOT NULL,
			inactive   BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_contacts_email ON crm_contacts(email);
		CREATE TABLE IF NOT EXISTS crm_employees (
			id         BIGSERIAL PRIMARY KEY,
			email      TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_employees_email ON crm_employees(email);
	`)
	return err
}

// FindActiveByEmail returns the active contact with the given email, or
// nil when no contact matches. When several contacts share an address the
// lowest id wins, keeping resolution deterministic across runs.
func (s *Store) FindActiveByEmail(ctx context.Context, email string) (*models.Contact, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, debtor_no, email, inactive
		FROM crm_contacts
		WHERE email = $1 AND inactive = FALSE
		ORDER BY id
		LIMIT 1
	`, email)

	var c models.Contact
	err := row.Scan(&c.ID, &c.DebtorNo, &c.Email, &c.Inactive)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindEmployeeByEmail resolves an organizer address to an internal user
// id for meeting assignment, or nil when the organizer is not staff.
func (s *Store) FindEmployeeByEmail(ctx context.Context, email string) (*int64, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id FROM crm_employees
		WHERE email = $1
		ORDER BY id
		LIMIT 1
	`, email)

	var id int64
	err := row.Scan(&id)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}
