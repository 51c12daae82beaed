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

package meeting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jearle/mailsync/internal/models"
)

// Store persists meetings and attendees in Postgres. The UNIQUE
// constraint on ics_uid is load-bearing: it is what makes concurrent
// ingestion of the same event safe, not application locking.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a meeting store backed by the given Postgres pool.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure meeting schema: %w", err)
	}
	slog.Info("meeting store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS crm_meetings (
			id               BIGSERIAL PRIMARY KEY,
			ics_uid          TEXT NOT NULL UNIQUE,
			meeting_name     TEXT NOT NULL DEFAULT '',
			description      TEXT NOT NULL DEFAULT '',
			start_date       TIMESTAMPTZ NOT NULL,
			end_date         TIMESTAMPTZ NOT NULL,
			duration_minutes INT NOT NULL DEFAULT 0,
			time_zone        TEXT NOT NULL DEFAULT 'UTC',
			location_type    TEXT NOT NULL DEFAULT 'virtual',
			custom_location  TEXT NOT NULL DEFAULT '',
			debtor_no        TEXT NOT NULL DEFAULT '',
			status           TEXT NOT NULL DEFAULT 'planned',
			priority         TEXT NOT NULL DEFAULT 'normal',
			assigned_to      BIGINT,
			created_by       TEXT NOT NULL DEFAULT 'email_import',
			created_at       TIMESTAMPTZ DEFAULT NOW(),
			updated_at       TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS crm_meeting_attendees (
			id              BIGSERIAL PRIMARY KEY,
			meeting_id      BIGINT NOT NULL REFERENCES crm_meetings(id),
			attendee_type   TEXT NOT NULL,
			contact_id      BIGINT,
			external_email  TEXT,
			attendee_role   TEXT NOT NULL DEFAULT 'required',
			response_status TEXT NOT NULL DEFAULT 'pending',
			created_at      TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_attendees_contact
			ON crm_meeting_attendees(meeting_id, contact_id)
			WHERE contact_id IS NOT NULL;
		CREATE UNIQUE INDEX IF NOT EXISTS idx_attendees_external
			ON crm_meeting_attendees(meeting_id, external_email)
			WHERE external_email IS NOT NULL;
	`)
	return err
}

// FindByIcsUID retrieves the meeting with the given calendar UID, or nil.
func (s *Store) FindByIcsUID(ctx context.Context, uid string) (*models.Meeting, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, ics_uid, meeting_name, description, start_date, end_date,
		       duration_minutes, time_zone, location_type, custom_location,
		       debtor_no, status, priority, assigned_to, created_by,
		       created_at, updated_at
		FROM crm_meetings
		WHERE ics_uid = $1
	`, uid)

	var m models.Meeting
	err := row.Scan(
		&m.ID, &m.IcsUID, &m.MeetingName, &m.Description, &m.StartDate,
		&m.EndDate, &m.DurationMinutes, &m.TimeZone, &m.LocationType,
		&m.CustomLocation, &m.DebtorNo, &m.Status, &m.Priority, &m.AssignedTo,
		&m.CreatedBy, &m.CreatedAt, &m.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Insert creates a new meeting row and returns its id. A duplicate
// ics_uid surfaces as a unique-constraint violation; see IsUniqueViolation.
func (s *Store) Insert(ctx context.Context, m *models.Meeting) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO crm_meetings
			(ics_uid, meeting_name, description, start_date, end_date,
			 duration_minutes, time_zone, location_type, custom_location,
			 debtor_no, status, priority, assigned_to, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`, m.IcsUID, m.MeetingName, m.Description, m.StartDate, m.EndDate,
		m.DurationMinutes, m.TimeZone, m.LocationType, m.CustomLocation,
		m.DebtorNo, m.Status, m.Priority, m.AssignedTo, m.CreatedBy).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Update overwrites a meeting's attributes in place. The ics_uid never
// changes after insert.
func (s *Store) Update(ctx context.Context, id int64, m *models.Meeting) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE crm_meetings SET
			meeting_name     = $1,
			description      = $2,
			start_date       = $3,
			end_date         = $4,
			duration_minutes = $5,
			time_zone        = $6,
			location_type    = $7,
			custom_location  = $8,
			debtor_no        = $9,
			status           = $10,
			priority         = $11,
			assigned_to      = $12,
			updated_at       = NOW()
		WHERE id = $13
	`, m.MeetingName, m.Description, m.StartDate, m.EndDate,
		m.DurationMinutes, m.TimeZone, m.LocationType, m.CustomLocation,
		m.DebtorNo, m.Status, m.Priority, m.AssignedTo, id)
	return err
}

// UpsertAttendee inserts or refreshes one attendee row, keyed on the
// resolved contact id or the external email within the meeting.
func (s *Store) UpsertAttendee(ctx context.Context, a models.Attendee) error {
	if a.Type == models.AttendeeTypeContact {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO crm_meeting_attendees
				(meeting_id, attendee_type, contact_id, attendee_role, response_status)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (meeting_id, contact_id) WHERE contact_id IS NOT NULL
			DO UPDATE SET
				attendee_role   = EXCLUDED.attendee_role,
				response_status = EXCLUDED.response_status
		`, a.MeetingID, a.Type, a.ContactID, a.Role, a.ResponseStatus)
		return err
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO crm_meeting_attendees
			(meeting_id, attendee_type, external_email, attendee_role, response_status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (meeting_id, external_email) WHERE external_email IS NOT NULL
		DO UPDATE SET
			attendee_role   = EXCLUDED.attendee_role,
			response_status = EXCLUDED.response_status
	`, a.MeetingID, a.Type, a.ExternalEmail, a.Role, a.ResponseStatus)
	return err
}

// DeleteAttendeesNotIn removes attendee rows for the meeting that are not
// in the given keep sets. Passing empty sets clears all attendees.
func (s *Store) DeleteAttendeesNotIn(ctx context.Context, meetingID int64, contactIDs []int64, emails []string) error {
	if contactIDs == nil {
		contactIDs = []int64{}
	}
	if emails == nil {
		emails = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		DELETE FROM crm_meeting_attendees
		WHERE meeting_id = $1
		  AND NOT (
			COALESCE(contact_id = ANY($2::bigint[]), FALSE)
			OR COALESCE(external_email = ANY($3::text[]), FALSE)
		  )
	`, meetingID, contactIDs, emails)
	return err
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation. The reconciler treats this as "already exists, retry as
// update" when two cycles race on the same UID.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
