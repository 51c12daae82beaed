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

// Package meeting reconciles parsed calendar events into CRM meeting
// records. A calendar UID maps to exactly one meeting row: the first
// sighting inserts, every later sighting updates in place, regardless of
// which mailbox account or cycle delivered it.
package meeting

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/jearle/mailsync/internal/models"
)

// MeetingStore is the persistence surface the reconciler needs.
type MeetingStore interface {
	FindByIcsUID(ctx context.Context, uid string) (*models.Meeting, error)
	Insert(ctx context.Context, m *models.Meeting) (int64, error)
	Update(ctx context.Context, id int64, m *models.Meeting) error
	UpsertAttendee(ctx context.Context, a models.Attendee) error
	DeleteAttendeesNotIn(ctx context.Context, meetingID int64, contactIDs []int64, emails []string) error
}

// ContactResolver maps an email address to a known contact, or nil when
// the address is unknown. Unresolved is a branch, not an error.
type ContactResolver interface {
	FindActiveByEmail(ctx context.Context, email string) (*models.Contact, error)
}

// EmployeeResolver optionally maps an organizer email to an internal user
// id for meeting assignment.
type EmployeeResolver interface {
	FindEmployeeByEmail(ctx context.Context, email string) (*int64, error)
}

// Reconciler applies calendar events to the meeting store.
type Reconciler struct {
	store     MeetingStore
	contacts  ContactResolver
	employees EmployeeResolver
}

// NewReconciler creates a reconciler. employees may be nil, in which case
// imported meetings stay unassigned.
func NewReconciler(store MeetingStore, contacts ContactResolver, employees EmployeeResolver) *Reconciler {
	return &Reconciler{store: store, contacts: contacts, employees: employees}
}

// Reconcile creates or updates the meeting identified by event.UID and
// returns the meeting id. Attendees present in the event are upserted and
// rows absent from it are removed, so re-ingesting an edited event does
// not accumulate stale participants. The organizer is excluded when it
// matches the message's from-address.
func (r *Reconciler) Reconcile(ctx context.Context, event models.CalendarEvent, meta models.MessageMeta, debtorNo string) (int64, error) {
	attrs := buildMeeting(event, debtorNo)

	if r.employees != nil && event.OrganizerEmail != "" {
		userID, err := r.employees.FindEmployeeByEmail(ctx, event.OrganizerEmail)
		if err != nil {
			return 0, fmt.Errorf("resolve organizer %s: %w", event.OrganizerEmail, err)
		}
		attrs.AssignedTo = userID
	}

	meetingID, err := r.upsertMeeting(ctx, event.UID, attrs)
	if err != nil {
		return 0, err
	}

	if err := r.reconcileAttendees(ctx, meetingID, event, meta); err != nil {
		return meetingID, err
	}

	return meetingID, nil
}

// upsertMeeting performs the find-or-insert-or-update dance. A unique
// violation on insert means another cycle won the race between our lookup
// and our write; that is "already exists", so look up again and update.
func (r *Reconciler) upsertMeeting(ctx context.Context, uid string, attrs *models.Meeting) (int64, error) {
	existing, err := r.store.FindByIcsUID(ctx, uid)
	if err != nil {
		return 0, fmt.Errorf("lookup meeting %s: %w", uid, err)
	}

	if existing != nil {
		if err := r.store.Update(ctx, existing.ID, attrs); err != nil {
			return 0, fmt.Errorf("update meeting %s: %w", uid, err)
		}
		slog.Debug("meeting updated", "ics_uid", uid, "meeting_id", existing.ID)
		return existing.ID, nil
	}

	id, err := r.store.Insert(ctx, attrs)
	if err == nil {
		slog.Debug("meeting created", "ics_uid", uid, "meeting_id", id)
		return id, nil
	}
	if !IsUniqueViolation(err) {
		return 0, fmt.Errorf("insert meeting %s: %w", uid, err)
	}

	winner, lookupErr := r.store.FindByIcsUID(ctx, uid)
	if lookupErr != nil {
		return 0, fmt.Errorf("lookup meeting %s after conflict: %w", uid, lookupErr)
	}
	if winner == nil {
		return 0, fmt.Errorf("meeting %s conflicted on insert but is absent", uid)
	}
	if err := r.store.Update(ctx, winner.ID, attrs); err != nil {
		return 0, fmt.Errorf("update meeting %s after conflict: %w", uid, err)
	}
	return winner.ID, nil
}

func (r *Reconciler) reconcileAttendees(ctx context.Context, meetingID int64, event models.CalendarEvent, meta models.MessageMeta) error {
	var keepContacts []int64
	var keepEmails []string

	for _, email := range event.AttendeeEmails {
		// The sender is already the organizer; don't re-add them.
		if strings.EqualFold(email, meta.From) {
			continue
		}

		contact, err := r.contacts.FindActiveByEmail(ctx, email)
		if err != nil {
			return fmt.Errorf("resolve attendee %s: %w", email, err)
		}

		a := models.Attendee{
			MeetingID:      meetingID,
			Role:           "required",
			ResponseStatus: "pending",
		}
		if contact != nil {
			a.Type = models.AttendeeTypeContact
			a.ContactID = &contact.ID
			keepContacts = append(keepContacts, contact.ID)
		} else {
			a.Type = models.AttendeeTypeExternal
			a.ExternalEmail = email
			keepEmails = append(keepEmails, email)
		}

		if err := r.store.UpsertAttendee(ctx, a); err != nil {
			return fmt.Errorf("upsert attendee %s: %w", email, err)
		}
	}

	if err := r.store.DeleteAttendeesNotIn(ctx, meetingID, keepContacts, keepEmails); err != nil {
		return fmt.Errorf("prune attendees for meeting %d: %w", meetingID, err)
	}

	return nil
}

// buildMeeting maps a calendar event to meeting attributes.
func buildMeeting(event models.CalendarEvent, debtorNo string) *models.Meeting {
	name := event.Summary
	if name == "" {
		name = "Imported Meeting"
	}

	start := event.Start
	end := event.End
	if end.IsZero() {
		end = start.Add(time.Hour)
	}

	locationType := "virtual"
	if event.Location != "" {
		locationType = "physical"
	}

	return &models.Meeting{
		IcsUID:          event.UID,
		MeetingName:     name,
		Description:     event.Description,
		StartDate:       start,
		EndDate:         end,
		DurationMinutes: int(math.Round(end.Sub(start).Minutes())),
		TimeZone:        "UTC",
		LocationType:    locationType,
		CustomLocation:  event.Location,
		DebtorNo:        debtorNo,
		Status:          MapStatus(event.Status),
		Priority:        "normal",
		CreatedBy:       "email_import",
	}
}

// MapStatus maps the external iCalendar STATUS vocabulary to the CRM's.
// A missing status means the invitation went out, so it defaults to
// confirmed; anything unrecognised is merely planned.
func MapStatus(external string) string {
	if external == "" {
		external = "confirmed"
	}
	switch external {
	case "confirmed":
		return models.MeetingStatusConfirmed
	case "tentative":
		return models.MeetingStatusPlanned
	case "cancelled":
		return models.MeetingStatusCancelled
	default:
		return models.MeetingStatusPlanned
	}
}
