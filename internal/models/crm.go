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

// Package models defines the data structures shared across the sync service.
package models

import "time"

// CalendarAttachment is one decoded calendar payload discovered in a message.
type CalendarAttachment struct {
	Filename string `json:"filename"`
	Content  []byte `json:"-"`
	MIMEType string `json:"mime_type"`
}

// CalendarEvent is a single VEVENT parsed from an iCalendar payload.
//
// UID is the identity key: the same UID seen across cycles or accounts must
// reconcile into the same meeting row. End may be the zero time, in which
// case downstream defaults it to Start + 1 hour.
type CalendarEvent struct {
	UID            string    `json:"uid"`
	Summary        string    `json:"summary"`
	Description    string    `json:"description"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	Location       string    `json:"location,omitempty"`
	OrganizerEmail string    `json:"organizer_email,omitempty"`
	AttendeeEmails []string  `json:"attendee_emails,omitempty"`
	Status         string    `json:"status,omitempty"`
}

// MessageMeta carries the header metadata of one inbound message for the
// duration of a cycle. It is never persisted directly.
type MessageMeta struct {
	AccountID  string    `json:"account_id"`
	MessageID  string    `json:"message_id"`
	Subject    string    `json:"subject"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	ReceivedAt time.Time `json:"received_at"`
}

// Contact is a CRM contact row, read-only to this service.
type Contact struct {
	ID       int64  `json:"id"`
	DebtorNo string `json:"debtor_no"`
	Email    string `json:"email"`
	Inactive bool   `json:"inactive"`
}

// Meeting status vocabulary.
const (
	MeetingStatusPlanned   = "planned"
	MeetingStatusConfirmed = "confirmed"
	MeetingStatusCancelled = "cancelled"
)

// Meeting is a CRM meeting row, keyed externally by IcsUID (unique).
type Meeting struct {
	ID              int64     `json:"id"`
	IcsUID          string    `json:"ics_uid"`
	MeetingName     string    `json:"meeting_name"`
	Description     string    `json:"description"`
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
	DurationMinutes int       `json:"duration_minutes"`
	TimeZone        string    `json:"time_zone"`
	LocationType    string    `json:"location_type"` // "physical" or "virtual"
	CustomLocation  string    `json:"custom_location,omitempty"`
	DebtorNo        string    `json:"debtor_no"`
	Status          string    `json:"status"`
	Priority        string    `json:"priority"`
	AssignedTo      *int64    `json:"assigned_to,omitempty"`
	CreatedBy       string    `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Attendee types.
const (
	AttendeeTypeContact  = "contact"
	AttendeeTypeExternal = "external"
)

// Attendee is one participant row for a meeting. Exactly one of ContactID
// or ExternalEmail is set, according to Type.
type Attendee struct {
	MeetingID      int64  `json:"meeting_id"`
	Type           string `json:"attendee_type"`
	ContactID      *int64 `json:"contact_id,omitempty"`
	ExternalEmail  string `json:"external_email,omitempty"`
	Role           string `json:"attendee_role"`
	ResponseStatus string `json:"response_status"`
}

// Communication is one inbound-email row, keyed (account, message-id).
type Communication struct {
	ID          int64     `json:"id"`
	AccountID   string    `json:"account_id"`
	DebtorNo    string    `json:"debtor_no"`
	ContactID   int64     `json:"contact_id"`
	Type        string    `json:"communication_type"`
	Direction   string    `json:"direction"`
	Subject     string    `json:"subject"`
	Message     string    `json:"message"`
	EmailFrom   string    `json:"email_from"`
	EmailTo     string    `json:"email_to"`
	Status      string    `json:"status"`
	CompletedAt time.Time `json:"completed_date"`
	MessageID   string    `json:"email_message_id"`
	CreatedBy   string    `json:"created_by"`
}

// MessageError records a message-scoped failure surfaced in a cycle result.
type MessageError struct {
	MessageID string `json:"message_id"`
	Cause     string `json:"cause"`
}

// CycleResult summarises one completed sync cycle for an account.
type CycleResult struct {
	AccountID     string         `json:"account_id"`
	ImportedCount int            `json:"imported_count"`
	MeetingCount  int            `json:"meeting_count"`
	Skipped       int            `json:"skipped"`
	Errors        []MessageError `json:"errors,omitempty"`
	Elapsed       time.Duration  `json:"elapsed"`
}
