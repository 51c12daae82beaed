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

package ics

import (
	"strings"
	"testing"
	"time"
)

const sampleCalendar = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:evt-1@example.com\r\n" +
	"SUMMARY:Kickoff\r\n" +
	"DTSTART:20240115T100000Z\r\n" +
	"DTEND:20240115T110000Z\r\n" +
	"ORGANIZER;CN=Jane:mailto:jane@example.com\r\n" +
	"ATTENDEE;ROLE=REQ-PARTICIPANT:mailto:bob@example.com\r\n" +
	"STATUS:CONFIRMED\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:evt-2@example.com\r\n" +
	"SUMMARY:Retro\r\n" +
	"DTSTART:20240116T140000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

// TestParse_MultipleEvents verifies that each well-formed VEVENT block
// produces one event, in payload order.
func TestParse_MultipleEvents(t *testing.T) {
	events := Parse(sampleCalendar)

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	ev := events[0]
	if ev.UID != "evt-1@example.com" {
		t.Errorf("UID = %q, want evt-1@example.com", ev.UID)
	}
	if ev.Summary != "Kickoff" {
		t.Errorf("Summary = %q, want Kickoff", ev.Summary)
	}
	if ev.OrganizerEmail != "jane@example.com" {
		t.Errorf("OrganizerEmail = %q, want jane@example.com", ev.OrganizerEmail)
	}
	if len(ev.AttendeeEmails) != 1 || ev.AttendeeEmails[0] != "bob@example.com" {
		t.Errorf("AttendeeEmails = %v, want [bob@example.com]", ev.AttendeeEmails)
	}
	if ev.Status != "confirmed" {
		t.Errorf("Status = %q, want confirmed", ev.Status)
	}

	wantStart := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	if !ev.Start.Equal(wantStart) {
		t.Errorf("Start = %v, want %v", ev.Start, wantStart)
	}
	wantEnd := time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC)
	if !ev.End.Equal(wantEnd) {
		t.Errorf("End = %v, want %v", ev.End, wantEnd)
	}

	if events[1].UID != "evt-2@example.com" {
		t.Errorf("second UID = %q, want evt-2@example.com", events[1].UID)
	}
}

// TestParse_DropsEventWithoutUID verifies that a VEVENT missing its UID is
// dropped while its siblings survive.
func TestParse_DropsEventWithoutUID(t *testing.T) {
	payload := "BEGIN:VCALENDAR\n" +
		"BEGIN:VEVENT\n" +
		"SUMMARY:No identity\n" +
		"DTSTART:20240115T100000Z\n" +
		"END:VEVENT\n" +
		"BEGIN:VEVENT\n" +
		"UID:kept@example.com\n" +
		"DTSTART:20240115T100000Z\n" +
		"END:VEVENT\n" +
		"END:VCALENDAR\n"

	events := Parse(payload)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].UID != "kept@example.com" {
		t.Errorf("UID = %q, want kept@example.com", events[0].UID)
	}
}

// TestParse_DropsEventWithoutStart verifies that a VEVENT missing DTSTART
// is dropped.
func TestParse_DropsEventWithoutStart(t *testing.T) {
	payload := "BEGIN:VEVENT\n" +
		"UID:no-start@example.com\n" +
		"SUMMARY:Floating\n" +
		"END:VEVENT\n"

	if events := Parse(payload); len(events) != 0 {
		t.Fatalf("expected 0 events, got %d", len(events))
	}
}

// TestParse_FoldedLines verifies RFC 5545 line unfolding: a continuation
// line starting with whitespace belongs to its predecessor.
func TestParse_FoldedLines(t *testing.T) {
	payload := "BEGIN:VEVENT\r\n" +
		"UID:folded@example.com\r\n" +
		"DTSTART:20240115T100000Z\r\n" +
		"SUMMARY:Quarterly planning with the who\r\n" +
		" le team\r\n" +
		"END:VEVENT\r\n"

	events := Parse(payload)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Summary != "Quarterly planning with the whole team" {
		t.Errorf("Summary = %q", events[0].Summary)
	}
}

// TestParse_DescriptionUnescaping verifies TEXT escape handling.
func TestParse_DescriptionUnescaping(t *testing.T) {
	payload := "BEGIN:VEVENT\n" +
		"UID:desc@example.com\n" +
		"DTSTART:20240115T100000Z\n" +
		`DESCRIPTION:Agenda\, items\; notes\nSecond line` + "\n" +
		"END:VEVENT\n"

	events := Parse(payload)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	want := "Agenda, items; notes\nSecond line"
	if events[0].Description != want {
		t.Errorf("Description = %q, want %q", events[0].Description, want)
	}
}

// TestParseDateTime covers the three accepted value shapes plus rejects.
func TestParseDateTime(t *testing.T) {
	tests := []struct {
		value string
		want  time.Time
		ok    bool
	}{
		{"20240115T100000Z", time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), true},
		{"20240115T100000", time.Date(2024, 1, 15, 10, 0, 0, 0, time.Local), true},
		{"20240115", time.Date(2024, 1, 15, 0, 0, 0, 0, time.Local), true},
		{"not-a-date", time.Time{}, false},
		{"", time.Time{}, false},
	}

	for _, tc := range tests {
		got, ok := ParseDateTime(tc.value)
		if ok != tc.ok {
			t.Errorf("ParseDateTime(%q) ok = %v, want %v", tc.value, ok, tc.ok)
			continue
		}
		if ok && !got.Equal(tc.want) {
			t.Errorf("ParseDateTime(%q) = %v, want %v", tc.value, got, tc.want)
		}
	}
}

// TestExtractEmail verifies mailto extraction from organizer and attendee
// values, including parameterised forms.
func TestExtractEmail(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{"mailto:user@example.com", "user@example.com"},
		{"CN=Jane:mailto:jane@example.com", "jane@example.com"},
		{"MAILTO:UPPER@example.com", "UPPER@example.com"},
		{"plain@example.com", "plain@example.com"},
	}

	for _, tc := range tests {
		if got := ExtractEmail(tc.value); got != tc.want {
			t.Errorf("ExtractEmail(%q) = %q, want %q", tc.value, got, tc.want)
		}
	}
}

// TestParse_UnknownStatusPreserved verifies that STATUS is lowercased but
// otherwise passed through; the reconciler decides what it maps to.
func TestParse_UnknownStatusPreserved(t *testing.T) {
	payload := "BEGIN:VEVENT\n" +
		"UID:status@example.com\n" +
		"DTSTART:20240115T100000Z\n" +
		"STATUS:NEEDS-ACTION\n" +
		"END:VEVENT\n"

	events := Parse(payload)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Status != "needs-action" {
		t.Errorf("Status = %q, want needs-action", events[0].Status)
	}
}

// TestParse_IgnoresContentOutsideEvents verifies that properties outside
// BEGIN/END VEVENT never leak into an event.
func TestParse_IgnoresContentOutsideEvents(t *testing.T) {
	payload := "BEGIN:VCALENDAR\n" +
		"SUMMARY:calendar-level noise\n" +
		"BEGIN:VEVENT\n" +
		"UID:clean@example.com\n" +
		"DTSTART:20240115T100000Z\n" +
		"END:VEVENT\n" +
		"END:VCALENDAR\n"

	events := Parse(payload)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Summary != "" {
		t.Errorf("Summary = %q, want empty", events[0].Summary)
	}
}

// TestUnfold verifies the splitter on mixed line endings.
func TestUnfold(t *testing.T) {
	lines := Unfold("A:1\r\nB:2\n C:continued\nD:3")

	want := []string{"A:1", "B:2 C:continued", "D:3"}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d: %v", len(lines), len(want), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

// TestParse_LargePayload sanity-checks order preservation on many events.
func TestParse_LargePayload(t *testing.T) {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\n")
	for i := 0; i < 50; i++ {
		b.WriteString("BEGIN:VEVENT\n")
		b.WriteString("UID:evt-")
		b.WriteByte(byte('a' + i%26))
		b.WriteString("\nDTSTART:20240115T100000Z\nEND:VEVENT\n")
	}
	b.WriteString("END:VCALENDAR\n")

	if events := Parse(b.String()); len(events) != 50 {
		t.Fatalf("expected 50 events, got %d", len(events))
	}
}
