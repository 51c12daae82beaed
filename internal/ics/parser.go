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

// Package ics parses iCalendar text into calendar events.
//
// The parser is deliberately forgiving: property parameters are discarded
// (TZID included), unknown keys are skipped, and a VEVENT missing its UID
// or DTSTART is dropped rather than reported. Calendar payloads embedded
// in email are routinely malformed and the import must keep going.
package ics

import (
	"regexp"
	"strings"
	"time"

	"github.com/jearle/mailsync/internal/models"
)

// Parse scans an iCalendar payload line by line and returns one
// CalendarEvent per well-formed VEVENT block, in payload order.
// CRLF and LF line endings are both accepted, and RFC 5545 folded lines
// are joined before scanning.
func Parse(text string) []models.CalendarEvent {
	var events []models.CalendarEvent
	var cur *accumulator

	for _, line := range Unfold(text) {
		switch {
		case line == "BEGIN:VEVENT":
			cur = &accumulator{}
		case line == "END:VEVENT":
			if cur != nil {
				if ev, ok := cur.finish(); ok {
					events = append(events, ev)
				}
			}
			cur = nil
		case cur != nil:
			cur.consume(line)
		}
	}

	return events
}

// Unfold splits text into lines and joins RFC 5545 continuation lines
// (lines beginning with a space or tab) to their predecessor.
func Unfold(text string) []string {
	raw := strings.Split(text, "\n")
	lines := make([]string, 0, len(raw))

	for _, line := range raw {
		line = strings.TrimSuffix(line, "\r")
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') && len(lines) > 0 {
			lines[len(lines)-1] += line[1:]
			continue
		}
		lines = append(lines, strings.TrimSpace(line))
	}

	return lines
}

// accumulator collects properties for the VEVENT currently being scanned.
// A fresh accumulator per BEGIN:VEVENT keeps Parse free of shared state.
type accumulator struct {
	ev       models.CalendarEvent
	hasStart bool
}

func (a *accumulator) consume(line string) {
	key, value, ok := strings.Cut(line, ":")
	if !ok {
		return
	}
	// Discard property parameters, e.g. DTSTART;TZID=Europe/London.
	key, _, _ = strings.Cut(key, ";")

	switch strings.ToUpper(key) {
	case "SUMMARY":
		a.ev.Summary = value
	case "DESCRIPTION":
		a.ev.Description = unescapeText(value)
	case "DTSTART":
		if t, ok := ParseDateTime(value); ok {
			a.ev.Start = t
			a.hasStart = true
		}
	case "DTEND":
		if t, ok := ParseDateTime(value); ok {
			a.ev.End = t
		}
	case "LOCATION":
		a.ev.Location = value
	case "UID":
		a.ev.UID = value
	case "ORGANIZER":
		a.ev.OrganizerEmail = ExtractEmail(value)
	case "ATTENDEE":
		a.ev.AttendeeEmails = append(a.ev.AttendeeEmails, ExtractEmail(value))
	case "STATUS":
		a.ev.Status = strings.ToLower(value)
	}
}

// finish returns the accumulated event. Events without a UID or start
// time are unusable downstream (UID is the dedup key) and are dropped.
func (a *accumulator) finish() (models.CalendarEvent, bool) {
	if a.ev.UID == "" || !a.hasStart {
		return models.CalendarEvent{}, false
	}
	return a.ev, true
}

const (
	layoutDate          = "20060102"
	layoutLocalDateTime = "20060102T150405"
)

// ParseDateTime accepts the three value shapes seen in imported payloads:
// 8-character date (20231225), 16-character local date-time
// (20231225T140000), and any value carrying a Z suffix, which is read as
// UTC. Values that fit none of these return ok=false.
func ParseDateTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)

	if strings.Contains(value, "Z") {
		v := strings.TrimSuffix(value, "Z")
		if t, err := time.ParseInLocation(layoutLocalDateTime, v, time.UTC); err == nil {
			return t, true
		}
		if t, err := time.ParseInLocation(layoutDate, v, time.UTC); err == nil {
			return t, true
		}
		if t, err := time.Parse(time.RFC3339, value); err == nil {
			return t, true
		}
		return time.Time{}, false
	}

	if len(value) == len(layoutDate) {
		if t, err := time.ParseInLocation(layoutDate, value, time.Local); err == nil {
			return t, true
		}
		return time.Time{}, false
	}

	if t, err := time.ParseInLocation(layoutLocalDateTime, value, time.Local); err == nil {
		return t, true
	}

	return time.Time{}, false
}

var mailtoPattern = regexp.MustCompile(`(?i)mailto:([^\s]+)`)

// ExtractEmail reduces an ORGANIZER/ATTENDEE value to its email address.
// Values look like "mailto:user@example.com" or
// "CN=Jane:mailto:jane@example.com"; a value without a mailto: marker is
// returned as-is.
func ExtractEmail(value string) string {
	if m := mailtoPattern.FindStringSubmatch(value); m != nil {
		return m[1]
	}
	return value
}

// unescapeText reverses iCalendar TEXT escaping for DESCRIPTION values.
var textUnescaper = strings.NewReplacer(
	`\\`, `\`,
	`\n`, "\n",
	`\N`, "\n",
	`\,`, ",",
	`\;`, ";",
)

func unescapeText(value string) string {
	return textUnescaper.Replace(value)
}
