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

// Package partwalker locates calendar payloads inside a message's MIME
// part tree. It walks the BODYSTRUCTURE reported by the mailbox and only
// fetches the bodies of parts that classify as calendar candidates, so a
// message without calendar data costs no extra round trips.
package partwalker

import (
	"context"
	"log/slog"
	"strings"

	"github.com/emersion/go-imap/v2"

	"github.com/jearle/mailsync/internal/decoder"
	"github.com/jearle/mailsync/internal/models"
)

// maxDepth bounds traversal of pathological part trees. Legitimate mail
// nests a handful of levels at most.
const maxDepth = 32

// BodyFetcher fetches the raw body of one part by its IMAP part path.
// An empty path means the whole message text (single-part messages).
type BodyFetcher interface {
	FetchBodyPart(ctx context.Context, path []int) ([]byte, error)
}

// FetcherFunc adapts a function to the BodyFetcher interface.
type FetcherFunc func(ctx context.Context, path []int) ([]byte, error)

func (f FetcherFunc) FetchBodyPart(ctx context.Context, path []int) ([]byte, error) {
	return f(ctx, path)
}

var calendarMIMETypes = map[string]bool{
	"text/calendar":    true,
	"application/ics":  true,
	"text/x-vcalendar": true,
}

var calendarExtensions = []string{".ics", ".ical", ".icalendar"}

// FindCalendarParts traverses the part tree depth-first, children in
// structural order, and returns the decoded calendar payloads it finds.
// Candidates that do not contain a BEGIN:VCALENDAR/END:VCALENDAR pair are
// discarded silently; most messages carry no calendar data and that is
// not an error.
func FindCalendarParts(ctx context.Context, root imap.BodyStructure, fetch BodyFetcher) []models.CalendarAttachment {
	if root == nil {
		return nil
	}

	single, ok := root.(*imap.BodyStructureSinglePart)
	if ok {
		// Whole message is a single part: either it is declared as
		// calendar data, or we fall back to validating the body itself
		// (inline invitations arrive with a text/plain declaration).
		return inlineCandidate(ctx, single, fetch)
	}

	type frame struct {
		node  imap.BodyStructure
		path  []int
		depth int
	}

	var found []models.CalendarAttachment
	var stack []frame

	if multi, ok := root.(*imap.BodyStructureMultiPart); ok {
		for i := len(multi.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{multi.Children[i], []int{i + 1}, 1})
		}
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.depth > maxDepth {
			slog.Warn("part tree exceeds depth bound, pruning", "depth", f.depth)
			continue
		}

		switch part := f.node.(type) {
		case *imap.BodyStructureMultiPart:
			for i := len(part.Children) - 1; i >= 0; i-- {
				childPath := append(append([]int(nil), f.path...), i+1)
				stack = append(stack, frame{part.Children[i], childPath, f.depth + 1})
			}

		case *imap.BodyStructureSinglePart:
			if !isCalendarPart(part) {
				continue
			}
			if att, ok := fetchCandidate(ctx, part, f.path, fetch); ok {
				found = append(found, att)
			}
		}
	}

	return found
}

// inlineCandidate handles a message whose body is a single part with no
// attachment markers: the body itself is the one candidate, accepted only
// if it validates as a calendar payload.
func inlineCandidate(ctx context.Context, part *imap.BodyStructureSinglePart, fetch BodyFetcher) []models.CalendarAttachment {
	if att, ok := fetchCandidate(ctx, part, nil, fetch); ok {
		return []models.CalendarAttachment{att}
	}
	return nil
}

// fetchCandidate fetches, decodes, and validates one candidate part.
func fetchCandidate(ctx context.Context, part *imap.BodyStructureSinglePart, path []int, fetch BodyFetcher) (models.CalendarAttachment, bool) {
	raw, err := fetch.FetchBodyPart(ctx, path)
	if err != nil {
		slog.Warn("calendar part fetch failed", "path", path, "error", err)
		return models.CalendarAttachment{}, false
	}

	text := decoder.DecodeText(raw, part.Encoding, part.Params["charset"])
	if !IsValidICS(text) {
		return models.CalendarAttachment{}, false
	}

	filename := partFilename(part)
	if filename == "" {
		filename = "meeting.ics"
	}

	return models.CalendarAttachment{
		Filename: filename,
		Content:  []byte(text),
		MIMEType: mediaType(part),
	}, true
}

// isCalendarPart classifies a leaf part as calendar data by its declared
// MIME type or by a calendar extension appearing in its filename. The
// filename check is a case-insensitive substring match, so
// "invite.ics.txt" still classifies.
func isCalendarPart(part *imap.BodyStructureSinglePart) bool {
	if calendarMIMETypes[mediaType(part)] {
		return true
	}

	filename := strings.ToLower(partFilename(part))
	if filename == "" {
		return false
	}
	for _, ext := range calendarExtensions {
		if strings.Contains(filename, ext) {
			return true
		}
	}
	return false
}

func mediaType(part *imap.BodyStructureSinglePart) string {
	return strings.ToLower(part.Type + "/" + part.Subtype)
}

// partFilename reads the filename from the Content-Disposition parameters,
// falling back to the Content-Type name parameter.
func partFilename(part *imap.BodyStructureSinglePart) string {
	if part.Extended != nil && part.Extended.Disposition != nil {
		if name := part.Extended.Disposition.Params["filename"]; name != "" {
			return name
		}
	}
	return part.Params["name"]
}

// IsValidICS reports whether text contains a complete VCALENDAR envelope.
func IsValidICS(text string) bool {
	return strings.Contains(text, "BEGIN:VCALENDAR") &&
		strings.Contains(text, "END:VCALENDAR")
}
