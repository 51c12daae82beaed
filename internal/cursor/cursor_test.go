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

package cursor

import (
	"testing"
	"time"
)

// TestWindowFrom_NoWatermark verifies that a first sync selects unseen
// messages only.
func TestWindowFrom_NoWatermark(t *testing.T) {
	w := WindowFrom(nil)

	if !w.UnseenOnly {
		t.Error("expected UnseenOnly for a first sync")
	}
	if !w.Since.IsZero() {
		t.Errorf("Since = %v, want zero", w.Since)
	}
}

// TestWindowFrom_TruncatesToDay verifies day-granularity truncation of the
// watermark, matching the date-only predicate of mailbox search.
func TestWindowFrom_TruncatesToDay(t *testing.T) {
	last := time.Date(2024, 1, 15, 17, 42, 9, 0, time.UTC)

	w := WindowFrom(&last)

	if w.UnseenOnly {
		t.Error("UnseenOnly should be false when a watermark exists")
	}
	want := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	if !w.Since.Equal(want) {
		t.Errorf("Since = %v, want %v", w.Since, want)
	}
}

// TestWindowFrom_PreservesLocation verifies that truncation happens in the
// watermark's own zone.
func TestWindowFrom_PreservesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	last := time.Date(2024, 6, 1, 1, 30, 0, 0, loc)

	w := WindowFrom(&last)

	want := time.Date(2024, 6, 1, 0, 0, 0, 0, loc)
	if !w.Since.Equal(want) {
		t.Errorf("Since = %v, want %v", w.Since, want)
	}
}
