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

package decoder

import (
	"bytes"
	"encoding/base64"
	"testing"
)

// TestDecode_Base64 verifies plain base64 decoding.
func TestDecode_Base64(t *testing.T) {
	in := base64.StdEncoding.EncodeToString([]byte("BEGIN:VCALENDAR"))

	out := Decode([]byte(in), "base64")
	if string(out) != "BEGIN:VCALENDAR" {
		t.Errorf("Decode = %q, want BEGIN:VCALENDAR", out)
	}
}

// TestDecode_Base64LineWrapped verifies that 76-column wrapping is
// tolerated.
func TestDecode_Base64LineWrapped(t *testing.T) {
	payload := bytes.Repeat([]byte("calendar data "), 20)
	encoded := base64.StdEncoding.EncodeToString(payload)

	// Re-wrap at 76 columns the way mail encoders do.
	var wrapped []byte
	for len(encoded) > 76 {
		wrapped = append(wrapped, encoded[:76]...)
		wrapped = append(wrapped, '\r', '\n')
		encoded = encoded[76:]
	}
	wrapped = append(wrapped, encoded...)

	out := Decode(wrapped, "base64")
	if !bytes.Equal(out, payload) {
		t.Errorf("wrapped base64 did not round-trip: got %d bytes, want %d", len(out), len(payload))
	}
}

// TestDecode_Base64Unpadded verifies the raw-encoding fallback.
func TestDecode_Base64Unpadded(t *testing.T) {
	in := base64.RawStdEncoding.EncodeToString([]byte("hi"))

	out := Decode([]byte(in), "BASE64")
	if string(out) != "hi" {
		t.Errorf("Decode = %q, want hi", out)
	}
}

// TestDecode_Base64Invalid verifies that garbage passes through unchanged
// rather than erroring.
func TestDecode_Base64Invalid(t *testing.T) {
	in := []byte("!!! not base64 !!!")

	out := Decode(in, "base64")
	if len(out) == 0 {
		t.Error("invalid input should never decode to nothing")
	}
}

// TestDecode_QuotedPrintable verifies QP decoding.
func TestDecode_QuotedPrintable(t *testing.T) {
	in := []byte("caf=C3=A9 meeting=\r\n continues")

	out := Decode(in, "quoted-printable")
	if string(out) != "café meeting continues" {
		t.Errorf("Decode = %q", out)
	}
}

// TestDecode_QuotedPrintableTruncated verifies that a malformed tail still
// yields the valid prefix.
func TestDecode_QuotedPrintableTruncated(t *testing.T) {
	in := []byte("hello=Z")

	out := Decode(in, "quoted-printable")
	if len(out) == 0 {
		t.Error("truncated QP should yield the decodable prefix")
	}
}

// TestDecode_Identity verifies that unknown encodings pass through.
func TestDecode_Identity(t *testing.T) {
	in := []byte("raw bytes")

	for _, enc := range []string{"", "7bit", "8bit", "binary", "unknown"} {
		if out := Decode(in, enc); !bytes.Equal(out, in) {
			t.Errorf("Decode(%q) altered the input: %q", enc, out)
		}
	}
}

// TestDecodeText_CharsetConversion verifies ISO-8859-1 to UTF-8.
func TestDecodeText_CharsetConversion(t *testing.T) {
	// "café" in Latin-1: é is 0xE9.
	in := []byte{'c', 'a', 'f', 0xE9}

	out := DecodeText(in, "", "iso-8859-1")
	if out != "café" {
		t.Errorf("DecodeText = %q, want café", out)
	}
}

// TestDecodeText_UnknownCharset verifies the as-is fallback.
func TestDecodeText_UnknownCharset(t *testing.T) {
	in := []byte("plain")

	if out := DecodeText(in, "", "x-no-such-charset"); out != "plain" {
		t.Errorf("DecodeText = %q, want plain", out)
	}
}

// TestDecodeText_Combined verifies transfer decoding then charset
// conversion in one step.
func TestDecodeText_Combined(t *testing.T) {
	latin1 := []byte{'n', 0xFC, 'm'} // "nüm" in Latin-1
	encoded := base64.StdEncoding.EncodeToString(latin1)

	out := DecodeText([]byte(encoded), "base64", "windows-1252")
	if out != "nüm" {
		t.Errorf("DecodeText = %q, want nüm", out)
	}
}
